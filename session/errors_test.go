package session

import (
	"errors"
	"fmt"
	"testing"
)

func TestConfigErrorUnwraps(t *testing.T) {
	sentinel := errors.New("bad shape")
	err := &ConfigError{Precondition: "batch_size", Err: sentinel}
	if !errors.Is(err, sentinel) {
		t.Fatal("expected errors.Is to see through ConfigError.Unwrap")
	}
	if got := err.Error(); got == "" {
		t.Fatal("expected a non-empty error message")
	}
}

func TestResourceErrorUnwraps(t *testing.T) {
	sentinel := errors.New("out of blocks")
	err := &ResourceError{Resource: "kv_cache", Err: sentinel}
	if !errors.Is(err, sentinel) {
		t.Fatal("expected errors.Is to see through ResourceError.Unwrap")
	}
}

func TestLaunchErrorIncludesStep(t *testing.T) {
	err := &LaunchError{Step: 7, Err: errors.New("cuda graph replay failed")}
	if got := err.Error(); got == "" {
		t.Fatal("expected a non-empty error message")
	}
	var le *LaunchError
	if !errors.As(fmt.Errorf("wrapped: %w", err), &le) {
		t.Fatal("expected errors.As to recover the LaunchError")
	}
	if le.Step != 7 {
		t.Fatalf("LaunchError.Step = %d, want 7", le.Step)
	}
}

func TestInvariantErrorMessage(t *testing.T) {
	err := &InvariantError{Invariant: "GenerationStep called before Setup"}
	if got := err.Error(); got == "" {
		t.Fatal("expected a non-empty error message")
	}
}

func TestDecoderErrorUnwraps(t *testing.T) {
	sentinel := errors.New("bad logits shape")
	err := &DecoderError{Err: sentinel}
	if !errors.Is(err, sentinel) {
		t.Fatal("expected errors.Is to see through DecoderError.Unwrap")
	}
}
