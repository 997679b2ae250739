package envconfig

import (
	"os"
	"testing"
)

func withEnv(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if had {
			os.Setenv(key, old)
		} else {
			os.Unsetenv(key)
		}
	})
}

func TestBoolWithDefaultFallsBackWhenUnset(t *testing.T) {
	const key = "LLMRT_TEST_CUDA_GRAPH"
	os.Unsetenv(key)
	get := BoolWithDefault(key)
	if get(true) != true {
		t.Fatal("expected fallback value when env var unset")
	}
	if get(false) != false {
		t.Fatal("expected fallback value when env var unset")
	}
}

func TestBoolWithDefaultParsesSetValue(t *testing.T) {
	const key = "LLMRT_TEST_CUDA_GRAPH_2"
	withEnv(t, key, "false")
	get := BoolWithDefault(key)
	if get(true) != false {
		t.Fatal("expected explicit false to override the fallback")
	}
}

func TestBoolWithDefaultTreatsUnparsableAsTrue(t *testing.T) {
	const key = "LLMRT_TEST_CUDA_GRAPH_3"
	withEnv(t, key, "not-a-bool")
	get := BoolWithDefault(key)
	if get(false) != true {
		t.Fatal("expected an unparsable-but-present value to be treated as true")
	}
}

func TestBoolDefaultsToFalse(t *testing.T) {
	const key = "LLMRT_TEST_DEBUG_MODE"
	os.Unsetenv(key)
	get := Bool(key)
	if get() != false {
		t.Fatal("expected Bool() to default to false when unset")
	}
}

func TestUintFallsBackAndWarnsOnUnparsable(t *testing.T) {
	const key = "LLMRT_TEST_CONTEXT_LENGTH"
	os.Unsetenv(key)
	get := Uint(key, 4096)
	if get() != 4096 {
		t.Fatalf("Uint() = %d, want default 4096", get())
	}

	withEnv(t, key, "not-a-number")
	if get() != 4096 {
		t.Fatalf("Uint() with unparsable value = %d, want fallback 4096", get())
	}

	withEnv(t, key, "8192")
	if get() != 8192 {
		t.Fatalf("Uint() = %d, want 8192", get())
	}
}

func TestStringReturnsRawValue(t *testing.T) {
	const key = "LLMRT_TEST_KV_CACHE_TYPE"
	withEnv(t, key, "q8_0")
	get := String(key)
	if get() != "q8_0" {
		t.Fatalf("String() = %q, want %q", get(), "q8_0")
	}
}
