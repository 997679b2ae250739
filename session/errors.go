package session

import "fmt"

// Error classes mirror spec.md §7's taxonomy: Configuration, Resource,
// Launch, Invariant, and Decoder errors. Callers branch on the type with
// errors.As; every type except InvariantError also wraps its cause (Unwrap),
// so errors.Is reaches sentinels such as kvcache.ErrCacheFull.

// ConfigError reports a precondition the caller violated before or during
// Setup (bad shapes, mismatched buffer sizes, invalid SamplingConfig).
type ConfigError struct {
	Precondition string
	Err          error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("session: configuration error (%s): %v", e.Precondition, e.Err)
}
func (e *ConfigError) Unwrap() error { return e.Err }

// ResourceError reports an allocation failure (KV cache exhaustion, device
// memory, workspace sizing).
type ResourceError struct {
	Resource string
	Err      error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("session: resource error (%s): %v", e.Resource, e.Err)
}
func (e *ResourceError) Unwrap() error { return e.Err }

// LaunchError reports an engine execution failure (kernel launch, graph
// replay, profile selection).
type LaunchError struct {
	Step int
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("session: launch error at step %d: %v", e.Step, e.Err)
}
func (e *LaunchError) Unwrap() error { return e.Err }

// InvariantError reports a state-machine invariant violation (calling
// GenerationStep before Setup, decode() argument mismatch with Setup()'s
// committed shapes — spec.md §3 invariants).
type InvariantError struct {
	Invariant string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("session: invariant violated: %s", e.Invariant)
}

// DecoderError reports a failure inside the dynamic decoder adapter
// (sampling, gather_tree finalize).
type DecoderError struct {
	Err error
}

func (e *DecoderError) Error() string { return fmt.Sprintf("session: decoder error: %v", e.Err) }
func (e *DecoderError) Unwrap() error { return e.Err }
