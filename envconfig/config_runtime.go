package envconfig

// Feature flags and session-level knobs. Same BoolWithDefault/Bool/Uint
// getter-factory convention as the teacher repo's envconfig package.

var (
	// CudaGraphMode reads LLMRT_CUDA_GRAPH (CUDA-graph capture/replay for
	// the generation phase, spec.md §4.1). Sessions take this mode from
	// session.Options.CudaGraphMode; nothing in this module calls this getter.
	CudaGraphMode = BoolWithDefault("LLMRT_CUDA_GRAPH")

	// DebugMode turns on the decoder's per-step logits shape check and its
	// sampling-entropy debug log. It does not synchronize the stream after
	// launches or capture engine tensors.
	DebugMode = Bool("LLMRT_DEBUG_MODE")

	// KvCacheType reads a KV cache dtype name ("f16", "f32", "q8_0", ...).
	// The KV cache takes its dtype from config.Model.DType; nothing in this
	// module calls this getter.
	KvCacheType = String("LLMRT_KV_CACHE_TYPE")

	// MultiUserCache reads LLMRT_MULTIUSER_CACHE; nothing in this module
	// calls this getter.
	MultiUserCache = Bool("LLMRT_MULTIUSER_CACHE")

	// ContextLength reads LLMRT_CONTEXT_LENGTH (default 4096); nothing in
	// this module calls this getter.
	ContextLength = Uint("LLMRT_CONTEXT_LENGTH", 4096)

	// NumParallel is the default for the runner's -parallel flag, the number
	// of concurrently in-flight sequences.
	NumParallel = Uint("LLMRT_NUM_PARALLEL", 1)
)

// BoolWithDefault returns a getter for a boolean env var with an explicit
// fallback when unset or unparsable-but-present (treated as true, matching
// the teacher's lenient parse).
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := parseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

// Bool returns a getter for a boolean env var defaulting to false.
func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

// String returns a getter for a raw string env var.
func String(s string) func() string {
	return func() string {
		return Var(s)
	}
}

// Uint returns a getter for an unsigned env var with a default, warning and
// falling back when the value can't be parsed.
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := parseUint(s); err != nil {
				logInvalid(key, s, defaultValue)
			} else {
				return n
			}
		}
		return defaultValue
	}
}
