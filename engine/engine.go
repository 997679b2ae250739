// Package engine wraps the opaque, precompiled inference engine artifact and
// the CUDA execution contexts driven against it. It is the Go analogue of
// TensorRT-LLM's trt.Runtime/trt.ICudaEngine pair (see
// tensorrt_llm/runtime/generation.py, class _Runtime), built in the CGO-bridge
// style of llama/llama_core.go and llama/llama_context.go: an opaque C handle,
// thin Go wrapper methods, and a package-level BackendInit.
package engine

/*
#cgo CFLAGS: -std=c11
#cgo CPPFLAGS: -I${SRCDIR}/trtengine/include
#include <stdlib.h>
#include "trtengine.h"
*/
import "C"

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"unsafe"
)

var (
	ErrEngineIOMismatch   = errors.New("engine: IO tensor layout does not match compiled engine")
	ErrProfileNotFound    = errors.New("engine: no optimization profile satisfies requested shape")
	ErrLaunchFailed       = errors.New("engine: kernel launch failed")
	ErrGraphCaptureFailed = errors.New("engine: cuda graph capture failed")
)

var backendOnce sync.Once

// BackendInit performs process-wide CUDA driver/runtime initialization.
// Safe to call multiple times; only the first call takes effect.
func BackendInit() {
	backendOnce.Do(func() {
		C.trtengine_backend_init()
		slog.Info("engine backend initialized")
	})
}

// Runtime owns a deserialized engine plan and the device memory arena backing
// its bindings. It outlives any single Session (spec.md §3: Runtime is a
// prerequisite collaborator, not owned by the session).
type Runtime struct {
	handle *C.trtengine_runtime_t
	engine *C.trtengine_engine_t

	rank int

	mu sync.Mutex
}

// Load deserializes the engine plan blob and constructs the runtime wrapping
// it. plan is the opaque byte stream produced by the offline engine compiler
// (out of scope for this module per spec.md §1).
func Load(plan []byte, rank int) (*Runtime, error) {
	if len(plan) == 0 {
		return nil, fmt.Errorf("engine: empty plan")
	}
	cPlan := C.CBytes(plan)
	defer C.free(cPlan)

	rt := C.trtengine_runtime_create()
	if rt == nil {
		return nil, fmt.Errorf("engine: failed to create runtime")
	}

	eng := C.trtengine_deserialize(rt, cPlan, C.size_t(len(plan)))
	if eng == nil {
		C.trtengine_runtime_destroy(rt)
		return nil, fmt.Errorf("engine: failed to deserialize engine plan")
	}

	return &Runtime{handle: rt, engine: eng, rank: rank}, nil
}

// Close releases the engine and its device memory arena. Close is not safe
// to call concurrently with any in-flight Context.Run.
func (r *Runtime) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.engine != nil {
		C.trtengine_engine_destroy(r.engine)
		r.engine = nil
	}
	if r.handle != nil {
		C.trtengine_runtime_destroy(r.handle)
		r.handle = nil
	}
}

// NumOptimizationProfiles reports how many optimization profiles the engine
// was compiled with. Per spec.md §4.1, a session needs either one profile
// (context_0 and context_1 both on it, ctx_context aliasing context_1) or
// two (ctx_context on profile 0, context_0/context_1 on profile 1).
func (r *Runtime) NumOptimizationProfiles() int {
	return int(C.trtengine_engine_num_profiles(r.engine))
}

// TensorDType reports the engine-declared dtype for a named IO tensor, used
// by session setup to validate buffer allocations against the compiled
// engine (spec.md §7, Configuration error class).
func (r *Runtime) TensorDType(name string) (string, bool) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	var cdtype C.trtengine_dtype_t
	if !bool(C.trtengine_engine_tensor_dtype(r.engine, cname, &cdtype)) {
		return "", false
	}
	return dtypeToString(cdtype), true
}

func dtypeToString(d C.trtengine_dtype_t) string {
	switch d {
	case C.TRTENGINE_DTYPE_FLOAT16:
		return "float16"
	case C.TRTENGINE_DTYPE_BFLOAT16:
		return "bfloat16"
	case C.TRTENGINE_DTYPE_FLOAT32:
		return "float32"
	case C.TRTENGINE_DTYPE_INT32:
		return "int32"
	case C.TRTENGINE_DTYPE_INT8:
		return "int8"
	default:
		return "unknown"
	}
}
