package engine

/*
#include <stdlib.h>
#include "trtengine.h"
*/
import "C"

import (
	"fmt"
	"log/slog"
	"unsafe"
)

// ProfileKind names the three execution contexts a generation session may
// hold, per spec.md §4.1. On a one-profile engine Context0 and Context1 both
// use profile 0 and the context phase runs on Context1; on a two-profile
// engine CtxContext uses profile 0 and Context0/Context1 use profile 1.
// Either way Context0/Context1 alternate once generation begins (Open
// Question 1: ctx_context is canonical at step 0, alternation begins at
// step 1).
type ProfileKind int

const (
	CtxContext ProfileKind = iota
	Context0
	Context1
)

func (p ProfileKind) String() string {
	switch p {
	case CtxContext:
		return "ctx_context"
	case Context0:
		return "context_0"
	case Context1:
		return "context_1"
	default:
		return "unknown"
	}
}

// Context is one bound execution-context profile: a set of IO tensor
// bindings plus an optional captured CUDA graph instance.
type Context struct {
	kind    ProfileKind
	handle  *C.trtengine_context_t
	runtime *Runtime

	bindings map[string]Tensor

	graph *graphState
}

// NewContext creates and configures an execution context against profile
// index profileIdx. Mirrors _Runtime.__create_and_setup_context.
func (r *Runtime) NewContext(kind ProfileKind, profileIdx int) (*Context, error) {
	h := C.trtengine_context_create(r.engine, C.int(profileIdx))
	if h == nil {
		return nil, fmt.Errorf("%w: profile %d", ErrProfileNotFound, profileIdx)
	}
	return &Context{kind: kind, handle: h, runtime: r, bindings: make(map[string]Tensor)}, nil
}

// Close releases the execution context and any captured graph.
func (c *Context) Close() {
	if c.graph != nil {
		c.graph.destroy()
		c.graph = nil
	}
	if c.handle != nil {
		C.trtengine_context_destroy(c.handle)
		c.handle = nil
	}
}

// SetShape declares the runtime shape for a dynamic-shape input binding.
// Must be called, for every dynamic input, before SetBuffer; SetTensors does
// both, in that order.
func (c *Context) SetShape(name string, shape []int) error {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	dims := make([]C.int64_t, len(shape))
	for i, d := range shape {
		dims[i] = C.int64_t(d)
	}
	var dimsPtr *C.int64_t
	if len(dims) > 0 {
		dimsPtr = &dims[0]
	}
	if !bool(C.trtengine_context_set_shape(c.handle, cname, dimsPtr, C.int(len(dims)))) {
		return fmt.Errorf("%w: set_shape(%s, %v)", ErrEngineIOMismatch, name, shape)
	}
	return nil
}

// SetBuffer binds a device pointer to a named IO tensor slot.
func (c *Context) SetBuffer(t Tensor) error {
	cname := C.CString(t.Name)
	defer C.free(unsafe.Pointer(cname))
	if !bool(C.trtengine_context_set_tensor_address(c.handle, cname, t.ptr)) {
		return fmt.Errorf("%w: set_buffer(%s)", ErrEngineIOMismatch, t.Name)
	}
	c.bindings[t.Name] = t
	return nil
}

// SetTensors binds SetShape+SetBuffer for every tensor in ts in one pass,
// mirroring _Runtime._set_tensors' bulk-bind convenience.
func (c *Context) SetTensors(ts []Tensor) error {
	for _, t := range ts {
		if len(t.Shape) > 0 {
			if err := c.SetShape(t.Name, t.Shape); err != nil {
				return err
			}
		}
		if err := c.SetBuffer(t); err != nil {
			return err
		}
	}
	return nil
}

// Run launches the bound context on streamPtr, a CUDA stream handle owned by
// the caller. When cudaGraphMode is true and a graph was already captured for
// the current binding set, the graph is replayed instead of re-launching the
// engine's kernels individually (spec.md §4.1 CUDA-graph fast path).
func (c *Context) Run(streamPtr unsafe.Pointer, cudaGraphMode bool) error {
	if cudaGraphMode {
		if c.graph == nil || c.graph.stale {
			if err := c.captureGraph(streamPtr); err != nil {
				return err
			}
		}
		return c.graph.replay(streamPtr)
	}

	if !bool(C.trtengine_context_enqueue(c.handle, streamPtr)) {
		return ErrLaunchFailed
	}
	return nil
}

// MarkGraphStale invalidates the captured graph for this context, forcing a
// recapture (or an update-in-place attempt) on the next Run. Call this
// whenever a bound tensor's device pointer changes, per the Design Note on
// CUDA graph instance caching.
func (c *Context) MarkGraphStale() {
	if c.graph != nil {
		c.graph.stale = true
	}
}

func (c *Context) captureGraph(streamPtr unsafe.Pointer) error {
	if c.graph != nil {
		// Prefer an in-place update over a full destroy+recapture, mirroring
		// generation.py's _update_cuda_graph_instance: fall back to
		// destroy+recreate only when cudaGraphExecUpdate itself fails.
		if c.graph.instance != nil {
			if ok := c.graph.tryUpdate(c.handle, streamPtr); ok {
				c.graph.stale = false
				return nil
			}
			slog.Debug("cuda graph update failed, recreating", "profile", c.kind)
			c.graph.destroy()
		}
	} else {
		c.graph = &graphState{}
	}

	g := C.trtengine_graph_capture_begin(streamPtr)
	if !bool(C.trtengine_context_enqueue(c.handle, streamPtr)) {
		C.trtengine_graph_capture_abort(streamPtr)
		return fmt.Errorf("%w: capture-time launch failed", ErrGraphCaptureFailed)
	}
	graph := C.trtengine_graph_capture_end(streamPtr, g)
	if graph == nil {
		return ErrGraphCaptureFailed
	}
	inst := C.trtengine_graph_instantiate(graph)
	C.trtengine_graph_destroy(graph)
	if inst == nil {
		return ErrGraphCaptureFailed
	}
	c.graph.instance = inst
	c.graph.stale = false
	return nil
}
