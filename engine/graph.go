package engine

/*
#include "trtengine.h"
*/
import "C"

import "unsafe"

// graphState holds the captured CUDA graph instance for one execution
// context's current binding set. Re-captured whenever bindings change;
// updated in place when only device addresses moved (Design Note: CUDA
// graph cache keyed by binding generation, not by shape).
type graphState struct {
	instance *C.trtengine_graph_exec_t
	stale    bool
}

func (g *graphState) replay(streamPtr unsafe.Pointer) error {
	if !bool(C.trtengine_graph_launch(g.instance, streamPtr)) {
		return ErrLaunchFailed
	}
	return nil
}

// tryUpdate attempts cudaGraphExecUpdate equivalent in place. Returns false
// if the topology changed enough that the instance must be destroyed and
// recreated from scratch.
func (g *graphState) tryUpdate(ctx *C.trtengine_context_t, streamPtr unsafe.Pointer) bool {
	if g.instance == nil {
		return false
	}
	return bool(C.trtengine_graph_try_update(g.instance, ctx, streamPtr))
}

func (g *graphState) destroy() {
	if g.instance != nil {
		C.trtengine_graph_exec_destroy(g.instance)
		g.instance = nil
	}
}
