// Package ipc provides the custom all-reduce workspace a tensor-parallel
// session shares across ranks (spec.md §5): a data buffer plus two barrier
// regions used to synchronize ranks around each all-reduce without going
// through a full NCCL collective.
//
// New code; modeled on engine.Runtime's device-arena-ownership style (an
// opaque handle the owner must explicitly Close) rather than copied from any
// one teacher file, since the teacher repo has no multi-GPU IPC workspace of
// its own.
package ipc

import "fmt"

// barrierRegionCount is fixed by the custom all-reduce kernel's flag
// protocol: one region for the "arrived" barrier, one for "done".
const barrierRegionCount = 2

// Workspace is the per-rank view of a workspace shared with every other rank
// in the tensor-parallel group, sized for the largest all-reduce buffer a
// session will need (hiddenSize * maxBatch * maxBeamWidth elements).
type Workspace struct {
	rank     int
	tpSize   int
	elemSize int // bytes per element (4 for float32, 2 for float16)
	capacity int // element capacity of the data buffer

	data     []byte
	barriers [barrierRegionCount][]byte
}

// New allocates a host-side workspace of the given element capacity. In a
// real deployment data and barriers would be allocated in a CUDA IPC-shared
// region; this type models the bookkeeping around that region rather than
// the allocation itself, which is out of scope (spec.md §1: no file/device
// IO primitives).
func New(rank, tpSize, elemSize, capacity int) (*Workspace, error) {
	if tpSize < 1 {
		return nil, fmt.Errorf("ipc: tp_size must be >= 1, got %d", tpSize)
	}
	if rank < 0 || rank >= tpSize {
		return nil, fmt.Errorf("ipc: rank %d out of range [0,%d)", rank, tpSize)
	}
	w := &Workspace{
		rank:     rank,
		tpSize:   tpSize,
		elemSize: elemSize,
		capacity: capacity,
		data:     make([]byte, capacity*elemSize),
	}
	for i := range w.barriers {
		w.barriers[i] = make([]byte, tpSize)
	}
	return w, nil
}

// Resize grows the data buffer in place when a request needs more capacity
// than the workspace was originally sized for (spec.md §5: workspace sizing
// tracks the largest concurrent batch*beam*hidden product).
func (w *Workspace) Resize(capacity int) {
	if capacity <= w.capacity {
		return
	}
	w.data = make([]byte, capacity*w.elemSize)
	w.capacity = capacity
}

// Data returns the raw backing buffer for the current all-reduce.
func (w *Workspace) Data() []byte { return w.data }

// Capacity reports the element capacity of the data buffer.
func (w *Workspace) Capacity() int { return w.capacity }

// ArriveBarrier marks this rank as having written its contribution into the
// shared buffer, for region 0 of the barrier protocol.
func (w *Workspace) ArriveBarrier(generation byte) {
	w.barriers[0][w.rank] = generation
}

// AllArrived reports whether every rank has signaled ArriveBarrier for
// generation. It does not block; the caller polls it.
func (w *Workspace) AllArrived(generation byte) bool {
	for _, b := range w.barriers[0] {
		if b != generation {
			return false
		}
	}
	return true
}

// DoneBarrier marks this rank as having consumed the reduced result, region
// 1 of the barrier protocol — every rank must see AllDone before reusing the
// buffer for the next step's all-reduce.
func (w *Workspace) DoneBarrier(generation byte) {
	w.barriers[1][w.rank] = generation
}

// AllDone reports whether every rank has signaled DoneBarrier for generation.
func (w *Workspace) AllDone(generation byte) bool {
	for _, b := range w.barriers[1] {
		if b != generation {
			return false
		}
	}
	return true
}
