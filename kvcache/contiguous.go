package kvcache

import (
	"fmt"
	"unsafe"

	"github.com/inferencecore/llmrt/config"
	"github.com/inferencecore/llmrt/engine"
)

// cacheCell tracks which sequence (if any) owns one cache slot, mirroring
// the teacher's Causal.cells bookkeeping.
type cacheCell struct {
	pos      int32
	sequence int // -1 when free
}

// cellRange is the contiguous [min,max) slot range currently assigned to one
// sequence.
type cellRange struct {
	min, max int
}

// contiguous is the non-paged KV cache layout: one flat key tensor and one
// flat value tensor per layer, sized maxSequences*capacity+maxBatch cells
// (capacity being the per-sequence attention window), with per-sequence slot ranges
// tracked the way the teacher's Causal cache tracks cells/cellRanges.
type contiguous struct {
	model    config.Model
	rt       *engine.Runtime
	maxSeqs  int
	capacity int // attention window per sequence
	maxBatch int

	cells      []cacheCell
	cellRanges map[int]cellRange

	keys   map[int]engine.Tensor // per local layer
	values map[int]engine.Tensor

	// keyStorage/valueStorage back keys/values: one []byte slab per layer,
	// indexed the same way as keys/values. Kept alive here (rather than just
	// in the Tensor view) since Tensor only carries an unsafe.Pointer into it.
	keyStorage   [][]byte
	valueStorage [][]byte
}

func newContiguous(model config.Model, rt *engine.Runtime, maxSequences, maxBatch int) (*contiguous, error) {
	capacity := model.TokensPerBlock * 64 // conservative default window when unset
	cacheSize := roundUp(maxSequences*capacity+maxBatch, 1)
	if cacheSize <= 0 {
		cacheSize = 1
	}

	c := &contiguous{
		model:      model,
		rt:         rt,
		maxSeqs:    maxSequences,
		capacity:   capacity,
		maxBatch:   maxBatch,
		cells:      make([]cacheCell, cacheSize),
		cellRanges: make(map[int]cellRange),
		keys:       make(map[int]engine.Tensor),
		values:     make(map[int]engine.Tensor),
	}
	for i := range c.cells {
		c.cells[i].sequence = -1
	}

	// Allocate one flat [cacheSize, numKVHeads, headSize] tensor per layer for
	// keys and values. The CGO bridge exposes no device-allocation primitive
	// (trtengine.h only binds pre-existing addresses), so these are
	// host-backed slabs standing in for device storage, the same convention
	// ipc.Workspace uses for its all-reduce buffer.
	elemSize := dtypeElemSize(model.DType)
	kvHeads := model.NumKVHeadsOrDefault()
	if kvHeads <= 0 {
		kvHeads = 1
	}
	headSize := model.HeadSize
	if headSize <= 0 {
		headSize = 1
	}
	cellElems := kvHeads * headSize
	shape := []int{cacheSize, kvHeads, headSize}
	c.keyStorage = make([][]byte, model.NumLayers)
	c.valueStorage = make([][]byte, model.NumLayers)
	for layer := 0; layer < model.NumLayers; layer++ {
		kBuf := make([]byte, cacheSize*cellElems*elemSize)
		vBuf := make([]byte, cacheSize*cellElems*elemSize)
		c.keyStorage[layer] = kBuf
		c.valueStorage[layer] = vBuf

		kt, err := engine.NewTensor(fmt.Sprintf("kv_cache_keys_%d", layer), shape, model.DType, unsafe.Pointer(&kBuf[0]), nil)
		if err != nil {
			return nil, err
		}
		vt, err := engine.NewTensor(fmt.Sprintf("kv_cache_values_%d", layer), shape, model.DType, unsafe.Pointer(&vBuf[0]), nil)
		if err != nil {
			return nil, err
		}
		c.keys[layer] = kt
		c.values[layer] = vt
	}
	return c, nil
}

// dtypeElemSize returns the per-element byte width for a Model.DType value.
func dtypeElemSize(dtype string) int {
	switch dtype {
	case "float16", "bfloat16":
		return 2
	case "int8", "fp8":
		return 1
	default:
		return 4
	}
}

func (c *contiguous) AddSequence(seqID int) error {
	if _, exists := c.cellRanges[seqID]; exists {
		return fmt.Errorf("kvcache: sequence %d already tracked", seqID)
	}
	if len(c.cellRanges) >= c.maxSeqs {
		return fmt.Errorf("%w: %d sequences already tracked", ErrCacheFull, c.maxSeqs)
	}
	// Each sequence gets its own fixed-size slot, one capacity-wide stripe
	// per tracked sequence, so concurrent sequences never alias cells. The
	// lowest stripe no tracked sequence starts at is used, so a stripe freed
	// by RemoveSequence is reused.
	slot := 0
	for taken := true; taken; {
		taken = false
		for _, r := range c.cellRanges {
			if r.min == slot {
				taken = true
				slot += c.capacity
				break
			}
		}
	}
	c.cellRanges[seqID] = cellRange{min: slot, max: slot}
	return nil
}

func (c *contiguous) RemoveSequence(seqID int) {
	r, ok := c.cellRanges[seqID]
	if !ok {
		return
	}
	for i := r.min; i < r.max; i++ {
		if c.cells[i].sequence == seqID {
			c.cells[i].sequence = -1
		}
	}
	delete(c.cellRanges, seqID)
}

// StartForward finds (or extends) each sequence's contiguous cell range for
// the incoming positions, evicting nothing since contiguous mode has no
// sliding-window story of its own (that's SWA, out of this module's scope
// per spec.md — the engine itself enforces the attention window).
func (c *contiguous) StartForward(seqIDs []int, positions []int32) (PointerArrays, error) {
	for i, seqID := range seqIDs {
		r, ok := c.cellRanges[seqID]
		if !ok {
			return PointerArrays{}, fmt.Errorf("%w: %d", ErrSequenceUnknown, seqID)
		}
		needed := int(positions[i]) + 1
		if needed > c.capacity {
			return PointerArrays{}, fmt.Errorf("%w: sequence %d needs %d tokens, capacity %d", ErrCacheFull, seqID, needed, c.capacity)
		}
		if needed > r.max-r.min {
			oldMax := r.max
			r.max = r.min + needed
			for cell := oldMax; cell < r.max; cell++ {
				c.cells[cell].sequence = seqID
				c.cells[cell].pos = int32(cell - r.min)
			}
			c.cellRanges[seqID] = r
		}
	}

	ptrs := PointerArrays{
		KeyPtr:   make([]int64, c.model.NumLayers),
		ValuePtr: make([]int64, c.model.NumLayers),
	}
	for layer := 0; layer < c.model.NumLayers; layer++ {
		if t, ok := c.keys[layer]; ok {
			ptrs.KeyPtr[layer] = int64(uintptrOf(t))
		}
		if t, ok := c.values[layer]; ok {
			ptrs.ValuePtr[layer] = int64(uintptrOf(t))
		}
	}
	return ptrs, nil
}

func (c *contiguous) CopyPrefix(src, dst int, length int) error {
	srcRange, ok := c.cellRanges[src]
	if !ok {
		return fmt.Errorf("%w: %d", ErrSequenceUnknown, src)
	}
	dstRange, ok := c.cellRanges[dst]
	if !ok {
		return fmt.Errorf("%w: %d", ErrSequenceUnknown, dst)
	}
	if length > srcRange.max-srcRange.min {
		return fmt.Errorf("kvcache: copy_prefix length %d exceeds source range", length)
	}
	for i := 0; i < length; i++ {
		c.cells[dstRange.min+i] = c.cells[srcRange.min+i]
		c.cells[dstRange.min+i].sequence = dst
	}
	dstRange.max = dstRange.min + length
	c.cellRanges[dst] = dstRange
	return nil
}

// Rewind shrinks a sequence's assigned range back to length tokens,
// mirroring the teacher's Remove(seq, beginIndex, endIndex) used when a stop
// sequence is trimmed from the tail of generated output.
func (c *contiguous) Rewind(seqID int, length int) error {
	r, ok := c.cellRanges[seqID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrSequenceUnknown, seqID)
	}
	newMax := r.min + length
	if newMax > r.max {
		return fmt.Errorf("kvcache: rewind length %d exceeds current length %d", length, r.max-r.min)
	}
	for i := newMax; i < r.max; i++ {
		c.cells[i].sequence = -1
	}
	r.max = newMax
	c.cellRanges[seqID] = r
	return nil
}

func (c *contiguous) Close() {
	c.keys = nil
	c.values = nil
	c.keyStorage = nil
	c.valueStorage = nil
}

func uintptrOf(t engine.Tensor) uintptr {
	return uintptr(t.Ptr())
}
