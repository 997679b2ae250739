// Package kvcache implements the KV cache manager (spec.md §4.2): the
// component that owns per-layer key/value storage across the sequences a
// session is driving, in either contiguous (one tensor per layer, one slot
// per sequence) or paged (fixed-size block pool, GenerationSequence-indexed)
// layout.
//
// Grounded on the teacher's kvcache/{constructors,forward,sequence_ops,
// tensor_ops}.go Causal cache (cell/range bookkeeping, sliding-window
// eviction, shift-on-truncate), generalized here to the paged contract
// described by generation.py's KVCacheManager/GenerationSequence (that file
// itself was not present in the retrieval pack; its shape is inferred from
// generation.py's call sites plus spec.md §4.2).
package kvcache

import (
	"errors"
	"fmt"

	"github.com/inferencecore/llmrt/config"
	"github.com/inferencecore/llmrt/engine"
)

var (
	ErrCacheFull       = errors.New("kvcache: no free cells for this batch")
	ErrSequenceUnknown = errors.New("kvcache: unknown sequence id")
)

// Manager is the common contract both cache layouts satisfy. The session
// package depends only on this interface so it can switch layouts based on
// config.Model.PagedKVCache without branching its own step algorithm.
type Manager interface {
	// StartForward assigns cache storage for the sequences in seqIDs at the
	// given positions, growing each sequence's storage as needed (neither
	// layout evicts), and returns the pointer arrays the engine's attention
	// plugin binds as IO tensors for this step.
	StartForward(seqIDs []int, positions []int32) (PointerArrays, error)

	// AddSequence begins tracking a new sequence (generation.py's
	// KVCacheManager.add_sequence).
	AddSequence(seqID int) error

	// RemoveSequence frees every cell/block owned by seqID.
	RemoveSequence(seqID int)

	// CopyPrefix duplicates src's cache state into dst up to length tokens,
	// used for beam-search forking (a new beam reuses its parent's prefix).
	CopyPrefix(src, dst int, length int) error

	// Rewind truncates seqID's cache back to length tokens, used when a
	// stop sequence is trimmed from the tail of the output (spec.md §4.3).
	Rewind(seqID int, length int) error

	Close()
}

// PointerArrays is the per-step binding the engine's paged-attention or
// contiguous-attention plugin expects: one block-table row per sequence (per
// sequence and beam when built for a beam width above 1) for paged caches, or
// one device pointer per layer for contiguous ones (spec.md §4.2).
type PointerArrays struct {
	// Paged layout.
	BlockPointers [][]int64 // [rows][2*maxBlocksPerSeq]: key block ids, then value block ids
	BlockOffsets  [][]int32 // [rows][maxBlocksPerSeq], -1 past the last block

	// Contiguous layout.
	KeyPtr   []int64 // per-layer device pointer
	ValuePtr []int64

	MaxBlocksPerSeq int
}

// New builds the layout config.Model.PagedKVCache selects.
func New(model config.Model, rt *engine.Runtime, maxSequences, maxBatch int) (Manager, error) {
	if model.PagedKVCache {
		return newPaged(model, rt, maxSequences, maxBatch)
	}
	return newContiguous(model, rt, maxSequences, maxBatch)
}

func roundUp(v, mult int) int {
	if mult <= 0 {
		return v
	}
	return ((v + mult - 1) / mult) * mult
}

func roundDown(v, mult int) int {
	if mult <= 0 {
		return v
	}
	return (v / mult) * mult
}

func checkLayerCount(model config.Model, localLayers int) error {
	if localLayers <= 0 || localLayers > model.NumLayers {
		return fmt.Errorf("kvcache: local layer count %d out of range [1,%d]", localLayers, model.NumLayers)
	}
	return nil
}
