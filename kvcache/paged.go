package kvcache

import (
	"fmt"

	"github.com/inferencecore/llmrt/config"
	"github.com/inferencecore/llmrt/engine"
)

// block is one fixed-size slab of KV storage, tokensPerBlock tokens wide,
// shared across every layer (TensorRT-LLM's paged attention layout: one
// block pool per layer, block indices shared across layers for a sequence).
type block struct {
	id       int
	refCount int // >1 once beam-forked via CopyPrefix into a shared prefix
}

// generationSequence is the paged manager's per-sequence bookkeeping,
// named after generation.py's GenerationSequence (seq_idx, batch_idx),
// inferred from kv_cache_manager.py call sites since that file was not in
// the retrieval pack.
type generationSequence struct {
	seqIdx   int
	batchIdx int
	blocks   []int // block ids, in order, one entry per tokensPerBlock window
	length   int   // tokens actually written
}

// paged is the block-pool KV cache layout (spec.md §4.2 paged contract).
type paged struct {
	model           config.Model
	rt              *engine.Runtime
	tokensPerBlock  int
	maxBlocksPerSeq int
	numPools        int // number of distinct memory pools (kv-head groups sharing a pool)

	freeBlocks []int
	allBlocks  []block
	sequences  map[int]*generationSequence
}

func newPaged(model config.Model, rt *engine.Runtime, maxSequences, maxBatch int) (*paged, error) {
	tokensPerBlock := model.TokensPerBlock
	if tokensPerBlock <= 0 {
		tokensPerBlock = 64
	}
	maxAttentionWindow := tokensPerBlock * 64
	maxBlocksPerSeq := (maxAttentionWindow + tokensPerBlock - 1) / tokensPerBlock

	totalBlocks := maxSequences*maxBlocksPerSeq + (maxBatch+tokensPerBlock-1)/tokensPerBlock

	p := &paged{
		model:           model,
		rt:              rt,
		tokensPerBlock:  tokensPerBlock,
		maxBlocksPerSeq: maxBlocksPerSeq,
		numPools:        1,
		allBlocks:       make([]block, totalBlocks),
		freeBlocks:      make([]int, totalBlocks),
		sequences:       make(map[int]*generationSequence),
	}
	for i := range p.allBlocks {
		p.allBlocks[i] = block{id: i}
		p.freeBlocks[i] = i
	}
	return p, nil
}

func (p *paged) AddSequence(seqID int) error {
	if _, exists := p.sequences[seqID]; exists {
		return fmt.Errorf("kvcache: sequence %d already tracked", seqID)
	}
	p.sequences[seqID] = &generationSequence{seqIdx: len(p.sequences), batchIdx: seqID}
	return nil
}

func (p *paged) RemoveSequence(seqID int) {
	seq, ok := p.sequences[seqID]
	if !ok {
		return
	}
	p.releaseBlocks(seq.blocks)
	delete(p.sequences, seqID)
}

func (p *paged) releaseBlocks(blockIDs []int) {
	for _, id := range blockIDs {
		b := &p.allBlocks[id]
		b.refCount--
		if b.refCount <= 0 {
			b.refCount = 0
			p.freeBlocks = append(p.freeBlocks, id)
		}
	}
}

func (p *paged) allocBlock() (int, error) {
	if len(p.freeBlocks) == 0 {
		return 0, ErrCacheFull
	}
	id := p.freeBlocks[len(p.freeBlocks)-1]
	p.freeBlocks = p.freeBlocks[:len(p.freeBlocks)-1]
	p.allBlocks[id].refCount = 1
	return id, nil
}

// StartForward grows each sequence's block list to cover its new position,
// allocating fresh blocks from the pool as needed.
func (p *paged) StartForward(seqIDs []int, positions []int32) (PointerArrays, error) {
	for i, seqID := range seqIDs {
		seq, ok := p.sequences[seqID]
		if !ok {
			return PointerArrays{}, fmt.Errorf("%w: %d", ErrSequenceUnknown, seqID)
		}
		needed := int(positions[i]) + 1
		neededBlocks := (needed + p.tokensPerBlock - 1) / p.tokensPerBlock
		if neededBlocks > p.maxBlocksPerSeq {
			return PointerArrays{}, fmt.Errorf("kvcache: sequence %d needs %d blocks, max %d", seqID, neededBlocks, p.maxBlocksPerSeq)
		}
		for len(seq.blocks) < neededBlocks {
			id, err := p.allocBlock()
			if err != nil {
				return PointerArrays{}, fmt.Errorf("%w: sequence %d", err, seqID)
			}
			seq.blocks = append(seq.blocks, id)
		}
		seq.length = needed
	}
	return p.pointerArrays(seqIDs, 1)
}

// PointerArraysForBeams returns the [B,K,2,maxBlocksPerSeq] pointer tables
// the paged attention plugin reads, per spec.md §4.2's
// get_pointer_arrays(beam_width) contract: every beam within a batch item
// shares the same block list until it forks via CopyPrefix.
func (p *paged) PointerArraysForBeams(seqIDs []int, beamWidth int) (PointerArrays, error) {
	return p.pointerArrays(seqIDs, beamWidth)
}

func (p *paged) pointerArrays(seqIDs []int, beamWidth int) (PointerArrays, error) {
	out := PointerArrays{
		BlockPointers:   make([][]int64, 0, len(seqIDs)*beamWidth),
		BlockOffsets:    make([][]int32, 0, len(seqIDs)*beamWidth),
		MaxBlocksPerSeq: p.maxBlocksPerSeq,
	}
	for _, seqID := range seqIDs {
		seq, ok := p.sequences[seqID]
		if !ok {
			return PointerArrays{}, fmt.Errorf("%w: %d", ErrSequenceUnknown, seqID)
		}
		for beam := 0; beam < beamWidth; beam++ {
			row := make([]int64, 2*p.maxBlocksPerSeq)
			offsets := make([]int32, p.maxBlocksPerSeq)
			for i, id := range seq.blocks {
				row[i] = int64(id)                   // key pool block id
				row[p.maxBlocksPerSeq+i] = int64(id) // value pool block id (shares id; distinct pools in a real engine)
				offsets[i] = int32(id)
			}
			for i := len(seq.blocks); i < p.maxBlocksPerSeq; i++ {
				offsets[i] = -1
			}
			out.BlockPointers = append(out.BlockPointers, row)
			out.BlockOffsets = append(out.BlockOffsets, offsets)
		}
	}
	return out, nil
}

// CopyPrefix shares src's block list with dst up to length tokens by
// incrementing refcounts rather than copying bytes — the standard
// copy-on-write beam-fork strategy paged KV caches use.
func (p *paged) CopyPrefix(src, dst int, length int) error {
	srcSeq, ok := p.sequences[src]
	if !ok {
		return fmt.Errorf("%w: %d", ErrSequenceUnknown, src)
	}
	dstSeq, ok := p.sequences[dst]
	if !ok {
		return fmt.Errorf("%w: %d", ErrSequenceUnknown, dst)
	}
	nBlocks := (length + p.tokensPerBlock - 1) / p.tokensPerBlock
	if nBlocks > len(srcSeq.blocks) {
		return fmt.Errorf("kvcache: copy_prefix length %d exceeds source blocks", length)
	}
	p.releaseBlocks(dstSeq.blocks)
	dstSeq.blocks = append([]int(nil), srcSeq.blocks[:nBlocks]...)
	for _, id := range dstSeq.blocks {
		p.allBlocks[id].refCount++
	}
	dstSeq.length = length
	return nil
}

// Rewind drops trailing blocks once a sequence's written length shrinks
// below a full block boundary's worth of content (e.g. a stop sequence
// trimmed from the tail); partially-used blocks are kept since paged
// storage has no sub-block truncation.
func (p *paged) Rewind(seqID int, length int) error {
	seq, ok := p.sequences[seqID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrSequenceUnknown, seqID)
	}
	keepBlocks := (length + p.tokensPerBlock - 1) / p.tokensPerBlock
	if keepBlocks > len(seq.blocks) {
		return fmt.Errorf("kvcache: rewind length %d exceeds current blocks", length)
	}
	p.releaseBlocks(seq.blocks[keepBlocks:])
	seq.blocks = seq.blocks[:keepBlocks]
	seq.length = length
	return nil
}

func (p *paged) Close() {
	p.sequences = nil
	p.freeBlocks = nil
}
