package kvcache

import (
	"errors"
	"testing"

	"github.com/inferencecore/llmrt/config"
)

func newTestPaged(t *testing.T) *paged {
	t.Helper()
	model := config.DefaultModel()
	model.PagedKVCache = true
	model.NumLayers = 2
	p, err := newPaged(model, nil, 4, 8)
	if err != nil {
		t.Fatalf("newPaged: %v", err)
	}
	return p
}

func TestPagedAddAndRemoveSequence(t *testing.T) {
	p := newTestPaged(t)
	if err := p.AddSequence(1); err != nil {
		t.Fatalf("AddSequence: %v", err)
	}
	if err := p.AddSequence(1); err == nil {
		t.Fatal("expected error re-adding an already-tracked sequence")
	}
	p.RemoveSequence(1)
	if err := p.AddSequence(1); err != nil {
		t.Fatalf("expected re-adding after removal to succeed, got %v", err)
	}
}

func TestPagedStartForwardAllocatesBlocks(t *testing.T) {
	p := newTestPaged(t)
	_ = p.AddSequence(0)

	out, err := p.StartForward([]int{0}, []int32{0})
	if err != nil {
		t.Fatalf("StartForward: %v", err)
	}
	if len(out.BlockPointers) != 1 {
		t.Fatalf("expected 1 pointer row, got %d", len(out.BlockPointers))
	}
	if len(p.sequences[0].blocks) != 1 {
		t.Fatalf("expected 1 block allocated for position 0, got %d", len(p.sequences[0].blocks))
	}

	// Advance to a position requiring a second block.
	out, err = p.StartForward([]int{0}, []int32{int32(p.tokensPerBlock)})
	if err != nil {
		t.Fatalf("StartForward: %v", err)
	}
	if len(p.sequences[0].blocks) != 2 {
		t.Fatalf("expected 2 blocks after crossing a block boundary, got %d", len(p.sequences[0].blocks))
	}
	_ = out
}

func TestPagedStartForwardUnknownSequence(t *testing.T) {
	p := newTestPaged(t)
	if _, err := p.StartForward([]int{42}, []int32{0}); !errors.Is(err, ErrSequenceUnknown) {
		t.Fatalf("expected ErrSequenceUnknown, got %v", err)
	}
}

func TestPagedCopyPrefixSharesBlocksViaRefcount(t *testing.T) {
	p := newTestPaged(t)
	_ = p.AddSequence(0)
	_ = p.AddSequence(1)
	if _, err := p.StartForward([]int{0}, []int32{int32(p.tokensPerBlock)}); err != nil {
		t.Fatalf("StartForward: %v", err)
	}

	if err := p.CopyPrefix(0, 1, p.sequences[0].length); err != nil {
		t.Fatalf("CopyPrefix: %v", err)
	}
	if len(p.sequences[1].blocks) != len(p.sequences[0].blocks) {
		t.Fatalf("expected dst to share src's block list length")
	}
	for _, id := range p.sequences[0].blocks {
		if p.allBlocks[id].refCount != 2 {
			t.Fatalf("expected refcount 2 on a shared block, got %d", p.allBlocks[id].refCount)
		}
	}

	// Removing the forked sequence should not free the still-shared blocks.
	p.RemoveSequence(1)
	for _, id := range p.sequences[0].blocks {
		if p.allBlocks[id].refCount != 1 {
			t.Fatalf("expected refcount back to 1 after one owner removed, got %d", p.allBlocks[id].refCount)
		}
	}
}

func TestPagedRewindDropsTrailingBlocks(t *testing.T) {
	p := newTestPaged(t)
	_ = p.AddSequence(0)
	if _, err := p.StartForward([]int{0}, []int32{int32(2 * p.tokensPerBlock)}); err != nil {
		t.Fatalf("StartForward: %v", err)
	}
	before := len(p.sequences[0].blocks)
	if before < 2 {
		t.Fatalf("expected at least 2 blocks before rewind, got %d", before)
	}
	if err := p.Rewind(0, 1); err != nil {
		t.Fatalf("Rewind: %v", err)
	}
	if got := len(p.sequences[0].blocks); got != 1 {
		t.Fatalf("expected 1 block retained after rewinding to length 1, got %d", got)
	}
}

func TestPagedCacheFullReturnsErrCacheFull(t *testing.T) {
	model := config.DefaultModel()
	model.PagedKVCache = true
	p, err := newPaged(model, nil, 1, 1)
	if err != nil {
		t.Fatalf("newPaged: %v", err)
	}
	_ = p.AddSequence(0)
	// Exhaust every free block directly so the next StartForward has none
	// left, regardless of the pool-sizing heuristic.
	p.freeBlocks = nil

	if _, err := p.StartForward([]int{0}, []int32{0}); !errors.Is(err, ErrCacheFull) {
		t.Fatalf("expected ErrCacheFull, got %v", err)
	}
}
