package kvcache

import (
	"errors"
	"testing"

	"github.com/inferencecore/llmrt/config"
)

func newTestContiguous(t *testing.T) *contiguous {
	t.Helper()
	model := config.DefaultModel()
	model.NumLayers = 2
	model.TokensPerBlock = 4 // capacity = 4*64 = 256, small enough for quick tests
	c, err := newContiguous(model, nil, 4, 8)
	if err != nil {
		t.Fatalf("newContiguous: %v", err)
	}
	return c
}

func TestContiguousAddSequenceAssignsDistinctSlots(t *testing.T) {
	c := newTestContiguous(t)
	if err := c.AddSequence(0); err != nil {
		t.Fatalf("AddSequence(0): %v", err)
	}
	if err := c.AddSequence(1); err != nil {
		t.Fatalf("AddSequence(1): %v", err)
	}
	r0, r1 := c.cellRanges[0], c.cellRanges[1]
	if r0.min == r1.min {
		t.Fatalf("expected distinct slot offsets, both sequences got min=%d", r0.min)
	}
}

func TestContiguousAddSequenceRejectsDuplicate(t *testing.T) {
	c := newTestContiguous(t)
	_ = c.AddSequence(0)
	if err := c.AddSequence(0); err == nil {
		t.Fatal("expected error re-adding an already-tracked sequence")
	}
}

func TestContiguousStartForwardExtendsRange(t *testing.T) {
	c := newTestContiguous(t)
	_ = c.AddSequence(0)

	if _, err := c.StartForward([]int{0}, []int32{0}); err != nil {
		t.Fatalf("StartForward: %v", err)
	}
	if got := c.cellRanges[0].max - c.cellRanges[0].min; got != 1 {
		t.Fatalf("expected range length 1 after position 0, got %d", got)
	}

	if _, err := c.StartForward([]int{0}, []int32{9}); err != nil {
		t.Fatalf("StartForward: %v", err)
	}
	if got := c.cellRanges[0].max - c.cellRanges[0].min; got != 10 {
		t.Fatalf("expected range length 10 after position 9, got %d", got)
	}
}

func TestContiguousStartForwardRejectsUnknownSequence(t *testing.T) {
	c := newTestContiguous(t)
	if _, err := c.StartForward([]int{7}, []int32{0}); !errors.Is(err, ErrSequenceUnknown) {
		t.Fatalf("expected ErrSequenceUnknown, got %v", err)
	}
}

func TestContiguousStartForwardRejectsOverCapacity(t *testing.T) {
	c := newTestContiguous(t)
	_ = c.AddSequence(0)
	if _, err := c.StartForward([]int{0}, []int32{int32(c.capacity)}); !errors.Is(err, ErrCacheFull) {
		t.Fatalf("expected ErrCacheFull when a position exceeds the per-sequence capacity, got %v", err)
	}
}

func TestContiguousCopyPrefixAndRewind(t *testing.T) {
	c := newTestContiguous(t)
	_ = c.AddSequence(0)
	_ = c.AddSequence(1)
	if _, err := c.StartForward([]int{0}, []int32{4}); err != nil {
		t.Fatalf("StartForward: %v", err)
	}

	if err := c.CopyPrefix(0, 1, 3); err != nil {
		t.Fatalf("CopyPrefix: %v", err)
	}
	if got := c.cellRanges[1].max - c.cellRanges[1].min; got != 3 {
		t.Fatalf("expected dst range length 3 after CopyPrefix, got %d", got)
	}
	for i := 0; i < 3; i++ {
		if c.cells[c.cellRanges[1].min+i].sequence != 1 {
			t.Fatalf("expected copied cell %d to be owned by dst sequence 1", i)
		}
	}

	if err := c.Rewind(0, 1); err != nil {
		t.Fatalf("Rewind: %v", err)
	}
	if got := c.cellRanges[0].max - c.cellRanges[0].min; got != 1 {
		t.Fatalf("expected range length 1 after rewinding to length 1, got %d", got)
	}
	for i := 1; i < 5; i++ {
		if c.cells[c.cellRanges[0].min+i].sequence != -1 {
			t.Fatalf("expected cell %d freed after rewind", i)
		}
	}
}

func TestContiguousStartForwardStampsCellOwnership(t *testing.T) {
	c := newTestContiguous(t)
	_ = c.AddSequence(0)
	_, _ = c.StartForward([]int{0}, []int32{2})
	r := c.cellRanges[0]
	for i := r.min; i < r.max; i++ {
		if c.cells[i].sequence != 0 {
			t.Fatalf("expected cell %d to be stamped with owning sequence 0, got %d", i, c.cells[i].sequence)
		}
	}
}

func TestContiguousRemoveSequenceFreesCells(t *testing.T) {
	c := newTestContiguous(t)
	_ = c.AddSequence(0)
	_, _ = c.StartForward([]int{0}, []int32{2})
	r := c.cellRanges[0]

	c.RemoveSequence(0)
	if _, ok := c.cellRanges[0]; ok {
		t.Fatal("expected sequence to be untracked after RemoveSequence")
	}
	for i := r.min; i < r.max; i++ {
		if c.cells[i].sequence != -1 {
			t.Fatalf("expected cell %d freed after RemoveSequence", i)
		}
	}
}
