package lora

import (
	"testing"
	"unsafe"
)

func TestRegisterRejectsSentinelUID(t *testing.T) {
	b := NewBinder(2)
	if err := b.Register(NoAdapter, map[string][]Weights{}); err == nil {
		t.Fatal("expected error registering under the reserved NoAdapter uid")
	}
}

func TestRegisterRejectsWrongLayerCount(t *testing.T) {
	b := NewBinder(4)
	err := b.Register("adapter-a", map[string][]Weights{
		"q_proj": {{Rank: 8}, {Rank: 8}}, // only 2 entries, want 4
	})
	if err == nil {
		t.Fatal("expected error when a module's layer count doesn't match numLayers")
	}
}

func TestBindLayerNoAdapterYieldsZeroRank(t *testing.T) {
	b := NewBinder(2)
	ranks, ptrs := b.BindLayer(NoAdapter, 0, []string{"q_proj"})
	if ranks["q_proj_lora_ranks_0"] != 0 {
		t.Fatalf("expected zero rank for NoAdapter, got %d", ranks["q_proj_lora_ranks_0"])
	}
	if p := ptrs["q_proj_lora_weights_pointers_0"]; p[0] != nil || p[1] != nil {
		t.Fatalf("expected nil pointer pair for NoAdapter, got %v", p)
	}
}

func TestBindLayerRegisteredAdapter(t *testing.T) {
	b := NewBinder(2)
	var a, bb int
	uid := NewUID()
	err := b.Register(uid, map[string][]Weights{
		"q_proj": {
			{Rank: 8, PtrA: unsafe.Pointer(&a), PtrB: unsafe.Pointer(&bb)},
			{Rank: 16, PtrA: unsafe.Pointer(&a), PtrB: unsafe.Pointer(&bb)},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !b.HasAdapter(uid) {
		t.Fatal("expected HasAdapter to report true for a registered uid")
	}

	ranks, ptrs := b.BindLayer(uid, 1, []string{"q_proj"})
	if ranks["q_proj_lora_ranks_1"] != 16 {
		t.Fatalf("expected layer 1 rank 16, got %d", ranks["q_proj_lora_ranks_1"])
	}
	if p := ptrs["q_proj_lora_weights_pointers_1"]; p[0] == nil || p[1] == nil {
		t.Fatal("expected non-nil weight pointers for a registered module")
	}

	// A module not present in the table falls back to the no-op convention.
	ranks2, _ := b.BindLayer(uid, 1, []string{"k_proj"})
	if ranks2["k_proj_lora_ranks_1"] != 0 {
		t.Fatalf("expected zero rank for an unbound module, got %d", ranks2["k_proj_lora_ranks_1"])
	}
}

func TestUnregisterDropsAdapter(t *testing.T) {
	b := NewBinder(1)
	uid := NewUID()
	_ = b.Register(uid, map[string][]Weights{"v_proj": {{Rank: 4}}})
	if !b.HasAdapter(uid) {
		t.Fatal("expected adapter to be registered")
	}
	b.Unregister(uid)
	if b.HasAdapter(uid) {
		t.Fatal("expected adapter to be gone after Unregister")
	}
}

func TestHasAdapterRejectsSentinel(t *testing.T) {
	b := NewBinder(1)
	if b.HasAdapter(NoAdapter) {
		t.Fatal("NoAdapter must never report as a real adapter")
	}
}
