package mapping

import "testing"

func TestNewValidatesWorldSize(t *testing.T) {
	if _, err := New(0, 4, 2, 3, 0); err == nil {
		t.Fatal("expected error when tp_size*pp_size != world_size")
	}
	top, err := New(0, 4, 2, 2, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if top.GPUsPerNode != 4 {
		t.Fatalf("expected gpus_per_node to default to world_size, got %d", top.GPUsPerNode)
	}
}

func TestNewRejectsOutOfRangeRank(t *testing.T) {
	if _, err := New(4, 4, 2, 2, 0); err == nil {
		t.Fatal("expected error for rank >= world_size")
	}
	if _, err := New(-1, 4, 2, 2, 0); err == nil {
		t.Fatal("expected error for negative rank")
	}
}

func TestPPRankTPRank(t *testing.T) {
	// world_size=6, tp_size=2, pp_size=3: ranks laid out pp-major, tp-minor.
	top, err := New(5, 6, 2, 3, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := top.PPRank(); got != 2 {
		t.Fatalf("PPRank() = %d, want 2", got)
	}
	if got := top.TPRank(); got != 1 {
		t.Fatalf("TPRank() = %d, want 1", got)
	}
	if !top.IsLastPPRank() {
		t.Fatal("expected rank 5 to be the last pp rank")
	}
}

func TestLayerRange(t *testing.T) {
	top, _ := New(1, 4, 2, 2, 0)
	first, last, err := top.LayerRange(32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// pp_rank = 1/2 = 0 for rank 1 (tp_size=2) -> first stage, layers [0,16)
	if first != 0 || last != 16 {
		t.Fatalf("LayerRange() = (%d,%d), want (0,16)", first, last)
	}
}

func TestLayerRangeRejectsIndivisible(t *testing.T) {
	top, _ := New(0, 3, 1, 3, 0)
	if _, _, err := top.LayerRange(10); err == nil {
		t.Fatal("expected error when num_layers is not divisible by pp_size")
	}
}

func TestPrevNextPPRankWrapAround(t *testing.T) {
	top, _ := New(0, 4, 2, 2, 0)
	if got := top.PrevPPRank(); got != 2 {
		t.Fatalf("PrevPPRank() = %d, want 2 (wraps to last stage)", got)
	}
	if got := top.NextPPRank(); got != 2 {
		t.Fatalf("NextPPRank() = %d, want 2", got)
	}
}

func TestHasPPHasTP(t *testing.T) {
	single, _ := New(0, 1, 1, 1, 0)
	if single.HasPP() || single.HasTP() {
		t.Fatal("single-rank topology should report no parallelism")
	}
	multi, _ := New(0, 4, 2, 2, 0)
	if !multi.HasPP() || !multi.HasTP() {
		t.Fatal("expected both pp and tp active")
	}
}
