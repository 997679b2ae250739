package ipc

import "testing"

func TestNewValidatesRankAndTPSize(t *testing.T) {
	if _, err := New(0, 0, 4, 1024); err == nil {
		t.Fatal("expected error for tp_size < 1")
	}
	if _, err := New(2, 2, 4, 1024); err == nil {
		t.Fatal("expected error for rank out of range")
	}
	w, err := New(0, 2, 4, 1024)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Capacity() != 1024 {
		t.Fatalf("Capacity() = %d, want 1024", w.Capacity())
	}
	if len(w.Data()) != 1024*4 {
		t.Fatalf("Data() length = %d, want %d", len(w.Data()), 1024*4)
	}
}

func TestResizeOnlyGrows(t *testing.T) {
	w, _ := New(0, 1, 4, 100)
	w.Resize(50)
	if w.Capacity() != 100 {
		t.Fatalf("Resize should be a no-op when shrinking, Capacity() = %d", w.Capacity())
	}
	w.Resize(200)
	if w.Capacity() != 200 {
		t.Fatalf("Resize(200) did not grow, Capacity() = %d", w.Capacity())
	}
	if len(w.Data()) != 200*4 {
		t.Fatalf("Data() length after resize = %d, want %d", len(w.Data()), 200*4)
	}
}

func TestArriveBarrierRequiresAllRanks(t *testing.T) {
	w, _ := New(0, 3, 4, 16)
	const gen = byte(1)
	if w.AllArrived(gen) {
		t.Fatal("should not be all-arrived before any rank signals")
	}
	w.ArriveBarrier(gen)
	if w.AllArrived(gen) {
		t.Fatal("should not be all-arrived with only one of three ranks signaled")
	}
	// Simulate the other two ranks arriving by writing into the same shared
	// region directly, since each rank's Workspace is a view onto the same
	// underlying barrier buffer in a real deployment.
	w.barriers[0][1] = gen
	w.barriers[0][2] = gen
	if !w.AllArrived(gen) {
		t.Fatal("expected AllArrived once every rank has signaled this generation")
	}
}

func TestDoneBarrierIndependentOfArriveBarrier(t *testing.T) {
	w, _ := New(1, 2, 4, 16)
	const gen = byte(5)
	w.ArriveBarrier(gen)
	if w.AllDone(gen) {
		t.Fatal("ArriveBarrier must not satisfy the done barrier")
	}
	w.DoneBarrier(gen)
	w.barriers[1][0] = gen
	if !w.AllDone(gen) {
		t.Fatal("expected AllDone once every rank has signaled done for this generation")
	}
}
