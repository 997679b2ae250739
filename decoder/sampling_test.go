package decoder

import "testing"

func approxEqual(a, b, tol float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= tol
}

func sum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}

func TestTopKKeepsOnlyTopEntries(t *testing.T) {
	probs := []float64{0.1, 0.5, 0.2, 0.2}
	out := topK(probs, 2)
	if out[1] == 0 || out[2] == 0 {
		t.Fatalf("expected indices 1 and 2 to survive, got %v", out)
	}
	nonzero := 0
	for _, p := range out {
		if p > 0 {
			nonzero++
		}
	}
	if nonzero != 2 {
		t.Fatalf("expected exactly 2 nonzero entries, got %d in %v", nonzero, out)
	}
	if !approxEqual(sum(out), 1.0, 1e-9) {
		t.Fatalf("expected renormalized distribution to sum to 1, got %v", sum(out))
	}
}

func TestTopKNoopWhenKNonPositive(t *testing.T) {
	probs := []float64{0.1, 0.2, 0.7}
	out := topK(probs, 0)
	if !approxEqual(sum(out), sum(probs), 1e-9) {
		t.Fatalf("k<=0 should be a no-op, got %v", out)
	}
}

func TestTopPKeepsSmallestSufficientPrefix(t *testing.T) {
	probs := []float64{0.5, 0.3, 0.1, 0.1}
	out := topP(probs, 0.8)
	if out[0] == 0 || out[1] == 0 {
		t.Fatalf("expected the top two entries (cumulative 0.8) to survive, got %v", out)
	}
	if out[2] != 0 || out[3] != 0 {
		t.Fatalf("expected the tail entries to be masked out, got %v", out)
	}
	if !approxEqual(sum(out), 1.0, 1e-9) {
		t.Fatalf("expected renormalized distribution to sum to 1, got %v", sum(out))
	}
}

func TestSampleFromDistPicksNonzeroMass(t *testing.T) {
	probs := []float64{0, 0, 1, 0}
	for i := 0; i < 20; i++ {
		if got := sampleFromDist(probs); got != 2 {
			t.Fatalf("expected deterministic pick of index 2, got %d", got)
		}
	}
}
