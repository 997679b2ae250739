package decoder

import "testing"

func TestLengthPenalizeGNMTFormula(t *testing.T) {
	// length_penalty == 0 must be a no-op passthrough.
	if got := lengthPenalize(-10, 5, 0); got != -10 {
		t.Fatalf("lengthPenalize with penalty=0 = %v, want -10", got)
	}

	// length_penalty == 1 with length 1: denom = (5+1)/6 = 1, so score
	// is unchanged.
	if got := lengthPenalize(-3, 1, 1.0); !approxEqual(got, -3, 1e-9) {
		t.Fatalf("lengthPenalize(-3, 1, 1.0) = %v, want -3", got)
	}

	// Longer sequences are penalized (denominator > 1) for a negative
	// cumulative log-prob, so the normalized score should move toward zero.
	short := lengthPenalize(-6, 1, 1.0)
	long := lengthPenalize(-6, 11, 1.0)
	if !(long > short) {
		t.Fatalf("expected longer sequence's normalized score (%v) to exceed the shorter one's (%v)", long, short)
	}
}

func TestNewBeamHypothesesUpdateTracksFinishedRows(t *testing.T) {
	bh := newBeamHypotheses(1, 2, 1.0)
	out := StepOutput{
		NewTokens: []int32{7, 8},
		Finished:  []bool{true, false},
		LogProbs:  []float32{-1.0, -5.0},
	}
	bh.update(3, out)

	if bh.numDone[0] != 1 {
		t.Fatalf("expected 1 finished hypothesis recorded, got %d", bh.numDone[0])
	}
	if bh.IsDone(0, 0) {
		t.Fatal("should not be done until beamWidth hypotheses have finished")
	}
}

func TestBeamHypothesesIsDoneRequiresBeamWidthFinished(t *testing.T) {
	bh := newBeamHypotheses(1, 1, 1.0)
	out := StepOutput{
		NewTokens: []int32{7},
		Finished:  []bool{true},
		LogProbs:  []float32{-2.0},
	}
	bh.update(4, out)
	if !bh.IsDone(0, -100) {
		t.Fatal("expected IsDone once beamWidth=1 hypotheses finished and no live beam can beat it")
	}
	if bh.IsDone(0, 100) {
		t.Fatal("a live beam with a better score should prevent IsDone")
	}
}
