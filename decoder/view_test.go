package decoder

import "testing"

func TestLogitsViewRejectsRaggedBatch(t *testing.T) {
	logits := [][]float32{
		{0.1, 0.2, 0.3},
		{0.1, 0.2}, // short row
	}
	if _, err := logitsView(logits); err == nil {
		t.Fatal("expected an error for a ragged logits batch")
	}
}

func TestLogitsViewAcceptsUniformBatch(t *testing.T) {
	logits := [][]float32{
		{0.1, 0.2, 0.3},
		{0.4, 0.5, 0.6},
	}
	dense, err := logitsView(logits)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	shape := dense.Shape()
	if len(shape) != 2 || shape[0] != 2 || shape[1] != 3 {
		t.Fatalf("Shape() = %v, want [2 3]", shape)
	}
}

func TestCheckLogitsShapeNoopWithoutDebugMode(t *testing.T) {
	// LLMRT_DEBUG_MODE is unset in the test environment by default, so a
	// ragged batch must not be rejected when debug mode is off.
	logits := [][]float32{{0.1, 0.2}, {0.1}}
	if err := checkLogitsShape(logits); err != nil {
		t.Fatalf("expected no-op when debug mode is disabled, got: %v", err)
	}
}
