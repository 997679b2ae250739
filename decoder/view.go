package decoder

import (
	"fmt"

	"github.com/pdevine/tensor"

	"github.com/inferencecore/llmrt/envconfig"
)

// logitsView builds an n-dimensional [rows, vocab] view over a step's
// widened logits, the same tensor.Dense shape-binding the teacher's CPU
// fallback ml backend uses (pdevine/tensor) for the runtime wrapper's own
// tensor-shape bookkeeping. Forward only materializes this under
// LLMRT_DEBUG_MODE, since it's a debug-time shape consistency check, not
// something the hot sampling loop needs to hold onto.
func logitsView(logits [][]float32) (*tensor.Dense, error) {
	if len(logits) == 0 {
		return nil, fmt.Errorf("decoder: empty logits batch")
	}
	vocab := len(logits[0])
	flat := make([]float32, 0, len(logits)*vocab)
	for i, row := range logits {
		if len(row) != vocab {
			return nil, fmt.Errorf("decoder: row %d has %d logits, want %d", i, len(row), vocab)
		}
		flat = append(flat, row...)
	}
	return tensor.New(tensor.WithShape(len(logits), vocab), tensor.WithBacking(flat)), nil
}

// checkLogitsShape is a no-op unless LLMRT_DEBUG_MODE is set, in which case
// it materializes a logitsView purely to catch a ragged batch (a row with
// the wrong vocab width) before it reaches the per-row sampling loop.
func checkLogitsShape(logits [][]float32) error {
	if !envconfig.DebugMode() {
		return nil
	}
	_, err := logitsView(logits)
	return err
}
