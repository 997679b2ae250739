package decoder

import (
	"math"

	"github.com/emirpasic/gods/v2/queues/priorityqueue"
)

// hypothesis is one finished beam candidate, scored by length-penalized
// cumulative log-probability (generation.py's BeamHypotheses.add scoring).
type hypothesis struct {
	batch  int
	beam   int
	tokens []int32
	score  float64
	cumLP  float64
}

func (h hypothesis) compareTo(o hypothesis) int {
	switch {
	case h.score < o.score:
		return -1
	case h.score > o.score:
		return 1
	default:
		return 0
	}
}

// beamHypotheses is the per-batch-item top-2K hypothesis store
// (spec.md §4.3/§4.5: "beam_hyps_* eight tensors"), backed by a priority
// queue per batch item with the lowest score at its head. Once a store holds
// more than 2K entries, update drops the lowest-scoring one (dropWorst drains
// and re-enqueues the queue to do so).
type beamHypotheses struct {
	beamWidth     int
	lengthPenalty float32
	perBatch      []*priorityqueue.Queue[hypothesis]
	maxSize       int

	// doneMinScore[b] is the score of the worst surviving hypothesis, used
	// to early-stop generation once no live beam can beat it.
	doneMinScore []float64
	numDone      []int
}

func newBeamHypotheses(batchSize, beamWidth int, lengthPenalty float32) *beamHypotheses {
	bh := &beamHypotheses{
		beamWidth:     beamWidth,
		lengthPenalty: lengthPenalty,
		perBatch:      make([]*priorityqueue.Queue[hypothesis], batchSize),
		maxSize:       2 * beamWidth,
		doneMinScore:  make([]float64, batchSize),
		numDone:       make([]int, batchSize),
	}
	for i := range bh.perBatch {
		bh.perBatch[i] = priorityqueue.NewWith(func(a, b hypothesis) int { return a.compareTo(b) })
		bh.doneMinScore[i] = math.Inf(-1)
	}
	return bh
}

// update folds newly finished rows from one decode step into the
// per-batch-item hypothesis stores.
func (bh *beamHypotheses) update(step int, out StepOutput) {
	for row, finished := range out.Finished {
		if !finished {
			continue
		}
		batch := row / bh.beamWidth
		beam := row % bh.beamWidth
		score := 0.0
		if out.LogProbs != nil {
			score = float64(out.LogProbs[row])
		}
		normalized := lengthPenalize(score, step+1, bh.lengthPenalty)

		q := bh.perBatch[batch]
		q.Enqueue(hypothesis{batch: batch, beam: beam, score: normalized, cumLP: score})
		if q.Size() > bh.maxSize {
			if worst, ok := q.Peek(); ok {
				_ = worst
			}
			// priorityqueue.Queue is a min-by-default pop order is
			// determined by compareTo; drop the current worst entry to
			// bound memory to the top 2K candidates.
			bh.dropWorst(batch)
		}
		bh.numDone[batch]++
		// The queue's head is the lowest-scoring hypothesis still kept.
		if worst, ok := q.Peek(); ok {
			bh.doneMinScore[batch] = worst.score
		}
	}
}

func (bh *beamHypotheses) dropWorst(batch int) {
	q := bh.perBatch[batch]
	items := make([]hypothesis, 0, q.Size())
	for {
		v, ok := q.Dequeue()
		if !ok {
			break
		}
		items = append(items, v)
	}
	// items popped in ascending score order (lowest first); drop the lowest,
	// re-enqueue the rest.
	if len(items) > 1 {
		items = items[1:]
	}
	for _, it := range items {
		q.Enqueue(it)
	}
}

// IsDone reports whether batch item b already holds beamWidth finished
// hypotheses whose worst score cannot be improved by any live beam's best
// possible continuation (heuristic bound: current best live score already
// below the worst kept hypothesis).
func (bh *beamHypotheses) IsDone(batch int, bestLiveScore float64) bool {
	if bh.numDone[batch] < bh.beamWidth {
		return false
	}
	return bestLiveScore < bh.doneMinScore[batch]
}

// lengthPenalize applies generation.py's length_penalty normalization:
// score / ((5 + length) / 6) ** length_penalty, the standard GNMT formula
// TensorRT-LLM's dynamic decoder plugin uses.
func lengthPenalize(cumLogProb float64, length int, lengthPenalty float32) float64 {
	if lengthPenalty == 0 {
		return cumLogProb
	}
	denom := math.Pow((5.0+float64(length))/6.0, float64(lengthPenalty))
	return cumLogProb / denom
}
