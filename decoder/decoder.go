// Package decoder implements the dynamic decoder adapter (spec.md §4.4): the
// per-step sampling kernel driven between engine.Context.Run calls, and the
// gather_tree finalization that turns the ping-pong beam-search bookkeeping
// into contiguous output sequences (spec.md §4.5).
//
// Grounded on generation.py's handle_per_step/_prepare_generation_inputs
// penalty application and llama/llama_sampling.go's SamplingContext, which
// plays the same "opaque sampling kernel behind a thin Go struct" role for
// llama.cpp's grammar-constrained sampler.
package decoder

import (
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/inferencecore/llmrt/config"
	"github.com/inferencecore/llmrt/envconfig"
)

// Dynamic is the per-batch sampling state: penalty bookkeeping, finished
// flags, and (for beam_width>1) the beam hypothesis store. One Dynamic is
// created per session and reused across every decode step.
type Dynamic struct {
	batchSize int
	beamWidth int

	endID int
	padID int

	sampling config.Sampling

	// generatedCounts[b] is the number of tokens emitted so far across batch
	// item b's rows (each unfinished beam row adds one per step). min_length
	// is gated on StepInput.Step, not on this count.
	generatedCounts []int

	// presence[row] tracks which vocab ids have already appeared in that
	// batch*beam row, for presence_penalty (mutually exclusive with
	// repetition_penalty).
	presence []presenceSet

	hyps *beamHypotheses // nil when beamWidth == 1
}

// presenceSet is the set of vocab ids already emitted for one row.
type presenceSet map[int32]bool

func (s presenceSet) mark(t int32) { s[t] = true }

// NewDynamic constructs the decoder adapter for a batch, mirroring
// generation.py's GenerationSession.__setup_decoder.
func NewDynamic(batchSize int, sc config.Sampling) (*Dynamic, error) {
	if err := sc.Validate(batchSize); err != nil {
		return nil, err
	}
	d := &Dynamic{
		batchSize:       batchSize,
		beamWidth:       sc.NumBeams,
		endID:           sc.EndID,
		padID:           sc.PadID,
		sampling:        sc,
		generatedCounts: make([]int, batchSize),
	}
	if sc.PresencePenalty != 0 {
		d.presence = make([]presenceSet, batchSize*sc.NumBeams)
		for i := range d.presence {
			d.presence[i] = make(presenceSet)
		}
	}
	if d.beamWidth > 1 {
		d.hyps = newBeamHypotheses(batchSize, d.beamWidth, sc.LengthPenalty)
	}
	return d, nil
}

// StepInput is the engine output and bookkeeping the adapter needs for one
// Forward call, mirroring the tensors handle_per_step assembles before
// calling into the dynamic decoder plugin.
type StepInput struct {
	Logits [][]float32 // [batchSize*beamWidth][vocabSize], row-major per beam
	// Step is the number of tokens already generated per row before this
	// call (0 when the first new token is sampled). It gates min_length and
	// sets the length of hypotheses that finish on this step.
	Step int
	// PriorTokens[row] holds every token id already emitted for that
	// batch*beam row, used for the repetition penalty and bad-words
	// matching.
	PriorTokens [][]int32
	// Finished[row] is true when that row had already finished as of the
	// previous step. Forward does not resample or append a token for such a
	// row (spec.md §8 invariant 2).
	Finished []bool
}

// StepOutput is the per-step sampling decision returned to the session.
type StepOutput struct {
	NewTokens []int32 // one token id per batch*beam row
	Finished  []bool
	LogProbs  []float32 // per-row log-probability of the sampled token, if requested
}

// Forward applies penalties, masks bad words, and samples one token per row.
// Mirrors the per-step body of GenerationSession.decode_regular /
// decode_stream between handle_per_step and the stopping-criteria check.
func (d *Dynamic) Forward(in StepInput) (StepOutput, error) {
	rows := d.batchSize * d.beamWidth
	if len(in.Logits) != rows {
		return StepOutput{}, fmt.Errorf("decoder: expected %d logit rows, got %d", rows, len(in.Logits))
	}
	if err := checkLogitsShape(in.Logits); err != nil {
		return StepOutput{}, err
	}

	out := StepOutput{
		NewTokens: make([]int32, rows),
		Finished:  make([]bool, rows),
	}
	if d.sampling.OutputLogProbs {
		out.LogProbs = make([]float32, rows)
	}

	// newlyFinished tracks only the rows that finish on *this* step, as
	// opposed to out.Finished which also carries forward rows that were
	// already finished on entry; beamHypotheses.update must only see the
	// former; otherwise it would re-enqueue an already-recorded hypothesis
	// on every subsequent step.
	var newlyFinished []bool
	if d.hyps != nil {
		newlyFinished = make([]bool, rows)
	}

	for row := 0; row < rows; row++ {
		if in.Finished != nil && in.Finished[row] {
			out.Finished[row] = true
			continue
		}

		b := row / d.beamWidth
		logits := append([]float32(nil), in.Logits[row]...)

		d.applyMinLength(logits, b, in.Step)
		d.applyPenalties(logits, row, in.PriorTokens[row])
		d.applyBadWords(logits, b, in.PriorTokens[row])

		token, logProb := sampleRow(logits, d.sampling)
		out.NewTokens[row] = token
		if out.LogProbs != nil {
			out.LogProbs[row] = logProb
		}
		if token == int32(d.endID) {
			out.Finished[row] = true
			if newlyFinished != nil {
				newlyFinished[row] = true
			}
		}
		d.generatedCounts[b]++
		if d.presence != nil {
			d.presence[row].mark(token)
		}
	}

	if d.hyps != nil {
		d.hyps.update(in.Step, StepOutput{Finished: newlyFinished, LogProbs: out.LogProbs})
	}

	return out, nil
}

// applyMinLength masks the end token until min_length tokens have been
// produced, mirroring generation.py's min_length handling inside the dynamic
// decoder plugin.
func (d *Dynamic) applyMinLength(logits []float32, batch, step int) {
	if step < d.sampling.MinLength-1 && d.endID >= 0 && d.endID < len(logits) {
		logits[d.endID] = float32(math.Inf(-1))
	}
}

// applyPenalties applies repetition_penalty xor presence_penalty to tokens
// already generated for this row (spec.md §3 mutual-exclusion invariant,
// enforced earlier by config.Sampling.Validate).
func (d *Dynamic) applyPenalties(logits []float32, row int, priorTokens []int32) {
	switch {
	case d.sampling.RepetitionPenalty != 1.0:
		seen := make(map[int32]bool, len(priorTokens))
		for _, t := range priorTokens {
			if seen[t] {
				continue
			}
			seen[t] = true
			if int(t) < 0 || int(t) >= len(logits) {
				continue
			}
			if logits[t] > 0 {
				logits[t] /= d.sampling.RepetitionPenalty
			} else {
				logits[t] *= d.sampling.RepetitionPenalty
			}
		}
	case d.sampling.PresencePenalty != 0 && d.presence != nil:
		for t := range d.presence[row] {
			if int(t) >= 0 && int(t) < len(logits) {
				logits[t] -= d.sampling.PresencePenalty
			}
		}
	}
}

// applyBadWords masks any vocab id whose completion of a configured bad-word
// sequence is reached, decoding config.Sampling.BadWordsList's
// [flat_ids, cumulative_offsets] wire format (Open Question 3).
func (d *Dynamic) applyBadWords(logits []float32, batch int, priorTokens []int32) {
	list := d.sampling.BadWordsList
	if len(list) == 0 {
		return
	}
	idx := batch
	if len(list) == 1 {
		idx = 0
	}
	if idx >= len(list) {
		return
	}
	for _, banned := range decodeWordList(list[idx]) {
		if len(banned) == 0 {
			continue
		}
		if hasSuffix(priorTokens, banned[:len(banned)-1]) {
			last := banned[len(banned)-1]
			if int(last) >= 0 && int(last) < len(logits) {
				logits[last] = float32(math.Inf(-1))
			}
		}
	}
}

func hasSuffix(tokens []int32, suffix []int32) bool {
	if len(suffix) > len(tokens) {
		return false
	}
	tail := tokens[len(tokens)-len(suffix):]
	for i := range suffix {
		if tail[i] != suffix[i] {
			return false
		}
	}
	return true
}

// decodeWordList reassembles individual words from the
// [flat_ids, cumulative_offsets] encoding produced by config.EncodeWordList.
func decodeWordList(row [2][]int32) [][]int32 {
	flat, offsets := row[0], row[1]
	var words [][]int32
	prev := int32(0)
	for _, off := range offsets {
		if off == -1 {
			break
		}
		words = append(words, flat[prev:off])
		prev = off
	}
	return words
}

// sampleRow performs greedy argmax when top_k==1 and top_p==0 (the
// SamplingConfig default), otherwise stable softmax + top-k/top-p sampling
// via gonum's numerically stable floats helpers.
func sampleRow(logits []float32, sc config.Sampling) (int32, float32) {
	if sc.TopK <= 1 && sc.TopP <= 0 {
		best, bestIdx := logits[0], 0
		for i, v := range logits[1:] {
			if v > best {
				best, bestIdx = v, i+1
			}
		}
		probs := softmax(logits, sc.Temperature)
		return int32(bestIdx), float32(math.Log(probs[bestIdx] + 1e-12))
	}

	probs := softmax(logits, sc.Temperature)
	probs = topK(probs, int(sc.TopK))
	probs = topP(probs, sc.TopP)
	if envconfig.DebugMode() {
		slog.Debug("sampling distribution", "entropy_nats", stat.Entropy(probs))
	}
	idx := sampleFromDist(probs)
	return int32(idx), float32(math.Log(float64(probs[idx]) + 1e-12))
}

func softmax(logits []float32, temperature float32) []float64 {
	if temperature <= 0 {
		temperature = 1.0
	}
	f64 := make([]float64, len(logits))
	maxV := math.Inf(-1)
	for i, v := range logits {
		x := float64(v) / float64(temperature)
		f64[i] = x
		if x > maxV {
			maxV = x
		}
	}
	for i := range f64 {
		f64[i] = math.Exp(f64[i] - maxV)
	}
	sum := floats.Sum(f64)
	if sum > 0 {
		floats.Scale(1/sum, f64)
	}
	return f64
}
