package session

import (
	"unsafe"

	"github.com/inferencecore/llmrt/decoder"
	"github.com/inferencecore/llmrt/engine"
	"github.com/inferencecore/llmrt/kvcache"
)

// GenerationInput is the per-step input the generation phase needs beyond
// what Session already tracks in its buffers.
type GenerationInput struct {
	ContextLengths []int32 // [batch], fixed for the whole session
	Logits         [][]float32
	PriorTokens    [][]int32
	StreamPtr      unsafe.Pointer
}

// GenerationStep runs one generation-phase iteration (spec.md §4.3,
// "Generation step (step ≥ 1)"): ping-pong profile/cache-indirection
// selection, input prep, engine launch, and the dynamic-decoder call.
// Returns shouldStop so the caller's DecodeRegular/DecodeStream loop knows
// when to call FinalizeDecoder.
func (s *Session) GenerationStep(in GenerationInput) (shouldStop bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireState(Generation); err != nil {
		return false, err
	}

	ctx, srcSide, tgtSide := s.pickGenerationProfile()

	positions := make([]int32, len(in.ContextLengths)*s.beamWidth)
	for i, l := range in.ContextLengths {
		for k := 0; k < s.beamWidth; k++ {
			positions[i*s.beamWidth+k] = l + int32(s.step) - 1
		}
	}

	stepCtx := newStepContext(s.step, s.batchSize, s.beamWidth)
	stepCtx.Positions = positions
	if err := s.variant.PrepareGenerationInputs(stepCtx); err != nil {
		return false, &ConfigError{Precondition: "variant.PrepareGenerationInputs", Err: err}
	}

	var ptrs kvcache.PointerArrays
	if s.model.PagedKVCache {
		seqIDs := make([]int, s.batchSize)
		seqPositions := make([]int32, s.batchSize)
		for i := range seqIDs {
			seqIDs[i] = i
			seqPositions[i] = positions[i*s.beamWidth]
		}
		p, err := s.cache.StartForward(seqIDs, seqPositions)
		if err != nil {
			return false, &ResourceError{Resource: "kv_cache", Err: err}
		}
		ptrs = p
	}

	b := &tensorBuilder{}
	b.addInt32("context_lengths", in.ContextLengths, nil)
	if s.beamWidth > 1 {
		b.addInt32("cache_indirection", flattenCacheIndirection(s.buf.CacheIndirection[srcSide]), nil)
	}
	s.bindCommon(b, stepCtx, ptrs)
	if b.err != nil {
		return false, &ConfigError{Precondition: "bind_tensors", Err: b.err}
	}
	if err := ctx.SetTensors(b.tensors); err != nil {
		return false, &ConfigError{Precondition: "engine_io", Err: err}
	}

	if err := ctx.Run(in.StreamPtr, s.cudaGraphMode); err != nil {
		return false, &LaunchError{Step: s.step, Err: err}
	}

	enteredFinished := append([]bool(nil), s.buf.Finished...)
	out, err := s.buf.BeamHyps.Forward(decoder.StepInput{
		Logits:      in.Logits,
		Step:        s.step - 1,
		PriorTokens: in.PriorTokens,
		Finished:    enteredFinished,
	})
	if err != nil {
		return false, &DecoderError{Err: err}
	}

	s.applyStepOutput(out, enteredFinished)
	s.buf.CacheIndirection[0], s.buf.CacheIndirection[1] = s.buf.CacheIndirection[srcSide], s.buf.CacheIndirection[tgtSide]

	allFinished := true
	for _, f := range out.Finished {
		if !f {
			allFinished = false
			break
		}
	}
	shouldStop = allFinished || s.step == s.maxNewTok
	if shouldStop {
		s.transition(Stopped)
		if s.step == s.maxNewTok && !allFinished {
			s.transition(Exhausted)
		}
	}
	s.step++
	return shouldStop, nil
}

// pickGenerationProfile selects the ping-pong execution context and the
// src/tgt cache-indirection sides for the current step: step odd ->
// context_0, else context_1, per spec.md §4.3.
func (s *Session) pickGenerationProfile() (ctx *engine.Context, srcSide, tgtSide int) {
	if s.step%2 == 1 {
		return s.gen0, s.step % 2, (s.step + 1) % 2
	}
	return s.gen1, s.step % 2, (s.step + 1) % 2
}

// applyStepOutput folds one decode step's sampling decisions into the
// session buffers. enteredFinished is the Finished snapshot taken before
// this step's decoder.Forward call; rows already finished at entry are left
// untouched (spec.md §8 invariant 2: output_ids[b,k,>=sequence_length] stays
// unchanged once finished).
func (s *Session) applyStepOutput(out decoder.StepOutput, enteredFinished []bool) {
	for row, tok := range out.NewTokens {
		if enteredFinished[row] {
			continue
		}
		s.buf.NewTokens[row] = tok
		pos := int(s.buf.SequenceLengths[row])
		if pos < len(s.buf.OutputIDs[row]) {
			s.buf.OutputIDs[row][pos] = tok
		}
		s.buf.SequenceLengths[row]++
		s.buf.Finished[row] = s.buf.Finished[row] || out.Finished[row]
	}
	if out.LogProbs != nil {
		for row, lp := range out.LogProbs {
			if enteredFinished[row] {
				continue
			}
			s.buf.CumLogProbs[row] += lp
		}
	}
}
