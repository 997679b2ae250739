package session

import (
	"unsafe"

	"github.com/inferencecore/llmrt/decoder"
)

// StepLogitsFunc supplies this step's logits for every batch*beam row; the
// caller (runner) owns reading the engine's output tensor and widening it to
// float32 via decoder.LogitsToFloat32.
type StepLogitsFunc func(step int) ([][]float32, [][]int32, error)

// DecodeRegular loops ContextStep (already assumed to have run) +
// GenerationStep until max_new_tokens or should_stop, then finalizes once
// with a single full gather_tree (spec.md §4.3 "Streaming vs. regular
// decoding").
func (s *Session) DecodeRegular(contextLengths []int32, streamPtr unsafe.Pointer, logitsFn StepLogitsFunc) (decoder.FinalizeOutput, error) {
	for {
		logits, prior, err := logitsFn(s.step)
		if err != nil {
			return decoder.FinalizeOutput{}, &LaunchError{Step: s.step, Err: err}
		}
		stop, err := s.GenerationStep(GenerationInput{
			ContextLengths: contextLengths,
			Logits:         logits,
			PriorTokens:    prior,
			StreamPtr:      streamPtr,
		})
		if err != nil {
			return decoder.FinalizeOutput{}, err
		}
		if stop {
			break
		}
		if s.mapping.HasPP() {
			if err := s.ppCommunicateNewTokens(); err != nil {
				return decoder.FinalizeOutput{}, err
			}
		}
	}
	return s.FinalizeDecoder(false)
}

// DecodeStream mirrors DecodeRegular but calls FinalizeDecoder with
// inProgress=true after every step and yields an intermediate snapshot via
// yield, continuing until should_stop. The final call after the loop passes
// inProgress=false.
func (s *Session) DecodeStream(contextLengths []int32, streamPtr unsafe.Pointer, logitsFn StepLogitsFunc, yield func(decoder.FinalizeOutput) error) error {
	for {
		logits, prior, err := logitsFn(s.step)
		if err != nil {
			return &LaunchError{Step: s.step, Err: err}
		}
		stop, err := s.GenerationStep(GenerationInput{
			ContextLengths: contextLengths,
			Logits:         logits,
			PriorTokens:    prior,
			StreamPtr:      streamPtr,
		})
		if err != nil {
			return err
		}

		snapshot, err := s.FinalizeDecoder(!stop)
		if err != nil {
			return err
		}
		if err := yield(snapshot); err != nil {
			return err
		}
		if stop {
			return nil
		}
		if s.mapping.HasPP() {
			if err := s.ppCommunicateNewTokens(); err != nil {
				return err
			}
		}
	}
}

// FinalizeDecoder wraps decoder.FinalizeDecoder with the session's current
// buffer state (spec.md §4.5). inProgress=true is the streaming mid-generation
// snapshot case, which must deep-copy the beam bookkeeping before gathering
// (the hazard decoder.FinalizeDecoder itself guards against defensively).
func (s *Session) FinalizeDecoder(inProgress bool) (decoder.FinalizeOutput, error) {
	in := decoder.FinalizeInput{
		OutputIDs:  s.buf.OutputIDs,
		ParentIDs:  s.buf.ParentIDs,
		SeqLengths: s.buf.SequenceLengths,
		BeamWidth:  s.beamWidth,
		MaxLen:     len(s.buf.OutputIDs[0]),
		EndID:      s.buf.EndIDs[0],
	}
	out := decoder.FinalizeDecoder(in, s.sampling.UseBeamHyps, inProgress)

	if s.mapping.HasPP() {
		if err := s.ppCommunicateFinalOutputIDs(&out); err != nil {
			return decoder.FinalizeOutput{}, err
		}
	}
	return out, nil
}
