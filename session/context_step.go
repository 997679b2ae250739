package session

import "unsafe"

// ContextInput is the per-request input the context phase binds, mirroring
// the tensors _prepare_context_inputs assembles.
type ContextInput struct {
	InputIDs           [][]int32 // [batch][contextLen], ragged per sequence
	ContextLengths     []int32   // [batch]
	RemoveInputPadding bool
	MaxContextLength   int
	StreamPtr          unsafe.Pointer
}

// ContextStep runs the 8-step context-phase algorithm (spec.md §4.3,
// "Context step (step = 0)") and transitions Configured -> Context ->
// Generation. It is only ever called once per session.
func (s *Session) ContextStep(in ContextInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireState(Configured); err != nil {
		return err
	}
	s.transition(Context)

	// Step 1: last_token_ids and position_ids.
	lastTokenIDs := make([]int32, len(in.ContextLengths))
	positions := make([]int32, 0, len(in.ContextLengths)*in.MaxContextLength)
	if in.RemoveInputPadding {
		cum := int32(0)
		for i, l := range in.ContextLengths {
			cum += l
			lastTokenIDs[i] = cum - 1
			for p := int32(0); p < l; p++ {
				positions = append(positions, p)
			}
		}
	} else {
		for i := range in.ContextLengths {
			lastTokenIDs[i] = in.ContextLengths[i] - 1
		}
		for range in.ContextLengths {
			for p := 0; p < in.MaxContextLength; p++ {
				positions = append(positions, int32(p))
			}
		}
	}

	stepCtx := newStepContext(0, s.batchSize, s.beamWidth)
	stepCtx.InputLengths = in.ContextLengths
	stepCtx.Positions = positions
	if err := s.variant.PrepareContextInputs(stepCtx); err != nil {
		return &ConfigError{Precondition: "variant.PrepareContextInputs", Err: err}
	}

	// Step 2: attention mask, only meaningful without the fused attention
	// plugin; represented here as an extra tensor the caller binds if the
	// engine declares one.
	if !s.model.GPTAttentionPlugin {
		mask := buildAttentionMask(in.InputIDs, int32(s.sampling.PadID))
		stepCtx.Extra["attention_mask"] = mask
	}

	// Seed beam 0's output row with the padded input tokens at
	// [0, context_len), per spec.md §8 invariant 3; step 7's
	// tileForBeamWidth propagates this into beams 1..K-1.
	for b, row := range in.InputIDs {
		dst := s.buf.OutputIDs[b*s.beamWidth]
		n := len(row)
		if l := int(in.ContextLengths[b]); l < n {
			n = l
		}
		copy(dst[:n], row[:n])
	}

	// Step 3: KV cache pointer arrays at beam width 1.
	seqIDs := make([]int, s.batchSize)
	for i := range seqIDs {
		seqIDs[i] = i
	}
	ptrs, err := s.cache.StartForward(seqIDs, lastTokenIDs)
	if err != nil {
		return &ResourceError{Resource: "kv_cache", Err: err}
	}

	// Step 4: bind every engine input the context phase needs.
	b := &tensorBuilder{}
	b.addInt32("last_token_ids", lastTokenIDs, nil)
	b.addInt32("context_lengths", in.ContextLengths, nil)
	b.addInt32("input_ids", flattenInputIDs(in.InputIDs), nil)
	s.bindCommon(b, stepCtx, ptrs)
	if b.err != nil {
		return &ConfigError{Precondition: "bind_tensors", Err: b.err}
	}
	if err := s.ctxProfile.SetTensors(b.tensors); err != nil {
		return &ConfigError{Precondition: "engine_io", Err: err}
	}

	// Step 5: launch on ctx_context.
	if err := s.ctxProfile.Run(in.StreamPtr, false); err != nil {
		return &LaunchError{Step: 0, Err: err}
	}

	// Step 6: gather_all_token_logits handling is logits-buffer bookkeeping
	// owned by the caller supplying logits into StepInput; nothing to do on
	// the buffer side here beyond recording that a snapshot is expected.

	// Step 7: copy beam 0's output/parent id rows into beams 1..K-1. The KV
	// cache is not tiled; it tracks one sequence per batch item.
	if s.beamWidth > 1 {
		s.tileForBeamWidth()
	}

	// Step 8: sequence_length_buffer = context_lengths, tiled to B*K.
	for b, l := range in.ContextLengths {
		for k := 0; k < s.beamWidth; k++ {
			s.buf.SequenceLengths[b*s.beamWidth+k] = l
		}
	}

	s.step = 1
	s.transition(Generation)
	return nil
}

// tileForBeamWidth duplicates batch-major buffers across the K beam slots a
// batch item owns, mirroring generation.py's post-context-step tiling.
func (s *Session) tileForBeamWidth() {
	for b := 0; b < s.batchSize; b++ {
		base := b * s.beamWidth
		for k := 1; k < s.beamWidth; k++ {
			copy(s.buf.OutputIDs[base+k], s.buf.OutputIDs[base])
			copy(s.buf.ParentIDs[base+k], s.buf.ParentIDs[base])
		}
	}
}

// flattenInputIDs concatenates every batch item's input row into the flat
// layout the input_ids binding expects, in the same row order buildAttentionMask
// and the position-id computation above already assume.
func flattenInputIDs(inputIDs [][]int32) []int32 {
	var flat []int32
	for _, row := range inputIDs {
		flat = append(flat, row...)
	}
	return flat
}

func buildAttentionMask(inputIDs [][]int32, padID int32) []int32 {
	var mask []int32
	for _, row := range inputIDs {
		for _, id := range row {
			if id != padID {
				mask = append(mask, 1)
			} else {
				mask = append(mask, 0)
			}
		}
	}
	return mask
}
