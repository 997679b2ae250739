package decoder

// FinalizeInput bundles the ping-pong bookkeeping tensors gather_tree needs
// to reconstruct contiguous token sequences from the beam-search parent
// pointer trace, mirroring generation.py's finalize_decoder argument list.
type FinalizeInput struct {
	OutputIDs  [][]int32 // [batch*beam][maxLen], step-major token writes
	ParentIDs  [][]int32 // [batch*beam][maxLen], beam-reselection trace
	SeqLengths []int32   // [batch*beam]
	BeamWidth  int
	MaxLen     int
	EndID      int32

	// Whether finalize is being called mid-generation for a streaming
	// response (decode_stream) or once at the end (decode_regular) is not a
	// field here: it is FinalizeDecoder's inProgress argument. See the
	// deep-copy hazard note below.
}

// FinalizeOutput is the contiguous, gather-resolved output.
type FinalizeOutput struct {
	OutputIDs   [][]int32 // [batch*beam][seqLen]
	CumLogProbs []float32
}

// FinalizeDecoder runs gather_tree over the beam parent-pointer trace,
// producing contiguous output sequences from the step-major, ping-ponged
// output/parent id buffers (spec.md §4.5).
//
// Hazard (Design Note, generation.py finalize_decoder): when useBeamHyps is
// true and inProgress is true — i.e. this is a mid-stream snapshot, not the
// final call — the buffers backing outputIDs/parentIDs are still being
// written by the next decode step concurrently with finalize reading them.
// generation.py resolves this with copy.deepcopy of the beam_hyps arguments
// before calling gather_tree; callers of this function MUST pass a
// snapshot copy of FinalizeInput's slices when inProgress is true, not a
// live alias into the session's buffers. FinalizeDecoder deep-copies
// defensively here rather than trusting every caller.
func FinalizeDecoder(in FinalizeInput, useBeamHyps, inProgress bool) FinalizeOutput {
	if useBeamHyps && inProgress {
		in = snapshotFinalizeInput(in)
	}

	rows := len(in.OutputIDs)
	out := FinalizeOutput{OutputIDs: make([][]int32, rows)}

	if in.BeamWidth <= 1 {
		// No beam reselection happened; output_ids is already contiguous
		// per row up to seq_length.
		for r := 0; r < rows; r++ {
			n := int(in.SeqLengths[r])
			if n > len(in.OutputIDs[r]) {
				n = len(in.OutputIDs[r])
			}
			out.OutputIDs[r] = append([]int32(nil), in.OutputIDs[r][:n]...)
		}
		return out
	}

	batches := rows / in.BeamWidth
	for b := 0; b < batches; b++ {
		for beam := 0; beam < in.BeamWidth; beam++ {
			row := b*in.BeamWidth + beam
			out.OutputIDs[row] = gatherTreeOne(in, b, beam)
		}
	}
	return out
}

// gatherTreeOne walks the parent-pointer trace backward from the final beam
// slot, following parentIDs at each step to recover which earlier beam each
// emitted token actually belonged to, then reverses the result into
// chronological order.
func gatherTreeOne(in FinalizeInput, batch, finalBeam int) []int32 {
	row := batch*in.BeamWidth + finalBeam
	length := int(in.SeqLengths[row])
	if length > in.MaxLen {
		length = in.MaxLen
	}

	tokens := make([]int32, length)
	beam := finalBeam
	for step := length - 1; step >= 0; step-- {
		r := batch*in.BeamWidth + beam
		tokens[step] = in.OutputIDs[r][step]
		if step > 0 {
			beam = int(in.ParentIDs[r][step])
		}
	}

	// Pad trailing end-id tokens if this beam finished before maxLen, so
	// every row is comparable length for downstream batching.
	for len(tokens) < in.MaxLen && in.EndID >= 0 {
		tokens = append(tokens, in.EndID)
	}
	return tokens
}

func snapshotFinalizeInput(in FinalizeInput) FinalizeInput {
	out := in
	out.OutputIDs = deepCopyRows(in.OutputIDs)
	out.ParentIDs = deepCopyRows(in.ParentIDs)
	out.SeqLengths = append([]int32(nil), in.SeqLengths...)
	return out
}

func deepCopyRows(rows [][]int32) [][]int32 {
	out := make([][]int32, len(rows))
	for i, r := range rows {
		out[i] = append([]int32(nil), r...)
	}
	return out
}
