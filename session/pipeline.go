package session

import "github.com/inferencecore/llmrt/decoder"

// PPTransport is the point-to-point channel between adjacent pipeline
// ranks a Session needs for the glue described in spec.md §4.3 "Pipeline
// parallelism glue". Only the last pipeline rank runs the decoder; it sends
// should_stop, the target cache-indirection buffer, and the sequence-length
// buffer to every other rank in its group, and the newly sampled tokens to
// the first rank. Non-last ranks receive into pre-allocated buffers.
//
// New interface; no teacher file models multi-GPU transport, so this is
// defined fresh as the seam a real NCCL/MPI send-recv implementation would
// satisfy, kept deliberately narrow (mirrors the four fields generation.py's
// pp_communicate_new_tokens/pp_communicate_final_output_ids pass around).
type PPTransport interface {
	SendToAll(group []int, newTokens []int32, seqLengths []int32, cacheIndirection []int32, shouldStop bool) error
	Recv(from int) (newTokens []int32, seqLengths []int32, cacheIndirection []int32, shouldStop bool, err error)

	SendFinalOutputIDs(to int, ids [][]int32) error
	RecvFinalOutputIDs(from int) ([][]int32, error)
}

// WithTransport attaches a PPTransport to an already-constructed Session.
// Sessions with mapping.Topology.HasPP() == false never touch it.
func (s *Session) WithTransport(t PPTransport) *Session {
	s.pp = t
	return s
}

func (s *Session) ppCommunicateNewTokens() error {
	if s.pp == nil {
		return &ConfigError{Precondition: "pp_transport", Err: errNoPPTransport}
	}
	group := s.pipelineGroup()
	if s.mapping.IsLastPPRank() {
		return s.pp.SendToAll(group, s.buf.NewTokens, s.buf.SequenceLengths, flattenCacheIndirection(s.buf.CacheIndirection[1]), s.state == Stopped)
	}
	tokens, seqLens, _, _, err := s.pp.Recv(s.mapping.PrevPPRank())
	if err != nil {
		return err
	}
	if s.mapping.IsFirstPPRank() {
		copy(s.buf.NewTokens, tokens)
	}
	copy(s.buf.SequenceLengths, seqLens)
	return nil
}

func (s *Session) ppCommunicateFinalOutputIDs(out *decoder.FinalizeOutput) error {
	if s.pp == nil {
		return &ConfigError{Precondition: "pp_transport", Err: errNoPPTransport}
	}
	if s.mapping.IsLastPPRank() {
		return s.pp.SendFinalOutputIDs(s.pipelineGroup()[0], out.OutputIDs)
	}
	if s.mapping.IsFirstPPRank() {
		lastRank := (s.mapping.PPSize-1)*s.mapping.TPSize + s.mapping.TPRank()
		ids, err := s.pp.RecvFinalOutputIDs(lastRank)
		if err != nil {
			return err
		}
		out.OutputIDs = ids
	}
	return nil
}

func (s *Session) pipelineGroup() []int {
	group := make([]int, 0, s.mapping.PPSize)
	for pp := 0; pp < s.mapping.PPSize; pp++ {
		group = append(group, pp*s.mapping.TPSize+s.mapping.TPRank())
	}
	return group
}

func flattenCacheIndirection(rows [][]int32) []int32 {
	var out []int32
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}

var errNoPPTransport = configErrNoPPTransport{}

type configErrNoPPTransport struct{}

func (configErrNoPPTransport) Error() string {
	return "pipeline-parallel mapping requires a PPTransport (see Session.WithTransport)"
}
