package session

import (
	"fmt"

	"github.com/inferencecore/llmrt/config"
	"github.com/inferencecore/llmrt/decoder"
	"github.com/inferencecore/llmrt/engine"
	"github.com/inferencecore/llmrt/kvcache"
	"github.com/inferencecore/llmrt/lora"
)

// SetupParams fixes the shapes every subsequent decode() call in this
// session must match exactly (spec.md §4.3: decode() asserts batch_size,
// max_context_length, and beam_width against what Setup committed to).
type SetupParams struct {
	BatchSize     int
	MaxContextLen int
	MaxNewTokens  int
	Sampling      config.Sampling
	MaxAttnWindow int

	// LoraUID selects the adapter this session binds for its whole lifetime
	// (spec.md §4.6). Empty means lora.NoAdapter (no adapter applied).
	LoraUID string
}

// Setup allocates every §3 buffer, validates the sampling config, builds the
// KV cache manager, and creates the execution-context profiles the engine
// was compiled with. Transitions Created -> Configured.
func (s *Session) Setup(p SetupParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireState(Created); err != nil {
		return err
	}
	if err := p.Sampling.Validate(p.BatchSize); err != nil {
		return &ConfigError{Precondition: "sampling_config", Err: err}
	}

	beamWidth := p.Sampling.NumBeams
	s.batchSize = p.BatchSize
	s.beamWidth = beamWidth
	s.maxNewTok = p.MaxNewTokens
	s.sampling = p.Sampling
	s.loraUID = p.LoraUID
	if s.loraUID == "" {
		s.loraUID = lora.NoAdapter
	}

	rows := p.BatchSize * beamWidth
	maxSeqLen := p.MaxContextLen + p.MaxNewTokens

	s.buf = Buffers{
		OutputIDs:       make([][]int32, rows),
		ParentIDs:       make([][]int32, rows),
		NewTokens:       make([]int32, rows),
		SequenceLengths: make([]int32, rows),
		Finished:        make([]bool, rows),
		EndIDs:          make([]int32, p.BatchSize),
		CumLogProbs:     make([]float32, rows),
	}
	// output_ids is initialized to end-id everywhere, with the first
	// context_len[b] positions overwritten by ContextStep from the padded
	// input (spec.md §8 invariant 3).
	endID := int32(p.Sampling.EndID)
	for i := range s.buf.OutputIDs {
		s.buf.OutputIDs[i] = make([]int32, maxSeqLen)
		for j := range s.buf.OutputIDs[i] {
			s.buf.OutputIDs[i][j] = endID
		}
		s.buf.ParentIDs[i] = make([]int32, maxSeqLen)
	}
	for b := range s.buf.EndIDs {
		s.buf.EndIDs[b] = endID
	}

	if s.model.UseCustomAllReduce && s.ws != nil {
		s.ws.Resize(s.model.HiddenSize * rows)
	}
	if beamWidth > 1 {
		window := p.MaxAttnWindow
		if window <= 0 {
			window = maxSeqLen
		}
		for side := 0; side < 2; side++ {
			s.buf.CacheIndirection[side] = make([][]int32, p.BatchSize)
			for b := range s.buf.CacheIndirection[side] {
				s.buf.CacheIndirection[side][b] = make([]int32, beamWidth*window)
			}
		}
	}
	if p.Sampling.OutputLogProbs {
		s.buf.LogProbs = make([][]float32, rows)
	}
	if s.model.GatherAllTokenLogits {
		s.buf.ContextLogits = make([][]float32, p.BatchSize)
		s.buf.GenerationLogits = make([][]float32, rows)
	}

	dyn, err := decoder.NewDynamic(p.BatchSize, p.Sampling)
	if err != nil {
		return &DecoderError{Err: err}
	}
	s.buf.BeamHyps = dyn

	cache, err := kvcache.New(s.model, s.rt, p.BatchSize, p.BatchSize*beamWidth)
	if err != nil {
		return &ResourceError{Resource: "kv_cache", Err: err}
	}
	s.cache = cache
	for b := 0; b < p.BatchSize; b++ {
		if err := s.cache.AddSequence(b); err != nil {
			return &ResourceError{Resource: "kv_cache", Err: err}
		}
	}

	if err := s.setupContexts(); err != nil {
		return err
	}

	s.step = 0
	s.transition(Configured)
	return nil
}

// setupContexts creates the execution-context profiles per spec.md §4.1:
//   - one optimization profile: context_0 and context_1 both on profile 0,
//     ctx_context aliases context_1 (Open Question 1: ctx_context is
//     canonical at step 0, alternation begins at step 1 regardless of this
//     alias);
//   - two optimization profiles: ctx_context on profile 0 (context phase),
//     context_0/context_1 both on profile 1 (generation ping-pong);
//   - more than two profiles is rejected.
func (s *Session) setupContexts() error {
	n := s.rt.NumOptimizationProfiles()
	switch n {
	case 1:
		gen0, err := s.rt.NewContext(engine.Context0, 0)
		if err != nil {
			return &ResourceError{Resource: "execution_context", Err: err}
		}
		gen1, err := s.rt.NewContext(engine.Context1, 0)
		if err != nil {
			return &ResourceError{Resource: "execution_context", Err: err}
		}
		s.gen0, s.gen1 = gen0, gen1
		s.ctxProfile = gen1
	case 2:
		ctxProfile, err := s.rt.NewContext(engine.CtxContext, 0)
		if err != nil {
			return &ResourceError{Resource: "execution_context", Err: err}
		}
		gen0, err := s.rt.NewContext(engine.Context0, 1)
		if err != nil {
			return &ResourceError{Resource: "execution_context", Err: err}
		}
		gen1, err := s.rt.NewContext(engine.Context1, 1)
		if err != nil {
			return &ResourceError{Resource: "execution_context", Err: err}
		}
		s.ctxProfile, s.gen0, s.gen1 = ctxProfile, gen0, gen1
	default:
		return &ConfigError{Precondition: "num_optimization_profiles", Err: fmt.Errorf("engine has %d profiles, at most 2 supported", n)}
	}
	return nil
}

// Close releases every execution context and the KV cache manager.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctxProfile != nil {
		s.ctxProfile.Close()
	}
	if s.gen0 != nil && s.gen0 != s.ctxProfile {
		s.gen0.Close()
	}
	if s.gen1 != nil && s.gen1 != s.ctxProfile && s.gen1 != s.gen0 {
		s.gen1.Close()
	}
	if s.cache != nil {
		s.cache.Close()
	}
}

func checkShapesMatch(name string, got, want int) error {
	if got != want {
		return &InvariantError{Invariant: fmt.Sprintf("%s mismatch: setup()=%d, decode()=%d", name, want, got)}
	}
	return nil
}
