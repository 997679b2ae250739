package config

import "fmt"

// Sampling is the per-request decoding configuration, grounded on
// generation.py's SamplingConfig dataclass. Values starting with a non-zero
// default match the original's dataclass defaults exactly.
type Sampling struct {
	EndID int
	PadID int

	MaxNewTokens int
	NumBeams     int

	MaxAttentionWindowSize []int // per-layer; nil means "full context" everywhere

	OutputSequenceLengths bool
	ReturnDict            bool

	StopWordsList [][2][]int32 // pre-encoded via EncodeWordList: [flat_ids, cumulative_offsets] per batch item
	BadWordsList  [][2][]int32

	Temperature float32
	TopK        int32
	TopP        float32

	TopPDecay   float32
	TopPMin     float32
	TopPResetID int32

	LengthPenalty     float32
	RepetitionPenalty float32
	MinLength         int
	PresencePenalty   float32

	UseBeamHyps             bool
	BeamSearchDiversityRate float32

	RandomSeed uint64

	OutputCumLogProbs bool
	OutputLogProbs    bool
}

// DefaultSampling mirrors generation.py's SamplingConfig field defaults.
func DefaultSampling(endID, padID int) Sampling {
	return Sampling{
		EndID:             endID,
		PadID:             padID,
		MaxNewTokens:      20,
		NumBeams:          1,
		Temperature:       1.0,
		TopK:              1,
		TopP:              0.0,
		LengthPenalty:     1.0,
		RepetitionPenalty: 1.0,
		MinLength:         1,
		UseBeamHyps:       true,
	}
}

// Validate enforces the mutual-exclusion and broadcast rules spec.md §3
// places on the sampling buffers: repetition and presence penalty are
// mutually exclusive, beam width must be positive, min_length must not be
// negative, max_new_tokens must be positive, and the stop/bad word lists must
// hold either exactly 1 entry (broadcast to the whole batch) or batchSize
// entries.
func (s Sampling) Validate(batchSize int) error {
	if s.NumBeams < 1 {
		return fmt.Errorf("config: num_beams must be >= 1, got %d", s.NumBeams)
	}
	if s.RepetitionPenalty != 1.0 && s.PresencePenalty != 0.0 {
		return fmt.Errorf("config: repetition_penalty and presence_penalty are mutually exclusive")
	}
	if s.MinLength < 0 {
		return fmt.Errorf("config: min_length must be >= 0, got %d", s.MinLength)
	}
	if s.MaxNewTokens <= 0 {
		return fmt.Errorf("config: max_new_tokens must be > 0, got %d", s.MaxNewTokens)
	}
	if n := len(s.StopWordsList); n != 0 && n != 1 && n != batchSize {
		return fmt.Errorf("config: stop_words_list length %d must be 1 or batch_size %d", n, batchSize)
	}
	if n := len(s.BadWordsList); n != 0 && n != 1 && n != batchSize {
		return fmt.Errorf("config: bad_words_list length %d must be 1 or batch_size %d", n, batchSize)
	}
	return nil
}

// Update applies every recognized key in overrides onto a copy of s (a zero
// value given for a key replaces the field too; unknown keys are ignored),
// mirroring generation.py's SamplingConfig.update(**kwargs) merge semantics.
func (s Sampling) Update(overrides map[string]any) Sampling {
	out := s
	for k, v := range overrides {
		switch k {
		case "max_new_tokens":
			out.MaxNewTokens = v.(int)
		case "num_beams":
			out.NumBeams = v.(int)
		case "temperature":
			out.Temperature = v.(float32)
		case "top_k":
			out.TopK = v.(int32)
		case "top_p":
			out.TopP = v.(float32)
		case "length_penalty":
			out.LengthPenalty = v.(float32)
		case "repetition_penalty":
			out.RepetitionPenalty = v.(float32)
		case "presence_penalty":
			out.PresencePenalty = v.(float32)
		case "min_length":
			out.MinLength = v.(int)
		case "random_seed":
			out.RandomSeed = v.(uint64)
		}
	}
	return out
}
