// Package config holds the static engine description (Model) and the
// per-request decoding knobs (Sampling) a session is driven with, grounded on
// generation.py's ModelConfig and SamplingConfig dataclasses.
package config

// QuantMode is a bitset of the quantization schemes an engine was compiled
// with. Only the bits the runtime needs to branch on are named; the rest
// round-trip opaquely.
type QuantMode uint32

const (
	QuantNone QuantMode = 0
	QuantFP8  QuantMode = 1 << iota
	QuantINT8KVCache
	QuantINT4Weights
	QuantINT8Weights
)

func (q QuantMode) Has(bit QuantMode) bool { return q&bit != 0 }

// Model is the static shape/feature description carried by the compiled
// engine. It is immutable for the lifetime of a Runtime (spec.md §3).
type Model struct {
	VocabSize  int
	NumLayers  int
	NumHeads   int
	NumKVHeads int
	HiddenSize int
	HeadSize   int

	GPTAttentionPlugin bool
	RemoveInputPadding bool
	PagedKVCache       bool
	CrossAttention     bool

	HasPositionEmbedding  bool
	HasTokenTypeEmbedding bool

	TokensPerBlock              int
	MaxPromptEmbeddingTableSize int
	GatherAllTokenLogits        bool
	UseCustomAllReduce          bool

	LoraPlugin        bool
	LoraTargetModules []string

	QuantMode QuantMode
	DType     string // "float16", "bfloat16", "float32"
	ModelName string
}

// DefaultModel mirrors generation.py's ModelConfig field defaults that are
// not tied to a specific compiled engine (tokens_per_block=64).
func DefaultModel() Model {
	return Model{
		TokensPerBlock: 64,
		DType:          "float16",
	}
}

// NumKVHeadsOrDefault returns NumKVHeads, falling back to NumHeads for
// engines compiled without grouped-query attention.
func (m Model) NumKVHeadsOrDefault() int {
	if m.NumKVHeads > 0 {
		return m.NumKVHeads
	}
	return m.NumHeads
}
