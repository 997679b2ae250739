package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultSamplingIsValid(t *testing.T) {
	sc := DefaultSampling(2, 0)
	require.NoError(t, sc.Validate(1))
}

func TestValidateRejectsMutualExclusivePenalties(t *testing.T) {
	sc := DefaultSampling(2, 0)
	sc.RepetitionPenalty = 1.2
	sc.PresencePenalty = 0.5
	require.Error(t, sc.Validate(1))
}

func TestValidateRejectsBadBeamWidth(t *testing.T) {
	sc := DefaultSampling(2, 0)
	sc.NumBeams = 0
	require.Error(t, sc.Validate(1))
}

func TestValidateStopWordsListBroadcast(t *testing.T) {
	sc := DefaultSampling(2, 0)
	sc.StopWordsList = EncodeWordList([][][]int32{{{1, 2}}})
	require.NoError(t, sc.Validate(4), "a single stop-words entry should broadcast to any batch size")

	sc.StopWordsList = EncodeWordList([][][]int32{{{1}}, {{2}}})
	require.Error(t, sc.Validate(4), "length neither 1 nor batch_size must be rejected")
}

func TestUpdateOverridesOnlyGivenFields(t *testing.T) {
	sc := DefaultSampling(2, 0)
	out := sc.Update(map[string]any{"temperature": float32(0.7), "num_beams": 4})

	require.Equal(t, float32(0.7), out.Temperature)
	require.Equal(t, 4, out.NumBeams)
	require.Equal(t, sc.TopK, out.TopK, "Update must leave unspecified fields untouched")
	require.Equal(t, float32(1.0), sc.Temperature, "Update must not mutate the receiver")
}
