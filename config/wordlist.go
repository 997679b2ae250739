package config

// EncodeWordList converts a per-batch-item list of word token-id sequences
// into the engine's wire format: a [batchSize, 2, padLen] int32 array whose
// first row is the flattened, concatenated token ids (right-padded with 0)
// and whose second row is the cumulative offset after each word
// (right-padded with -1).
//
// This mirrors generation.py's to_word_list_format byte-for-byte (Open
// Question #3): padLen is max(1, the longest per-item flat-id count across
// the whole batch) — a total-token-id count, not a word count — and the
// offsets are cumulative SUMS of word lengths, not word lengths themselves.
// Both rows share the same padLen so the result is a rectangular [B,2,P]
// array, not a ragged one.
func EncodeWordList(words [][][]int32) [][2][]int32 {
	flatByItem := make([][]int32, len(words))
	offsetsByItem := make([][]int32, len(words))
	padLen := 1
	for i, item := range words {
		var flatIDs, offsets []int32
		cum := int32(0)
		for _, w := range item {
			if len(w) == 0 {
				continue
			}
			flatIDs = append(flatIDs, w...)
			cum += int32(len(w))
			offsets = append(offsets, cum)
		}
		flatByItem[i] = flatIDs
		offsetsByItem[i] = offsets
		if len(flatIDs) > padLen {
			padLen = len(flatIDs)
		}
	}

	out := make([][2][]int32, len(words))
	for i := range words {
		paddedFlat := make([]int32, padLen) // zero-value elements are the 0 pad
		copy(paddedFlat, flatByItem[i])

		paddedOffsets := make([]int32, padLen)
		n := copy(paddedOffsets, offsetsByItem[i])
		for j := n; j < padLen; j++ {
			paddedOffsets[j] = -1
		}
		out[i] = [2][]int32{paddedFlat, paddedOffsets}
	}
	return out
}
