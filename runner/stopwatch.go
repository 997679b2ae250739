package runner

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/dlclark/regexp2"
)

// The four helpers below replace the teacher's runner/common package
// (imported by runner/llamarunner/batch.go as FindStop/TruncateStop/
// ContainsStopSuffix/IncompleteUnicode). That package was not present in the
// retrieval pack; these are written fresh against the call-site contract
// batch.go relied on: find whether/where a configured stop string appears in
// the text generated so far, trim it out of the response, and detect
// partially-decoded UTF-8 so streaming never emits a broken rune.

// FindStop reports whether any of stopStrings occurs in generated, and if
// so the matched string and the byte index where it starts.
func FindStop(generated string, stopStrings []string) (found bool, stopStr string, idx int) {
	for _, s := range stopStrings {
		if s == "" {
			continue
		}
		if i := strings.Index(generated, s); i >= 0 {
			return true, s, i
		}
	}
	return false, "", -1
}

// TruncateStop removes the matched stop string and everything after it from
// generated, returning the truncated text.
func TruncateStop(generated, stopStr string) string {
	if i := strings.Index(generated, stopStr); i >= 0 {
		return generated[:i]
	}
	return generated
}

// ContainsStopSuffix reports whether generated ends with a prefix of any
// configured stop string, meaning a flush should be withheld until more
// tokens arrive to disambiguate (the stop string might still complete).
func ContainsStopSuffix(generated string, stopStrings []string) bool {
	for _, s := range stopStrings {
		for i := 1; i <= len(s) && i <= len(generated); i++ {
			if strings.HasSuffix(generated, s[:i]) {
				return true
			}
		}
	}
	return false
}

// IncompleteUnicode reports whether the tail of generated is a truncated
// multi-byte UTF-8 sequence, in which case the caller should hold the
// trailing bytes back rather than emit a replacement-character glyph.
func IncompleteUnicode(generated string) bool {
	if generated == "" {
		return false
	}
	if r, _ := utf8.DecodeLastRuneInString(generated); r != utf8.RuneError {
		return false
	}
	// Walk back from the end to find the start of the last rune; it's
	// incomplete if there aren't enough continuation bytes for its declared
	// length.
	b := []byte(generated)
	n := len(b)
	for start := n - 1; start >= 0 && start >= n-4; start-- {
		c := b[start]
		if c&0x80 == 0 {
			return false // ASCII byte, nothing truncated
		}
		if c&0xC0 == 0xC0 {
			want := utf8RuneLen(c)
			have := n - start
			return have < want
		}
	}
	return false
}

func utf8RuneLen(lead byte) int {
	switch {
	case lead&0xE0 == 0xC0:
		return 2
	case lead&0xF0 == 0xE0:
		return 3
	case lead&0xF8 == 0xF0:
		return 4
	default:
		return 1
	}
}

// logNearMissStop emits a debug line when generated almost-but-not-quite
// matched a configured stop string, to help diagnose prompt templates whose
// stop sequence has drifted by a character or two.
func logNearMissStop(generated string, stopStrings []string) {
	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	tail := generated
	if len(tail) > 64 {
		tail = tail[len(tail)-64:]
	}
	for _, s := range stopStrings {
		if d := levenshtein.ComputeDistance(tail, s); d > 0 && d <= 2 {
			slog.Debug("near-miss stop sequence", "stop", s, "tail", tail, "distance", d)
		}
	}
}

// bestEffortRegexMatch applies a regexp2 pattern (supports backreferences,
// unlike stdlib regexp) for stop-word matching that needs more than literal
// substring search, e.g. a caller-supplied stop pattern.
func bestEffortRegexMatch(pattern, text string) (bool, error) {
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return false, err
	}
	return re.MatchString(text)
}
