package document

import (
	"math"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"gazeread/internal/fixation"
)

// DefaultCharsPerSecond converts token length to a threshold: a ten
// character word needs a full second of dwell.
const DefaultCharsPerSecond = 10.0

// Rule derives a unit's threshold from its token.
type Rule func(token string) float64

// LengthRule returns the default rule: NFC rune count divided by
// charsPerSecond, clamped to [0, 1]. Empty tokens are disabled so the gap
// left by a double space never triggers.
func LengthRule(charsPerSecond float64) Rule {
	if !(charsPerSecond > 0) {
		charsPerSecond = DefaultCharsPerSecond
	}
	return func(token string) float64 {
		n := utf8.RuneCountInString(norm.NFC.String(token))
		if n == 0 {
			return fixation.Disabled
		}
		return clamp01(float64(n) / charsPerSecond)
	}
}

// Thresholds computes the threshold table for every word of doc.
// A nil rule uses LengthRule(DefaultCharsPerSecond).
func Thresholds(doc *Document, rule Rule) fixation.ThresholdMap {
	if rule == nil {
		rule = LengthRule(DefaultCharsPerSecond)
	}
	table := make(fixation.ThresholdMap, doc.WordTotal())
	for s, ws := range doc.words {
		for w, token := range ws {
			table[fixation.Unit(s, w)] = rule(token)
		}
	}
	return table
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
