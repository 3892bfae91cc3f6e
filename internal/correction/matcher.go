// Package correction learns from the user's confirmations and rewrites
// future utterances before interpretation.
//
// When a user confirms text that differs from what the recognizer heard, the
// pair (misheard → confirmed) is recorded. On later utterances a fuzzy
// pre-pass looks for a stored misheard form that shares enough words with the
// new utterance and substitutes the confirmed text, so a user who always says
// "nee hel" stops having to disambiguate it every time.
//
// Matching is best-effort: short phrases can false-positive, and the user
// sees the substituted text as a candidate they can still reject.
package correction

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/emberassist/ember/pkg/types"
)

const (
	defaultOverlapThreshold = 0.80
	defaultJWGuard          = 0.85
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithOverlapThreshold sets the fraction of a stored misheard form's words
// that must appear in the utterance for the correction to apply. Default: 0.80.
func WithOverlapThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.overlapThreshold = threshold
	}
}

// WithJaroWinklerGuard sets the minimum Jaro-Winkler similarity required for
// two phonetically-equal words to count as equivalent. Default: 0.85.
func WithJaroWinklerGuard(threshold float64) Option {
	return func(m *Matcher) {
		m.jwGuard = threshold
	}
}

// Matcher finds the stored correction that best covers an utterance.
// All methods are safe for concurrent use — the Matcher is read-only after
// construction.
type Matcher struct {
	overlapThreshold float64
	jwGuard          float64
}

// NewMatcher returns a [Matcher] configured with the supplied options.
func NewMatcher(opts ...Option) *Matcher {
	m := &Matcher{
		overlapThreshold: defaultOverlapThreshold,
		jwGuard:          defaultJWGuard,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match returns the correction whose misheard form best covers utterance.
//
// A correction applies when at least the overlap threshold of its misheard
// words have an equivalent in the utterance. Word equivalence is exact or
// phonetic: Double Metaphone code overlap guarded by Jaro-Winkler similarity.
// The comparison is bag-of-words — word order and extra utterance words do
// not matter.
//
// corrections must be ordered newest first (as [store.CorrectionStore]
// returns them); on equal overlap the earlier entry wins, so the most
// recently learned correction takes precedence.
func (m *Matcher) Match(utterance string, corrections []types.Correction) (types.Correction, bool) {
	utteranceWords := tokenize(utterance)
	if len(utteranceWords) == 0 {
		return types.Correction{}, false
	}

	var (
		best      types.Correction
		bestRatio float64
		found     bool
	)
	for _, c := range corrections {
		misheardWords := tokenize(c.Misheard)
		ratio := m.overlap(misheardWords, utteranceWords)
		if ratio < m.overlapThreshold {
			continue
		}
		if !found || ratio > bestRatio {
			best = c
			bestRatio = ratio
			found = true
		}
	}
	return best, found
}

// overlap returns the fraction of misheard words that have an equivalent in
// utterance. Each utterance word is consumed by at most one misheard word.
func (m *Matcher) overlap(misheard, utterance []string) float64 {
	if len(misheard) == 0 {
		return 0
	}
	used := make([]bool, len(utterance))
	matched := 0
	for _, mw := range misheard {
		for i, uw := range utterance {
			if used[i] {
				continue
			}
			if m.equivalent(mw, uw) {
				used[i] = true
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(misheard))
}

// equivalent reports whether two normalised words count as the same word.
// Exact equality always passes. Otherwise both Double Metaphone codes must
// overlap and the Jaro-Winkler similarity must clear the guard, so "hel" and
// "hell" are equivalent but "kat" and "cat" (phonetically equal, too far
// apart as strings) are not.
func (m *Matcher) equivalent(a, b string) bool {
	if a == b {
		return true
	}
	ap, as := matchr.DoubleMetaphone(a)
	bp, bs := matchr.DoubleMetaphone(b)
	codeOverlap := (ap != "" && (ap == bp || ap == bs)) ||
		(as != "" && (as == bp || as == bs))
	if !codeOverlap {
		return false
	}
	return matchr.JaroWinkler(a, b, false) >= m.jwGuard
}

// tokenize lowercases s, splits it on whitespace, and strips leading and
// trailing punctuation from every word. Words that are all punctuation are
// dropped.
func tokenize(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if f != "" {
			words = append(words, f)
		}
	}
	return words
}
