// Package alerts detects emergencies in confirmed utterances and notifies
// caregivers over SMS, voice call, and push.
//
// Detection is deliberately permissive: a missed emergency is far worse than
// a caregiver receiving a false alarm. Delivery is best-effort fan-out; any
// single channel reaching any contact counts as delivered.
package alerts

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// TriggerInterpreter is the Alert.Trigger value used when the interpretation
// backend flagged the utterance, as opposed to a keyword match.
const TriggerInterpreter = "interpreter"

// defaultJWThreshold accepts dysarthric renderings like "hel" for "help"
// while rejecting unrelated words like "kelp".
const defaultJWThreshold = 0.90

// defaultEmergencyPhrases is the built-in English keyword list. Matching is
// fuzzy, so close pronunciations of these also trigger.
var defaultEmergencyPhrases = []string{
	"help",
	"help me",
	"emergency",
	"call an ambulance",
	"call 911",
	"cant breathe",
	"chest pain",
	"i have fallen",
	"i fell",
	"it hurts",
}

// Detector flags emergency utterances by fuzzy keyword matching against a
// phrase list. It is stateless and safe for concurrent use.
type Detector struct {
	phrases   []string
	threshold float64
}

// DetectorOption configures a [Detector].
type DetectorOption func(*Detector)

// WithThreshold sets the Jaro-Winkler similarity a word window must reach to
// count as a phrase match.
func WithThreshold(t float64) DetectorOption {
	return func(d *Detector) {
		if t > 0 && t <= 1 {
			d.threshold = t
		}
	}
}

// NewDetector creates a Detector over the given phrase list. An empty list
// selects the built-in English phrases.
func NewDetector(phrases []string, opts ...DetectorOption) *Detector {
	if len(phrases) == 0 {
		phrases = defaultEmergencyPhrases
	}
	d := &Detector{threshold: defaultJWThreshold}
	for _, p := range phrases {
		if norm := strings.Join(normalizeWords(p), " "); norm != "" {
			d.phrases = append(d.phrases, norm)
		}
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect reports whether text contains an emergency phrase, returning the
// matched phrase as the alert trigger. Matching slides a window of the
// phrase's word count over the normalized utterance and compares with
// Jaro-Winkler, so "hel me" triggers "help me".
func (d *Detector) Detect(text string) (trigger string, ok bool) {
	words := normalizeWords(text)
	if len(words) == 0 {
		return "", false
	}

	for _, phrase := range d.phrases {
		n := strings.Count(phrase, " ") + 1
		for i := 0; i+n <= len(words); i++ {
			window := strings.Join(words[i:i+n], " ")
			if matchr.JaroWinkler(window, phrase, true) >= d.threshold {
				return phrase, true
			}
		}
	}
	return "", false
}

// Evaluate combines the interpretation backend's emergency flag with keyword
// detection on the confirmed text. The backend flag wins so the trigger
// reflects the strongest signal.
func (d *Detector) Evaluate(text string, interpreterFlagged bool) (trigger string, emergency bool) {
	if interpreterFlagged {
		return TriggerInterpreter, true
	}
	return d.Detect(text)
}

// normalizeWords lowercases, splits on whitespace, and strips surrounding
// punctuation from each word.
func normalizeWords(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	out := fields[:0]
	for _, f := range fields {
		w := strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}
