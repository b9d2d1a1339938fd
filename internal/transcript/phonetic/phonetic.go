// Package phonetic matches misheard phrases against a vocabulary of known
// terms (channel names, game terms, people).
//
// Matching runs in two passes over a compiled [Vocabulary]:
//
//  1. Candidates whose Double Metaphone codes overlap the phrase's codes are
//     ranked by Jaro-Winkler similarity and accepted above the phonetic
//     threshold.
//  2. Without a phonetic candidate, plain Jaro-Winkler similarity must clear
//     the stricter fuzzy threshold.
//
// Multi-word terms compare full strings, space-stripped strings and the best
// token pair, keeping the highest score.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option configures a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a phonetic
// candidate. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a candidate
// without phonetic overlap. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// Matcher holds the thresholds. It is read-only after construction.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher].
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// term is one vocabulary entry with its precomputed encodings.
type term struct {
	display string
	lower   string
	tokens  []string
	concat  string
	codes   map[string]struct{}
}

// Vocabulary is a compiled list of terms. It is immutable and safe for
// concurrent use.
type Vocabulary struct {
	terms    []term
	maxWords int
}

// Compile prepares terms for matching. Blank and duplicate terms are skipped.
func Compile(terms []string) *Vocabulary {
	v := &Vocabulary{}
	seen := make(map[string]bool, len(terms))
	for _, t := range terms {
		lower := strings.ToLower(strings.TrimSpace(t))
		if lower == "" || seen[lower] {
			continue
		}
		seen[lower] = true
		tokens := strings.Fields(lower)
		v.terms = append(v.terms, term{
			display: strings.TrimSpace(t),
			lower:   strings.Join(tokens, " "),
			tokens:  tokens,
			concat:  strings.Join(tokens, ""),
			codes:   codesForTokens(tokens),
		})
		v.maxWords = max(v.maxWords, len(tokens))
	}
	return v
}

// Len returns the number of compiled terms.
func (v *Vocabulary) Len() int { return len(v.terms) }

// MaxWords returns the word count of the longest term, or 0 when empty.
func (v *Vocabulary) MaxWords() int { return v.maxWords }

// Terms returns the display form of every term.
func (v *Vocabulary) Terms() []string {
	out := make([]string, len(v.terms))
	for i, t := range v.terms {
		out[i] = t.display
	}
	return out
}

// Match returns the vocabulary term that best matches phrase. When matched
// is false, corrected equals phrase and confidence is 0.
func (m *Matcher) Match(phrase string, vocab *Vocabulary) (corrected string, confidence float64, matched bool) {
	if vocab == nil || len(vocab.terms) == 0 || strings.TrimSpace(phrase) == "" {
		return phrase, 0, false
	}

	tokens := strings.Fields(strings.ToLower(phrase))
	full := strings.Join(tokens, " ")
	concat := strings.Join(tokens, "")
	codes := codesForTokens(tokens)

	var (
		best      *term
		bestScore float64
		bestPhon  bool
	)
	for i := range vocab.terms {
		t := &vocab.terms[i]
		score := bestJWScore(tokens, t.tokens, full, t.lower, concat, t.concat)
		if codesOverlap(codes, t.codes) {
			if score >= m.phoneticThreshold && (!bestPhon || score > bestScore) {
				best, bestScore, bestPhon = t, score, true
			}
			continue
		}
		if !bestPhon && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore = t, score
		}
	}
	if best == nil {
		return phrase, 0, false
	}
	return best.display, bestScore, true
}

// codesForTokens returns the union of the Double Metaphone codes of tokens.
// Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore returns the highest Jaro-Winkler similarity among the full
// strings, the space-stripped strings and every token pair.
func bestJWScore(inTokens, termTokens []string, inFull, termFull, inConcat, termConcat string) float64 {
	score := matchr.JaroWinkler(inFull, termFull, false)
	if len(inTokens) > 1 || len(termTokens) > 1 {
		score = max(score, matchr.JaroWinkler(inConcat, termConcat, false))
	}
	for _, it := range inTokens {
		for _, tt := range termTokens {
			score = max(score, matchr.JaroWinkler(it, tt, false))
		}
	}
	return score
}
