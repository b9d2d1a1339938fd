package transcript

import (
	"strings"
	"sync/atomic"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/voxrelay/internal/transcript/phonetic"
)

const (
	// minSingleWordRunes is the shortest lone word tested against the
	// vocabulary.
	minSingleWordRunes = 4

	// minPhraseScore is the Jaro-Winkler similarity a whole window must reach
	// against its term, spaces removed.
	minPhraseScore = 0.75
)

// Correction records one substitution made by [Corrector.Correct].
type Correction struct {
	// Original is the phrase as recognised.
	Original string

	// Corrected is the vocabulary term that replaced it.
	Corrected string

	// Confidence is the Jaro-Winkler score of the match in [0, 1].
	Confidence float64
}

// Corrector replaces misheard phrases with vocabulary terms. The vocabulary
// can be swapped at any time with [Corrector.SetVocabulary]; Correct always
// sees one consistent list. Corrector is safe for concurrent use.
type Corrector struct {
	matcher *phonetic.Matcher
	vocab   atomic.Pointer[phonetic.Vocabulary]
}

// NewCorrector returns a Corrector for terms. An empty list disables
// correction.
func NewCorrector(terms []string, opts ...phonetic.Option) *Corrector {
	c := &Corrector{matcher: phonetic.New(opts...)}
	c.SetVocabulary(terms)
	return c
}

// SetVocabulary atomically replaces the vocabulary.
func (c *Corrector) SetVocabulary(terms []string) {
	c.vocab.Store(phonetic.Compile(terms))
}

// Vocabulary returns the current terms.
func (c *Corrector) Vocabulary() []string {
	return c.vocab.Load().Terms()
}

// Correct returns text with matching phrases replaced by vocabulary terms.
// At each position the window scoring highest against its term wins; a
// window is skipped when the window starting one word later scores higher,
// so a leading article is not swallowed. Punctuation around a replaced
// phrase is kept.
func (c *Corrector) Correct(text string) (string, []Correction) {
	vocab := c.vocab.Load()
	if vocab.Len() == 0 {
		return text, nil
	}
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}

	var (
		out         = make([]string, 0, len(tokens))
		corrections []Correction
	)
	for i := 0; i < len(tokens); {
		m := c.bestAt(tokens[i:], vocab)
		if m.n > 1 && i+1 < len(tokens) {
			if next := c.bestAt(tokens[i+1:], vocab); next.n > 0 && next.score > m.score {
				m = match{}
			}
		}
		if m.n == 0 {
			out = append(out, tokens[i])
			i++
			continue
		}
		window := tokens[i : i+m.n]
		lead, _, _ := splitPunct(window[0])
		_, _, trail := splitPunct(window[len(window)-1])
		original := joinCores(window)
		if original != m.term {
			corrections = append(corrections, Correction{Original: original, Corrected: m.term, Confidence: m.score})
		}
		out = append(out, lead+m.term+trail)
		i += m.n
	}
	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(out, " "), corrections
}

// match is a candidate replacement of the first n tokens.
type match struct {
	n     int
	term  string
	score float64
}

// bestAt returns the best scoring window at the start of tokens, or a zero
// match. Ties prefer the longer window.
func (c *Corrector) bestAt(tokens []string, vocab *phonetic.Vocabulary) match {
	var best match
	maxN := min(vocab.MaxWords()+1, len(tokens))
	for n := maxN; n >= 1; n-- {
		window := tokens[:n]
		if !matchable(window) {
			continue
		}
		phrase := joinCores(window)
		if n == 1 && utf8.RuneCountInString(phrase) < minSingleWordRunes {
			continue
		}
		term, _, ok := c.matcher.Match(phrase, vocab)
		if !ok {
			continue
		}
		// A window may differ from its term by at most one word.
		if words := len(strings.Fields(term)); words-n > 1 || n-words > 1 {
			continue
		}
		score := matchr.JaroWinkler(squash(phrase), squash(term), false)
		if score >= minPhraseScore && score > best.score {
			best = match{n: n, term: term, score: score}
		}
	}
	return best
}

// squash lowercases s and removes spaces.
func squash(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

// matchable reports whether every token has a word core and only the last
// one carries trailing punctuation (a phrase never spans a sentence break).
func matchable(window []string) bool {
	for i, tok := range window {
		_, core, trail := splitPunct(tok)
		if core == "" {
			return false
		}
		if trail != "" && i < len(window)-1 {
			return false
		}
	}
	return true
}

func joinCores(window []string) string {
	cores := make([]string, len(window))
	for i, tok := range window {
		_, cores[i], _ = splitPunct(tok)
	}
	return strings.Join(cores, " ")
}

// splitPunct splits tok into leading punctuation, core and trailing
// punctuation.
func splitPunct(tok string) (lead, core, trail string) {
	core = strings.TrimLeftFunc(tok, unicode.IsPunct)
	lead = tok[:len(tok)-len(core)]
	trimmed := strings.TrimRightFunc(core, unicode.IsPunct)
	trail = core[len(trimmed):]
	return lead, trimmed, trail
}
