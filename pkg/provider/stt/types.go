package stt

import "strings"

// KeywordBoost is a vocabulary hint for recognition of uncommon words such as
// channel names or game terms.
type KeywordBoost struct {
	// Keyword is the text to boost.
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}

// Prompt joins keywords into a comma-separated prompt for providers that
// accept an initial prompt instead of a boost list.
func Prompt(keywords []KeywordBoost) string {
	words := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw.Keyword != "" {
			words = append(words, kw.Keyword)
		}
	}
	return strings.Join(words, ", ")
}
