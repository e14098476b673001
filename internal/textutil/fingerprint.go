package textutil

import (
	"math"
	"regexp"
	"strings"
)

var (
	// Handles and links carry no content signal for duplicate detection;
	// both are removed before tokenizing.
	mentionPattern = regexp.MustCompile(`@[A-Za-z0-9_]+`)
	urlPattern     = regexp.MustCompile(`https?://\S+`)

	// tokenSplitPattern matches non-alphanumeric character sequences.
	tokenSplitPattern = regexp.MustCompile(`[^a-z0-9]+`)
)

// Fingerprint is a term-frequency vector over a post's content tokens.
type Fingerprint struct {
	tokens map[string]float64
	norm   float64
}

// NewFingerprint builds a fingerprint from post text. Returns nil when the
// text has no content tokens, such as a bare link or mention.
func NewFingerprint(text string) *Fingerprint {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	counts := make(map[string]float64, len(tokens))
	for _, token := range tokens {
		counts[token]++
	}
	var norm float64
	for _, count := range counts {
		norm += count * count
	}
	return &Fingerprint{
		tokens: counts,
		norm:   math.Sqrt(norm),
	}
}

// Tokenize strips mentions and URLs, lowercases the rest, and splits it into
// tokens of at least 3 characters.
func Tokenize(text string) []string {
	cleaned := urlPattern.ReplaceAllString(text, " ")
	cleaned = mentionPattern.ReplaceAllString(cleaned, " ")
	lowered := strings.ToLower(cleaned)
	raw := tokenSplitPattern.Split(lowered, -1)
	terms := make([]string, 0, len(raw))
	for _, token := range raw {
		if len(token) < 3 {
			continue
		}
		terms = append(terms, token)
	}
	return terms
}

// TokenCount returns the number of unique tokens in the fingerprint.
func (f *Fingerprint) TokenCount() int {
	if f == nil {
		return 0
	}
	return len(f.tokens)
}
