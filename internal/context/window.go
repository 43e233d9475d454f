// Package context estimates how many tokens a chunk of text will cost an
// LLM request, the one piece of "context window management" this relay
// needs: contextpack.Packer uses it to decide how much file content fits
// inline before the rest overflows to a vector store (spec.md §4.1).
package context

import "unicode/utf8"

// DefaultContextWindow is the token budget contextpack.Packer falls back to
// when a model isn't found in its own configuration, per spec.md §4.1.
const DefaultContextWindow = 128000

// TokensPerChar is a conservative characters-per-token ratio used when no
// provider-side tokenizer is available.
const TokensPerChar = 0.25

// EstimateTokens estimates the number of tokens text will cost using a
// conservative ~4-characters-per-token ratio.
func EstimateTokens(text string) int {
	charCount := utf8.RuneCountInString(text)
	tokens := int(float64(charCount) * TokensPerChar)
	if tokens == 0 && charCount > 0 {
		return 1
	}
	return tokens
}
