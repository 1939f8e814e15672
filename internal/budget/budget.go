// Package budget bounds the size of text sent to LLMs. Judge and category
// prompts go to backends with different tokenizers, so this package uses a
// conservative character-based heuristic: 1 token ≈ 4 characters.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the conservative character-to-token ratio used for
	// estimation.
	charsPerToken = 4

	// DefaultMaxIntentTokens caps the user intent interpolated into the
	// category-generation prompt.
	DefaultMaxIntentTokens = 500
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role + content for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		// Each message has a small per-message overhead (~4 tokens in most APIs).
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// TruncateChars returns the first n runes of s. It never splits a multi-byte
// character. n <= 0 yields the empty string.
func TruncateChars(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// TruncateTokens shortens s so that Estimate(s) does not exceed maxTokens.
func TruncateTokens(s string, maxTokens int) string {
	if Estimate(s) <= maxTokens {
		return s
	}
	return TruncateChars(s, maxTokens*charsPerToken)
}
