package utils

import "unicode/utf8"

// charsPerToken approximates tokenization across providers. Prompt budgets
// only need to be conservative, not exact.
const charsPerToken = 4

// CountTokens estimates the tokens in text. Any non-empty text counts as at least one.
func CountTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return max(n/charsPerToken, 1)
}

// TruncateToTokenLimit cuts text to about limit tokens on a rune boundary.
func TruncateToTokenLimit(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	budget := limit * charsPerToken
	for i := range text {
		if budget == 0 {
			return text[:i]
		}
		budget--
	}
	return text
}
