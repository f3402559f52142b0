package llm

import "strings"

// ExtractJSON finds the first JSON object in a completion that may wrap it in
// markdown fences or prose. It returns "" when no balanced object is present.
func ExtractJSON(response string) string {
	response = strings.TrimSpace(response)

	if start := strings.Index(response, "```json"); start != -1 {
		start += len("```json")
		if end := strings.Index(response[start:], "```"); end != -1 {
			return extractObject(strings.TrimSpace(response[start:start+end]), 0)
		}
	}
	if start := strings.Index(response, "```"); start != -1 {
		start += 3
		if end := strings.Index(response[start:], "```"); end != -1 {
			content := strings.TrimSpace(response[start : start+end])
			if strings.HasPrefix(content, "{") {
				return extractObject(content, 0)
			}
		}
	}
	if start := strings.Index(response, "{"); start != -1 {
		return extractObject(response, start)
	}
	return ""
}

// extractObject returns the balanced object starting at start, skipping
// braces that appear inside strings.
func extractObject(s string, start int) string {
	if start >= len(s) || s[start] != '{' {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// Truncate shortens s for log previews.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
