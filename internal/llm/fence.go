package llm

import "strings"

const fence = "```"

// StripCodeFence returns the body of the first fenced block in text, without
// its language tag. Text without a fence is returned trimmed.
func StripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	start := strings.Index(trimmed, fence)
	if start < 0 {
		return trimmed
	}
	body := trimmed[start+len(fence):]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 && isLanguageTag(body[:nl]) {
		body = body[nl+1:]
	}
	if end := strings.Index(body, fence); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

func isLanguageTag(line string) bool {
	line = strings.TrimSpace(line)
	for _, r := range line {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == '-', r == '+', r == '.':
		default:
			return false
		}
	}
	return true
}
