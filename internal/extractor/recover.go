package extractor

import "strings"

// FirstJSONObject extracts the first complete JSON object from text,
// stopping exactly at its closing brace so trailing prose or repeated
// payloads never cause a parse failure. Braces inside string literals
// are ignored. Returns the empty string when no balanced object exists.
func FirstJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return ""
	}

	balance := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		ch := text[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{':
			balance++
		case '}':
			balance--
			if balance == 0 {
				return text[start : i+1]
			}
		}
	}

	// Unbalanced output; fall back to the greedy span so a truncated
	// tail still has a chance to parse upstream.
	if end := strings.LastIndexByte(text, '}'); end > start {
		return text[start : end+1]
	}
	return ""
}
