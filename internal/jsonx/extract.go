package jsonx

import (
	"errors"
	"strings"
)

// Extract finds and returns the first JSON object or array in s.
// Models frequently wrap structured output in Markdown code fences or
// surround it with prose; this unwraps the first fenced block if present,
// then scans for a balanced {...} or [...] while ignoring braces inside
// strings.
func Extract(s string) (string, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "\uFEFF")

	if inner, ok := stripFirstCodeFence(s); ok {
		s = strings.TrimSpace(inner)
	}

	if len(s) > 0 && (s[0] == '{' || s[0] == '[') {
		if out, ok := extractBalancedFrom(s, 0); ok {
			return out, nil
		}
	}

	for i := 0; i < len(s); i++ {
		if s[i] == '{' || s[i] == '[' {
			if out, ok := extractBalancedFrom(s, i); ok {
				return out, nil
			}
		}
	}

	return "", errors.New("no balanced JSON object/array found")
}

// stripFirstCodeFence removes the first fenced code block if s starts with
// ``` or ~~~, accepting an optional language tag (e.g. ```json).
func stripFirstCodeFence(s string) (string, bool) {
	trim := strings.TrimLeft(s, "\n\r\t ")
	fence := ""
	switch {
	case strings.HasPrefix(trim, "```"):
		fence = "```"
	case strings.HasPrefix(trim, "~~~"):
		fence = "~~~"
	default:
		return "", false
	}
	rest := trim[len(fence):]
	idx := strings.IndexByte(rest, '\n')
	if idx == -1 {
		return "", false
	}
	rest = rest[idx+1:]
	if end := strings.Index(rest, fence); end != -1 {
		return rest[:end], true
	}
	return "", false
}

// extractBalancedFrom attempts to extract a balanced JSON value starting at
// startIdx, handling strings and escape sequences.
func extractBalancedFrom(s string, startIdx int) (string, bool) {
	if startIdx < 0 || startIdx >= len(s) {
		return "", false
	}
	open := s[startIdx]
	var closer byte
	switch open {
	case '{':
		closer = '}'
	case '[':
		closer = ']'
	default:
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := startIdx; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return s[startIdx : i+1], true
			}
		}
	}
	return "", false
}
