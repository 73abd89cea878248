package extract

import (
	"strings"
)

// recoverCandidate tries progressively more forgiving ways of reading one
// candidate and returns the first value that decodes.
func recoverCandidate(c string) (any, bool) {
	c = strings.TrimSpace(c)
	if c == "" {
		return nil, false
	}
	if v, err := parseValue(c); err == nil {
		return v, true
	}
	if v, ok := parseSpan(c); ok {
		return v, true
	}

	start := openingIndex(c)
	if start < 0 {
		return nil, false
	}
	if end := matchClose(c, start); end > 0 {
		if v, err := parseValue(c[start : end+1]); err == nil {
			return v, true
		}
	}
	if c[start] == '[' {
		if items := completeObjects(c, start); len(items) > 0 {
			return items, true
		}
	}
	if repaired, ok := repairTruncated(c[start:]); ok {
		if v, err := parseValue(repaired); err == nil {
			return v, true
		}
	}
	return nil, false
}

// parseSpan decodes the substring from the first opening bracket to the
// last closing bracket of the same kind.
func parseSpan(s string) (any, bool) {
	start := openingIndex(s)
	if start < 0 {
		return nil, false
	}
	closer := "}"
	if s[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(s, closer)
	if end <= start {
		return nil, false
	}
	v, err := parseValue(s[start : end+1])
	if err != nil {
		return nil, false
	}
	return v, true
}

// openingIndex returns the index of the first '{' or '[' in s, or -1.
func openingIndex(s string) int {
	return strings.IndexAny(s, "{[")
}

// matchClose returns the index of the bracket closing s[start], honoring
// string literals and escapes, or -1 when the value never closes.
func matchClose(s string, start int) int {
	var stack []byte
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
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
		case '{', '[':
			stack = append(stack, ch)
		case '}', ']':
			if len(stack) == 0 || !pairs(stack[len(stack)-1], ch) {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i
			}
		}
	}
	return -1
}

// completeObjects collects every fully closed object that is a direct
// element of the array opened at s[start]. It recovers the usable prefix
// of an array cut off mid-element.
func completeObjects(s string, start int) []any {
	var items []any
	depth := 0
	objStart := -1
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
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
		case '{', '[':
			depth++
			if ch == '{' && depth == 2 {
				objStart = i
			}
		case '}', ']':
			if ch == '}' && depth == 2 && objStart >= 0 {
				if v, err := parseValue(s[objStart : i+1]); err == nil {
					items = append(items, v)
				}
				objStart = -1
			}
			depth--
			if depth == 0 {
				return items
			}
		}
	}
	return items
}

// repairTruncated cuts s after its last complete member and closes every
// bracket still open at that point.
func repairTruncated(s string) (string, bool) {
	var stack, cutStack []byte
	cut := -1
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		ch := s[i]
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
		case '{', '[':
			stack = append(stack, ch)
		case '}', ']':
			if len(stack) == 0 || !pairs(stack[len(stack)-1], ch) {
				return "", false
			}
			stack = stack[:len(stack)-1]
			cut = i + 1
			cutStack = append(cutStack[:0], stack...)
			if len(stack) == 0 {
				return s[:cut], true
			}
		case ',':
			cut = i
			cutStack = append(cutStack[:0], stack...)
		}
	}
	if cut < 0 {
		return "", false
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(s[:cut], " \t\r\n"))
	for i := len(cutStack) - 1; i >= 0; i-- {
		if cutStack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String(), true
}

func pairs(open, close byte) bool {
	return (open == '{' && close == '}') || (open == '[' && close == ']')
}
