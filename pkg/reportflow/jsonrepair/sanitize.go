package jsonrepair

import (
	"fmt"
	"regexp"
	"strings"
)

// fencePattern matches a complete markdown code fence with an optional language tag.
var fencePattern = regexp.MustCompile("(?s)```[A-Za-z0-9_-]*[ \\t]*\\r?\\n?(.*?)```")

// extractFence returns the contents of the first complete code fence, or the
// text after a leading fence that was never closed. A fence that opens inside
// a JSON string belongs to the document and is left alone. The bool reports
// whether a fence was removed.
func extractFence(s string) (string, bool) {
	t := strings.TrimSpace(s)
	open := strings.Index(t, "```")
	if open < 0 {
		return t, false
	}
	if inString(t, open) {
		return t, false
	}
	t = t[open:]
	if m := fencePattern.FindStringSubmatch(t); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	nl := strings.IndexByte(t, '\n')
	if nl < 0 {
		return strings.TrimLeft(t, "`"), true
	}
	return strings.TrimSpace(t[nl+1:]), true
}

// inString reports whether byte offset at falls inside a string literal of
// the JSON that starts at the first bracket.
func inString(s string, at int) bool {
	start := firstBracket(s)
	if start < 0 || start > at {
		return false
	}
	in, escaped := false, false
	for i := start; i < at; i++ {
		switch c := s[i]; {
		case escaped:
			escaped = false
		case in && c == '\\':
			escaped = true
		case c == '"':
			in = !in
		}
	}
	return in
}

// sanitize escapes raw control characters that appear inside string
// literals. The bool reports whether anything changed.
func sanitize(s string) (string, bool) {
	var b strings.Builder
	b.Grow(len(s) + 16)

	changed := false
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !inString {
			if c == '"' {
				inString = true
			}
			b.WriteByte(c)
			continue
		}

		if escaped {
			escaped = false
			if c < 0x20 {
				// Backslash already written; finish it as a valid escape.
				b.WriteString(controlEscape(c)[1:])
				changed = true
				continue
			}
			b.WriteByte(c)
			continue
		}

		switch {
		case c == '\\':
			escaped = true
			b.WriteByte(c)
		case c == '"':
			inString = false
			b.WriteByte(c)
		case c < 0x20:
			b.WriteString(controlEscape(c))
			changed = true
		default:
			b.WriteByte(c)
		}
	}
	if !changed {
		return s, false
	}
	return b.String(), true
}

func controlEscape(c byte) string {
	switch c {
	case '\n':
		return `\n`
	case '\r':
		return `\r`
	case '\t':
		return `\t`
	case '\b':
		return `\b`
	case '\f':
		return `\f`
	default:
		return fmt.Sprintf(`\u%04x`, c)
	}
}
