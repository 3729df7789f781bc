package jsonrepair

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

var (
	errNoCut       = errors.New("no complete value to cut at")
	errUnbalanced  = errors.New("no complete root or top-level member")
	errNoWindow    = errors.New("no window parsed")
	numberPattern  = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?$`)
	literalSymbols = map[string]bool{"true": true, "false": true, "null": true}
)

// frame is one open object or array on the scanner's stack.
type frame struct {
	open      byte
	expectKey bool
}

// cut is an offset just past a complete value, with the brackets still
// open at that point.
type cut struct {
	end   int
	stack []byte
}

// scanCuts walks s and records every offset at which the prefix could be
// closed into valid JSON. It stops at the first mismatched closer.
func scanCuts(s string) []cut {
	var (
		stack    []frame
		cuts     []cut
		inString bool
		escaped  bool
	)

	record := func(end int) {
		opens := make([]byte, len(stack))
		for i, f := range stack {
			opens[i] = f.open
		}
		cuts = append(cuts, cut{end: end, stack: opens})
	}
	top := func() *frame {
		if len(stack) == 0 {
			return nil
		}
		return &stack[len(stack)-1]
	}

	for i := 0; i < len(s); {
		c := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
				f := top()
				isKey := (f != nil && f.open == '{' && f.expectKey) || nextNonSpace(s, i+1) == ':'
				if !isKey {
					record(i + 1)
				}
			}
			i++
			continue
		}

		switch c {
		case '"':
			inString = true
			i++
		case '{', '[':
			stack = append(stack, frame{open: c, expectKey: c == '{'})
			record(i + 1)
			i++
		case '}', ']':
			f := top()
			if f == nil || closerFor(f.open) != c {
				return cuts
			}
			stack = stack[:len(stack)-1]
			record(i + 1)
			i++
		case ',':
			if f := top(); f != nil && f.open == '{' {
				f.expectKey = true
			}
			i++
		case ':':
			if f := top(); f != nil && f.open == '{' {
				f.expectKey = false
			}
			i++
		case ' ', '\t', '\n', '\r':
			i++
		default:
			j := i
			for j < len(s) && !isDelimiter(s[j]) {
				j++
			}
			// A literal running to the end of the text may itself be cut short.
			if j < len(s) && isLiteral(s[i:j]) {
				record(j)
			}
			i = j
		}
	}
	return cuts
}

// repairStructural cuts s at its last complete value, strips anything
// dangling, and closes every bracket still open there.
func repairStructural(s string) (any, error) {
	cuts := scanCuts(s)
	if len(cuts) == 0 {
		return nil, errNoCut
	}

	c := cuts[len(cuts)-1]
	candidate := closeOpen(trimDangling(s[:c.end]), c.stack)
	var v any
	if err := json.Unmarshal([]byte(candidate), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// repairAggressive keeps only whole top-level members. It cuts at the last
// point where depth returned to zero, or else at the last top-level member
// boundary, and closes the root.
func repairAggressive(s string) (any, error) {
	var (
		depth     int
		root      byte
		rootEnd   = -1
		memberEnd = -1
		inString  bool
		escaped   bool
	)

	for i := 0; i < len(s); i++ {
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
		case '{', '[':
			if depth == 0 {
				root = c
			}
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				rootEnd = i + 1
			} else if depth == 1 {
				memberEnd = i + 1
			} else if depth < 0 {
				depth = 0
			}
		case ',':
			if depth == 1 {
				memberEnd = i
			}
		}
		if rootEnd >= 0 {
			break
		}
	}

	var candidates []string
	if rootEnd > 0 {
		candidates = append(candidates, s[:rootEnd])
	}
	if memberEnd > 0 && root != 0 {
		candidates = append(candidates, trimDangling(s[:memberEnd])+string(closerFor(root)))
	}

	var lastErr error = errUnbalanced
	for _, candidate := range candidates {
		var v any
		if err := json.Unmarshal([]byte(candidate), &v); err != nil {
			lastErr = err
			continue
		}
		return v, nil
	}
	return nil, lastErr
}

// repairWindowed retries structural repair on progressively shorter windows
// that start at the first '{'.
func repairWindowed(s string, step int) (any, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return nil, errNoWindow
	}
	if step <= 0 {
		step = defaultWindowStep
	}

	var lastErr error = errNoWindow
	end := len(s)
	for n := 0; end > start && n < maxWindows; n++ {
		v, err := repairStructural(s[start:end])
		if err == nil {
			return v, nil
		}
		lastErr = err
		end -= step
	}
	return nil, lastErr
}

// trimDangling strips trailing whitespace, commas, colons and a dangling
// object key so the prefix ends on a value or an opening bracket.
func trimDangling(s string) string {
	for {
		t := strings.TrimRight(s, " \t\r\n")
		switch {
		case strings.HasSuffix(t, ","), strings.HasSuffix(t, ":"):
			s = t[:len(t)-1]
			continue
		case strings.HasSuffix(t, `"`):
			if start, ok := danglingKeyStart(t); ok {
				s = t[:start]
				continue
			}
		}
		return t
	}
}

// danglingKeyStart reports the offset of a trailing string that sits in key
// position, that is, directly after '{' or ','.
func danglingKeyStart(t string) (int, bool) {
	end := len(t) - 1
	i := end - 1
	for i >= 0 {
		if t[i] == '"' && !escapedAt(t, i) {
			break
		}
		i--
	}
	if i < 0 {
		return 0, false
	}
	prev := strings.TrimRight(t[:i], " \t\r\n")
	if prev == "" {
		return 0, false
	}
	if last := prev[len(prev)-1]; last == '{' || last == ',' {
		if last == ',' && !insideObject(prev) {
			return 0, false
		}
		return i, true
	}
	return 0, false
}

// escapedAt reports whether the byte at i is preceded by an odd number of backslashes.
func escapedAt(s string, i int) bool {
	n := 0
	for j := i - 1; j >= 0 && s[j] == '\\'; j-- {
		n++
	}
	return n%2 == 1
}

// insideObject reports whether the innermost open bracket of s is '{'.
func insideObject(s string) bool {
	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
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
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	return len(stack) > 0 && stack[len(stack)-1] == '{'
}

func closeOpen(s string, opens []byte) string {
	var b strings.Builder
	b.Grow(len(s) + len(opens))
	b.WriteString(s)
	for i := len(opens) - 1; i >= 0; i-- {
		b.WriteByte(closerFor(opens[i]))
	}
	return b.String()
}

func closerFor(open byte) byte {
	if open == '[' {
		return ']'
	}
	return '}'
}

func nextNonSpace(s string, i int) byte {
	for ; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return s[i]
		}
	}
	return 0
}

func isDelimiter(c byte) bool {
	switch c {
	case ',', '}', ']', ':', '"', '{', '[', ' ', '\t', '\n', '\r':
		return true
	}
	return false
}

func isLiteral(tok string) bool {
	return literalSymbols[tok] || numberPattern.MatchString(tok)
}
