package jsonrepair

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScanCuts_KeysAreNotCutPoints(t *testing.T) {
	s := `{"key": "value", "other"`
	cuts := scanCuts(s)

	ends := make([]int, 0, len(cuts))
	for _, c := range cuts {
		ends = append(ends, c.end)
	}
	// After '{' and after "value"; never after a key.
	assert.Equal(t, []int{1, 15}, ends)
	assert.Equal(t, []byte{'{'}, cuts[1].stack)
}

func TestScanCuts_ColonLookaheadMarksKey(t *testing.T) {
	// Inside an array a string followed by ':' is malformed, but it is
	// still treated as a key rather than a value.
	cuts := scanCuts(`["a" : 1`)
	for _, c := range cuts {
		assert.NotEqual(t, 4, c.end)
	}
}

func TestScanCuts_StopsAtMismatch(t *testing.T) {
	cuts := scanCuts(`{"a": [1}, "b": 2}`)
	last := cuts[len(cuts)-1]
	assert.Equal(t, 8, last.end)
	assert.Equal(t, []byte{'{', '['}, last.stack)
}

func TestTrimDangling(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"a": 1,`, `{"a": 1`},
		{`{"a": 1, "b":`, `{"a": 1`},
		{`{"a": 1, "b"`, `{"a": 1`},
		{`{"a": "x"`, `{"a": "x"`},
		{`["x", "y"`, `["x", "y"`},
		{`{"b"`, `{`},
		{`{"a": "say \"hi\""`, `{"a": "say \"hi\""`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, trimDangling(tt.in))
		})
	}
}

func TestSanitize(t *testing.T) {
	out, changed := sanitize("{\"a\": \"x\ty\u0001\"}")
	assert.True(t, changed)
	assert.Equal(t, `{"a": "x\ty\u0001"}`, out)

	out, changed = sanitize(`{"a": "ok"}`)
	assert.False(t, changed)
	assert.Equal(t, `{"a": "ok"}`, out)
}

func TestExtractFence(t *testing.T) {
	out, fenced := extractFence("```json\n{}\n```")
	assert.True(t, fenced)
	assert.Equal(t, "{}", out)

	out, fenced = extractFence("  {\"a\": 1}  ")
	assert.False(t, fenced)
	assert.Equal(t, `{"a": 1}`, out)

	out, fenced = extractFence("Notes [1]:\n```json\n{\"a\": 1}\n```")
	assert.True(t, fenced)
	assert.Equal(t, `{"a": 1}`, out)

	nested := "{\"report\": \"```go\\nx := 1\\n```\"}"
	out, fenced = extractFence(nested)
	assert.False(t, fenced)
	assert.Equal(t, nested, out)
}

func TestSafelyRecoversPanic(t *testing.T) {
	v, err := safely(func() (any, error) {
		panic("boom")
	})
	assert.Nil(t, v)
	assert.ErrorContains(t, err, "boom")
}
