package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Record is a validated stage output. Getters take dotted paths with
// numeric segments for array elements, e.g. "concepts.0.name".
type Record map[string]any

// Get returns the value at path.
func (r Record) Get(path string) (any, bool) {
	var cur any = map[string]any(r)
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case Record:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// String returns the string at path, or "".
func (r Record) String(path string) string {
	v, ok := r.Get(path)
	if !ok || v == nil {
		return ""
	}
	return toString(v)
}

// Float returns the number at path, or 0.
func (r Record) Float(path string) float64 {
	v, ok := r.Get(path)
	if !ok {
		return 0
	}
	f, _ := toFloat(v)
	return f
}

// Int returns the number at path truncated to an int.
func (r Record) Int(path string) int {
	return int(r.Float(path))
}

// Bool returns the boolean at path, or false.
func (r Record) Bool(path string) bool {
	v, ok := r.Get(path)
	if !ok {
		return false
	}
	b, _ := toBool(v)
	return b
}

// Object returns the object at path, or an empty record.
func (r Record) Object(path string) Record {
	v, ok := r.Get(path)
	if !ok {
		return Record{}
	}
	switch m := v.(type) {
	case map[string]any:
		return Record(m)
	case Record:
		return m
	default:
		return Record{}
	}
}

// Slice returns the array at path, or nil.
func (r Record) Slice(path string) []any {
	v, ok := r.Get(path)
	if !ok {
		return nil
	}
	s, _ := v.([]any)
	return s
}

// Strings returns the array at path rendered as strings.
func (r Record) Strings(path string) []string {
	items := r.Slice(path)
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, toString(item))
	}
	return out
}

// Decode converts the record into a typed struct through JSON tags.
func (r Record) Decode(into any) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := json.Unmarshal(b, into); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	return nil
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return cloneValue(map[string]any(r)).(map[string]any)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case Record:
		return Record(cloneValue(map[string]any(t)).(map[string]any))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
