package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// EnumSpec is a set of canonical values plus the variants that map to them.
type EnumSpec struct {
	// Values are the canonical members, e.g. "STRONG", "MODERATE", "WEAK".
	Values []string

	// Synonyms map a variant to a canonical member, e.g. "MEDIUM" -> "MODERATE".
	Synonyms map[string]string

	// Default is used when nothing matches.
	Default string
}

// NewEnum creates an EnumSpec with the given canonical values and default.
func NewEnum(def string, values ...string) *EnumSpec {
	return &EnumSpec{Values: values, Default: def}
}

// WithSynonyms returns a copy of e with additional synonyms.
func (e *EnumSpec) WithSynonyms(synonyms map[string]string) *EnumSpec {
	out := &EnumSpec{Values: e.Values, Default: e.Default, Synonyms: make(map[string]string, len(e.Synonyms)+len(synonyms))}
	for k, v := range e.Synonyms {
		out.Synonyms[k] = v
	}
	for k, v := range synonyms {
		out.Synonyms[k] = v
	}
	return out
}

// annotationSeparators end the meaningful part of an enum value.
var annotationSeparators = []string{" - ", " – ", " — ", "(", ":", ",", ";", "\n"}

// Normalize maps raw to a canonical member. The bool is false when raw
// matched nothing and the default was returned.
func (e *EnumSpec) Normalize(raw any) (string, bool) {
	s, ok := raw.(string)
	if !ok {
		if raw == nil {
			return e.Default, false
		}
		s = fmt.Sprint(raw)
	}

	s = strings.TrimSpace(s)
	for _, sep := range annotationSeparators {
		if i := strings.Index(s, sep); i > 0 {
			s = s[:i]
		}
	}
	key := enumKey(s)
	if key == "" {
		return e.Default, false
	}

	if v, ok := e.lookup(key); ok {
		return v, true
	}

	// "WEAK EVIDENCE" -> "WEAK" when the full phrase is not a member.
	if i := strings.IndexByte(key, '_'); i > 0 {
		if v, ok := e.lookup(key[:i]); ok {
			return v, true
		}
	}
	return e.Default, false
}

func (e *EnumSpec) lookup(key string) (string, bool) {
	for _, v := range e.Values {
		if enumKey(v) == key {
			return v, true
		}
	}
	for variant, v := range e.Synonyms {
		if enumKey(variant) == key {
			return v, true
		}
	}
	return "", false
}

// enumKey upper-cases s, strips decoration and joins words with underscores.
func enumKey(s string) string {
	s = strings.Trim(s, " \t*_.\"'`")
	s = strings.ToUpper(s)
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return s
}

// NumberSpec bounds a numeric field.
type NumberSpec struct {
	Min     float64
	Max     float64
	Bounded bool
	Default float64
}

// Range creates a NumberSpec that clamps to [lo, hi].
func Range(lo, hi, def float64) *NumberSpec {
	return &NumberSpec{Min: lo, Max: hi, Bounded: true, Default: def}
}

// Unbounded creates a NumberSpec with no clamping.
func Unbounded(def float64) *NumberSpec {
	return &NumberSpec{Default: def}
}

var numericPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// Coerce converts raw to a number. Strings contribute their first numeric
// substring ("3/5" is 3, "85%" is 85). The bool is false when the default
// was used.
func (n *NumberSpec) Coerce(raw any) (float64, bool) {
	f, ok := toFloat(raw)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return n.Default, false
	}
	if n.Bounded {
		f = math.Max(n.Min, math.Min(n.Max, f))
	}
	return f, true
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		m := numericPattern.FindString(v)
		if m == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(m, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// toString renders scalars as text and anything structured as JSON.
func toString(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}

// toBool accepts booleans, common yes/no words and numbers.
func toBool(raw any) (bool, bool) {
	switch v := raw.(type) {
	case bool:
		return v, true
	case float64:
		return v != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "y", "1":
			return true, true
		case "false", "no", "n", "0", "":
			return false, true
		}
	}
	return false, false
}
