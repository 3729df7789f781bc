package prompt

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/randalmurphal/reportflow/pkg/reportflow/schema"
)

// pathPattern matches ${name}, ${name.seg.0}, and ${name|fallback}.
var pathPattern = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z0-9_]+)*)(?:\|([^}]*))?\}`)

// Expander expands ${path} placeholders.
type Expander struct {
	missingAction MissingAction
	compact       bool
	maxValueLen   int
}

// NewExpander creates a new Expander with the given options.
//
// Default configuration:
//   - MissingAction: MissingKeep
//   - objects and arrays rendered as indented JSON
func NewExpander(opts ...Option) *Expander {
	e := &Expander{missingAction: MissingKeep}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand replaces every placeholder in s with its value from vars.
// Errors are only returned when MissingAction is MissingError.
func (e *Expander) Expand(s string, vars map[string]any) (string, error) {
	if s == "" {
		return "", nil
	}

	var missing []string
	root := schema.Record(vars)

	result := pathPattern.ReplaceAllStringFunc(s, func(match string) string {
		sub := pathPattern.FindStringSubmatch(match)
		path, hasFallback := sub[1], strings.Contains(match, "|")

		if val, ok := root.Get(path); ok && val != nil {
			return e.format(val)
		}
		if hasFallback {
			return sub[2]
		}

		switch e.missingAction {
		case MissingEmpty:
			return ""
		case MissingError:
			missing = append(missing, path)
			return match
		default:
			return match
		}
	})

	if len(missing) > 0 {
		return result, &UndefinedVariableError{Names: missing}
	}
	return result, nil
}

// Variables lists the distinct placeholder paths in s, in order.
func Variables(s string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range pathPattern.FindAllStringSubmatch(s, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

func (e *Expander) format(v any) string {
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case map[string]any, schema.Record, []any, []string, []map[string]any:
		var data []byte
		var err error
		if e.compact {
			data, err = json.Marshal(val)
		} else {
			data, err = json.MarshalIndent(val, "", "  ")
		}
		if err != nil {
			s = fmt.Sprintf("%v", val)
		} else {
			s = string(data)
		}
	default:
		s = fmt.Sprintf("%v", val)
	}

	if e.maxValueLen > 0 && len(s) > e.maxValueLen {
		s = s[:e.maxValueLen] + "…"
	}
	return s
}

// UndefinedVariableError is returned when MissingError is set and
// one or more variables are not found.
type UndefinedVariableError struct {
	Names []string
}

// Error implements the error interface.
func (e *UndefinedVariableError) Error() string {
	if len(e.Names) == 1 {
		return fmt.Sprintf("undefined variable: %s", e.Names[0])
	}
	return fmt.Sprintf("undefined variables: %s", strings.Join(e.Names, ", "))
}

// defaultExpander is the package-level expander with default settings.
var defaultExpander = NewExpander()

// Expand expands placeholders using the default expander. Missing variables
// stay as-is.
func Expand(s string, vars map[string]any) string {
	result, _ := defaultExpander.Expand(s, vars)
	return result
}
