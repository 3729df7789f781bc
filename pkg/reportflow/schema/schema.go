package schema

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	rferrors "github.com/randalmurphal/reportflow/pkg/reportflow/errors"
)

// Schema describes the expected output of one stage.
type Schema struct {
	Name    string
	Version int
	Fields  []Field

	logger *slog.Logger
}

// New creates a schema.
func New(name string, version int, fields ...Field) *Schema {
	return &Schema{Name: name, Version: version, Fields: fields}
}

// WithLogger returns a copy of the schema that logs coercion warnings to l.
func (s *Schema) WithLogger(l *slog.Logger) *Schema {
	out := *s
	out.logger = l
	return &out
}

// Required returns the dotted paths of every top-level required field.
func (s *Schema) Required() []string {
	var names []string
	for _, f := range s.Fields {
		if f.Required {
			names = append(names, f.Name)
		}
	}
	return names
}

// Validate normalizes v against the schema. It fails only when required
// fields are missing, returning a *errors.ValidationError naming all of them.
func (s *Schema) Validate(v any) (Record, error) {
	m, err := s.root(v)
	if err != nil {
		return nil, err
	}

	run := &validation{schema: s, logger: s.logger}
	if run.logger == nil {
		run.logger = slog.Default()
	}

	out := run.object("", s.Fields, m)
	if len(run.missing) > 0 {
		return nil, &rferrors.ValidationError{Schema: s.label(), Fields: run.missing}
	}
	return out, nil
}

// root coerces the top-level value into an object. A bare array is
// accepted when the schema has exactly one array field to hold it.
func (s *Schema) root(v any) (map[string]any, error) {
	switch t := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return t, nil
	case Record:
		return t, nil
	case []any:
		var arrays []Field
		for _, f := range s.Fields {
			if f.Kind == KindArray {
				arrays = append(arrays, f)
			}
		}
		if len(arrays) == 1 {
			return map[string]any{arrays[0].Name: t}, nil
		}
	}
	return nil, &rferrors.ValidationError{
		Schema:  s.label(),
		Message: fmt.Sprintf("expected a JSON object, got %T", v),
	}
}

func (s *Schema) label() string {
	if s.Version > 0 {
		return fmt.Sprintf("%s@v%d", s.Name, s.Version)
	}
	return s.Name
}

// validation carries the missing-field list through one Validate call.
type validation struct {
	schema  *Schema
	logger  *slog.Logger
	missing []string

	// defaulting is non-zero while an absent object's default is built.
	// Required fields below it are filled, not reported.
	defaulting int
}

func (r *validation) object(path string, fields []Field, in map[string]any) Record {
	out := make(Record, len(in)+len(fields))
	for k, v := range in {
		out[k] = v
	}

	for _, f := range fields {
		fieldPath := join(path, f.Name)

		raw, present := out[f.Name]
		if !present || raw == nil {
			for _, alias := range f.Aliases {
				if av, ok := out[alias]; ok && av != nil {
					raw, present = av, true
					delete(out, alias)
					break
				}
			}
		}

		if !present || raw == nil || (f.Required && isBlank(raw)) {
			if f.Required && f.Default == nil && r.defaulting == 0 {
				r.missing = append(r.missing, fieldPath)
				continue
			}
			if dv, ok := r.defaultFor(fieldPath, f); ok {
				out[f.Name] = dv
			} else {
				delete(out, f.Name)
			}
			continue
		}

		out[f.Name] = r.coerce(fieldPath, f, raw)
	}
	return out
}

func (r *validation) coerce(path string, f Field, raw any) any {
	switch f.Kind {
	case KindString:
		return toString(raw)

	case KindBool:
		b, ok := toBool(raw)
		if !ok {
			r.warn(path, raw, "not a boolean")
		}
		return b

	case KindNumber, KindInteger:
		spec := f.Number
		if spec == nil {
			spec = Unbounded(0)
		}
		n, ok := spec.Coerce(raw)
		if !ok {
			r.warn(path, raw, "no number found, using default")
		}
		if f.Kind == KindInteger {
			n = math.Round(n)
		}
		return n

	case KindEnum:
		if f.Enum == nil {
			return toString(raw)
		}
		v, ok := f.Enum.Normalize(raw)
		if !ok {
			r.warn(path, raw, "enum value not recognised, using default")
		}
		return v

	case KindObject:
		m, ok := raw.(map[string]any)
		if !ok {
			if rec, isRec := raw.(Record); isRec {
				m, ok = rec, true
			}
		}
		if !ok {
			r.warn(path, raw, "not an object, using empty object")
			m = map[string]any{}
		}
		return r.object(path, f.Fields, m)

	case KindArray:
		items, ok := raw.([]any)
		if !ok {
			// A lone element where a list was expected.
			items = []any{raw}
		}
		out := make([]any, 0, len(items))
		for i, item := range items {
			if f.Items == nil {
				out = append(out, item)
				continue
			}
			itemPath := fmt.Sprintf("%s[%d]", path, i)
			if item == nil {
				if dv, ok := r.defaultFor(itemPath, *f.Items); ok {
					out = append(out, dv)
				}
				continue
			}
			out = append(out, r.coerce(itemPath, *f.Items, item))
		}
		return out

	default:
		return raw
	}
}

// defaultFor returns the value of an absent field. The bool is false when
// the field should stay absent.
func (r *validation) defaultFor(path string, f Field) (any, bool) {
	if f.Default != nil {
		return f.Default, true
	}
	switch f.Kind {
	case KindObject:
		r.defaulting++
		defer func() { r.defaulting-- }()
		return r.object(path, f.Fields, map[string]any{}), true
	case KindArray:
		return []any{}, true
	case KindString:
		return "", true
	case KindBool:
		return false, true
	case KindNumber, KindInteger:
		if f.Number != nil {
			return f.Number.Default, true
		}
		return 0.0, true
	case KindEnum:
		if f.Enum != nil && f.Enum.Default != "" {
			return f.Enum.Default, true
		}
		return nil, false
	default:
		return nil, false
	}
}

func (r *validation) warn(path string, raw any, msg string) {
	r.logger.Warn(msg,
		slog.String("schema", r.schema.label()),
		slog.String("field", path),
		slog.Any("value", raw),
	)
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	default:
		return false
	}
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	if name == "" {
		return path
	}
	return path + "." + name
}
