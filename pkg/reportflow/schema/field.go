// Package schema validates and normalizes decoded model output.
//
// Schemas are deliberately permissive. Output that is semantically right
// but syntactically off is accepted: enum values are matched loosely,
// numbers are pulled out of strings and clamped, missing optional objects
// and arrays are filled with empty values, and unknown fields are kept.
// Only a missing required field with no default fails validation.
package schema

// Kind is the expected shape of a field.
type Kind int

const (
	KindAny Kind = iota
	KindString
	KindNumber
	KindInteger
	KindBool
	KindEnum
	KindObject
	KindArray
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindInteger:
		return "integer"
	case KindBool:
		return "bool"
	case KindEnum:
		return "enum"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return "any"
	}
}

// Field describes one member of an object.
type Field struct {
	Name     string
	Kind     Kind
	Required bool

	// Aliases are alternative keys the model sometimes uses. The value is
	// moved to Name when Name itself is absent.
	Aliases []string

	// Default replaces an absent value. When nil, objects default to {} with
	// their own defaults applied and arrays default to [].
	Default any

	Enum   *EnumSpec
	Number *NumberSpec

	// Fields are the members of an object field.
	Fields []Field

	// Items describes each element of an array field.
	Items *Field
}

// String declares a string field.
func String(name string) Field {
	return Field{Name: name, Kind: KindString}
}

// Bool declares a boolean field.
func Bool(name string) Field {
	return Field{Name: name, Kind: KindBool}
}

// Any declares a field that is passed through unchanged.
func Any(name string) Field {
	return Field{Name: name, Kind: KindAny}
}

// Number declares a float field clamped to [lo, hi] that falls back to def.
func Number(name string, lo, hi, def float64) Field {
	return Field{Name: name, Kind: KindNumber, Number: Range(lo, hi, def)}
}

// Integer declares a whole-number field clamped to [lo, hi] that falls back to def.
func Integer(name string, lo, hi, def float64) Field {
	return Field{Name: name, Kind: KindInteger, Number: Range(lo, hi, def)}
}

// Enum declares an enumerated field.
func Enum(name string, spec *EnumSpec) Field {
	return Field{Name: name, Kind: KindEnum, Enum: spec}
}

// Object declares a nested object field.
func Object(name string, fields ...Field) Field {
	return Field{Name: name, Kind: KindObject, Fields: fields}
}

// Array declares an array field whose elements match items.
func Array(name string, items Field) Field {
	return Field{Name: name, Kind: KindArray, Items: &items}
}

// Strings declares an array of strings.
func Strings(name string) Field {
	return Array(name, String(""))
}

// Objects declares an array of objects with the given members.
func Objects(name string, fields ...Field) Field {
	return Array(name, Object("", fields...))
}

// AsRequired marks the field required.
func (f Field) AsRequired() Field {
	f.Required = true
	return f
}

// WithAliases adds alternative keys for the field.
func (f Field) WithAliases(aliases ...string) Field {
	f.Aliases = append(append([]string(nil), f.Aliases...), aliases...)
	return f
}

// WithDefault sets the value used when the field is absent.
func (f Field) WithDefault(v any) Field {
	f.Default = v
	return f
}
