package prompt

// MissingAction specifies how to handle missing variables.
type MissingAction int

const (
	// MissingKeep keeps the placeholder as-is when the variable is not found.
	// This is the default behavior.
	MissingKeep MissingAction = iota

	// MissingEmpty replaces the placeholder with an empty string.
	MissingEmpty

	// MissingError returns an error when a variable is not found.
	MissingError
)

// Option configures an Expander.
type Option func(*Expander)

// WithMissingAction sets how missing variables are handled.
//
// Default: MissingKeep
func WithMissingAction(action MissingAction) Option {
	return func(e *Expander) {
		e.missingAction = action
	}
}

// WithCompactJSON renders objects and arrays on one line instead of indented.
func WithCompactJSON() Option {
	return func(e *Expander) {
		e.compact = true
	}
}

// WithMaxValueLen truncates any single inserted value to n bytes.
// Zero means unlimited.
func WithMaxValueLen(n int) Option {
	return func(e *Expander) {
		e.maxValueLen = n
	}
}
