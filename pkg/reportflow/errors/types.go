package errors

import (
	"fmt"
	"strings"
)

// RefusalError indicates the model's safety filter blocked generation.
// Retrying the same prompt is pointless.
type RefusalError struct {
	Stage      string
	StopReason string
	Message    string
}

// Error implements the error interface.
func (e *RefusalError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("stage %s: model refused (%s): %s", e.Stage, e.StopReason, e.Message)
	}
	return fmt.Sprintf("stage %s: model refused (%s)", e.Stage, e.StopReason)
}

// GatewayError wraps a transport or API failure talking to the model.
type GatewayError struct {
	Stage      string
	Op         string
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "stage %s: gateway %s failed", e.Stage, e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// DecodeError is returned when every JSON repair strategy failed and no
// default was supplied.
type DecodeError struct {
	// Context labels what was being decoded, usually the stage name.
	Context string

	// Length is the length of the original text in bytes.
	Length int

	// Head and Tail are short previews of the start and end of the text.
	Head string
	Tail string

	// Attempted lists the strategies that ran, in order.
	Attempted []string

	// Err is the last parse error.
	Err error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	label := "decode"
	if e.Context != "" {
		label += " " + e.Context
	}
	msg := fmt.Sprintf("%s: no strategy recovered JSON from %d bytes (tried %s)",
		label, e.Length, strings.Join(e.Attempted, ", "))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the last parse error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ValidationError names the required fields that were missing after decode.
type ValidationError struct {
	Schema  string
	Fields  []string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("validation error in %s: %s", e.Schema, e.Message)
	}
	return fmt.Sprintf("validation error in %s: missing required %s",
		e.Schema, strings.Join(e.Fields, ", "))
}

// StageFailure is raised when a stage exhausted its attempts. It is fatal for
// the chain.
type StageFailure struct {
	Stage    string
	Attempts int
	Last     error
}

// Error implements the error interface.
func (e *StageFailure) Error() string {
	return fmt.Sprintf("stage %s failed after %d attempt(s): %v", e.Stage, e.Attempts, e.Last)
}

// Unwrap returns the last attempt's error.
func (e *StageFailure) Unwrap() error {
	return e.Last
}
