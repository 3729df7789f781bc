package reportflow

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/reportflow/pkg/reportflow/store"
)

// Sentinel errors for graph building and compilation.
var (
	// ErrEmptyGraph indicates Compile() was called on a graph with no stages.
	ErrEmptyGraph = errors.New("graph has no stages")

	// ErrDuplicateStage indicates two stages share a name.
	ErrDuplicateStage = errors.New("duplicate stage name")

	// ErrInvalidStage indicates a stage definition failed validation.
	ErrInvalidStage = errors.New("invalid stage definition")

	// ErrMultipleClarifying indicates more than one stage may ask the user a question.
	ErrMultipleClarifying = errors.New("more than one clarifying stage")

	// ErrStageNotFound indicates a lookup for a stage the graph does not contain.
	ErrStageNotFound = errors.New("stage not found")
)

// Sentinel errors for the service API.
var (
	// ErrNotFound indicates no chain exists for the report ID.
	ErrNotFound = store.ErrNotFound

	// ErrAlreadyExists indicates StartChain was given a report ID already in use.
	ErrAlreadyExists = errors.New("report already exists")

	// ErrNotClarifying indicates an answer was sent to a chain that is not
	// waiting for one.
	ErrNotClarifying = errors.New("report is not awaiting clarification")

	// ErrEmptyAnswer indicates a blank clarification answer.
	ErrEmptyAnswer = errors.New("clarification answer is empty")

	// ErrClosed indicates the service has been closed.
	ErrClosed = errors.New("service closed")

	// ErrUnexpectedStep indicates the persisted completed steps are not a prefix
	// of the graph's stage order.
	ErrUnexpectedStep = errors.New("completed steps do not match the stage graph")
)

// PanicError captures a panic raised while running a stage.
// It includes the stack trace for debugging.
type PanicError struct {
	// Stage is the stage that panicked.
	Stage string
	// Value is the value passed to panic().
	Value any
	// Stack is the full stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("stage %s panicked: %v", e.Stage, e.Value)
}

// StepError wraps a failure from the durable step journal or the chain store.
type StepError struct {
	// ReportID is the chain being driven.
	ReportID string
	// Stage is the stage being run, if any.
	Stage string
	// Op is the operation that failed ("load", "save", "journal", "events").
	Op string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("report %s: %s: %v", e.ReportID, e.Op, e.Err)
	}
	return fmt.Sprintf("report %s: stage %s: %s: %v", e.ReportID, e.Stage, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StepError) Unwrap() error {
	return e.Err
}
