// Package state defines the durable record of one report chain.
//
// A ChainState is base identity plus an append-only list of stage outputs.
// Per-stage namespaces are rebuilt from that list on read, so the set of
// completed steps cannot diverge from the outputs that justify it.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/reportflow/pkg/reportflow/gateway"
	"github.com/randalmurphal/reportflow/pkg/reportflow/schema"
)

// Sentinel errors.
var (
	// ErrInvalidReportID is returned when a report ID is not a UUID.
	ErrInvalidReportID = errors.New("report id must be a UUID")

	// ErrEmptyInput is returned when the user input is blank.
	ErrEmptyInput = errors.New("user input is empty")

	// ErrDuplicateStage is returned when a stage output is appended twice.
	ErrDuplicateStage = errors.New("stage already completed")
)

// Identity names the report and who asked for it. It never changes.
type Identity struct {
	ReportID       string `json:"report_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	AccountID      string `json:"account_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
}

// StageOutput is one completed stage's validated payload.
type StageOutput struct {
	Stage       string        `json:"stage"`
	Payload     schema.Record `json:"payload"`
	Usage       gateway.Usage `json:"usage"`
	Strategy    string        `json:"strategy,omitempty"`
	Attempts    int           `json:"attempts,omitempty"`
	Truncated   bool          `json:"truncated,omitempty"`
	Fallback    bool          `json:"fallback,omitempty"`
	CompletedAt time.Time     `json:"completed_at"`
}

// ChainState is the persisted state of one report chain.
type ChainState struct {
	Identity

	UserInput string `json:"user_input"`

	NeedsClarification    bool   `json:"needs_clarification"`
	ClarificationQuestion string `json:"clarification_question,omitempty"`
	ClarificationAnswer   string `json:"clarification_answer,omitempty"`
	ClarificationCount    int    `json:"clarification_count"`

	Status      Status      `json:"status"`
	CurrentStep string      `json:"current_step,omitempty"`
	Error       *ChainError `json:"error,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`

	// Usage is cumulative across every call, including retries and calls
	// interrupted by cancellation.
	Usage gateway.Usage `json:"usage"`

	outputs []StageOutput
}

// New creates a chain in StatusCreated.
func New(id Identity, userInput string, now time.Time) (*ChainState, error) {
	if _, err := uuid.Parse(id.ReportID); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidReportID, id.ReportID)
	}
	if strings.TrimSpace(userInput) == "" {
		return nil, ErrEmptyInput
	}
	return &ChainState{
		Identity:  id,
		UserInput: userInput,
		Status:    StatusCreated,
		StartedAt: now,
		UpdatedAt: now,
	}, nil
}

// Append records a stage's output. A stage can be appended only once.
func (s *ChainState) Append(out StageOutput) error {
	if out.Stage == "" {
		return errors.New("stage output has no stage name")
	}
	if s.HasCompleted(out.Stage) {
		return fmt.Errorf("%w: %s", ErrDuplicateStage, out.Stage)
	}
	if out.Payload == nil {
		out.Payload = schema.Record{}
	} else {
		out.Payload = out.Payload.Clone()
	}
	s.outputs = append(s.outputs, out)
	return nil
}

// Outputs returns the stage outputs in completion order.
func (s *ChainState) Outputs() []StageOutput {
	out := make([]StageOutput, len(s.outputs))
	for i, o := range s.outputs {
		o.Payload = o.Payload.Clone()
		out[i] = o
	}
	return out
}

// CompletedSteps returns the completed stage names in order.
func (s *ChainState) CompletedSteps() []string {
	steps := make([]string, len(s.outputs))
	for i, o := range s.outputs {
		steps[i] = o.Stage
	}
	return steps
}

// HasCompleted reports whether stage has an output.
func (s *ChainState) HasCompleted(stage string) bool {
	for _, o := range s.outputs {
		if o.Stage == stage {
			return true
		}
	}
	return false
}

// Output returns a copy of a stage's payload.
func (s *ChainState) Output(stage string) (schema.Record, bool) {
	for _, o := range s.outputs {
		if o.Stage == stage {
			return o.Payload.Clone(), true
		}
	}
	return nil, false
}

// Field looks up a dotted path whose first segment is a stage name,
// e.g. "an0.title" or "an3.concepts.0.name".
func (s *ChainState) Field(path string) (any, bool) {
	stage, rest, ok := strings.Cut(path, ".")
	if !ok {
		return nil, false
	}
	for _, o := range s.outputs {
		if o.Stage == stage {
			return o.Payload.Get(rest)
		}
	}
	return nil, false
}

// String returns the string at a stage-qualified path, or "".
func (s *ChainState) String(path string) string {
	stage, rest, ok := strings.Cut(path, ".")
	if !ok {
		return ""
	}
	rec, found := s.Output(stage)
	if !found {
		return ""
	}
	return rec.String(rest)
}

// AddUsage adds to the cumulative usage.
func (s *ChainState) AddUsage(u gateway.Usage) {
	s.Usage.Add(u)
}

// View returns the state as nested maps for prompt rendering and API output.
// Each completed stage appears under its own name.
func (s *ChainState) View() map[string]any {
	v := map[string]any{
		"report_id":            s.ReportID,
		"user_input":           s.UserInput,
		"clarification_answer": s.ClarificationAnswer,
		"clarification_count":  s.ClarificationCount,
	}
	for _, o := range s.outputs {
		v[o.Stage] = map[string]any(o.Payload.Clone())
	}
	return v
}

// Clone returns a deep copy.
func (s *ChainState) Clone() *ChainState {
	if s == nil {
		return nil
	}
	cp := *s
	if s.Error != nil {
		e := *s.Error
		cp.Error = &e
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		cp.CompletedAt = &t
	}
	cp.outputs = s.Outputs()
	return &cp
}

// Decode unmarshals a stage's payload into T.
func Decode[T any](s *ChainState, stage string) (T, error) {
	var out T
	rec, ok := s.Output(stage)
	if !ok {
		return out, fmt.Errorf("stage %s has no output", stage)
	}
	if err := rec.Decode(&out); err != nil {
		return out, fmt.Errorf("decode %s output: %w", stage, err)
	}
	return out, nil
}

type stateAlias ChainState

type stateJSON struct {
	*stateAlias
	Outputs        []StageOutput `json:"outputs"`
	CompletedSteps []string      `json:"completed_steps"`
}

// MarshalJSON includes the outputs and the derived completed steps.
func (s ChainState) MarshalJSON() ([]byte, error) {
	outputs := s.outputs
	if outputs == nil {
		outputs = []StageOutput{}
	}
	return json.Marshal(stateJSON{
		stateAlias:     (*stateAlias)(&s),
		Outputs:        outputs,
		CompletedSteps: s.CompletedSteps(),
	})
}

// UnmarshalJSON restores the outputs. completed_steps is ignored on read
// since it is derived.
func (s *ChainState) UnmarshalJSON(data []byte) error {
	aux := stateJSON{stateAlias: (*stateAlias)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.outputs = nil
	for _, o := range aux.Outputs {
		if err := s.Append(o); err != nil {
			return fmt.Errorf("restore outputs: %w", err)
		}
	}
	return nil
}
