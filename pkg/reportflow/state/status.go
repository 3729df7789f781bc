package state

import (
	"fmt"
	"time"
)

// Status is the lifecycle position of a report chain.
type Status string

const (
	StatusCreated    Status = "created"
	StatusRunning    Status = "running"
	StatusClarifying Status = "clarifying"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusRunning, StatusClarifying, StatusComplete, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ParseStatus converts a string to a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

// ChainError records why a chain failed.
type ChainError struct {
	Kind        string `json:"kind"`
	Stage       string `json:"stage,omitempty"`
	Message     string `json:"message"`
	UserMessage string `json:"user_message"`
}

// ProgressRecord is the externally visible summary of a chain. It is written
// after every transition and never read back by the orchestrator.
type ProgressRecord struct {
	ReportID              string      `json:"report_id"`
	Status                Status      `json:"status"`
	CurrentStep           string      `json:"current_step"`
	PhaseProgress         int         `json:"phase_progress"`
	OverallProgress       int         `json:"overall_progress"`
	Title                 string      `json:"title,omitempty"`
	Headline              string      `json:"headline,omitempty"`
	ClarificationQuestion string      `json:"clarification_question,omitempty"`
	Error                 *ChainError `json:"error,omitempty"`
	UpdatedAt             time.Time   `json:"updated_at"`
}
