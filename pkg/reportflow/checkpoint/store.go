// Package checkpoint is the step journal behind durable execution. Each
// completed step's output is recorded once under its key; a replayed step
// reads the recorded payload instead of running again.
package checkpoint

import (
	"errors"
	"time"
)

// Store persists step results.
// Implementations must be safe for concurrent use.
type Store interface {
	// Record stores the payload for (runID, step) if no entry exists.
	// When one does, the existing entry is returned with ErrAlreadyRecorded
	// and the new payload is discarded, so the first writer wins.
	Record(runID, step string, payload []byte) (Entry, error)

	// Lookup retrieves a recorded step.
	// Returns ErrNotFound if the step was never recorded.
	Lookup(runID, step string) (Entry, error)

	// List returns all entries for a run, ordered by sequence.
	// Returns an empty slice (not error) if the run has no entries.
	List(runID string) ([]Info, error)

	// DeleteRun removes all entries for a run.
	DeleteRun(runID string) error

	// Close releases resources. Later calls return ErrStoreClosed.
	Close() error
}

// Entry is one recorded step.
type Entry struct {
	RunID      string
	Step       string
	Sequence   int
	RecordedAt time.Time
	Payload    []byte
}

// Info describes an entry without its payload.
type Info struct {
	RunID      string
	Step       string
	Sequence   int
	RecordedAt time.Time
	Size       int64
}

// Sentinel errors for journal operations.
var (
	// ErrNotFound indicates a step has not been recorded.
	ErrNotFound = errors.New("step not recorded")

	// ErrAlreadyRecorded indicates a concurrent writer recorded the step first.
	ErrAlreadyRecorded = errors.New("step already recorded")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")
)

func (e Entry) info() Info {
	return Info{
		RunID:      e.RunID,
		Step:       e.Step,
		Sequence:   e.Sequence,
		RecordedAt: e.RecordedAt,
		Size:       int64(len(e.Payload)),
	}
}

func clonePayload(p []byte) []byte {
	out := make([]byte, len(p))
	copy(out, p)
	return out
}
