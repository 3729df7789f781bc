// Package signal stores events sent to report chains.
//
// Events are fire-and-forget: the sender persists one and returns, and the
// chain's driver consumes it on its next pass. A chain waiting for input holds
// no goroutine; the stored event is what wakes it.
package signal

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status represents the delivery state of an event.
type Status string

// Event status constants.
const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

// Event is a message addressed to one chain.
type Event struct {
	// ID uniquely identifies this event.
	ID string `json:"id"`

	// Name is the event type, e.g. "clarification.answered".
	Name string `json:"name"`

	// TargetID is the report ID the event is sent to.
	TargetID string `json:"target_id"`

	Payload map[string]any `json:"payload,omitempty"`
	Status  Status         `json:"status"`

	SentAt time.Time `json:"sent_at"`

	// Deadline, when set, is the time after which a pending event is expired
	// instead of delivered.
	Deadline    *time.Time `json:"deadline,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`

	// Error records why processing failed.
	Error string `json:"error,omitempty"`
}

// NewEvent creates a pending event.
func NewEvent(name, targetID string, payload map[string]any) *Event {
	return &Event{
		ID:       newID(),
		Name:     name,
		TargetID: targetID,
		Payload:  payload,
		Status:   StatusPending,
		SentAt:   time.Now().UTC(),
	}
}

// WithDeadline sets the delivery deadline.
func (e *Event) WithDeadline(t time.Time) *Event {
	t = t.UTC()
	e.Deadline = &t
	return e
}

// Expired reports whether a deadline is set and has passed at now.
func (e *Event) Expired(now time.Time) bool {
	return e.Deadline != nil && now.After(*e.Deadline)
}

// String returns the payload value for key, or "" when absent or not a string.
func (e *Event) String(key string) string {
	s, _ := e.Payload[key].(string)
	return s
}

// Clone creates a deep copy of the event.
func (e *Event) Clone() *Event {
	c := *e
	if e.Payload != nil {
		c.Payload = make(map[string]any, len(e.Payload))
		for k, v := range e.Payload {
			c.Payload[k] = v
		}
	}
	if e.Deadline != nil {
		t := *e.Deadline
		c.Deadline = &t
	}
	if e.ProcessedAt != nil {
		t := *e.ProcessedAt
		c.ProcessedAt = &t
	}
	return &c
}

func newID() string {
	return "evt-" + uuid.NewString()
}

// Sentinel errors for event operations.
var (
	// ErrEventNotFound is returned when an event cannot be found.
	ErrEventNotFound = errors.New("event not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("event store closed")
)

// Store persists events.
type Store interface {
	// Enqueue adds an event. Missing ID, SentAt and Status are filled in.
	Enqueue(ctx context.Context, event *Event) error

	// Pending returns a target's pending events, oldest first.
	Pending(ctx context.Context, targetID string) ([]*Event, error)

	// Get retrieves an event by ID.
	Get(ctx context.Context, eventID string) (*Event, error)

	// MarkProcessed marks an event as consumed.
	MarkProcessed(ctx context.Context, eventID string) error

	// MarkFailed marks an event as rejected with a reason.
	MarkFailed(ctx context.Context, eventID string, err error) error

	// MarkExpired marks a pending event whose deadline passed.
	MarkExpired(ctx context.Context, eventID string) error

	// List returns all events for a target, oldest first.
	List(ctx context.Context, targetID string) ([]*Event, error)

	// Close releases resources.
	Close() error
}

func prepare(e *Event) {
	if e.ID == "" {
		e.ID = newID()
	}
	if e.SentAt.IsZero() {
		e.SentAt = time.Now().UTC()
	}
	if e.Status == "" {
		e.Status = StatusPending
	}
}
