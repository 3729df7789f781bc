// Package durable provides the execution substrate report chains run on:
// journaled steps that replay instead of re-running, and persisted events
// that a suspended chain consumes when it is next driven.
//
// Nothing here blocks waiting for input. WaitForEvent either returns a stored
// event or ErrSuspended, and the caller returns; sending an event and
// re-driving the chain is how a suspended chain resumes.
package durable

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/randalmurphal/reportflow/pkg/reportflow/checkpoint"
	"github.com/randalmurphal/reportflow/pkg/reportflow/signal"
)

// ErrSuspended is returned by WaitForEvent when no matching event is stored.
var ErrSuspended = errors.New("suspended waiting for event")

// EventNamer names the event a mode is delivered as.
type EventNamer interface {
	EventName() string
}

// StepKey identifies one journaled step.
type StepKey struct {
	RunID string
	Step  string
}

// String returns "runID/step".
func (k StepKey) String() string {
	return k.RunID + "/" + k.Step
}

// ParseStepKey parses the form produced by String.
func ParseStepKey(s string) (StepKey, error) {
	run, step, ok := strings.Cut(s, "/")
	if !ok || run == "" || step == "" {
		return StepKey{}, fmt.Errorf("invalid step key %q", s)
	}
	return StepKey{RunID: run, Step: step}, nil
}

// StepFunc computes a step's payload.
type StepFunc func(ctx context.Context) ([]byte, error)

// Engine combines a step journal and an event store.
type Engine struct {
	journal checkpoint.Store
	events  signal.Store
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock overrides the clock used for event deadlines.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine.
func New(journal checkpoint.Store, events signal.Store, opts ...Option) *Engine {
	e := &Engine{
		journal: journal,
		events:  events,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunStep returns the journaled payload for key when one exists, with
// replayed set. Otherwise it runs fn and journals the payload. If another
// writer journals the key first, that writer's payload is returned and this
// run's output is discarded. A failed fn journals nothing.
func (e *Engine) RunStep(ctx context.Context, key StepKey, fn StepFunc) (payload []byte, replayed bool, err error) {
	entry, err := e.journal.Lookup(key.RunID, key.Step)
	switch {
	case err == nil:
		e.logger.Debug("step replayed", slog.String("step_key", key.String()))
		return entry.Payload, true, nil
	case !errors.Is(err, checkpoint.ErrNotFound):
		return nil, false, fmt.Errorf("lookup %s: %w", key, err)
	}

	payload, err = fn(ctx)
	if err != nil {
		return nil, false, err
	}

	entry, err = e.journal.Record(key.RunID, key.Step, payload)
	switch {
	case errors.Is(err, checkpoint.ErrAlreadyRecorded):
		e.logger.Warn("step recorded concurrently, using first result",
			slog.String("step_key", key.String()))
		return entry.Payload, true, nil
	case err != nil:
		return nil, false, fmt.Errorf("record %s: %w", key, err)
	}
	return payload, false, nil
}

// Steps lists the journal for a run.
func (e *Engine) Steps(runID string) ([]checkpoint.Info, error) {
	return e.journal.List(runID)
}

// Forget deletes a run's journal.
func (e *Engine) Forget(runID string) error {
	return e.journal.DeleteRun(runID)
}

// EventOption configures SendEvent.
type EventOption func(*signal.Event)

// WithDeadline expires the event if it is still pending at t.
func WithDeadline(t time.Time) EventOption {
	return func(ev *signal.Event) { ev.WithDeadline(t) }
}

// SendEvent persists an event for target.
func (e *Engine) SendEvent(ctx context.Context, mode EventNamer, target string, payload map[string]any, opts ...EventOption) (*signal.Event, error) {
	if target == "" {
		return nil, errors.New("event target is required")
	}
	ev := signal.NewEvent(mode.EventName(), target, payload)
	for _, opt := range opts {
		opt(ev)
	}
	if err := e.events.Enqueue(ctx, ev); err != nil {
		return nil, fmt.Errorf("send %s: %w", ev.Name, err)
	}
	e.logger.Debug("event sent",
		slog.String("event_id", ev.ID),
		slog.String("event", ev.Name),
		slog.String("report_id", target),
	)
	return ev, nil
}

// WaitForEvent returns the oldest pending event for target named by mode that
// satisfies match (nil matches all). Pending events past their deadline are
// marked expired and skipped. With no match it returns ErrSuspended.
func (e *Engine) WaitForEvent(ctx context.Context, target string, mode EventNamer, match func(*signal.Event) bool) (*signal.Event, error) {
	pending, err := e.events.Pending(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("pending events: %w", err)
	}

	name := mode.EventName()
	now := e.now()
	for _, ev := range pending {
		if ev.Name != name {
			continue
		}
		if ev.Expired(now) {
			if err := e.events.MarkExpired(ctx, ev.ID); err != nil {
				return nil, fmt.Errorf("expire event %s: %w", ev.ID, err)
			}
			e.logger.Info("event expired", slog.String("event_id", ev.ID), slog.String("event", name))
			continue
		}
		if match == nil || match(ev) {
			return ev, nil
		}
	}
	return nil, ErrSuspended
}

// HasPending reports whether target has a pending, unexpired event for mode.
func (e *Engine) HasPending(ctx context.Context, target string, mode EventNamer) (bool, error) {
	_, err := e.WaitForEvent(ctx, target, mode, nil)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrSuspended):
		return false, nil
	default:
		return false, err
	}
}

// Ack marks an event consumed.
func (e *Engine) Ack(ctx context.Context, ev *signal.Event) error {
	if err := e.events.MarkProcessed(ctx, ev.ID); err != nil {
		return fmt.Errorf("ack %s: %w", ev.ID, err)
	}
	return nil
}

// Reject marks an event failed with reason.
func (e *Engine) Reject(ctx context.Context, ev *signal.Event, reason error) error {
	if err := e.events.MarkFailed(ctx, ev.ID, reason); err != nil {
		return fmt.Errorf("reject %s: %w", ev.ID, err)
	}
	e.logger.Info("event rejected",
		slog.String("event_id", ev.ID),
		slog.String("event", ev.Name),
		slog.Any("reason", reason),
	)
	return nil
}

// Events lists every event sent to target.
func (e *Engine) Events(ctx context.Context, target string) ([]*signal.Event, error) {
	return e.events.List(ctx, target)
}
