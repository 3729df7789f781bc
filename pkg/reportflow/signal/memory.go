package signal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	events   map[string]*Event
	byTarget map[string][]string // targetID -> event IDs in send order
	closed   bool
	mu       sync.RWMutex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:   make(map[string]*Event),
		byTarget: make(map[string][]string),
	}
}

// Enqueue implements Store.
func (s *MemoryStore) Enqueue(_ context.Context, event *Event) error {
	prepare(event)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, exists := s.events[event.ID]; exists {
		return fmt.Errorf("event %s already enqueued", event.ID)
	}

	s.events[event.ID] = event.Clone()
	s.byTarget[event.TargetID] = append(s.byTarget[event.TargetID], event.ID)
	return nil
}

// Pending implements Store.
func (s *MemoryStore) Pending(_ context.Context, targetID string) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var pending []*Event
	for _, id := range s.byTarget[targetID] {
		if e := s.events[id]; e != nil && e.Status == StatusPending {
			pending = append(pending, e.Clone())
		}
	}
	return pending, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, eventID string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	e, exists := s.events[eventID]
	if !exists {
		return nil, ErrEventNotFound
	}
	return e.Clone(), nil
}

// MarkProcessed implements Store.
func (s *MemoryStore) MarkProcessed(_ context.Context, eventID string) error {
	return s.mark(eventID, StatusProcessed, "")
}

// MarkFailed implements Store.
func (s *MemoryStore) MarkFailed(_ context.Context, eventID string, err error) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return s.mark(eventID, StatusFailed, msg)
}

// MarkExpired implements Store.
func (s *MemoryStore) MarkExpired(_ context.Context, eventID string) error {
	return s.mark(eventID, StatusExpired, "deadline exceeded")
}

func (s *MemoryStore) mark(eventID string, status Status, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	e, exists := s.events[eventID]
	if !exists {
		return ErrEventNotFound
	}

	now := time.Now().UTC()
	e.Status = status
	e.ProcessedAt = &now
	e.Error = msg
	return nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, targetID string) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	ids := s.byTarget[targetID]
	result := make([]*Event, 0, len(ids))
	for _, id := range ids {
		if e := s.events[id]; e != nil {
			result = append(result, e.Clone())
		}
	}
	return result, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}
