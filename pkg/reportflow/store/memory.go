package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/randalmurphal/reportflow/pkg/reportflow/state"
)

// MemoryStore keeps serialized records in memory, so callers never share
// pointers with it.
type MemoryStore struct {
	mu       sync.RWMutex
	states   map[string]storedState
	progress map[string]state.ProgressRecord
	closed   bool
}

type storedState struct {
	status    state.Status
	updatedAt time.Time
	data      []byte
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:   make(map[string]storedState),
		progress: make(map[string]state.ProgressRecord),
	}
}

// LoadChainState implements Store.
func (m *MemoryStore) LoadChainState(_ context.Context, reportID string) (*state.ChainState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	stored, ok := m.states[reportID]
	if !ok {
		return nil, ErrNotFound
	}
	var s state.ChainState
	if err := json.Unmarshal(stored.data, &s); err != nil {
		return nil, fmt.Errorf("decode chain state %s: %w", reportID, err)
	}
	return &s, nil
}

// SaveChainState implements Store.
func (m *MemoryStore) SaveChainState(_ context.Context, s *state.ChainState) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode chain state %s: %w", s.ReportID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	m.states[s.ReportID] = storedState{status: s.Status, updatedAt: s.UpdatedAt, data: data}
	return nil
}

// UpdateProgress implements Store.
func (m *MemoryStore) UpdateProgress(_ context.Context, p state.ProgressRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if p.Error != nil {
		e := *p.Error
		p.Error = &e
	}
	m.progress[p.ReportID] = p
	return nil
}

// LoadProgress implements Store.
func (m *MemoryStore) LoadProgress(_ context.Context, reportID string) (state.ProgressRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return state.ProgressRecord{}, ErrStoreClosed
	}
	p, ok := m.progress[reportID]
	if !ok {
		return state.ProgressRecord{}, ErrNotFound
	}
	if p.Error != nil {
		e := *p.Error
		p.Error = &e
	}
	return p, nil
}

// ListByStatus implements Store.
func (m *MemoryStore) ListByStatus(_ context.Context, statuses ...state.Status) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	set := statusSet(statuses)
	type item struct {
		id string
		at time.Time
	}
	var items []item
	for id, s := range m.states {
		if set == nil || set[s.status] {
			items = append(items, item{id: id, at: s.updatedAt})
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].at.Equal(items[j].at) {
			return items[i].id < items[j].id
		}
		return items[i].at.Before(items[j].at)
	})

	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.id
	}
	return ids, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
