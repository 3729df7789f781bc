package checkpoint

import (
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory journal for tests and single-process use.
// Data is lost when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]map[string]Entry // runID -> step -> entry
	closed bool
	now    func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory journal.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]map[string]Entry),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Record implements Store.
func (m *MemoryStore) Record(runID, step string, payload []byte) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Entry{}, ErrStoreClosed
	}

	run := m.data[runID]
	if run == nil {
		run = make(map[string]Entry)
		m.data[runID] = run
	}

	if existing, ok := run[step]; ok {
		existing.Payload = clonePayload(existing.Payload)
		return existing, ErrAlreadyRecorded
	}

	seq := 1
	for _, e := range run {
		if e.Sequence >= seq {
			seq = e.Sequence + 1
		}
	}

	entry := Entry{
		RunID:      runID,
		Step:       step,
		Sequence:   seq,
		RecordedAt: m.now(),
		Payload:    clonePayload(payload),
	}
	run[step] = entry

	entry.Payload = clonePayload(entry.Payload)
	return entry, nil
}

// Lookup implements Store.
func (m *MemoryStore) Lookup(runID, step string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Entry{}, ErrStoreClosed
	}

	e, ok := m.data[runID][step]
	if !ok {
		return Entry{}, ErrNotFound
	}
	e.Payload = clonePayload(e.Payload)
	return e, nil
}

// List implements Store.
func (m *MemoryStore) List(runID string) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	run := m.data[runID]
	infos := make([]Info, 0, len(run))
	for _, e := range run {
		infos = append(infos, e.info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Sequence < infos[j].Sequence
	})
	return infos, nil
}

// DeleteRun implements Store.
func (m *MemoryStore) DeleteRun(runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	delete(m.data, runID)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.data = nil
	return nil
}

// Len returns the number of entries across all runs.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, run := range m.data {
		count += len(run)
	}
	return count
}
