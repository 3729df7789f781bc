package checkpoint

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// SQLiteStore is a journal backed by the steps table. The schema is created
// by database.Open; the store does not own the *sql.DB.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore wraps a migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Record implements Store. The insert and the sequence assignment happen in
// one statement; a conflicting key leaves the original row untouched.
func (s *SQLiteStore) Record(runID, step string, payload []byte) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Entry{}, ErrStoreClosed
	}

	if payload == nil {
		payload = []byte{}
	}
	now := time.Now().UTC()
	res, err := s.db.Exec(`
		INSERT INTO steps (run_id, step, sequence, recorded_at, payload)
		VALUES (?, ?, (SELECT COALESCE(MAX(sequence), 0) + 1 FROM steps WHERE run_id = ?), ?, ?)
		ON CONFLICT (run_id, step) DO NOTHING
	`, runID, step, runID, now.Format(time.RFC3339Nano), payload)
	if err != nil {
		return Entry{}, fmt.Errorf("record step: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return Entry{}, fmt.Errorf("record step: %w", err)
	}

	entry, err := s.lookup(runID, step)
	if err != nil {
		return Entry{}, err
	}
	if n == 0 {
		return entry, ErrAlreadyRecorded
	}
	return entry, nil
}

// Lookup implements Store.
func (s *SQLiteStore) Lookup(runID, step string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Entry{}, ErrStoreClosed
	}
	return s.lookup(runID, step)
}

func (s *SQLiteStore) lookup(runID, step string) (Entry, error) {
	var (
		e  = Entry{RunID: runID, Step: step}
		at string
	)
	err := s.db.QueryRow(
		`SELECT sequence, recorded_at, payload FROM steps WHERE run_id = ? AND step = ?`,
		runID, step,
	).Scan(&e.Sequence, &at, &e.Payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("lookup step: %w", err)
	}
	e.RecordedAt, _ = time.Parse(time.RFC3339Nano, at)
	return e, nil
}

// List implements Store.
func (s *SQLiteStore) List(runID string) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT step, sequence, recorded_at, LENGTH(payload)
		FROM steps WHERE run_id = ? ORDER BY sequence
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	infos := []Info{}
	for rows.Next() {
		var (
			info = Info{RunID: runID}
			at   string
		)
		if err := rows.Scan(&info.Step, &info.Sequence, &at, &info.Size); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		info.RecordedAt, _ = time.Parse(time.RFC3339Nano, at)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// DeleteRun implements Store.
func (s *SQLiteStore) DeleteRun(runID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, err := s.db.Exec(`DELETE FROM steps WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return nil
}

// Close implements Store. The underlying database stays open for its owner.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}
