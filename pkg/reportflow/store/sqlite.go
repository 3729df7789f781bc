package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/randalmurphal/reportflow/pkg/reportflow/state"
)

// SQLiteStore keeps chain states and progress records as JSON documents in
// the chain_states and progress tables created by database.Open. It does not
// own the *sql.DB.
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

// timeLayout is fixed width so updated_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// LoadChainState implements Store.
func (s *SQLiteStore) LoadChainState(ctx context.Context, reportID string) (*state.ChainState, error) {
	data, err := s.loadDoc(ctx, `SELECT data FROM chain_states WHERE report_id = ?`, reportID)
	if err != nil {
		return nil, err
	}
	var cs state.ChainState
	if err := json.Unmarshal(data, &cs); err != nil {
		return nil, fmt.Errorf("decode chain state %s: %w", reportID, err)
	}
	return &cs, nil
}

// SaveChainState implements Store.
func (s *SQLiteStore) SaveChainState(ctx context.Context, cs *state.ChainState) error {
	data, err := json.Marshal(cs)
	if err != nil {
		return fmt.Errorf("encode chain state %s: %w", cs.ReportID, err)
	}
	return s.upsert(ctx, `
		INSERT INTO chain_states (report_id, status, data, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (report_id) DO UPDATE SET
			status = excluded.status, data = excluded.data, updated_at = excluded.updated_at
	`, cs.ReportID, string(cs.Status), string(data), cs.UpdatedAt.UTC().Format(timeLayout))
}

// UpdateProgress implements Store.
func (s *SQLiteStore) UpdateProgress(ctx context.Context, p state.ProgressRecord) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode progress %s: %w", p.ReportID, err)
	}
	return s.upsert(ctx, `
		INSERT INTO progress (report_id, status, data, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (report_id) DO UPDATE SET
			status = excluded.status, data = excluded.data, updated_at = excluded.updated_at
	`, p.ReportID, string(p.Status), string(data), p.UpdatedAt.UTC().Format(timeLayout))
}

// LoadProgress implements Store.
func (s *SQLiteStore) LoadProgress(ctx context.Context, reportID string) (state.ProgressRecord, error) {
	data, err := s.loadDoc(ctx, `SELECT data FROM progress WHERE report_id = ?`, reportID)
	if err != nil {
		return state.ProgressRecord{}, err
	}
	var p state.ProgressRecord
	if err := json.Unmarshal(data, &p); err != nil {
		return state.ProgressRecord{}, fmt.Errorf("decode progress %s: %w", reportID, err)
	}
	return p, nil
}

// ListByStatus implements Store.
func (s *SQLiteStore) ListByStatus(ctx context.Context, statuses ...state.Status) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	query := `SELECT report_id FROM chain_states`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (?` + strings.Repeat(`, ?`, len(statuses)-1) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY updated_at, report_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list chains: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chain: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close implements Store. The underlying database stays open for its owner.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *SQLiteStore) loadDoc(ctx context.Context, query, reportID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var data string
	err := s.db.QueryRowContext(ctx, query, reportID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", reportID, err)
	}
	return []byte(data), nil
}

func (s *SQLiteStore) upsert(ctx context.Context, query string, args ...any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("save %v: %w", args[0], err)
	}
	return nil
}

