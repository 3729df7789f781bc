package signal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// SQLiteStore stores events in the events table created by database.Open.
// It does not own the *sql.DB.
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

const eventColumns = `id, name, target_id, payload, status, sent_at, deadline, processed_at, error`

// Enqueue implements Store.
func (s *SQLiteStore) Enqueue(ctx context.Context, event *Event) error {
	prepare(event)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}

	var payload sql.NullString
	if event.Payload != nil {
		data, err := json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		payload = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, event.ID, event.Name, event.TargetID, payload, string(event.Status),
		formatTime(event.SentAt), formatTimePtr(event.Deadline), formatTimePtr(event.ProcessedAt),
		nullString(event.Error))
	if err != nil {
		return fmt.Errorf("enqueue event: %w", err)
	}
	return nil
}

// Pending implements Store.
func (s *SQLiteStore) Pending(ctx context.Context, targetID string) ([]*Event, error) {
	return s.query(ctx, `SELECT `+eventColumns+` FROM events
		WHERE target_id = ? AND status = ? ORDER BY sent_at, rowid`, targetID, string(StatusPending))
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, targetID string) ([]*Event, error) {
	events, err := s.query(ctx, `SELECT `+eventColumns+` FROM events
		WHERE target_id = ? ORDER BY sent_at, rowid`, targetID)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []*Event{}
	}
	return events, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, eventID string) (*Event, error) {
	events, err := s.query(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, eventID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrEventNotFound
	}
	return events[0], nil
}

// MarkProcessed implements Store.
func (s *SQLiteStore) MarkProcessed(ctx context.Context, eventID string) error {
	return s.mark(ctx, eventID, StatusProcessed, "")
}

// MarkFailed implements Store.
func (s *SQLiteStore) MarkFailed(ctx context.Context, eventID string, err error) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return s.mark(ctx, eventID, StatusFailed, msg)
}

// MarkExpired implements Store.
func (s *SQLiteStore) MarkExpired(ctx context.Context, eventID string) error {
	return s.mark(ctx, eventID, StatusExpired, "deadline exceeded")
}

func (s *SQLiteStore) mark(ctx context.Context, eventID string, status Status, msg string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET status = ?, processed_at = ?, error = ? WHERE id = ?`,
		string(status), formatTime(time.Now().UTC()), nullString(msg), eventID)
	if err != nil {
		return fmt.Errorf("mark event %s: %w", status, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark event %s: %w", status, err)
	}
	if n == 0 {
		return ErrEventNotFound
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

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanEvent(rows *sql.Rows) (*Event, error) {
	var (
		e                         Event
		status, sentAt            string
		payload, deadline, procAt sql.NullString
		errMsg                    sql.NullString
	)
	if err := rows.Scan(&e.ID, &e.Name, &e.TargetID, &payload, &status, &sentAt, &deadline, &procAt, &errMsg); err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}
	e.Status = Status(status)
	e.SentAt = parseTime(sentAt)
	e.Error = errMsg.String
	if payload.Valid {
		if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
			return nil, fmt.Errorf("decode event %s payload: %w", e.ID, err)
		}
	}
	if deadline.Valid {
		t := parseTime(deadline.String)
		e.Deadline = &t
	}
	if procAt.Valid {
		t := parseTime(procAt.String)
		e.ProcessedAt = &t
	}
	return &e, nil
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
