// Package store persists chain states and their progress records.
package store

import (
	"context"
	"errors"

	"github.com/randalmurphal/reportflow/pkg/reportflow/state"
)

// Store persists chain state. Each call is atomic, and implementations never
// retain or return pointers shared with the caller.
type Store interface {
	// LoadChainState returns the stored state or ErrNotFound.
	LoadChainState(ctx context.Context, reportID string) (*state.ChainState, error)

	// SaveChainState inserts or replaces a chain's state.
	SaveChainState(ctx context.Context, s *state.ChainState) error

	// UpdateProgress inserts or replaces a progress record.
	UpdateProgress(ctx context.Context, p state.ProgressRecord) error

	// LoadProgress returns the progress record or ErrNotFound.
	LoadProgress(ctx context.Context, reportID string) (state.ProgressRecord, error)

	// ListByStatus returns the IDs of chains in any of statuses, oldest update
	// first. No statuses lists every chain.
	ListByStatus(ctx context.Context, statuses ...state.Status) ([]string, error)

	Close() error
}

// Sentinel errors.
var (
	// ErrNotFound indicates no record exists for the report.
	ErrNotFound = errors.New("report not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("store closed")
)

func statusSet(statuses []state.Status) map[state.Status]bool {
	if len(statuses) == 0 {
		return nil
	}
	set := make(map[state.Status]bool, len(statuses))
	for _, s := range statuses {
		set[s] = true
	}
	return set
}
