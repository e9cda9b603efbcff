package repository

import (
	"context"
	"errors"
	"time"

	"github.com/leapingturtlefrog/Friendsly/internal/domain"
)

var (
	// ErrNotFound means no matching row exists.
	ErrNotFound = errors.New("queue entry not found")

	// ErrDuplicateEntry means the user already has a non-done row.
	ErrDuplicateEntry = errors.New("duplicate queue entry")

	// ErrConflict means a conditional update found the row in a different
	// status than expected, i.e. the caller lost a race. Callers treat it
	// as benign or retry; it is never surfaced to API clients.
	ErrConflict = errors.New("queue entry status conflict")
)

// QueueRepository is the durable record of waiting/active/done participants.
// All mutation goes through conditional transitions; there is no way to set
// a status unconditionally except the bulk go-live reset.
type QueueRepository interface {
	// Insert adds a new entry. Fails with ErrDuplicateEntry when the user
	// already has a non-done row.
	Insert(ctx context.Context, p *domain.Participant) error

	// GetOpen returns the user's non-done row, or ErrNotFound.
	GetOpen(ctx context.Context, userID string) (*domain.Participant, error)

	// FindActive returns the single active row, or nil when the slot is free.
	FindActive(ctx context.Context) (*domain.Participant, error)

	// FindOldestQueued returns the queued row with the smallest seq, or nil.
	FindOldestQueued(ctx context.Context) (*domain.Participant, error)

	// UpdateStatus conditionally transitions the user's row from one status
	// to another. Returns ErrConflict when the row is not currently in
	// `from`, or when the transition would create a second active row.
	UpdateStatus(ctx context.Context, userID string, from, to domain.Status) (*domain.Participant, error)

	// Count returns the number of rows with the given status.
	Count(ctx context.Context, status domain.Status) (int, error)

	// CountBefore returns the number of queued rows with a smaller seq.
	CountBefore(ctx context.Context, seq uint64) (int, error)

	// CloseAllOpen force-transitions every non-done row to done and returns
	// how many rows were affected. Used by the go-live reset.
	CloseAllOpen(ctx context.Context) (int, error)

	// Touch refreshes the liveness lease on the user's open row.
	Touch(ctx context.Context, userID string) error

	// FindExpiredActive returns the active fan row whose lease is older
	// than cutoff, or nil. Creator rows are exempt: the host's slot is
	// governed by go-live resets, not by the lease reaper.
	FindExpiredActive(ctx context.Context, cutoff time.Time) (*domain.Participant, error)
}
