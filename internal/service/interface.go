package service

import (
	"context"

	"github.com/leapingturtlefrog/Friendsly/internal/domain"
)

// TurnService is the turn coordinator: it maintains the waiting line,
// enforces that at most one participant is active, and promotes the next
// waiting participant when the active one leaves or is dismissed.
type TurnService interface {
	// GoLive resets any stale queue from a previous session and seats the
	// creator in the active slot. Creator only.
	GoLive(ctx context.Context, userID, name string, role domain.Role) (*domain.Participant, error)

	// Join appends a fan to the waiting line. Fan only.
	Join(ctx context.Context, userID, name string, role domain.Role) (*domain.Participant, error)

	// PromoteNext releases the current active participant (if any) and
	// promotes the oldest queued one. Returns ErrEmpty when no one waits.
	PromoteNext(ctx context.Context) (*domain.Participant, error)

	// Leave transitions the caller's entry to done. Idempotent: leaving
	// twice is a no-op. When the departing entry held the active slot,
	// promotion of the next participant runs as a continuation.
	Leave(ctx context.Context, userID string) error

	// PositionOf returns 0 for the active participant, otherwise
	// 1 + the number of queued entries ahead of the caller.
	PositionOf(ctx context.Context, userID string) (*domain.PositionResponse, error)

	// QueueLength returns the number of queued participants.
	QueueLength(ctx context.Context) (int, error)

	// Heartbeat refreshes the caller's liveness lease.
	Heartbeat(ctx context.Context, userID string) error

	// Snapshot is the polling backstop: the caller's own state plus the
	// queue length and current active participant, re-derived from the
	// store rather than from pushed events.
	Snapshot(ctx context.Context, userID string) (*domain.SnapshotResponse, error)

	// ReapExpiredLeases closes the active entry whose lease lapsed and
	// promotes the next participant. Called periodically by the reaper.
	ReapExpiredLeases(ctx context.Context) error
}
