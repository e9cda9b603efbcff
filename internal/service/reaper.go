package service

import (
	"context"
	"errors"
	"time"

	"github.com/leapingturtlefrog/Friendsly/internal/domain"
	"github.com/leapingturtlefrog/Friendsly/internal/repository"
	"github.com/leapingturtlefrog/Friendsly/pkg/log"
)

// ReapExpiredLeases closes the active fan entry whose lease lapsed and
// promotes the next participant. Disconnect signaling is best-effort only
// (a closed tab may never call leave), so this is the server-side backstop
// that keeps a vanished client from holding the slot. The close is a
// conditional transition, so the reaper cannot race a genuine leave into a
// double release.
func (s *turnServiceImpl) ReapExpiredLeases(ctx context.Context) error {
	l := log.Ctx(ctx)

	cutoff := time.Now().Add(-s.leaseTTL)
	expired, err := s.repo.FindExpiredActive(ctx, cutoff)
	if err != nil {
		return err
	}
	if expired == nil {
		return nil
	}

	released, err := s.repo.UpdateStatus(ctx, expired.UserID, domain.StatusActive, domain.StatusDone)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// The participant left (or was dismissed) in the meantime.
			return nil
		}
		return err
	}

	l.Info().
		Str(log.FieldUserID, released.UserID).
		Time("last_seen_at", released.LastSeenAt).
		Msg("evicted stale active participant")
	s.publishStatusChange(ctx, released, domain.StatusActive, domain.StatusDone)
	s.publishQueueMutation(ctx)

	if _, err := s.PromoteNext(ctx); err != nil && !errors.Is(err, ErrEmpty) {
		return err
	}
	return nil
}

// RunLeaseReaper periodically reaps expired leases until ctx is cancelled.
func RunLeaseReaper(ctx context.Context, svc TurnService, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := svc.ReapExpiredLeases(ctx); err != nil {
				log.L().Error().Err(err).Msg("lease reaper pass failed")
			}
		}
	}
}
