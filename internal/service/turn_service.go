package service

import (
	"context"
	"errors"
	"time"

	"github.com/leapingturtlefrog/Friendsly/internal/domain"
	"github.com/leapingturtlefrog/Friendsly/internal/repository"
	"github.com/leapingturtlefrog/Friendsly/pkg/log"
	"github.com/leapingturtlefrog/Friendsly/pkg/pubsub"
)

var (
	ErrUnauthorized   = errors.New("operation not allowed for this role")
	ErrDuplicateEntry = errors.New("already in the queue")
	ErrEmpty          = errors.New("no one else in queue")
	ErrNotFound       = errors.New("not in the queue")
)

// turnServiceImpl implements TurnService. Every mutating path is expressed
// as one or more conditional transitions in the repository; there is no
// lock here, and losing a conditional update is either retried once or
// treated as "someone else already handled it".
type turnServiceImpl struct {
	repo      repository.QueueRepository
	publisher pubsub.Publisher
	leaseTTL  time.Duration
}

// NewTurnService creates a new turn coordinator.
func NewTurnService(repo repository.QueueRepository, publisher pubsub.Publisher, leaseTTL time.Duration) TurnService {
	return &turnServiceImpl{
		repo:      repo,
		publisher: publisher,
		leaseTTL:  leaseTTL,
	}
}

// GoLive clears every non-done entry left over from a previous session and
// seats the creator directly in the active slot. The creator never queues.
func (s *turnServiceImpl) GoLive(ctx context.Context, userID, name string, role domain.Role) (*domain.Participant, error) {
	l := log.Ctx(ctx)

	if role != domain.RoleCreator {
		return nil, ErrUnauthorized
	}

	closed, err := s.repo.CloseAllOpen(ctx)
	if err != nil {
		return nil, err
	}

	creator := &domain.Participant{
		UserID: userID,
		Name:   name,
		Role:   domain.RoleCreator,
		Status: domain.StatusActive,
	}
	if err := s.repo.Insert(ctx, creator); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			// A concurrent go-live re-seated the slot between the reset and
			// this insert.
			return nil, ErrDuplicateEntry
		}
		return nil, err
	}

	l.Info().Str(log.FieldUserID, userID).Int("cleared", closed).Msg("creator went live")
	s.publishStatusChange(ctx, creator, "", domain.StatusActive)
	s.publishQueueMutation(ctx)
	return creator, nil
}

// Join appends a fan to the waiting line.
func (s *turnServiceImpl) Join(ctx context.Context, userID, name string, role domain.Role) (*domain.Participant, error) {
	l := log.Ctx(ctx)

	if role != domain.RoleFan {
		return nil, ErrUnauthorized
	}

	fan := &domain.Participant{
		UserID: userID,
		Name:   name,
		Role:   domain.RoleFan,
		Status: domain.StatusQueued,
	}
	if err := s.repo.Insert(ctx, fan); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			return nil, ErrDuplicateEntry
		}
		return nil, err
	}

	l.Info().Str(log.FieldUserID, userID).Uint64(log.FieldSeq, fan.Seq).Msg("fan joined queue")
	s.publishStatusChange(ctx, fan, "", domain.StatusQueued)
	s.publishQueueMutation(ctx)
	return fan, nil
}

// PromoteNext releases the current active participant and promotes the
// oldest queued one. Both steps are conditional transitions: losing the
// release race means someone else already handled it, and losing the claim
// race is retried once before giving up with ErrEmpty so contention stays
// bounded.
func (s *turnServiceImpl) PromoteNext(ctx context.Context) (*domain.Participant, error) {
	l := log.Ctx(ctx)

	cur, err := s.repo.FindActive(ctx)
	if err != nil {
		return nil, err
	}
	if cur != nil {
		released, err := s.repo.UpdateStatus(ctx, cur.UserID, domain.StatusActive, domain.StatusDone)
		switch {
		case err == nil:
			s.publishStatusChange(ctx, released, domain.StatusActive, domain.StatusDone)
		case errors.Is(err, repository.ErrConflict):
			// Already released by a concurrent caller.
		default:
			return nil, err
		}
	}

	for attempt := 0; attempt < 2; attempt++ {
		nxt, err := s.repo.FindOldestQueued(ctx)
		if err != nil {
			return nil, err
		}
		if nxt == nil {
			return nil, ErrEmpty
		}

		promoted, err := s.repo.UpdateStatus(ctx, nxt.UserID, domain.StatusQueued, domain.StatusActive)
		if errors.Is(err, repository.ErrConflict) {
			// Another caller claimed this entry (or the slot); retry once.
			continue
		}
		if err != nil {
			return nil, err
		}

		l.Info().Str(log.FieldUserID, promoted.UserID).Uint64(log.FieldSeq, promoted.Seq).Msg("participant promoted")
		s.publishStatusChange(ctx, promoted, domain.StatusQueued, domain.StatusActive)
		s.publishQueueMutation(ctx)
		return promoted, nil
	}

	return nil, ErrEmpty
}

// Leave transitions the caller's entry to done. A second call finds no open
// row and returns nil, keeping the operation idempotent. When the departing
// entry was active, the next participant is promoted immediately so the
// slot does not sit idle.
//
// Losing the conditional update is retried once from a fresh read: the only
// forward move a queued row can make under us is a promotion to active, and
// the departure must still land even then. A conflict on the retry means
// the row reached done without us, which is the leave's goal anyway.
func (s *turnServiceImpl) Leave(ctx context.Context, userID string) error {
	l := log.Ctx(ctx)

	for attempt := 0; attempt < 2; attempt++ {
		row, err := s.repo.GetOpen(ctx, userID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			return err
		}

		prior := row.Status
		left, err := s.repo.UpdateStatus(ctx, userID, prior, domain.StatusDone)
		if errors.Is(err, repository.ErrConflict) {
			continue
		}
		if err != nil {
			return err
		}

		l.Info().Str(log.FieldUserID, userID).Str(log.FieldQueueStatus, string(prior)).Msg("participant left")
		s.publishStatusChange(ctx, left, prior, domain.StatusDone)
		s.publishQueueMutation(ctx)

		if prior == domain.StatusActive {
			if _, err := s.PromoteNext(ctx); err != nil && !errors.Is(err, ErrEmpty) {
				l.Error().Err(err).Msg("failed to promote after active participant left")
			}
		}
		return nil
	}
	return nil
}

// PositionOf computes the caller's place in line from the store.
func (s *turnServiceImpl) PositionOf(ctx context.Context, userID string) (*domain.PositionResponse, error) {
	row, err := s.repo.GetOpen(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	length, err := s.repo.Count(ctx, domain.StatusQueued)
	if err != nil {
		return nil, err
	}

	position := 0
	if row.Status == domain.StatusQueued {
		ahead, err := s.repo.CountBefore(ctx, row.Seq)
		if err != nil {
			return nil, err
		}
		position = ahead + 1
	}

	return &domain.PositionResponse{
		Position:    position,
		Status:      row.Status,
		QueueLength: length,
	}, nil
}

// QueueLength returns the number of queued participants.
func (s *turnServiceImpl) QueueLength(ctx context.Context) (int, error) {
	return s.repo.Count(ctx, domain.StatusQueued)
}

// Heartbeat refreshes the caller's liveness lease.
func (s *turnServiceImpl) Heartbeat(ctx context.Context, userID string) error {
	if err := s.repo.Touch(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// Snapshot assembles the polling backstop payload.
func (s *turnServiceImpl) Snapshot(ctx context.Context, userID string) (*domain.SnapshotResponse, error) {
	snap := &domain.SnapshotResponse{}

	length, err := s.repo.Count(ctx, domain.StatusQueued)
	if err != nil {
		return nil, err
	}
	snap.QueueLength = length

	if active, err := s.repo.FindActive(ctx); err != nil {
		return nil, err
	} else if active != nil {
		resp := active.ToResponse()
		snap.Active = &resp
	}

	row, err := s.repo.GetOpen(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return snap, nil
		}
		return nil, err
	}

	snap.InQueue = true
	snap.Status = row.Status
	if row.Status == domain.StatusQueued {
		ahead, err := s.repo.CountBefore(ctx, row.Seq)
		if err != nil {
			return nil, err
		}
		snap.Position = ahead + 1
	}
	return snap, nil
}

// publishStatusChange emits a status_changed event. Delivery is best-effort;
// failures are logged and never fail the operation, since clients poll as a
// backstop.
func (s *turnServiceImpl) publishStatusChange(ctx context.Context, p *domain.Participant, from, to domain.Status) {
	if s.publisher == nil {
		return
	}

	event, err := pubsub.NewEvent(pubsub.EventStatusChanged, p.UserID, pubsub.StatusChangedPayload{
		UserID:    p.UserID,
		Name:      p.Name,
		OldStatus: string(from),
		NewStatus: string(to),
	})
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to build status event")
		return
	}
	if err := s.publisher.Publish(ctx, pubsub.ChannelQueueEvents, event); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str(log.FieldUserID, p.UserID).Msg("failed to publish status event")
	}
}

// publishQueueMutation emits a coarse queue_mutated event for count-based
// subscribers.
func (s *turnServiceImpl) publishQueueMutation(ctx context.Context) {
	if s.publisher == nil {
		return
	}

	length, err := s.repo.Count(ctx, domain.StatusQueued)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to count queue for mutation event")
		return
	}

	event, err := pubsub.NewEvent(pubsub.EventQueueMutated, "", pubsub.QueueMutatedPayload{QueueLength: length})
	if err != nil {
		return
	}
	if err := s.publisher.Publish(ctx, pubsub.ChannelQueueEvents, event); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to publish queue mutation event")
	}
}
