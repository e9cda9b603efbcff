package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/leapingturtlefrog/Friendsly/internal/domain"
	"github.com/leapingturtlefrog/Friendsly/pkg/log"
)

// GormQueueRepository implements QueueRepository using GORM.
type GormQueueRepository struct {
	db *gorm.DB
}

// NewGormQueueRepository creates a new GORM-based queue repository.
func NewGormQueueRepository(db *gorm.DB) *GormQueueRepository {
	return &GormQueueRepository{db: db}
}

// Insert adds a new entry. The database assigns a monotonically increasing
// seq, and the (user_id, open) unique index rejects a second non-done row
// for the same user, so a concurrent double-join loses at the constraint.
func (r *GormQueueRepository) Insert(ctx context.Context, p *domain.Participant) error {
	l := log.Ctx(ctx)

	if p.LastSeenAt.IsZero() {
		p.LastSeenAt = time.Now()
	}

	model := domain.ParticipantToModel(p)
	result := r.db.WithContext(ctx).Create(model)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return ErrDuplicateEntry
		}
		l.Error().Err(result.Error).Str(log.FieldUserID, p.UserID).Msg("failed to insert queue entry")
		return result.Error
	}

	p.Seq = model.Seq
	p.CreatedAt = model.CreatedAt
	l.Debug().Str(log.FieldUserID, p.UserID).Uint64(log.FieldSeq, model.Seq).Msg("queue entry inserted")
	return nil
}

// GetOpen returns the user's non-done row.
func (r *GormQueueRepository) GetOpen(ctx context.Context, userID string) (*domain.Participant, error) {
	var model domain.QueueEntryModel
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND open IS NOT NULL", userID).
		First(&model)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		log.Ctx(ctx).Error().Err(result.Error).Str(log.FieldUserID, userID).Msg("failed to get open queue entry")
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// FindActive returns the active row. The unique index on the active marker
// guarantees there is at most one.
func (r *GormQueueRepository) FindActive(ctx context.Context) (*domain.Participant, error) {
	var model domain.QueueEntryModel
	result := r.db.WithContext(ctx).
		Where("status = ?", string(domain.StatusActive)).
		First(&model)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		log.Ctx(ctx).Error().Err(result.Error).Msg("failed to find active entry")
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// FindOldestQueued returns the queued row with the smallest seq.
func (r *GormQueueRepository) FindOldestQueued(ctx context.Context) (*domain.Participant, error) {
	var model domain.QueueEntryModel
	result := r.db.WithContext(ctx).
		Where("status = ?", string(domain.StatusQueued)).
		Order("seq ASC").
		First(&model)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		log.Ctx(ctx).Error().Err(result.Error).Msg("failed to find oldest queued entry")
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// UpdateStatus performs the conditional transition that underpins every
// mutating operation: the UPDATE is guarded by the expected prior status,
// so a concurrent caller who already moved the row leaves RowsAffected at
// zero and this caller observes ErrConflict. Promoting to active also sets
// the unique active marker; if another row is already active the database
// rejects the write and that too maps to ErrConflict.
func (r *GormQueueRepository) UpdateStatus(ctx context.Context, userID string, from, to domain.Status) (*domain.Participant, error) {
	l := log.Ctx(ctx)

	if !domain.ValidTransition(from, to) {
		return nil, fmt.Errorf("invalid status transition %s -> %s", from, to)
	}

	var model domain.QueueEntryModel
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, string(from)).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConflict
		}
		l.Error().Err(err).Str(log.FieldUserID, userID).Msg("failed to read queue entry before transition")
		return nil, err
	}

	updates := map[string]interface{}{"status": string(to)}
	var doneAt time.Time
	switch to {
	case domain.StatusActive:
		updates["active"] = true
	case domain.StatusDone:
		doneAt = time.Now()
		updates["open"] = nil
		updates["active"] = nil
		updates["done_at"] = doneAt
	}

	result := r.db.WithContext(ctx).Model(&domain.QueueEntryModel{}).
		Where("user_id = ? AND status = ?", userID, string(from)).
		Updates(updates)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			// Another row already holds the active marker.
			return nil, ErrConflict
		}
		l.Error().Err(result.Error).Str(log.FieldUserID, userID).Msg("failed to update queue entry status")
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrConflict
	}

	// The guarded UPDATE is the authority on the outcome. The result is the
	// row read above with the transition it just won applied; re-reading
	// instead could miss a row a second racer has already moved onward and
	// turn a succeeded write into an error.
	p := model.ToDomain()
	p.Status = to
	if to == domain.StatusDone {
		p.DoneAt = &doneAt
	}

	l.Debug().
		Str(log.FieldUserID, userID).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("queue entry transitioned")
	return p, nil
}

// Count returns the number of rows with the given status.
func (r *GormQueueRepository) Count(ctx context.Context, status domain.Status) (int, error) {
	var count int64
	result := r.db.WithContext(ctx).Model(&domain.QueueEntryModel{}).
		Where("status = ?", string(status)).
		Count(&count)
	if result.Error != nil {
		log.Ctx(ctx).Error().Err(result.Error).Msg("failed to count queue entries")
		return 0, result.Error
	}
	return int(count), nil
}

// CountBefore returns the number of queued rows ahead of the given seq.
func (r *GormQueueRepository) CountBefore(ctx context.Context, seq uint64) (int, error) {
	var count int64
	result := r.db.WithContext(ctx).Model(&domain.QueueEntryModel{}).
		Where("status = ? AND seq < ?", string(domain.StatusQueued), seq).
		Count(&count)
	if result.Error != nil {
		log.Ctx(ctx).Error().Err(result.Error).Msg("failed to count entries before seq")
		return 0, result.Error
	}
	return int(count), nil
}

// CloseAllOpen force-transitions every non-done row to done. Used by the
// go-live reset to clear stale state from a previous session.
func (r *GormQueueRepository) CloseAllOpen(ctx context.Context) (int, error) {
	result := r.db.WithContext(ctx).Model(&domain.QueueEntryModel{}).
		Where("status <> ?", string(domain.StatusDone)).
		Updates(map[string]interface{}{
			"status":  string(domain.StatusDone),
			"open":    nil,
			"active":  nil,
			"done_at": time.Now(),
		})
	if result.Error != nil {
		log.Ctx(ctx).Error().Err(result.Error).Msg("failed to close open queue entries")
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

// Touch refreshes the liveness lease on the user's open row.
func (r *GormQueueRepository) Touch(ctx context.Context, userID string) error {
	result := r.db.WithContext(ctx).Model(&domain.QueueEntryModel{}).
		Where("user_id = ? AND open IS NOT NULL", userID).
		Update("last_seen_at", time.Now())
	if result.Error != nil {
		log.Ctx(ctx).Error().Err(result.Error).Str(log.FieldUserID, userID).Msg("failed to touch queue entry")
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// FindExpiredActive returns the active fan row whose lease lapsed before
// cutoff. Creator rows are exempt from reaping.
func (r *GormQueueRepository) FindExpiredActive(ctx context.Context, cutoff time.Time) (*domain.Participant, error) {
	var model domain.QueueEntryModel
	result := r.db.WithContext(ctx).
		Where("status = ? AND role = ? AND last_seen_at < ?",
			string(domain.StatusActive), string(domain.RoleFan), cutoff).
		First(&model)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		log.Ctx(ctx).Error().Err(result.Error).Msg("failed to find expired active entry")
		return nil, result.Error
	}
	return model.ToDomain(), nil
}
