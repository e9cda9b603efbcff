package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/leapingturtlefrog/Friendsly/internal/domain"
	"github.com/leapingturtlefrog/Friendsly/internal/repository"
)

func newTestRepo(t *testing.T) (*repository.GormQueueRepository, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	// A single connection keeps the in-memory database shared and
	// serializes concurrent test traffic the way a server-side pool would.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&domain.QueueEntryModel{}))
	return repository.NewGormQueueRepository(db), db
}

func insertFan(t *testing.T, repo *repository.GormQueueRepository, userID, name string) *domain.Participant {
	t.Helper()
	p := &domain.Participant{
		UserID: userID,
		Name:   name,
		Role:   domain.RoleFan,
		Status: domain.StatusQueued,
	}
	require.NoError(t, repo.Insert(context.Background(), p))
	return p
}

func TestInsert(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns increasing seq", func(t *testing.T) {
		repo, _ := newTestRepo(t)

		a := insertFan(t, repo, "fan-a", "Alice")
		b := insertFan(t, repo, "fan-b", "Bob")

		assert.Less(t, a.Seq, b.Seq)
	})

	t.Run("rejects duplicate open entry", func(t *testing.T) {
		repo, _ := newTestRepo(t)

		insertFan(t, repo, "fan-a", "Alice")
		err := repo.Insert(ctx, &domain.Participant{
			UserID: "fan-a",
			Name:   "Alice again",
			Role:   domain.RoleFan,
			Status: domain.StatusQueued,
		})

		assert.ErrorIs(t, err, repository.ErrDuplicateEntry)

		count, err := repo.Count(ctx, domain.StatusQueued)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("allows rejoin after done", func(t *testing.T) {
		repo, _ := newTestRepo(t)

		insertFan(t, repo, "fan-a", "Alice")
		_, err := repo.UpdateStatus(ctx, "fan-a", domain.StatusQueued, domain.StatusDone)
		require.NoError(t, err)

		err = repo.Insert(ctx, &domain.Participant{
			UserID: "fan-a",
			Name:   "Alice",
			Role:   domain.RoleFan,
			Status: domain.StatusQueued,
		})
		assert.NoError(t, err)
	})
}

func TestFindOldestQueued(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	oldest, err := repo.FindOldestQueued(ctx)
	require.NoError(t, err)
	assert.Nil(t, oldest)

	insertFan(t, repo, "fan-a", "Alice")
	insertFan(t, repo, "fan-b", "Bob")

	oldest, err = repo.FindOldestQueued(ctx)
	require.NoError(t, err)
	require.NotNil(t, oldest)
	assert.Equal(t, "fan-a", oldest.UserID)

	// Moving the head out of queued exposes the next entry.
	_, err = repo.UpdateStatus(ctx, "fan-a", domain.StatusQueued, domain.StatusActive)
	require.NoError(t, err)

	oldest, err = repo.FindOldestQueued(ctx)
	require.NoError(t, err)
	require.NotNil(t, oldest)
	assert.Equal(t, "fan-b", oldest.UserID)
}

func TestUpdateStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("conditional on expected prior status", func(t *testing.T) {
		repo, _ := newTestRepo(t)
		insertFan(t, repo, "fan-a", "Alice")

		promoted, err := repo.UpdateStatus(ctx, "fan-a", domain.StatusQueued, domain.StatusActive)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusActive, promoted.Status)

		// The row is no longer queued, so the same transition conflicts.
		_, err = repo.UpdateStatus(ctx, "fan-a", domain.StatusQueued, domain.StatusActive)
		assert.ErrorIs(t, err, repository.ErrConflict)
	})

	t.Run("second active row is impossible", func(t *testing.T) {
		repo, _ := newTestRepo(t)
		insertFan(t, repo, "fan-a", "Alice")
		insertFan(t, repo, "fan-b", "Bob")

		_, err := repo.UpdateStatus(ctx, "fan-a", domain.StatusQueued, domain.StatusActive)
		require.NoError(t, err)

		_, err = repo.UpdateStatus(ctx, "fan-b", domain.StatusQueued, domain.StatusActive)
		assert.ErrorIs(t, err, repository.ErrConflict)

		active, err := repo.FindActive(ctx)
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, "fan-a", active.UserID)
	})

	t.Run("success survives the row moving on immediately", func(t *testing.T) {
		repo, db := newTestRepo(t)
		insertFan(t, repo, "fan-a", "Alice")

		// Right after the guarded UPDATE, another writer closes the row.
		// The transition already succeeded, so it must still report the
		// participant it promoted rather than a lookup failure.
		stolen := false
		require.NoError(t, db.Callback().Update().After("gorm:update").Register("steal_row", func(tx *gorm.DB) {
			if stolen || tx.Statement.Table != "queue_entries" {
				return
			}
			stolen = true
			_, execErr := tx.Statement.ConnPool.ExecContext(tx.Statement.Context,
				`UPDATE queue_entries SET status = 'done', open = NULL, active = NULL WHERE user_id = 'fan-a'`)
			require.NoError(t, execErr)
		}))

		promoted, err := repo.UpdateStatus(ctx, "fan-a", domain.StatusQueued, domain.StatusActive)
		require.NoError(t, err)
		assert.True(t, stolen)
		assert.Equal(t, "fan-a", promoted.UserID)
		assert.Equal(t, domain.StatusActive, promoted.Status)
	})

	t.Run("rejects backward transition", func(t *testing.T) {
		repo, _ := newTestRepo(t)
		insertFan(t, repo, "fan-a", "Alice")

		_, err := repo.UpdateStatus(ctx, "fan-a", domain.StatusDone, domain.StatusQueued)
		assert.Error(t, err)
	})

	t.Run("done clears markers", func(t *testing.T) {
		repo, db := newTestRepo(t)
		insertFan(t, repo, "fan-a", "Alice")

		_, err := repo.UpdateStatus(ctx, "fan-a", domain.StatusQueued, domain.StatusActive)
		require.NoError(t, err)
		done, err := repo.UpdateStatus(ctx, "fan-a", domain.StatusActive, domain.StatusDone)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusDone, done.Status)
		assert.NotNil(t, done.DoneAt)

		var model domain.QueueEntryModel
		require.NoError(t, db.Where("user_id = ?", "fan-a").First(&model).Error)
		assert.Nil(t, model.Open)
		assert.Nil(t, model.Active)
	})
}

func TestCounts(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	a := insertFan(t, repo, "fan-a", "Alice")
	b := insertFan(t, repo, "fan-b", "Bob")
	c := insertFan(t, repo, "fan-c", "Cara")

	count, err := repo.Count(ctx, domain.StatusQueued)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	ahead, err := repo.CountBefore(ctx, a.Seq)
	require.NoError(t, err)
	assert.Equal(t, 0, ahead)

	ahead, err = repo.CountBefore(ctx, b.Seq)
	require.NoError(t, err)
	assert.Equal(t, 1, ahead)

	ahead, err = repo.CountBefore(ctx, c.Seq)
	require.NoError(t, err)
	assert.Equal(t, 2, ahead)
}

func TestCloseAllOpen(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	insertFan(t, repo, "fan-a", "Alice")
	insertFan(t, repo, "fan-b", "Bob")
	_, err := repo.UpdateStatus(ctx, "fan-a", domain.StatusQueued, domain.StatusActive)
	require.NoError(t, err)

	closed, err := repo.CloseAllOpen(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, closed)

	count, err := repo.Count(ctx, domain.StatusQueued)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	active, err := repo.FindActive(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestLease(t *testing.T) {
	ctx := context.Background()

	t.Run("touch refreshes open entries only", func(t *testing.T) {
		repo, _ := newTestRepo(t)
		insertFan(t, repo, "fan-a", "Alice")

		assert.NoError(t, repo.Touch(ctx, "fan-a"))
		assert.ErrorIs(t, repo.Touch(ctx, "fan-ghost"), repository.ErrNotFound)
	})

	t.Run("expired active fan is found, creator is exempt", func(t *testing.T) {
		repo, db := newTestRepo(t)

		require.NoError(t, repo.Insert(ctx, &domain.Participant{
			UserID: "creator-1",
			Name:   "Host",
			Role:   domain.RoleCreator,
			Status: domain.StatusActive,
		}))

		stale := time.Now().Add(-time.Minute)
		require.NoError(t, db.Model(&domain.QueueEntryModel{}).
			Where("user_id = ?", "creator-1").
			Update("last_seen_at", stale).Error)

		expired, err := repo.FindExpiredActive(ctx, time.Now().Add(-30*time.Second))
		require.NoError(t, err)
		assert.Nil(t, expired)

		// Replace the creator with a stale fan.
		_, err = repo.UpdateStatus(ctx, "creator-1", domain.StatusActive, domain.StatusDone)
		require.NoError(t, err)
		insertFan(t, repo, "fan-a", "Alice")
		_, err = repo.UpdateStatus(ctx, "fan-a", domain.StatusQueued, domain.StatusActive)
		require.NoError(t, err)
		require.NoError(t, db.Model(&domain.QueueEntryModel{}).
			Where("user_id = ?", "fan-a").
			Update("last_seen_at", stale).Error)

		expired, err = repo.FindExpiredActive(ctx, time.Now().Add(-30*time.Second))
		require.NoError(t, err)
		require.NotNil(t, expired)
		assert.Equal(t, "fan-a", expired.UserID)
	})
}
