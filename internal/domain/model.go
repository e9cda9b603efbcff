package domain

import (
	"time"
)

// QueueEntryModel is the GORM model for the queue_entries table.
//
// Two nullable marker columns turn the queue's structural rules into
// database constraints rather than conventions:
//
//   - Open is non-NULL while status != done and participates in a unique
//     index with UserID, so a user can have at most one non-done row.
//   - Active is non-NULL only while status = active and carries its own
//     unique index, so at most one row is ever active. A racing promotion
//     hits a unique-constraint violation instead of creating a second
//     active row.
//
// Rows are never deleted; done is terminal and both markers go NULL,
// freeing the indexes for the user's next session.
type QueueEntryModel struct {
	Seq        uint64 `gorm:"primaryKey;autoIncrement"`
	UserID     string `gorm:"type:varchar(36);index;not null;uniqueIndex:idx_queue_entries_open"`
	Name       string `gorm:"type:varchar(100);not null"`
	Role       string `gorm:"type:varchar(10);not null"`
	Status     string `gorm:"type:varchar(10);index;not null;default:'queued'"`
	Open       *bool  `gorm:"uniqueIndex:idx_queue_entries_open"`
	Active     *bool  `gorm:"uniqueIndex"`
	LastSeenAt time.Time
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	DoneAt     *time.Time
}

// TableName specifies the table name for QueueEntryModel.
func (QueueEntryModel) TableName() string {
	return "queue_entries"
}

// ToDomain converts QueueEntryModel to a domain Participant.
func (m *QueueEntryModel) ToDomain() *Participant {
	return &Participant{
		Seq:        m.Seq,
		UserID:     m.UserID,
		Name:       m.Name,
		Role:       Role(m.Role),
		Status:     Status(m.Status),
		LastSeenAt: m.LastSeenAt,
		CreatedAt:  m.CreatedAt,
		DoneAt:     m.DoneAt,
	}
}

// ParticipantToModel converts a domain Participant to its GORM model,
// deriving the Open and Active markers from the status.
func ParticipantToModel(p *Participant) *QueueEntryModel {
	m := &QueueEntryModel{
		Seq:        p.Seq,
		UserID:     p.UserID,
		Name:       p.Name,
		Role:       string(p.Role),
		Status:     string(p.Status),
		LastSeenAt: p.LastSeenAt,
		CreatedAt:  p.CreatedAt,
		DoneAt:     p.DoneAt,
	}
	if p.Status != StatusDone {
		m.Open = boolPtr(true)
	}
	if p.Status == StatusActive {
		m.Active = boolPtr(true)
	}
	return m
}

func boolPtr(b bool) *bool { return &b }
