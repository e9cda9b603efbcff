package domain

import (
	"time"
)

// Status represents a participant's place in the turn lifecycle.
type Status string

const (
	StatusQueued Status = "queued"
	StatusActive Status = "active"
	StatusDone   Status = "done"
)

// Role is the caller-presented role claim.
type Role string

const (
	RoleCreator Role = "creator"
	RoleFan     Role = "fan"
)

// ValidTransition reports whether a status change is allowed. Transitions
// only move forward: queued → active → done, or queued → done.
func ValidTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusActive || to == StatusDone
	case StatusActive:
		return to == StatusDone
	default:
		return false
	}
}

// Participant is one row in the turn queue. Seq is assigned by the database
// at insert and is the sole ordering key among queued participants.
type Participant struct {
	Seq        uint64     `json:"seq"`
	UserID     string     `json:"user_id"`
	Name       string     `json:"name"`
	Role       Role       `json:"role"`
	Status     Status     `json:"status"`
	LastSeenAt time.Time  `json:"last_seen_at"`
	CreatedAt  time.Time  `json:"created_at"`
	DoneAt     *time.Time `json:"done_at,omitempty"`
}

// JoinRequest is the body of a queue join call.
type JoinRequest struct {
	Name string `json:"name" binding:"required,min=1,max=100"`
}

// GoLiveRequest is the body of a go-live call.
type GoLiveRequest struct {
	Name string `json:"name" binding:"required,min=1,max=100"`
}

// ParticipantResponse represents a participant in API responses.
type ParticipantResponse struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Status Status `json:"status"`
}

// PositionResponse reports a caller's place in line. Position 0 means the
// caller holds the active slot.
type PositionResponse struct {
	Position    int    `json:"position"`
	Status      Status `json:"status"`
	QueueLength int    `json:"queue_length"`
}

// QueueResponse is the host-side view of the line.
type QueueResponse struct {
	QueueLength int                  `json:"queue_length"`
	Active      *ParticipantResponse `json:"active,omitempty"`
}

// SnapshotResponse is the polling backstop payload: everything a client
// needs to re-derive its own state without trusting pushed events.
type SnapshotResponse struct {
	InQueue     bool                 `json:"in_queue"`
	Status      Status               `json:"status,omitempty"`
	Position    int                  `json:"position"`
	QueueLength int                  `json:"queue_length"`
	Active      *ParticipantResponse `json:"active,omitempty"`
}

// ToResponse converts a Participant to its API shape.
func (p *Participant) ToResponse() ParticipantResponse {
	return ParticipantResponse{
		UserID: p.UserID,
		Name:   p.Name,
		Status: p.Status,
	}
}
