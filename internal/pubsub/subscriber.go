package pubsub

import (
	"context"
	"time"

	"github.com/leapingturtlefrog/Friendsly/internal/domain"
	"github.com/leapingturtlefrog/Friendsly/internal/hub"
	pkglog "github.com/leapingturtlefrog/Friendsly/pkg/log"
	"github.com/leapingturtlefrog/Friendsly/pkg/pubsub"
)

// Subscriber bridges the event bus to the local WebSocket hub: every
// instance consumes the full queue-event stream and fans it out to its own
// connected clients. Delivery downstream is best-effort; clients poll as a
// backstop.
type Subscriber struct {
	bus pubsub.Subscriber
	hub *hub.Hub
}

// NewSubscriber creates a new bus-to-hub bridge.
func NewSubscriber(bus pubsub.Subscriber, h *hub.Hub) *Subscriber {
	return &Subscriber{bus: bus, hub: h}
}

// Run consumes queue events until ctx is done, resubscribing with a short
// backoff when the stream drops.
func (s *Subscriber) Run(ctx context.Context) error {
	l := pkglog.L()

	for {
		if err := s.consume(ctx); err != nil && ctx.Err() == nil {
			l.Warn().Err(err).Msg("queue event subscription error, reconnecting in 2s")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (s *Subscriber) consume(ctx context.Context) error {
	events, err := s.bus.Subscribe(ctx, pubsub.ChannelQueueEvents)
	if err != nil {
		return err
	}
	defer s.bus.Unsubscribe(ctx, pubsub.ChannelQueueEvents)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			s.handleEvent(event)
		}
	}
}

func (s *Subscriber) handleEvent(event *pubsub.Event) {
	l := pkglog.L()

	switch event.Type {
	case pubsub.EventStatusChanged:
		var payload pubsub.StatusChangedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			l.Warn().Err(err).Msg("invalid status_changed payload")
			return
		}
		if err := s.hub.BroadcastToUser(payload.UserID, &domain.StatusMessage{
			Type:      domain.MsgTypeStatus,
			UserID:    payload.UserID,
			Name:      payload.Name,
			OldStatus: payload.OldStatus,
			NewStatus: payload.NewStatus,
		}); err != nil {
			l.Error().Err(err).Str(pkglog.FieldUserID, payload.UserID).Msg("failed to broadcast status message")
		}

	case pubsub.EventQueueMutated:
		var payload pubsub.QueueMutatedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			l.Warn().Err(err).Msg("invalid queue_mutated payload")
			return
		}
		if err := s.hub.BroadcastQueue(&domain.QueueMessage{
			Type:        domain.MsgTypeQueue,
			QueueLength: payload.QueueLength,
		}); err != nil {
			l.Error().Err(err).Msg("failed to broadcast queue message")
		}

	default:
		l.Debug().Str("event_type", event.Type).Msg("ignoring unknown queue event")
	}
}
