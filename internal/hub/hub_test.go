package hub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapingturtlefrog/Friendsly/internal/config"
	"github.com/leapingturtlefrog/Friendsly/internal/domain"
)

func newHubClient(h *Hub, id, userID string) *Client {
	return NewClient(id, userID, h, nil, config.WebSocketConfig{})
}

func receive(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case data := <-c.Send:
		return data
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for hub delivery")
		return nil
	}
}

func TestUserFeedDelivery(t *testing.T) {
	h := NewHub()
	go h.Run()

	alice := newHubClient(h, "c1", "fan-a")
	bob := newHubClient(h, "c2", "fan-b")
	h.Register(alice)
	h.Register(bob)
	h.WatchUser(alice, "fan-a")
	h.WatchUser(bob, "fan-b")

	msg := domain.StatusMessage{
		Type:      domain.MsgTypeStatus,
		UserID:    "fan-a",
		NewStatus: string(domain.StatusActive),
	}
	require.NoError(t, h.BroadcastToUser("fan-a", msg))

	var got domain.StatusMessage
	require.NoError(t, json.Unmarshal(receive(t, alice), &got))
	assert.Equal(t, "fan-a", got.UserID)
	assert.Equal(t, string(domain.StatusActive), got.NewStatus)

	// Bob watches a different feed and must not see Alice's update.
	select {
	case data := <-bob.Send:
		t.Fatalf("unexpected delivery to other user's feed: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestQueueFeedDelivery(t *testing.T) {
	h := NewHub()
	go h.Run()

	watcher := newHubClient(h, "c1", "fan-a")
	bystander := newHubClient(h, "c2", "fan-b")
	h.Register(watcher)
	h.Register(bystander)
	h.WatchQueue(watcher)

	require.NoError(t, h.BroadcastQueue(domain.QueueMessage{
		Type:        domain.MsgTypeQueue,
		QueueLength: 3,
	}))

	var got domain.QueueMessage
	require.NoError(t, json.Unmarshal(receive(t, watcher), &got))
	assert.Equal(t, 3, got.QueueLength)

	select {
	case data := <-bystander.Send:
		t.Fatalf("unexpected delivery to non-watcher: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnregisterStopsDelivery(t *testing.T) {
	h := NewHub()
	go h.Run()

	client := newHubClient(h, "c1", "fan-a")
	h.Register(client)
	h.WatchUser(client, "fan-a")
	h.WatchQueue(client)
	h.Unregister(client)

	// The send channel is closed on unregister.
	select {
	case _, ok := <-client.Send:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for send channel close")
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	assert.Empty(t, h.clients)
	assert.Empty(t, h.userFeeds)
	assert.Empty(t, h.queueFeeds)
}

func TestMultipleWatchersPerUser(t *testing.T) {
	h := NewHub()
	go h.Run()

	tab1 := newHubClient(h, "c1", "fan-a")
	tab2 := newHubClient(h, "c2", "fan-a")
	h.Register(tab1)
	h.Register(tab2)
	h.WatchUser(tab1, "fan-a")
	h.WatchUser(tab2, "fan-a")

	require.NoError(t, h.BroadcastToUser("fan-a", domain.StatusMessage{
		Type:      domain.MsgTypeStatus,
		UserID:    "fan-a",
		NewStatus: string(domain.StatusQueued),
	}))

	receive(t, tab1)
	receive(t, tab2)
}
