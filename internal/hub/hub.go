package hub

import (
	"encoding/json"
	"sync"

	"github.com/leapingturtlefrog/Friendsly/pkg/log"
)

// Hub tracks connected WebSocket clients and the feeds they watch. A client
// can watch its own participant feed (status transitions for one user id)
// and/or the coarse queue feed (length changes). Events arrive from the bus
// subscriber and fan out to local clients only; other instances run their
// own hubs.
type Hub struct {
	clients    map[string]*Client            // clientID -> client
	userFeeds  map[string]map[string]*Client // userID -> clientID -> client
	queueFeeds map[string]*Client            // clientID -> client
	register   chan *Client
	unregister chan *Client
	broadcast  chan *feedMessage
	mu         sync.RWMutex
}

// feedMessage targets either one user feed (UserID set) or the queue feed.
type feedMessage struct {
	UserID  string
	Message []byte
}

// NewHub creates a new hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		userFeeds:  make(map[string]map[string]*Client),
		queueFeeds: make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *feedMessage, 256),
	}
}

// Run processes register/unregister/broadcast events until the process
// exits. Start it in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			log.L().Debug().Str("client_id", client.ID).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				for userID, watchers := range h.userFeeds {
					delete(watchers, client.ID)
					if len(watchers) == 0 {
						delete(h.userFeeds, userID)
					}
				}
				delete(h.queueFeeds, client.ID)
				delete(h.clients, client.ID)
				close(client.Send)
			}
			h.mu.Unlock()
			log.L().Debug().Str("client_id", client.ID).Msg("client unregistered")

		case msg := <-h.broadcast:
			h.mu.RLock()
			if msg.UserID != "" {
				for _, client := range h.userFeeds[msg.UserID] {
					h.deliver(client, msg.Message)
				}
			} else {
				for _, client := range h.queueFeeds {
					h.deliver(client, msg.Message)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) deliver(client *Client, message []byte) {
	select {
	case client.Send <- message:
	default:
		// Slow consumer; drop it. Its polling loop recovers the state.
		go h.Unregister(client)
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// WatchUser subscribes a client to one participant's status feed.
func (h *Hub) WatchUser(client *Client, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.userFeeds[userID]; !ok {
		h.userFeeds[userID] = make(map[string]*Client)
	}
	h.userFeeds[userID][client.ID] = client
	log.L().Debug().Str("client_id", client.ID).Str(log.FieldUserID, userID).Msg("client watching user feed")
}

// WatchQueue subscribes a client to the coarse queue feed.
func (h *Hub) WatchQueue(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.queueFeeds[client.ID] = client
	log.L().Debug().Str("client_id", client.ID).Msg("client watching queue feed")
}

// BroadcastToUser sends a message to every client watching userID.
func (h *Hub) BroadcastToUser(userID string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	h.broadcast <- &feedMessage{UserID: userID, Message: data}
	return nil
}

// BroadcastQueue sends a message to every client watching the queue feed.
func (h *Hub) BroadcastQueue(message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	h.broadcast <- &feedMessage{Message: data}
	return nil
}
