package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/leapingturtlefrog/Friendsly/internal/config"
	"github.com/leapingturtlefrog/Friendsly/internal/domain"
	"github.com/leapingturtlefrog/Friendsly/internal/hub"
	"github.com/leapingturtlefrog/Friendsly/internal/middleware"
	"github.com/leapingturtlefrog/Friendsly/internal/service"
	"github.com/leapingturtlefrog/Friendsly/pkg/log"
)

// WSHandler serves the subscription feed: clients watch their own status
// transitions and the coarse queue feed over one WebSocket connection.
type WSHandler struct {
	hub         *hub.Hub
	turnService service.TurnService
	wsConfig    config.WebSocketConfig
	upgrader    websocket.Upgrader
}

// NewWSHandler creates a new WebSocket handler.
func NewWSHandler(h *hub.Hub, svc service.TurnService, cfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		hub:         h,
		turnService: svc,
		wsConfig:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// RegisterRoutes registers the WebSocket route. The auth middleware runs
// first, so the connection is bound to a verified identity.
func (h *WSHandler) RegisterRoutes(r *gin.Engine, auth *middleware.AuthMiddleware) {
	r.GET("/ws", auth.RequireAuth(), h.HandleWebSocket)
}

// HandleWebSocket upgrades the connection and starts the read/write pumps.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	userID := middleware.GetUserID(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Ctx(c.Request.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), userID, h.hub, conn, h.wsConfig)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump(h.handleMessage)
}

func (h *WSHandler) handleMessage(c *hub.Client, message []byte) {
	ctx := context.Background()

	var base domain.BaseMessage
	if err := json.Unmarshal(message, &base); err != nil {
		c.SendMessage(domain.NewErrorMessage("invalid message format"))
		return
	}

	switch base.Type {
	case domain.MsgTypeWatchSelf:
		h.hub.WatchUser(c, c.UserID)

	case domain.MsgTypeWatchQueue:
		h.hub.WatchQueue(c)

	case domain.MsgTypeHeartbeat:
		// A heartbeat over the feed doubles as the liveness ping for the
		// caller's queue entry; failures are fine, the entry may be done.
		if err := h.turnService.Heartbeat(ctx, c.UserID); err != nil {
			log.L().Debug().Err(err).Str(log.FieldUserID, c.UserID).Msg("heartbeat without open entry")
		}
		c.SendMessage(&domain.BaseMessage{Type: domain.MsgTypeHeartbeatAck})

	default:
		c.SendMessage(domain.NewErrorMessage("unknown message type"))
	}
}
