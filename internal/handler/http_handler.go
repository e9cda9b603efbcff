package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/leapingturtlefrog/Friendsly/internal/audit"
	"github.com/leapingturtlefrog/Friendsly/internal/domain"
	"github.com/leapingturtlefrog/Friendsly/internal/middleware"
	"github.com/leapingturtlefrog/Friendsly/internal/service"
	"github.com/leapingturtlefrog/Friendsly/pkg/log"
	"github.com/leapingturtlefrog/Friendsly/pkg/response"
)

// Handler handles HTTP requests for the turn coordinator.
type Handler struct {
	turnService    service.TurnService
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler creates a new HTTP handler.
func NewHandler(turnService service.TurnService, authMiddleware *middleware.AuthMiddleware) *Handler {
	return &Handler{
		turnService:    turnService,
		authMiddleware: authMiddleware,
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1", h.authMiddleware.RequireAuth())
	{
		api.POST("/turn/live", h.authMiddleware.RequireRole(domain.RoleCreator), h.GoLive)

		queue := api.Group("/queue")
		{
			queue.POST("/join", h.authMiddleware.RequireRole(domain.RoleFan), h.Join)
			queue.POST("/next", h.authMiddleware.RequireRole(domain.RoleCreator), h.PromoteNext)
			queue.POST("/leave", h.Leave)
			queue.POST("/heartbeat", h.Heartbeat)
			queue.GET("", h.GetQueue)
			queue.GET("/position", h.Position)
			queue.GET("/me", h.Snapshot)
		}
	}
}

// GoLive resets the queue and seats the creator in the active slot.
func (h *Handler) GoLive(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	userID := middleware.GetUserID(c)

	var req domain.GoLiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	creator, err := h.turnService.GoLive(ctx, userID, req.Name, middleware.GetRole(c))
	if err != nil {
		if errors.Is(err, service.ErrUnauthorized) {
			response.Forbidden(c, "only the creator can go live")
			return
		}
		if errors.Is(err, service.ErrDuplicateEntry) {
			response.Conflict(c, "DUPLICATE_ENTRY", "a go-live is already in progress")
			return
		}
		l.Error().Err(err).Msg("failed to go live")
		response.InternalError(c, "failed to go live")
		return
	}

	audit.Log(ctx, audit.ActionGoLive, userID, "creator went live")
	resp := creator.ToResponse()
	response.Success(c, resp)
}

// Join appends the calling fan to the waiting line.
func (h *Handler) Join(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	userID := middleware.GetUserID(c)

	var req domain.JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	fan, err := h.turnService.Join(ctx, userID, req.Name, middleware.GetRole(c))
	if err != nil {
		if errors.Is(err, service.ErrDuplicateEntry) {
			response.Conflict(c, "DUPLICATE_ENTRY", "you are already in the queue")
			return
		}
		if errors.Is(err, service.ErrUnauthorized) {
			response.Forbidden(c, "only fans can join the queue")
			return
		}
		l.Error().Err(err).Msg("failed to join queue")
		response.InternalError(c, "failed to join queue")
		return
	}

	audit.Log(ctx, audit.ActionJoin, userID, "fan joined queue")
	resp := fan.ToResponse()
	response.Created(c, resp)
}

// PromoteNext releases the active participant and promotes the next one.
// An empty queue is a normal outcome, not an error.
func (h *Handler) PromoteNext(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	userID := middleware.GetUserID(c)

	promoted, err := h.turnService.PromoteNext(ctx)
	if err != nil {
		if errors.Is(err, service.ErrEmpty) {
			response.Success(c, gin.H{"empty": true})
			return
		}
		l.Error().Err(err).Msg("failed to promote next participant")
		response.InternalError(c, "failed to promote next participant")
		return
	}

	audit.LogWithDetail(ctx, audit.ActionPromote, userID, promoted.UserID, "participant promoted")
	resp := promoted.ToResponse()
	response.Success(c, gin.H{"empty": false, "active": resp})
}

// Leave removes the caller's own entry. Idempotent.
func (h *Handler) Leave(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	userID := middleware.GetUserID(c)

	if err := h.turnService.Leave(ctx, userID); err != nil {
		l.Error().Err(err).Msg("failed to leave queue")
		response.InternalError(c, "failed to leave queue")
		return
	}

	audit.Log(ctx, audit.ActionLeave, userID, "participant left queue")
	response.Success(c, gin.H{"message": "left queue"})
}

// Heartbeat refreshes the caller's liveness lease.
func (h *Handler) Heartbeat(c *gin.Context) {
	ctx := c.Request.Context()

	userID := middleware.GetUserID(c)

	if err := h.turnService.Heartbeat(ctx, userID); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			response.NotFound(c, "not in queue")
			return
		}
		log.Ctx(ctx).Error().Err(err).Msg("failed to refresh lease")
		response.InternalError(c, "failed to refresh lease")
		return
	}

	response.Success(c, gin.H{"message": "ok"})
}

// GetQueue returns the host-side view: queue length and active participant.
func (h *Handler) GetQueue(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	snap, err := h.turnService.Snapshot(ctx, middleware.GetUserID(c))
	if err != nil {
		l.Error().Err(err).Msg("failed to read queue state")
		response.InternalError(c, "failed to read queue state")
		return
	}

	response.Success(c, domain.QueueResponse{
		QueueLength: snap.QueueLength,
		Active:      snap.Active,
	})
}

// Position returns the caller's place in line.
func (h *Handler) Position(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	userID := middleware.GetUserID(c)

	pos, err := h.turnService.PositionOf(ctx, userID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			response.NotFound(c, "not in queue")
			return
		}
		l.Error().Err(err).Msg("failed to compute position")
		response.InternalError(c, "failed to compute position")
		return
	}

	response.Success(c, pos)
}

// Snapshot is the polling backstop endpoint.
func (h *Handler) Snapshot(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	snap, err := h.turnService.Snapshot(ctx, middleware.GetUserID(c))
	if err != nil {
		l.Error().Err(err).Msg("failed to build snapshot")
		response.InternalError(c, "failed to build snapshot")
		return
	}

	response.Success(c, snap)
}
