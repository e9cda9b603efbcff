package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/leapingturtlefrog/Friendsly/internal/domain"
	"github.com/leapingturtlefrog/Friendsly/internal/handler"
	"github.com/leapingturtlefrog/Friendsly/internal/middleware"
	"github.com/leapingturtlefrog/Friendsly/internal/repository"
	"github.com/leapingturtlefrog/Friendsly/internal/service"
	"github.com/leapingturtlefrog/Friendsly/pkg/jwt"
)

type testServer struct {
	router *gin.Engine
	tokens *jwt.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&domain.QueueEntryModel{}))

	repo := repository.NewGormQueueRepository(db)
	svc := service.NewTurnService(repo, nil, 30*time.Second)

	tokens := jwt.NewManager("test-secret", time.Hour, "queue-service")
	auth := middleware.NewAuthMiddleware(tokens)

	router := gin.New()
	handler.NewHandler(svc, auth).RegisterRoutes(router)
	return &testServer{router: router, tokens: tokens}
}

func (s *testServer) token(t *testing.T, userID, name string, role domain.Role) string {
	t.Helper()
	token, err := s.tokens.Generate(userID, name, string(role))
	require.NoError(t, err)
	return token
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var envelope struct {
		Success bool                   `json:"success"`
		Data    map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.True(t, envelope.Success, rec.Body.String())
	return envelope.Data
}

// stubTurnService overrides GoLive to exercise handler error mapping.
type stubTurnService struct {
	service.TurnService
	goLiveErr error
}

func (s *stubTurnService) GoLive(context.Context, string, string, domain.Role) (*domain.Participant, error) {
	return nil, s.goLiveErr
}

func TestGoLiveRaceConflicts(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tokens := jwt.NewManager("test-secret", time.Hour, "queue-service")
	auth := middleware.NewAuthMiddleware(tokens)
	router := gin.New()
	handler.NewHandler(&stubTurnService{goLiveErr: service.ErrDuplicateEntry}, auth).RegisterRoutes(router)
	s := &testServer{router: router, tokens: tokens}

	creator := s.token(t, "creator-1", "Host", domain.RoleCreator)
	rec := s.do(t, http.MethodPost, "/api/v1/turn/live", creator, domain.GoLiveRequest{Name: "Host"})

	// Losing the reset-then-seat race is a conflict, not a server fault.
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "DUPLICATE_ENTRY")
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/queue", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/queue", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRoleGates(t *testing.T) {
	s := newTestServer(t)
	fan := s.token(t, "fan-a", "Alice", domain.RoleFan)
	creator := s.token(t, "creator-1", "Host", domain.RoleCreator)

	rec := s.do(t, http.MethodPost, "/api/v1/turn/live", fan, domain.GoLiveRequest{Name: "Alice"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/queue/join", creator, domain.JoinRequest{Name: "Host"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/queue/next", fan, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestJoinEndpoint(t *testing.T) {
	s := newTestServer(t)
	fan := s.token(t, "fan-a", "Alice", domain.RoleFan)

	t.Run("rejects missing name", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/v1/queue/join", fan, map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("joins once", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/v1/queue/join", fan, domain.JoinRequest{Name: "Alice"})
		require.Equal(t, http.StatusCreated, rec.Code)

		data := decodeData(t, rec)
		assert.Equal(t, "fan-a", data["user_id"])
		assert.Equal(t, "queued", data["status"])
	})

	t.Run("second join conflicts", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/v1/queue/join", fan, domain.JoinRequest{Name: "Alice"})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Contains(t, rec.Body.String(), "DUPLICATE_ENTRY")
	})
}

func TestTurnFlow(t *testing.T) {
	s := newTestServer(t)
	creator := s.token(t, "creator-1", "Host", domain.RoleCreator)
	fanA := s.token(t, "fan-a", "Alice", domain.RoleFan)
	fanB := s.token(t, "fan-b", "Bob", domain.RoleFan)

	rec := s.do(t, http.MethodPost, "/api/v1/turn/live", creator, domain.GoLiveRequest{Name: "Host"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/queue/join", fanA, domain.JoinRequest{Name: "Alice"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/v1/queue/join", fanB, domain.JoinRequest{Name: "Bob"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/queue", creator, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, float64(2), data["queue_length"])

	rec = s.do(t, http.MethodGet, "/api/v1/queue/position", fanB, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data = decodeData(t, rec)
	assert.Equal(t, float64(2), data["position"])

	// Advance the turn: Alice takes the slot.
	rec = s.do(t, http.MethodPost, "/api/v1/queue/next", creator, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data = decodeData(t, rec)
	assert.Equal(t, false, data["empty"])
	active := data["active"].(map[string]interface{})
	assert.Equal(t, "fan-a", active["user_id"])

	rec = s.do(t, http.MethodGet, "/api/v1/queue/me", fanA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data = decodeData(t, rec)
	assert.Equal(t, true, data["in_queue"])
	assert.Equal(t, "active", data["status"])
	assert.Equal(t, float64(0), data["position"])

	// Alice hangs up; Bob is promoted as a continuation.
	rec = s.do(t, http.MethodPost, "/api/v1/queue/leave", fanA, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/queue/me", fanB, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data = decodeData(t, rec)
	assert.Equal(t, "active", data["status"])

	// Draining the queue reports empty instead of failing.
	rec = s.do(t, http.MethodPost, "/api/v1/queue/next", creator, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data = decodeData(t, rec)
	assert.Equal(t, true, data["empty"])
}

func TestHeartbeatEndpoint(t *testing.T) {
	s := newTestServer(t)
	fan := s.token(t, "fan-a", "Alice", domain.RoleFan)

	rec := s.do(t, http.MethodPost, "/api/v1/queue/heartbeat", fan, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/queue/join", fan, domain.JoinRequest{Name: "Alice"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/queue/heartbeat", fan, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPositionEndpointNotInQueue(t *testing.T) {
	s := newTestServer(t)
	fan := s.token(t, "fan-a", "Alice", domain.RoleFan)

	rec := s.do(t, http.MethodGet, "/api/v1/queue/position", fan, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
