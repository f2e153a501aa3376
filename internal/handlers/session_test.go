package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-presence-service/internal/chat"
	"chat-presence-service/internal/mocks"
	"chat-presence-service/internal/models"
	"chat-presence-service/internal/session"
)

func jsonBody(s string) io.Reader { return strings.NewReader(s) }

func newSessionEngine(userID int64, users *mocks.UserRepositoryMock) (*gin.Engine, *session.Registry) {
	gin.SetMode(gin.TestMode)

	sessions := session.NewRegistry(users, 10*time.Minute)
	handler := NewSessionHandler(sessions, nil)

	engine := gin.New()
	engine.Use(func(c *gin.Context) { c.Set("userID", userID) })
	engine.POST("/session/refresh", handler.Refresh)
	engine.GET("/session/status", handler.Status)
	return engine, sessions
}

func TestSessionStatusExpired(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	users.On("LastActivity", mock.Anything, int64(1)).Return(nil, nil)

	engine, _ := newSessionEngine(1, users)

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/session/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"is_active": false, "minutes_inactive": 0, "show_warning": false, "requires_reauth": true}`, rec.Body.String())
}

func TestSessionRefreshReestablishes(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	users.On("TouchActivity", mock.Anything, int64(1), mock.Anything).Return(nil)

	engine, sessions := newSessionEngine(1, users)

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/session/refresh", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	status := sessions.CheckStatus(context.Background(), 1)
	require.True(t, status.IsActive)
	require.False(t, status.RequiresReauth)
}

type statusUpdaterStub struct {
	err    error
	called []models.UserStatus
}

func (s *statusUpdaterStub) UpdateStatus(_ context.Context, _ int64, status models.UserStatus) error {
	s.called = append(s.called, status)
	return s.err
}

func newPresenceEngine(userID int64, updater StatusUpdater) *gin.Engine {
	gin.SetMode(gin.TestMode)

	users := new(mocks.UserRepositoryMock)
	users.On("TouchActivity", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	sessions := session.NewRegistry(users, 10*time.Minute)
	handler := NewPresenceHandler(updater, sessions)

	engine := gin.New()
	engine.Use(func(c *gin.Context) { c.Set("userID", userID) })
	engine.PUT("/users/status", handler.UpdateStatus)
	return engine
}

func TestUpdateStatusAccepted(t *testing.T) {
	updater := &statusUpdaterStub{}
	engine := newPresenceEngine(1, updater)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/users/status", jsonBody(`{"status": "away"}`))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []models.UserStatus{models.StatusAway}, updater.called)
}

func TestUpdateStatusRejected(t *testing.T) {
	updater := &statusUpdaterStub{err: chat.NewPrecondition("unknown status")}
	engine := newPresenceEngine(1, updater)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/users/status", jsonBody(`{"status": "invisible"}`))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateStatusMissingBody(t *testing.T) {
	updater := &statusUpdaterStub{}
	engine := newPresenceEngine(1, updater)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/users/status", jsonBody(`{}`))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, updater.called)
}
