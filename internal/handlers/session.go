package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-presence-service/internal/session"
	"chat-presence-service/internal/telemetry"
)

// SessionHandler exposes session refresh and status over HTTP.
type SessionHandler struct {
	sessions *session.Registry
	audit    *telemetry.AuditEmitter
}

// NewSessionHandler builds a SessionHandler.
func NewSessionHandler(sessions *session.Registry, audit *telemetry.AuditEmitter) *SessionHandler {
	return &SessionHandler{sessions: sessions, audit: audit}
}

// Refresh re-establishes the caller's session after re-authentication. The
// auth middleware has already verified the fresh token; this clears the
// expired state.
func (h *SessionHandler) Refresh(c *gin.Context) {
	userID := c.GetInt64("userID")
	h.sessions.Reset(c.Request.Context(), userID)
	h.audit.Emit(c.Request.Context(), "INFO", "session re-established", requestIDFromContext(c), &userID)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Status reports the caller's session liveness.
func (h *SessionHandler) Status(c *gin.Context) {
	userID := c.GetInt64("userID")
	c.JSON(http.StatusOK, h.sessions.CheckStatus(c.Request.Context(), userID))
}
