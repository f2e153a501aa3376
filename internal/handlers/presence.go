package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-presence-service/internal/models"
	"chat-presence-service/internal/session"
)

// StatusUpdater applies explicit presence status changes. Satisfied by
// ws.Presence.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, userID int64, status models.UserStatus) error
}

// PresenceHandler exposes the explicit status update endpoint.
type PresenceHandler struct {
	presence StatusUpdater
	sessions *session.Registry
}

// NewPresenceHandler builds a PresenceHandler.
func NewPresenceHandler(presence StatusUpdater, sessions *session.Registry) *PresenceHandler {
	return &PresenceHandler{presence: presence, sessions: sessions}
}

// UpdateStatus applies an explicit online/offline/away status request.
func (h *PresenceHandler) UpdateStatus(c *gin.Context) {
	var req struct {
		Status models.UserStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt64("userID")
	h.sessions.TrackActivity(c.Request.Context(), userID, "")

	if err := h.presence.UpdateStatus(c.Request.Context(), userID, req.Status); err != nil {
		writeRouterError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": req.Status})
}
