package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"chat-presence-service/internal/chat"
	"chat-presence-service/internal/models"
	"chat-presence-service/internal/repositories"
	"chat-presence-service/internal/session"
)

const defaultPageSize = 50

// MessageHandler exposes message history and routing over HTTP.
type MessageHandler struct {
	router   *chat.Router
	messages repositories.MessageRepository
	sessions *session.Registry
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(router *chat.Router, messages repositories.MessageRepository, sessions *session.Registry) *MessageHandler {
	return &MessageHandler{router: router, messages: messages, sessions: sessions}
}

// GetConversation returns the message history with another user. Opening a
// conversation marks the counterpart's pending messages delivered.
func (h *MessageHandler) GetConversation(c *gin.Context) {
	otherID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	userID := c.GetInt64("userID")
	limit, before, ok := parsePage(c)
	if !ok {
		return
	}

	h.sessions.TrackActivity(c.Request.Context(), userID, "")

	// Fetching the conversation acts as the delivery acknowledgement for
	// everything the counterpart sent while we were away. Mark first so the
	// returned history already carries the advanced states.
	if _, err := h.router.MarkDelivered(c.Request.Context(), userID, otherID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark messages delivered"})
		return
	}

	msgs, err := h.messages.FindConversation(c.Request.Context(), userID, otherID, limit, before)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// GetGroupConversation returns the message history of a group room.
func (h *MessageHandler) GetGroupConversation(c *gin.Context) {
	groupID, err := strconv.ParseInt(c.Param("group_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group id"})
		return
	}
	userID := c.GetInt64("userID")
	limit, before, ok := parsePage(c)
	if !ok {
		return
	}

	h.sessions.TrackActivity(c.Request.Context(), userID, "")

	msgs, err := h.messages.FindGroupConversation(c.Request.Context(), groupID, limit, before)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage sends a message through the same routing path as the
// websocket send-message event.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	var req struct {
		ReceiverID  *int64             `json:"receiver_id"`
		GroupID     *int64             `json:"group_id"`
		Content     string             `json:"content"`
		MessageType models.MessageKind `json:"message_type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt64("userID")
	h.sessions.TrackActivity(c.Request.Context(), userID, "")

	msg, err := h.router.Send(c.Request.Context(), userID, req.ReceiverID, req.GroupID, req.Content, req.MessageType)
	if err != nil {
		writeRouterError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// MarkRead marks the conversation from a sender as read.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	senderID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	userID := c.GetInt64("userID")
	h.sessions.TrackActivity(c.Request.Context(), userID, "")

	count, err := h.router.MarkRead(c.Request.Context(), senderID, userID)
	if err != nil {
		writeRouterError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked_count": count})
}

// DeleteMessage soft-deletes a message (sender only).
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	messageID, err := strconv.ParseInt(c.Param("message_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}
	userID := c.GetInt64("userID")
	h.sessions.TrackActivity(c.Request.Context(), userID, "")

	if err := h.router.Delete(c.Request.Context(), messageID, userID); err != nil {
		writeRouterError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UnreadCount returns the number of live unread messages for the caller.
func (h *MessageHandler) UnreadCount(c *gin.Context) {
	userID := c.GetInt64("userID")
	count, err := h.messages.CountUnread(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count unread"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": count})
}

func parsePage(c *gin.Context) (int, *time.Time, bool) {
	limit := defaultPageSize
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return 0, nil, false
		}
		limit = parsed
	}
	var before *time.Time
	if raw := c.Query("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before timestamp"})
			return 0, nil, false
		}
		before = &parsed
	}
	return limit, before, true
}

func writeRouterError(c *gin.Context, err error) {
	switch {
	case chat.IsPrecondition(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case chat.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case chat.IsConflict(err):
		var conflict *chat.ConflictError
		errors.As(err, &conflict)
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": conflict.Code})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
