package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"chat-presence-service/internal/auth"
	"chat-presence-service/internal/chat"
	"chat-presence-service/internal/models"
	"chat-presence-service/internal/observability"
	"chat-presence-service/internal/session"
	"chat-presence-service/internal/telemetry"
)

// Handler owns the websocket connection lifecycle: authenticate, register,
// announce presence, dispatch inbound events, and clean up on every exit
// path.
type Handler struct {
	hub      *Hub
	presence *Presence
	sessions *session.Registry
	router   *chat.Router
	verifier auth.Verifier
	audit    *telemetry.AuditEmitter
}

// NewHandler constructs a websocket Handler.
func NewHandler(hub *Hub, presence *Presence, sessions *session.Registry, router *chat.Router, verifier auth.Verifier, audit *telemetry.AuditEmitter) *Handler {
	return &Handler{hub: hub, presence: presence, sessions: sessions, router: router, verifier: verifier, audit: audit}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection, authenticates it and starts the read loop.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-presence-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := bearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	identity, err := h.verifier.VerifyToken(ctx, token)
	if err != nil {
		status := http.StatusUnauthorized
		code := "INVALID"
		switch {
		case errors.Is(err, auth.ErrTokenExpired):
			code = "EXPIRED"
		case errors.Is(err, auth.ErrTokenRevoked):
			code = "REVOKED"
		}
		c.JSON(status, gin.H{"error": "invalid token", "code": code})
		return
	}

	usable, err := h.verifier.IsUsable(ctx, identity.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify account"})
		return
	}
	if !usable {
		c.JSON(http.StatusForbidden, gin.H{"error": "account not usable"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := &Client{
		ID:          uuid.NewString(),
		UserID:      identity.UserID,
		Conn:        conn,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}

	h.presence.HandleConnect(ctx, client)
	h.sessions.TrackActivity(ctx, client.UserID, client.ID)

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	h.publishLifecycle(ctx, client, "ws_connect", "")

	// The request context dies with the handshake; the connection does not.
	go h.readLoop(context.WithoutCancel(ctx), client, conn)
}

func (h *Handler) readLoop(ctx context.Context, client *Client, conn *websocket.Conn) {
	var closeReason string
	defer func() {
		h.presence.HandleDisconnect(ctx, client.UserID, client.ID)
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		h.publishLifecycle(ctx, client, "ws_disconnect", closeReason)
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
			}
			return
		}

		var ev models.ClientEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			_ = client.Send(models.ServerEvent{Type: models.EventError, Error: "malformed event"})
			continue
		}
		h.dispatch(ctx, client, ev)
	}
}

// dispatch applies one inbound event. A timed-out session keeps receiving
// live events on the open connection but every action short of
// re-authentication is rejected.
func (h *Handler) dispatch(ctx context.Context, client *Client, ev models.ClientEvent) {
	observability.IncWSEvent(ev.Type)

	status := h.sessions.CheckStatus(ctx, client.UserID)
	if status.RequiresReauth {
		_ = client.Send(models.ServerEvent{Type: models.EventError, Error: "session expired, re-authentication required"})
		return
	}
	h.sessions.TrackActivity(ctx, client.UserID, client.ID)

	switch ev.Type {
	case models.EventJoinRoom:
		if ev.RoomID != 0 {
			h.hub.JoinRoom(ev.RoomID, client.UserID)
		}
	case models.EventLeaveRoom:
		if ev.RoomID != 0 {
			h.hub.LeaveRoom(ev.RoomID, client.UserID)
		}
	case models.EventSendMessage:
		h.handleSend(ctx, client, ev)
	case models.EventMessageDelivered:
		if _, err := h.router.MarkDelivered(ctx, client.UserID, ev.SenderID); err != nil {
			h.sendError(client, err)
		}
	case models.EventMessageRead:
		if _, err := h.router.MarkRead(ctx, ev.SenderID, client.UserID); err != nil {
			h.sendError(client, err)
		}
	case models.EventTypingStart, models.EventTypingStop:
		if err := h.router.Typing(client.UserID, ev.ReceiverID, ev.GroupID, ev.Type); err != nil {
			h.sendError(client, err)
		}
	case models.EventUserStatus:
		if err := h.presence.UpdateStatus(ctx, client.UserID, ev.Status); err != nil {
			h.sendError(client, err)
		}
	default:
		_ = client.Send(models.ServerEvent{Type: models.EventError, Error: "unknown event type"})
	}
}

func (h *Handler) handleSend(ctx context.Context, client *Client, ev models.ClientEvent) {
	usable, err := h.verifier.IsUsable(ctx, client.UserID)
	if err != nil {
		h.sendError(client, err)
		return
	}
	if !usable {
		// The account was locked or deactivated mid-session.
		h.hub.CloseUser(client.UserID, models.ServerEvent{
			Type:   models.EventForceLogout,
			Reason: "account no longer usable",
		})
		h.audit.Emit(ctx, "WARN", "force logout: account no longer usable", client.RequestID, &client.UserID)
		return
	}

	if _, err := h.router.Send(ctx, client.UserID, ev.ReceiverID, ev.GroupID, ev.Content, ev.MessageType); err != nil {
		h.sendError(client, err)
	}
}

// sendError surfaces typed rejections verbatim and hides internal ones.
func (h *Handler) sendError(client *Client, err error) {
	msg := "internal error"
	if chat.IsPrecondition(err) || chat.IsNotFound(err) || chat.IsConflict(err) {
		msg = err.Error()
	} else {
		log.Printf("ws dispatch error user=%d: %v", client.UserID, err)
	}
	_ = client.Send(models.ServerEvent{Type: models.EventError, Error: msg})
}

func (h *Handler) publishLifecycle(ctx context.Context, client *Client, event, reason string) {
	_ = observability.PublishEvent(ctx, observability.RoutingWSConnections, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"event":       event,
				"conn_id":     client.ID,
				"duration_ms": time.Since(client.ConnectedAt).Milliseconds(),
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   client.UserID,
				"device_id": client.DeviceID,
				"ip":        client.IP,
			},
		},
	}, observability.BuildHeaders(client.RequestID, client.TraceID))
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return ""
	}
	return c.Query("token")
}
