package ws

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-presence-service/internal/chat"
	"chat-presence-service/internal/mocks"
	"chat-presence-service/internal/models"
	"chat-presence-service/internal/session"
	"chat-presence-service/internal/telemetry"
)

type auditRecorder struct {
	mu        sync.Mutex
	envelopes []telemetry.AuditEnvelope
}

func (p *auditRecorder) Publish(_ context.Context, _ string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if envelope, ok := event.(telemetry.AuditEnvelope); ok {
		p.envelopes = append(p.envelopes, envelope)
	}
	return nil
}

func (p *auditRecorder) Close() error { return nil }

type handlerFixture struct {
	handler  *Handler
	hub      *Hub
	presence *Presence
	sessions *session.Registry
	messages *mocks.MessageRepositoryMock
	users    *mocks.UserRepositoryMock
	verifier *mocks.VerifierMock
	audit    *auditRecorder
}

func newHandlerFixture() *handlerFixture {
	f := &handlerFixture{
		hub:      NewHub(),
		messages: new(mocks.MessageRepositoryMock),
		users:    new(mocks.UserRepositoryMock),
		verifier: new(mocks.VerifierMock),
		audit:    &auditRecorder{},
	}
	f.presence = NewPresence(f.hub, f.users)
	f.sessions = session.NewRegistry(f.users, 10*time.Minute)
	router := chat.NewRouter(f.messages, f.users, f.hub, 0)
	emitter := telemetry.NewAuditEmitter(f.audit, "audit.test", "test", "test")
	f.handler = NewHandler(f.hub, f.presence, f.sessions, router, f.verifier, emitter)
	return f
}

func (f *handlerFixture) connect(userID int64, connID string) (*Client, *fakeConn) {
	conn := &fakeConn{}
	client := &Client{ID: connID, UserID: userID, Conn: conn}
	f.hub.Add(client)
	return client, conn
}

func TestDispatchRejectsExpiredSession(t *testing.T) {
	f := newHandlerFixture()

	// No in-memory session; the durable record says the user went idle
	// long ago.
	stale := time.Now().Add(-time.Hour)
	f.users.On("LastActivity", mock.Anything, int64(1)).Return(&stale, nil)

	client, conn := f.connect(1, "c1")
	f.handler.dispatch(context.Background(), client, models.ClientEvent{
		Type:       models.EventSendMessage,
		ReceiverID: int64Ptr(2),
		Content:    "hello",
	})

	events := conn.events(t)
	require.Len(t, events, 1)
	require.Equal(t, models.EventError, events[0].Type)
	require.Contains(t, events[0].Error, "session expired")

	// Nothing was routed and no new activity was recorded.
	f.messages.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
	f.users.AssertNotCalled(t, "TouchActivity", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatchRoutesSendForActiveSession(t *testing.T) {
	f := newHandlerFixture()
	f.users.On("TouchActivity", mock.Anything, int64(1), mock.Anything).Return(nil)
	f.users.On("FindUser", mock.Anything, int64(2)).Return(models.User{ID: 2, Active: true}, nil)
	f.verifier.On("IsUsable", mock.Anything, int64(1)).Return(true, nil)
	f.messages.On("CreateMessage", mock.Anything, mock.Anything).
		Return(models.Message{ID: 10, SenderID: 1, ReceiverID: int64Ptr(2), Content: "hello", State: models.StateSent}, nil)

	client, conn := f.connect(1, "c1")
	f.sessions.TrackActivity(context.Background(), 1, "c1")

	f.handler.dispatch(context.Background(), client, models.ClientEvent{
		Type:       models.EventSendMessage,
		ReceiverID: int64Ptr(2),
		Content:    "hello",
	})

	events := conn.events(t)
	require.Len(t, events, 1)
	require.Equal(t, models.EventMessageReceived, events[0].Type)
	f.messages.AssertExpectations(t)
}

func TestDispatchSurfacesPreconditionToClient(t *testing.T) {
	f := newHandlerFixture()
	f.users.On("TouchActivity", mock.Anything, int64(1), mock.Anything).Return(nil)
	f.verifier.On("IsUsable", mock.Anything, int64(1)).Return(true, nil)

	client, conn := f.connect(1, "c1")
	f.sessions.TrackActivity(context.Background(), 1, "c1")

	f.handler.dispatch(context.Background(), client, models.ClientEvent{
		Type:       models.EventSendMessage,
		ReceiverID: int64Ptr(1), // self send
		Content:    "hello",
	})

	events := conn.events(t)
	require.Len(t, events, 1)
	require.Equal(t, models.EventError, events[0].Type)
	require.Contains(t, events[0].Error, "yourself")
}

func TestDispatchForceLogoutWhenAccountUnusable(t *testing.T) {
	f := newHandlerFixture()
	f.users.On("TouchActivity", mock.Anything, int64(1), mock.Anything).Return(nil)
	f.users.On("TouchLastSeen", mock.Anything, int64(1), mock.Anything).Return(nil)
	f.users.On("UpdateStatus", mock.Anything, int64(1), models.StatusOffline).Return(nil).Once()
	f.verifier.On("IsUsable", mock.Anything, int64(1)).Return(false, nil)

	client, conn := f.connect(1, "c1")
	f.sessions.TrackActivity(context.Background(), 1, "c1")

	f.handler.dispatch(context.Background(), client, models.ClientEvent{
		Type:       models.EventSendMessage,
		ReceiverID: int64Ptr(2),
		Content:    "hello",
	})

	require.True(t, conn.closed)
	events := conn.events(t)
	require.Len(t, events, 1)
	require.Equal(t, models.EventForceLogout, events[0].Type)
	f.messages.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)

	// The closed transport makes the read loop exit; its cleanup performs
	// the registry removal and persists the offline transition.
	f.presence.HandleDisconnect(context.Background(), 1, "c1")
	require.False(t, f.hub.IsOnline(1))
	f.users.AssertExpectations(t)

	require.Len(t, f.audit.envelopes, 1)
	require.NotNil(t, f.audit.envelopes[0].UserID)
	require.Equal(t, int64(1), *f.audit.envelopes[0].UserID)
}

func TestDispatchRoomMembership(t *testing.T) {
	f := newHandlerFixture()
	f.users.On("TouchActivity", mock.Anything, int64(1), mock.Anything).Return(nil)

	client, _ := f.connect(1, "c1")
	f.sessions.TrackActivity(context.Background(), 1, "c1")

	f.handler.dispatch(context.Background(), client, models.ClientEvent{Type: models.EventJoinRoom, RoomID: 10})
	require.ElementsMatch(t, []int64{1}, f.hub.RoomMembers(10))

	f.handler.dispatch(context.Background(), client, models.ClientEvent{Type: models.EventLeaveRoom, RoomID: 10})
	require.Empty(t, f.hub.RoomMembers(10))
}

func TestDispatchUnknownEventType(t *testing.T) {
	f := newHandlerFixture()
	f.users.On("TouchActivity", mock.Anything, int64(1), mock.Anything).Return(nil)

	client, conn := f.connect(1, "c1")
	f.sessions.TrackActivity(context.Background(), 1, "c1")

	f.handler.dispatch(context.Background(), client, models.ClientEvent{Type: "reticulate-splines"})

	events := conn.events(t)
	require.Len(t, events, 1)
	require.Equal(t, models.EventError, events[0].Type)
	require.Contains(t, events[0].Error, "unknown event type")
}

func TestBearerToken(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name   string
		header string
		query  string
		want   string
	}{
		{"header", "Bearer abc", "", "abc"},
		{"lowercase scheme", "bearer abc", "", "abc"},
		{"wrong scheme", "Basic abc", "", ""},
		{"query fallback", "", "abc", "abc"},
		{"missing", "", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			target := "/ws"
			if tc.query != "" {
				target += "?token=" + tc.query
			}
			c.Request = httptest.NewRequest("GET", target, nil)
			if tc.header != "" {
				c.Request.Header.Set("Authorization", tc.header)
			}
			require.Equal(t, tc.want, bearerToken(c))
		})
	}
}

func int64Ptr(v int64) *int64 { return &v }
