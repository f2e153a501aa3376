package ws

import (
	"context"
	"log"
	"sync"
	"time"

	"chat-presence-service/internal/chat"
	"chat-presence-service/internal/models"
	"chat-presence-service/internal/observability"
	"chat-presence-service/internal/repositories"
)

// Presence translates connection-registry transitions and explicit status
// updates into notifications for other connected users.
type Presence struct {
	hub   *Hub
	users repositories.UserRepository
	now   func() time.Time

	mu        sync.Mutex
	overrides map[int64]models.UserStatus
	userLocks map[int64]*sync.Mutex
}

// NewPresence constructs a Presence broadcaster over the hub.
func NewPresence(hub *Hub, users repositories.UserRepository) *Presence {
	return &Presence{
		hub:       hub,
		users:     users,
		now:       time.Now,
		overrides: make(map[int64]models.UserStatus),
		userLocks: make(map[int64]*sync.Mutex),
	}
}

// lockUser serializes presence transitions per user so broadcasts stay
// ordered with the registry transitions that produced them. Transitions for
// different users proceed independently.
func (p *Presence) lockUser(userID int64) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.userLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		p.userLocks[userID] = l
	}
	return l
}

func (p *Presence) override(userID int64) (models.UserStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.overrides[userID]
	return s, ok
}

// HandleConnect registers a new connection. On the user's first connection
// it broadcasts user-online to everyone else and unicasts the current
// online-user snapshot to the new connection.
func (p *Presence) HandleConnect(ctx context.Context, client *Client) {
	l := p.lockUser(client.UserID)
	l.Lock()
	defer l.Unlock()

	first := p.hub.Add(client)
	now := p.now()

	if first {
		if _, overridden := p.override(client.UserID); !overridden {
			if err := p.users.UpdateStatus(ctx, client.UserID, models.StatusOnline); err != nil {
				log.Printf("presence: persist online user=%d: %v", client.UserID, err)
			}
			p.hub.SendToAll(client.UserID, models.ServerEvent{
				Type:      models.EventUserOnline,
				UserID:    client.UserID,
				Timestamp: &now,
			})
			p.publish(ctx, "user_online", client.UserID)
			observability.IncPresenceEvent("online")
		}
	}

	snapshot := p.hub.OnlineUsers()
	if err := client.Send(models.ServerEvent{Type: models.EventOnlineUsers, OnlineUsers: snapshot, Timestamp: &now}); err != nil {
		log.Printf("presence: snapshot write user=%d conn=%s: %v", client.UserID, client.ID, err)
	}
}

// HandleDisconnect unregisters a connection. When the user's last connection
// is gone and no status override is active it broadcasts user-offline. Safe
// to call more than once for the same connection.
func (p *Presence) HandleDisconnect(ctx context.Context, userID int64, connID string) {
	l := p.lockUser(userID)
	l.Lock()
	defer l.Unlock()

	last := p.hub.Remove(userID, connID)
	if !last {
		return
	}
	p.hub.LeaveAllRooms(userID)

	now := p.now()
	if err := p.users.TouchLastSeen(ctx, userID, now); err != nil {
		log.Printf("presence: persist last seen user=%d: %v", userID, err)
	}

	if _, overridden := p.override(userID); overridden {
		return
	}
	if err := p.users.UpdateStatus(ctx, userID, models.StatusOffline); err != nil {
		log.Printf("presence: persist offline user=%d: %v", userID, err)
	}
	p.hub.SendToAll(userID, models.ServerEvent{
		Type:      models.EventUserOffline,
		UserID:    userID,
		Timestamp: &now,
	})
	p.publish(ctx, "user_offline", userID)
	observability.IncPresenceEvent("offline")
}

// UpdateStatus applies an explicit status request from an authenticated
// user. Setting online clears any override and behaves as a presence event
// without touching the connection registry; away and offline act as
// overrides so the user presents that status while still connected.
func (p *Presence) UpdateStatus(ctx context.Context, userID int64, status models.UserStatus) error {
	if !status.Valid() {
		return chat.NewPrecondition("unknown status %q", status)
	}

	l := p.lockUser(userID)
	l.Lock()
	defer l.Unlock()

	if err := p.users.UpdateStatus(ctx, userID, status); err != nil {
		return err
	}

	now := p.now()
	p.mu.Lock()
	if status == models.StatusOnline {
		delete(p.overrides, userID)
	} else {
		p.overrides[userID] = status
	}
	p.mu.Unlock()

	switch status {
	case models.StatusOnline:
		p.hub.SendToAll(userID, models.ServerEvent{Type: models.EventUserOnline, UserID: userID, Timestamp: &now})
	case models.StatusOffline:
		p.hub.SendToAll(userID, models.ServerEvent{Type: models.EventUserOffline, UserID: userID, Timestamp: &now})
	default:
		p.hub.SendToAll(userID, models.ServerEvent{Type: models.EventUserStatus, UserID: userID, Status: string(status), Timestamp: &now})
	}
	p.publish(ctx, "user_status_"+string(status), userID)
	observability.IncPresenceEvent(string(status))
	return nil
}

// MarkAway moves a timed-out user to away without severing connections. The
// transport may stay open; only the application session has expired. No
// override is recorded, so a later disconnect still broadcasts offline.
func (p *Presence) MarkAway(ctx context.Context, userID int64) {
	l := p.lockUser(userID)
	l.Lock()
	defer l.Unlock()

	if err := p.users.UpdateStatus(ctx, userID, models.StatusAway); err != nil {
		log.Printf("presence: persist away user=%d: %v", userID, err)
	}
	now := p.now()
	p.hub.SendToAll(userID, models.ServerEvent{
		Type:      models.EventUserStatus,
		UserID:    userID,
		Status:    string(models.StatusAway),
		Timestamp: &now,
	})
	p.publish(ctx, "user_away", userID)
	observability.IncPresenceEvent("away")
}

func (p *Presence) publish(ctx context.Context, name string, userID int64) {
	_ = observability.PublishEvent(ctx, observability.RoutingPresence, observability.EventEnvelope{
		EventType: "presence_events",
		EventName: name,
		Payload: map[string]interface{}{
			"user_id":     userID,
			"occurred_at": p.now().UTC().Format(time.RFC3339Nano),
		},
	}, nil)
}
