package ws

import (
	"encoding/json"
	"log"
	"sync"

	"chat-presence-service/internal/models"
	"chat-presence-service/internal/observability"
)

const shardCount = 32

type userShard struct {
	mu    sync.RWMutex
	users map[int64]map[string]*Client
}

// Hub is the connection registry: a sharded mapping of user identity to the
// set of live connections, plus group-room membership. Sharding keeps
// presence updates for unrelated users from contending on one lock.
type Hub struct {
	shards [shardCount]*userShard
	rooms  *roomIndex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	h := &Hub{rooms: newRoomIndex()}
	for i := range h.shards {
		h.shards[i] = &userShard{users: make(map[int64]map[string]*Client)}
	}
	return h
}

func (h *Hub) shard(userID int64) *userShard {
	return h.shards[uint64(userID)%shardCount]
}

// Add registers a connection under its user. It reports whether this is the
// user's first live connection.
func (h *Hub) Add(client *Client) bool {
	s := h.shard(client.UserID)
	s.mu.Lock()
	defer s.mu.Unlock()
	conns, ok := s.users[client.UserID]
	if !ok {
		conns = make(map[string]*Client)
		s.users[client.UserID] = conns
	}
	first := len(conns) == 0
	conns[client.ID] = client
	return first
}

// Remove drops one connection. It reports whether the user is now fully
// offline (last connection removed). Removing an unknown connection is a
// no-op: every transport-close path calls Remove and double removal must be
// harmless.
func (h *Hub) Remove(userID int64, connID string) bool {
	s := h.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	conns, ok := s.users[userID]
	if !ok {
		return false
	}
	if _, present := conns[connID]; !present {
		return false
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(s.users, userID)
		return true
	}
	return false
}

// ConnectionsFor returns a snapshot of the user's live connections. An empty
// result means the user is not reachable synchronously.
func (h *Hub) ConnectionsFor(userID int64) []*Client {
	s := h.shard(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	conns := s.users[userID]
	if len(conns) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// IsOnline reports whether the user has at least one live connection.
func (h *Hub) IsOnline(userID int64) bool {
	s := h.shard(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users[userID]) > 0
}

// OnlineUsers returns all users with at least one live connection.
func (h *Hub) OnlineUsers() []int64 {
	var out []int64
	for _, s := range h.shards {
		s.mu.RLock()
		for userID := range s.users {
			out = append(out, userID)
		}
		s.mu.RUnlock()
	}
	return out
}

// SendToUser delivers an event to every live connection of the user and
// returns how many connections were written. Live delivery is best-effort; a
// failed write closes the transport, which makes the owning read loop exit
// and run the disconnect path. The hub never unregisters connections itself:
// registry removal stays with Presence.HandleDisconnect so the offline
// transition fires exactly once, on the read loop's cleanup.
func (h *Hub) SendToUser(userID int64, event models.ServerEvent) int {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("hub: marshal event %s: %v", event.Type, err)
		return 0
	}
	return h.sendPayload(userID, payload)
}

func (h *Hub) sendPayload(userID int64, payload []byte) int {
	written := 0
	for _, client := range h.ConnectionsFor(userID) {
		if err := client.write(payload); err != nil {
			log.Printf("websocket write error user=%d conn=%s: %v", userID, client.ID, err)
			client.Conn.Close()
			observability.IncWSEvent("write_error")
			continue
		}
		written++
	}
	return written
}

// NotifyConn delivers an event to one specific connection of a user. It
// reports whether that connection was still registered.
func (h *Hub) NotifyConn(userID int64, connID string, event models.ServerEvent) bool {
	s := h.shard(userID)
	s.mu.RLock()
	client, ok := s.users[userID][connID]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	if err := client.Send(event); err != nil {
		log.Printf("websocket write error user=%d conn=%s: %v", userID, connID, err)
		client.Conn.Close()
		return false
	}
	return true
}

// SendToAll broadcasts an event to every online user except one.
func (h *Hub) SendToAll(exceptUserID int64, event models.ServerEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("hub: marshal event %s: %v", event.Type, err)
		return
	}
	for _, userID := range h.OnlineUsers() {
		if userID == exceptUserID {
			continue
		}
		h.sendPayload(userID, payload)
	}
}

// JoinRoom adds the user to a group room.
func (h *Hub) JoinRoom(roomID, userID int64) {
	h.rooms.add(roomID, userID)
}

// LeaveRoom removes the user from a group room.
func (h *Hub) LeaveRoom(roomID, userID int64) {
	h.rooms.remove(roomID, userID)
}

// LeaveAllRooms removes the user from every room, returning the rooms left.
// Called on disconnect so membership never outlives the transport.
func (h *Hub) LeaveAllRooms(userID int64) []int64 {
	return h.rooms.removeUserFromAll(userID)
}

// RoomMembers returns the users currently joined to a room.
func (h *Hub) RoomMembers(roomID int64) []int64 {
	return h.rooms.members(roomID)
}

// SendToRoom delivers an event to every member of a room except one user.
func (h *Hub) SendToRoom(roomID, exceptUserID int64, event models.ServerEvent) int {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("hub: marshal event %s: %v", event.Type, err)
		return 0
	}
	written := 0
	for _, userID := range h.rooms.members(roomID) {
		if userID == exceptUserID {
			continue
		}
		written += h.sendPayload(userID, payload)
	}
	return written
}

// CloseUser sends a final event to all of the user's connections and closes
// the transports. Each read loop then exits and runs its disconnect path, so
// registry removal, room teardown and the offline broadcast happen there.
func (h *Hub) CloseUser(userID int64, event models.ServerEvent) {
	for _, client := range h.ConnectionsFor(userID) {
		_ = client.Send(event)
		client.Conn.Close()
	}
}
