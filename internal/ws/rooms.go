package ws

import "sync"

// roomIndex tracks group-room membership with both forward and reverse
// indexes. Forward: room -> users, for targeted fan-out. Reverse: user ->
// rooms, so a disconnecting user leaves everything in O(their rooms).
type roomIndex struct {
	mu    sync.RWMutex
	rooms map[int64]map[int64]bool
	users map[int64]map[int64]bool
}

func newRoomIndex() *roomIndex {
	return &roomIndex{
		rooms: make(map[int64]map[int64]bool),
		users: make(map[int64]map[int64]bool),
	}
}

func (r *roomIndex) add(roomID, userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms[roomID] == nil {
		r.rooms[roomID] = make(map[int64]bool)
	}
	r.rooms[roomID][userID] = true
	if r.users[userID] == nil {
		r.users[userID] = make(map[int64]bool)
	}
	r.users[userID][roomID] = true
}

func (r *roomIndex) remove(roomID, userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if members, ok := r.rooms[roomID]; ok {
		delete(members, userID)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
	if rooms, ok := r.users[userID]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(r.users, userID)
		}
	}
}

func (r *roomIndex) members(roomID int64) []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[roomID]
	if len(members) == 0 {
		return nil
	}
	out := make([]int64, 0, len(members))
	for userID := range members {
		out = append(out, userID)
	}
	return out
}

func (r *roomIndex) removeUserFromAll(userID int64) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	rooms, ok := r.users[userID]
	if !ok {
		return nil
	}
	affected := make([]int64, 0, len(rooms))
	for roomID := range rooms {
		affected = append(affected, roomID)
		if members, ok := r.rooms[roomID]; ok {
			delete(members, userID)
			if len(members) == 0 {
				delete(r.rooms, roomID)
			}
		}
	}
	delete(r.users, userID)
	return affected
}
