package session

import (
	"context"
	"log"
	"math"
	"sync"
	"time"
)

// ActivityStore is the durable fallback for session activity, satisfied by
// the user repository.
type ActivityStore interface {
	TouchActivity(ctx context.Context, userID int64, at time.Time) error
	LastActivity(ctx context.Context, userID int64) (*time.Time, error)
}

// Status describes the liveness of a user's application session.
type Status struct {
	IsActive        bool `json:"is_active"`
	MinutesInactive int  `json:"minutes_inactive"`
	ShowWarning     bool `json:"show_warning"`
	RequiresReauth  bool `json:"requires_reauth"`
}

// Warning identifies a session inside the warning window.
type Warning struct {
	UserID           int64
	ConnID           string
	MinutesRemaining int
}

// Expired identifies a session at or beyond the timeout threshold.
type Expired struct {
	UserID int64
	ConnID string
}

type entry struct {
	mu           sync.Mutex
	lastActivity time.Time
	connID       string
	warned       bool
}

// Registry tracks per-user session activity in memory. The outer map is
// locked only for entry lookup and insertion; all timestamp mutation happens
// under the per-user entry lock, so unrelated users never contend.
type Registry struct {
	mu      sync.RWMutex
	entries map[int64]*entry

	timeout time.Duration
	store   ActivityStore
	now     func() time.Time
}

// NewRegistry constructs a Registry with the given inactivity timeout.
func NewRegistry(store ActivityStore, timeout time.Duration) *Registry {
	return &Registry{
		entries: make(map[int64]*entry),
		timeout: timeout,
		store:   store,
		now:     time.Now,
	}
}

func (r *Registry) entryFor(userID int64) *entry {
	r.mu.RLock()
	e, ok := r.entries[userID]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[userID]; ok {
		return e
	}
	e = &entry{}
	r.entries[userID] = e
	return e
}

// TrackActivity upserts the user's last-activity timestamp and clears any
// pending warning. Timestamps are max-wins so out-of-order concurrent
// signals cannot move a session backwards. connID, when non-empty, records
// where out-of-band notices for this session should go.
func (r *Registry) TrackActivity(ctx context.Context, userID int64, connID string) {
	now := r.now()

	e := r.entryFor(userID)
	e.mu.Lock()
	if now.After(e.lastActivity) {
		e.lastActivity = now
	}
	e.warned = false
	if connID != "" {
		e.connID = connID
	}
	ts := e.lastActivity
	e.mu.Unlock()

	// Durable write happens outside any registry lock.
	if err := r.store.TouchActivity(ctx, userID, ts); err != nil {
		log.Printf("session: persist activity failed user=%d: %v", userID, err)
	}
}

// CheckStatus evaluates session liveness. A user with no in-memory record
// falls back to the persisted timestamp; a user with no record anywhere is
// not active and must re-authenticate.
func (r *Registry) CheckStatus(ctx context.Context, userID int64) Status {
	now := r.now()

	r.mu.RLock()
	e, ok := r.entries[userID]
	r.mu.RUnlock()

	var last time.Time
	if ok {
		e.mu.Lock()
		last = e.lastActivity
		e.mu.Unlock()
	} else {
		persisted, err := r.store.LastActivity(ctx, userID)
		if err != nil || persisted == nil {
			return Status{RequiresReauth: true}
		}
		last = *persisted
	}

	inactive := now.Sub(last)
	status := Status{
		IsActive:        inactive < r.timeout,
		MinutesInactive: int(inactive.Minutes()),
	}
	status.RequiresReauth = !status.IsActive
	status.ShowWarning = inactive >= r.timeout-time.Minute && inactive < r.timeout
	return status
}

// Expire removes the user's in-memory session and returns the connection id
// associated with it, if any, so the caller can notify that connection.
func (r *Registry) Expire(userID int64) (string, bool) {
	r.mu.Lock()
	e, ok := r.entries[userID]
	if ok {
		delete(r.entries, userID)
	}
	r.mu.Unlock()
	if !ok {
		return "", false
	}

	e.mu.Lock()
	connID := e.connID
	e.mu.Unlock()
	return connID, true
}

// Reset re-establishes the session after successful re-authentication.
func (r *Registry) Reset(ctx context.Context, userID int64) {
	r.TrackActivity(ctx, userID, "")
}

// CollectWarnings returns sessions that just entered the warning window and
// have not been warned yet, marking each warned so the notice fires once.
func (r *Registry) CollectWarnings() []Warning {
	now := r.now()

	r.mu.RLock()
	snapshot := make(map[int64]*entry, len(r.entries))
	for id, e := range r.entries {
		snapshot[id] = e
	}
	r.mu.RUnlock()

	var out []Warning
	for userID, e := range snapshot {
		e.mu.Lock()
		inactive := now.Sub(e.lastActivity)
		if !e.warned && inactive >= r.timeout-time.Minute && inactive < r.timeout {
			e.warned = true
			remaining := int(math.Ceil((r.timeout - inactive).Minutes()))
			out = append(out, Warning{UserID: userID, ConnID: e.connID, MinutesRemaining: remaining})
		}
		e.mu.Unlock()
	}
	return out
}

// CollectExpired removes and returns all sessions at or beyond the timeout
// threshold.
func (r *Registry) CollectExpired() []Expired {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Expired
	for userID, e := range r.entries {
		e.mu.Lock()
		inactive := now.Sub(e.lastActivity)
		connID := e.connID
		e.mu.Unlock()
		if inactive >= r.timeout {
			delete(r.entries, userID)
			out = append(out, Expired{UserID: userID, ConnID: connID})
		}
	}
	return out
}
