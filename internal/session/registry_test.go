package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu       sync.Mutex
	activity map[int64]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{activity: make(map[int64]time.Time)}
}

func (s *fakeStore) TouchActivity(_ context.Context, userID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.activity[userID]; !ok || at.After(current) {
		s.activity[userID] = at
	}
	return nil
}

func (s *fakeStore) LastActivity(_ context.Context, userID int64) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.activity[userID]
	if !ok {
		return nil, nil
	}
	return &at, nil
}

func newTestRegistry(timeout time.Duration) (*Registry, *fakeStore, *time.Time) {
	store := newFakeStore()
	r := NewRegistry(store, timeout)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	return r, store, &now
}

func TestTrackActivityMakesActive(t *testing.T) {
	r, _, _ := newTestRegistry(10 * time.Minute)

	r.TrackActivity(context.Background(), 1, "conn-a")

	status := r.CheckStatus(context.Background(), 1)
	require.True(t, status.IsActive)
	require.False(t, status.RequiresReauth)
	require.False(t, status.ShowWarning)
	require.Equal(t, 0, status.MinutesInactive)
}

func TestCheckStatusWarningWindow(t *testing.T) {
	r, _, now := newTestRegistry(10 * time.Minute)

	r.TrackActivity(context.Background(), 1, "")
	*now = now.Add(9*time.Minute + 30*time.Second)

	status := r.CheckStatus(context.Background(), 1)
	require.True(t, status.IsActive)
	require.True(t, status.ShowWarning)
	require.Equal(t, 9, status.MinutesInactive)
}

func TestCheckStatusTimeout(t *testing.T) {
	r, _, now := newTestRegistry(10 * time.Minute)

	r.TrackActivity(context.Background(), 1, "")
	*now = now.Add(11 * time.Minute)

	status := r.CheckStatus(context.Background(), 1)
	require.False(t, status.IsActive)
	require.True(t, status.RequiresReauth)
	require.False(t, status.ShowWarning)
}

func TestTrackActivityTimestampsAreMonotonic(t *testing.T) {
	r, _, now := newTestRegistry(10 * time.Minute)

	r.TrackActivity(context.Background(), 1, "")
	// A concurrent signal delivered out of order must not move the
	// session backwards.
	*now = now.Add(-2 * time.Minute)
	r.TrackActivity(context.Background(), 1, "")

	*now = now.Add(2 * time.Minute) // back to the original time
	status := r.CheckStatus(context.Background(), 1)
	require.Equal(t, 0, status.MinutesInactive)
}

func TestCheckStatusFallsBackToDurableRecord(t *testing.T) {
	r, store, now := newTestRegistry(10 * time.Minute)

	persisted := now.Add(-5 * time.Minute)
	require.NoError(t, store.TouchActivity(context.Background(), 7, persisted))

	status := r.CheckStatus(context.Background(), 7)
	require.True(t, status.IsActive)
	require.Equal(t, 5, status.MinutesInactive)
}

func TestCheckStatusUnknownUserRequiresReauth(t *testing.T) {
	r, _, _ := newTestRegistry(10 * time.Minute)

	status := r.CheckStatus(context.Background(), 42)
	require.False(t, status.IsActive)
	require.True(t, status.RequiresReauth)
}

func TestExpireReturnsAssociatedConnection(t *testing.T) {
	r, _, _ := newTestRegistry(10 * time.Minute)

	r.TrackActivity(context.Background(), 1, "conn-a")

	connID, ok := r.Expire(1)
	require.True(t, ok)
	require.Equal(t, "conn-a", connID)

	_, ok = r.Expire(1)
	assert.False(t, ok)
}

func TestCollectWarningsFiresOnce(t *testing.T) {
	r, _, now := newTestRegistry(10 * time.Minute)

	r.TrackActivity(context.Background(), 1, "conn-a")
	*now = now.Add(9*time.Minute + 10*time.Second)

	warnings := r.CollectWarnings()
	require.Len(t, warnings, 1)
	require.Equal(t, int64(1), warnings[0].UserID)
	require.Equal(t, "conn-a", warnings[0].ConnID)
	require.Equal(t, 1, warnings[0].MinutesRemaining)

	require.Empty(t, r.CollectWarnings())
}

func TestActivityClearsWarnedFlag(t *testing.T) {
	r, _, now := newTestRegistry(10 * time.Minute)

	r.TrackActivity(context.Background(), 1, "conn-a")
	*now = now.Add(9*time.Minute + 10*time.Second)
	require.Len(t, r.CollectWarnings(), 1)

	r.TrackActivity(context.Background(), 1, "conn-a")
	*now = now.Add(9*time.Minute + 10*time.Second)
	require.Len(t, r.CollectWarnings(), 1)
}

func TestCollectExpiredRemovesSessions(t *testing.T) {
	r, _, now := newTestRegistry(10 * time.Minute)

	r.TrackActivity(context.Background(), 1, "conn-a")
	r.TrackActivity(context.Background(), 2, "conn-b")
	*now = now.Add(10 * time.Minute)

	expired := r.CollectExpired()
	require.Len(t, expired, 2)
	require.Empty(t, r.CollectExpired())
}

func TestResetReestablishesSession(t *testing.T) {
	r, _, now := newTestRegistry(10 * time.Minute)

	r.TrackActivity(context.Background(), 1, "conn-a")
	*now = now.Add(11 * time.Minute)
	require.Len(t, r.CollectExpired(), 1)
	require.True(t, r.CheckStatus(context.Background(), 1).RequiresReauth)

	r.Reset(context.Background(), 1)
	status := r.CheckStatus(context.Background(), 1)
	require.True(t, status.IsActive)
	require.False(t, status.RequiresReauth)
}

func TestConcurrentTrackActivity(t *testing.T) {
	store := newFakeStore()
	r := NewRegistry(store, 10*time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r.TrackActivity(context.Background(), userID%4, "conn")
			}
		}(int64(i))
	}
	wg.Wait()

	for userID := int64(0); userID < 4; userID++ {
		require.True(t, r.CheckStatus(context.Background(), userID).IsActive)
	}
}
