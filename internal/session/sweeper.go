package session

import (
	"context"
	"log"
	"time"

	"chat-presence-service/internal/models"
	"chat-presence-service/internal/observability"
	"chat-presence-service/internal/telemetry"
)

// ConnNotifier delivers an out-of-band notice to one of a user's
// connections. It reports whether the connection was still reachable.
type ConnNotifier interface {
	NotifyConn(userID int64, connID string, event models.ServerEvent) bool
}

// PresenceMarker moves a timed-out user's presence to away.
type PresenceMarker interface {
	MarkAway(ctx context.Context, userID int64)
}

// Sweeper periodically scans the session registry for sessions that need a
// warning or a forced timeout. The sweep runs on its own ticker, independent
// of request traffic: timeout is a property of activity, not of transport
// liveness, so a websocket may stay open past a session timeout.
type Sweeper struct {
	registry *Registry
	notifier ConnNotifier
	presence PresenceMarker
	audit    *telemetry.AuditEmitter
	interval time.Duration
}

// NewSweeper constructs a Sweeper.
func NewSweeper(registry *Registry, notifier ConnNotifier, presence PresenceMarker, audit *telemetry.AuditEmitter, interval time.Duration) *Sweeper {
	return &Sweeper{registry: registry, notifier: notifier, presence: presence, audit: audit, interval: interval}
}

// Run blocks, sweeping on a fixed interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("session sweeper started interval=%s", s.interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("session sweeper stopped: %v", ctx.Err())
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one warning pass and one timeout pass. Each user's step is
// isolated: a failure for one user never aborts the rest of the batch.
func (s *Sweeper) Sweep(ctx context.Context) {
	observability.IncSweepRun()

	for _, w := range s.registry.CollectWarnings() {
		w := w
		s.step(w.UserID, "warning", func() error {
			if w.ConnID == "" {
				return nil
			}
			s.notifier.NotifyConn(w.UserID, w.ConnID, models.ServerEvent{
				Type:                models.EventSessionWarning,
				MinutesUntilTimeout: w.MinutesRemaining,
			})
			observability.IncSessionWarned()
			return nil
		})
	}

	for _, e := range s.registry.CollectExpired() {
		e := e
		s.step(e.UserID, "timeout", func() error {
			s.presence.MarkAway(ctx, e.UserID)
			if e.ConnID != "" {
				s.notifier.NotifyConn(e.UserID, e.ConnID, models.ServerEvent{
					Type:   models.EventSessionTimeout,
					Reason: "session timed out due to inactivity, re-authentication required",
				})
			}
			s.audit.Emit(ctx, "WARN", "session expired due to inactivity", "", &e.UserID)
			observability.IncSessionExpired()
			return nil
		})
	}
}

func (s *Sweeper) step(userID int64, phase string, fn func() error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("session sweep %s panic user=%d: %v", phase, userID, rec)
		}
	}()
	if err := fn(); err != nil {
		log.Printf("session sweep %s failed user=%d: %v", phase, userID, err)
	}
}
