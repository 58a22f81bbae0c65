package upload

import (
	"context"
	"time"

	"github.com/relaycast/relaycast/pkg/logger"
	"github.com/relaycast/relaycast/pkg/session"
	"github.com/relaycast/relaycast/pkg/utils"
)

// Default reaper tuning. The store TTL should exceed DefaultStaleTimeout by
// some slack so the reaper, not key expiry, is what retires abandoned
// sessions.
const (
	DefaultStaleTimeout  = 30 * time.Minute
	DefaultSweepInterval = 5 * time.Minute
)

// Reaper periodically cancels sessions whose last activity predates the
// stale timeout, bounding resource leakage from abandoned client uploads.
// It runs on its own schedule and takes no locks that chunk uploads hold;
// an upload racing a sweep loses cleanly through the store's atomicity.
type Reaper struct {
	orch     *Orchestrator
	store    session.Store
	timeout  time.Duration
	interval time.Duration
	stopCh   chan struct{}
	now      func() time.Time
}

// ReaperConfig holds configuration for Reaper.
type ReaperConfig struct {
	StaleTimeout  time.Duration // 0 means DefaultStaleTimeout
	SweepInterval time.Duration // 0 means DefaultSweepInterval
}

// NewReaper creates a reaper sweeping the orchestrator's store.
func NewReaper(orch *Orchestrator, store session.Store, cfg ReaperConfig) *Reaper {
	timeout := cfg.StaleTimeout
	if timeout == 0 {
		timeout = DefaultStaleTimeout
	}
	interval := cfg.SweepInterval
	if interval == 0 {
		interval = DefaultSweepInterval
	}
	return &Reaper{
		orch:     orch,
		store:    store,
		timeout:  timeout,
		interval: interval,
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
}

// Start runs the sweep loop in a goroutine.
func (r *Reaper) Start() {
	if r.interval <= 0 {
		return
	}
	go func() {
		// Jittered so multiple replicas do not sweep in lockstep.
		tick, stop := utils.JitteredTicker(r.interval, 0.1)
		defer stop()
		for {
			select {
			case <-tick:
				r.Run(context.Background())
			case <-r.stopCh:
				return
			}
		}
	}()
}

// Stop signals the sweep loop to exit.
func (r *Reaper) Stop() {
	close(r.stopCh)
}

// Run performs a single sweep.
func (r *Reaper) Run(ctx context.Context) {
	sessions, err := r.store.List(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("reaper: session scan failed")
		return
	}

	cutoff := r.now().Add(-r.timeout).UnixNano()
	reaped := 0
	for _, s := range sessions {
		if s.Status.Terminal() || s.LastActivityAt > cutoff {
			continue
		}
		if err := r.orch.Cancel(ctx, s.ID); err != nil {
			logger.Warn().Err(err).
				Str("session_id", s.ID).
				Msg("reaper: cancel failed")
			continue
		}
		sessionsReaped.Inc()
		reaped++
		logger.Info().
			Str("session_id", s.ID).
			Str("owner_id", s.OwnerID).
			Str("platform", s.Platform.String()).
			Dur("idle", time.Duration(r.now().UnixNano()-s.LastActivityAt)).
			Msg("reaper: stale session cancelled")
	}

	if reaped > 0 {
		logger.Info().
			Int("reaped", reaped).
			Int("scanned", len(sessions)).
			Msg("reaper: sweep completed")
	}
}
