package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/quellen-dev/lobbyd/pkg/logger"
)

const (
	defaultSchedule         = "@every 1m"
	defaultJoinTimeout      = 2 * time.Minute
	defaultAbandonedTimeout = 10 * time.Minute
)

// ConnectionSweeper is the slice of the transport the sweeper drives.
type ConnectionSweeper interface {
	SweepUnestablished(maxAge time.Duration) int
}

// Lobby is the slice of the gateway the abandoned-session watchdog drives.
type Lobby interface {
	SessionState() (active bool, connectedPlayers int)
	EndSession()
}

// SweepStats reports what one maintenance pass did.
type SweepStats struct {
	DroppedConnections int
	SessionEnded       bool
}

// Cleaner runs background maintenance: dropping connections that never
// complete the join handshake, and ending sessions every player has walked
// away from. Any nil dependency results in the corresponding job being
// skipped.
type Cleaner struct {
	conns ConnectionSweeper
	lobby Lobby
	cron  *cron.Cron
	now   func() time.Time
	log   *zap.Logger

	enabled          bool
	schedule         string
	joinTimeout      time.Duration
	abandonedTimeout time.Duration

	mu         sync.Mutex
	emptySince time.Time
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for abandonment tracking.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithSchedule overrides the cron specification for maintenance passes.
func WithSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.schedule = spec
		}
	}
}

// WithJoinTimeout adjusts how long a connection may stay anonymous before
// the sweeper drops it. Zero disables the connection sweep.
func WithJoinTimeout(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d >= 0 {
			cleaner.joinTimeout = d
		}
	}
}

// WithAbandonedTimeout adjusts how long an active session may sit with no
// connected players before it is ended. Zero disables the watchdog.
func WithAbandonedTimeout(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d >= 0 {
			cleaner.abandonedTimeout = d
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults.
func NewCleaner(conns ConnectionSweeper, lobby Lobby, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		conns:            conns,
		lobby:            lobby,
		now:              time.Now,
		schedule:         defaultSchedule,
		joinTimeout:      defaultJoinTimeout,
		abandonedTimeout: defaultAbandonedTimeout,
		log:              logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	cleaner.enabled = cleaner.conns != nil || cleaner.lobby != nil

	return cleaner
}

// Start registers the maintenance pass with the cron scheduler and launches
// it if at least one job is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled {
		return nil
	}

	if _, err := c.cron.AddFunc(c.schedule, func() { c.RunOnce() }); err != nil {
		return err
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes one maintenance pass. Exposed for tests and for shutdown
// paths that want a final sweep.
func (c *Cleaner) RunOnce() SweepStats {
	var stats SweepStats

	if c.conns != nil && c.joinTimeout > 0 {
		stats.DroppedConnections = c.conns.SweepUnestablished(c.joinTimeout)
	}

	if c.lobby != nil && c.abandonedTimeout > 0 {
		stats.SessionEnded = c.reapAbandonedSession()
	}

	if stats.DroppedConnections > 0 || stats.SessionEnded {
		c.log.Info("maintenance pass",
			zap.Int("dropped_connections", stats.DroppedConnections),
			zap.Bool("session_ended", stats.SessionEnded))
	}
	return stats
}

// reapAbandonedSession ends the session once it has been empty for the full
// abandonment window. The window restarts whenever a player is connected.
func (c *Cleaner) reapAbandonedSession() bool {
	active, connected := c.lobby.SessionState()

	c.mu.Lock()
	if !active || connected > 0 {
		c.emptySince = time.Time{}
		c.mu.Unlock()
		return false
	}

	now := c.now()
	if c.emptySince.IsZero() {
		c.emptySince = now
		c.mu.Unlock()
		return false
	}

	if now.Sub(c.emptySince) < c.abandonedTimeout {
		c.mu.Unlock()
		return false
	}
	c.emptySince = time.Time{}
	c.mu.Unlock()

	c.log.Info("ending abandoned session")
	c.lobby.EndSession()
	return true
}
