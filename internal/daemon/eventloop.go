package daemon

import (
	"context"
	"time"
)

// DefaultMaintenanceInterval paces the event loop.
const DefaultMaintenanceInterval = 30 * time.Second

// EventLoop runs periodic maintenance while the daemon is up.
type EventLoop struct {
	daemon   *Daemon
	interval time.Duration

	lastFailed int64
}

// NewEventLoop creates a new event loop
func NewEventLoop(d *Daemon, interval time.Duration) *EventLoop {
	if interval <= 0 {
		interval = DefaultMaintenanceInterval
	}
	return &EventLoop{
		daemon:   d,
		interval: interval,
	}
}

// Run runs the event loop until ctx is done.
func (e *EventLoop) Run(ctx context.Context) {
	e.daemon.logger.Debug().Dur("interval", e.interval).Msg("Event loop started")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.daemon.logger.Debug().Msg("Event loop stopping")
			return
		case <-ticker.C:
			e.processTasks(ctx)
		}
	}
}

// processTasks reports run and ledger activity.
func (e *EventLoop) processTasks(ctx context.Context) {
	rt := e.daemon.runtime

	active := rt.Coordinator.ActiveRuns()
	stats := rt.Ledger.Stats()
	if len(active) > 0 || stats.Queued > 0 {
		e.daemon.logger.Debug().
			Strs("active_runs", active).
			Int("usage_queued", stats.Queued).
			Msg("Runtime stats")
	}
	if stats.Failed > e.lastFailed {
		e.daemon.logger.Warn().
			Int64("failed", stats.Failed-e.lastFailed).
			Msg("Usage rows were dropped since the last check")
	}
	e.lastFailed = stats.Failed
}
