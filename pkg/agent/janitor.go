package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/store"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultJanitorSchedule is used when JanitorConfig.Schedule is empty.
const DefaultJanitorSchedule = "@every 1m"

// JanitorConfig configures a Janitor.
type JanitorConfig struct {
	Coordinator *Coordinator
	// Schedule is a cron spec or descriptor such as "@every 1m".
	Schedule string
	Logger   zerolog.Logger
}

// Janitor resets conversations left running by a crashed process. A
// conversation is stale when its status is running but no run is registered
// for it.
type Janitor struct {
	coordinator *Coordinator
	schedule    string
	cron        *cron.Cron
	logger      zerolog.Logger

	mu      sync.Mutex
	started bool
}

// NewJanitor creates a Janitor. The schedule is validated here.
func NewJanitor(cfg JanitorConfig) (*Janitor, error) {
	if cfg.Coordinator == nil {
		return nil, fmt.Errorf("coordinator is required")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultJanitorSchedule
	}

	logger := cfg.Logger.With().Str("component", "janitor").Logger()
	j := &Janitor{
		coordinator: cfg.Coordinator,
		schedule:    cfg.Schedule,
		cron:        cron.New(),
		logger:      logger,
	}

	if _, err := j.cron.AddFunc(cfg.Schedule, func() {
		if _, err := j.Sweep(context.Background()); err != nil {
			j.logger.Warn().Err(err).Msg("Janitor sweep failed")
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", cfg.Schedule, err)
	}

	return j, nil
}

// Start runs one sweep immediately and then follows the schedule.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.started {
		return nil
	}

	if _, err := j.Sweep(ctx); err != nil {
		j.logger.Warn().Err(err).Msg("Initial janitor sweep failed")
	}
	j.cron.Start()
	j.started = true

	j.logger.Info().Str("schedule", j.schedule).Msg("Janitor started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.started {
		return
	}
	<-j.cron.Stop().Done()
	j.started = false
}

// resetStale holds the conversation's run lock while it resets, so no run
// can start in between. The reset only applies while the stored status is
// still running: a run that finished after the listing keeps its status.
func (j *Janitor) resetStale(ctx context.Context, id string) (bool, error) {
	c := j.coordinator
	if !c.registry.Acquire(id) {
		return false, nil
	}
	defer c.registry.Release(id)

	var reset bool
	err := withStorageRetry(ctx, func(ctx context.Context) error {
		var err error
		reset, err = c.store.ResetIfRunning(ctx, id)
		return err
	})
	return reset, err
}

// Sweep resets every stale running conversation to idle and returns their ids.
func (j *Janitor) Sweep(ctx context.Context) ([]string, error) {
	start := time.Now()
	c := j.coordinator

	var running []store.Conversation
	err := withStorageRetry(ctx, func(ctx context.Context) error {
		var err error
		running, err = c.store.ListByStatus(ctx, store.StatusRunning)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list running conversations: %w", err)
	}

	var reset []string
	for _, conv := range running {
		ok, err := j.resetStale(ctx, conv.ID)
		if err != nil {
			j.logger.Warn().Err(err).Str("conversation_id", conv.ID).Msg("Failed to reset stale conversation")
			continue
		}
		if ok {
			j.logger.Warn().Str("conversation_id", conv.ID).Msg("Reset conversation left running without an active run")
			reset = append(reset, conv.ID)
		}
	}

	j.logger.Debug().
		Int("checked", len(running)).
		Int("reset", len(reset)).
		Dur("duration", time.Since(start)).
		Msg("Janitor sweep finished")
	return reset, nil
}
