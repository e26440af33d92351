package daemon

import (
	"context"
	"fmt"
	"os"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/internal/config"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/agent"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/conversation"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/engine"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/ledger"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/store"
	"github.com/rs/zerolog"
)

// Runtime is the core shared by the daemon and the local CLI commands:
// storage, the token ledger, the run coordinator and the conversation
// service on top of them.
type Runtime struct {
	Store         *store.Store
	Ledger        *ledger.Ledger
	Engine        engine.Engine
	Coordinator   *agent.Coordinator
	Conversations *conversation.Service

	logger zerolog.Logger
}

// newEngine is swapped in tests.
var newEngine = engine.New

// NewRuntime opens the store and wires the core components.
func NewRuntime(cfg *config.Config, logger zerolog.Logger) (*Runtime, error) {
	if err := cfg.ResolvePaths(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	st, err := store.Open(store.Config{Path: cfg.Storage.Path, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	rt := &Runtime{Store: st, logger: logger}

	rt.Ledger, err = ledger.New(ledger.Config{
		Store:         st,
		QueueCapacity: cfg.Runs.UsageQueueCapacity,
		Logger:        logger,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to create ledger: %w", err)
	}

	rt.Engine, err = newEngine(engine.Config{
		Kind:         cfg.Engine.Kind,
		Model:        cfg.Engine.Model,
		APIKey:       cfg.Engine.APIKey,
		BaseURL:      cfg.Engine.BaseURL,
		SystemPrompt: cfg.Engine.SystemPrompt,
		MaxTokens:    cfg.Engine.MaxTokens,
		Temperature:  cfg.Engine.Temperature,
		PlanFirst:    cfg.Engine.PlanFirst,
		Logger:       logger,
	})
	if err != nil {
		rt.closeStorage()
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	rt.Coordinator, err = agent.NewCoordinator(agent.Config{
		Store:            st,
		Ledger:           rt.Ledger,
		Engine:           rt.Engine,
		ChannelCapacity:  cfg.Runs.ChannelCapacity,
		PersistStepTurns: cfg.Runs.PersistStepTurns,
		Logger:           logger,
	})
	if err != nil {
		rt.closeStorage()
		return nil, fmt.Errorf("failed to create coordinator: %w", err)
	}

	rt.Conversations, err = conversation.New(conversation.Config{
		Store:       st,
		Coordinator: rt.Coordinator,
		Ledger:      rt.Ledger,
		Logger:      logger,
	})
	if err != nil {
		rt.closeStorage()
		return nil, fmt.Errorf("failed to create conversation service: %w", err)
	}

	logger.Debug().
		Str("engine", rt.Engine.Name()).
		Str("store", st.Path()).
		Msg("Runtime ready")
	return rt, nil
}

// Close cancels active runs, waits for them until ctx is done, flushes
// pending usage rows and closes the store.
func (r *Runtime) Close(ctx context.Context) error {
	var firstErr error
	if err := r.Coordinator.Shutdown(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("Runs did not finish before shutdown deadline")
		firstErr = err
	}
	if err := r.Ledger.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.Store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (r *Runtime) closeStorage() {
	_ = r.Ledger.Close()
	_ = r.Store.Close()
}
