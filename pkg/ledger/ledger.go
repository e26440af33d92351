package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/internal/observability"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/internal/tracing"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/commandqueue"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/store"
	"github.com/rs/zerolog"
)

// UsageStore is the subset of the store the ledger needs.
type UsageStore interface {
	UpsertStepUsage(ctx context.Context, usage store.StepUsage) error
	NextRunNumber(ctx context.Context, conversationID string) (int, error)
	AggregateTokens(ctx context.Context, conversationID string) (store.TokenTotals, error)
	RunTotals(ctx context.Context, conversationID string, runNumber int) (store.RunTotals, error)
	ListRunTotals(ctx context.Context, conversationID string) ([]store.RunTotals, error)
}

// Config configures a Ledger.
type Config struct {
	Store UsageStore
	// QueueCapacity bounds the number of pending asynchronous writes.
	QueueCapacity int
	Logger        zerolog.Logger
}

// Ledger turns per-step usage into idempotent rows and serves per-run and
// cumulative totals.
type Ledger struct {
	store  UsageStore
	queue  *commandqueue.Queue
	logger zerolog.Logger

	// highWater remembers the last run number handed out per conversation.
	// Usage rows are written asynchronously, so the store alone can lag
	// behind a run that just finished.
	mu        sync.Mutex
	highWater map[string]int
}

// New creates a Ledger and starts its write queue.
func New(cfg Config) (*Ledger, error) {
	if cfg.Store == nil {
		return nil, errors.New("ledger store is required")
	}

	logger := cfg.Logger.With().Str("component", "ledger").Logger()
	return &Ledger{
		store: cfg.Store,
		queue: commandqueue.New(commandqueue.Config{
			Name:     "usage",
			Capacity: cfg.QueueCapacity,
			Logger:   cfg.Logger,
		}),
		logger:    logger,
		highWater: make(map[string]int),
	}, nil
}

// BeginRun returns the run number for the next run of a conversation. Call it
// once per run, while holding the conversation's run lock.
func (l *Ledger) BeginRun(ctx context.Context, conversationID string) (int, error) {
	next, err := l.store.NextRunNumber(ctx, conversationID)
	if err != nil {
		return 0, fmt.Errorf("failed to get next run number: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if hw := l.highWater[conversationID]; hw >= next {
		next = hw + 1
	}
	l.highWater[conversationID] = next
	return next, nil
}

// Forget drops in-memory bookkeeping for a deleted conversation.
func (l *Ledger) Forget(conversationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.highWater, conversationID)
}

// Record upserts one step's usage synchronously.
func (l *Ledger) Record(ctx context.Context, usage store.StepUsage) error {
	return l.store.UpsertStepUsage(ctx, normalize(usage))
}

// RecordAsync queues a usage write without blocking. It reports false when
// the write was dropped. Failures never reach the caller: a storage error is
// retried once, then logged.
func (l *Ledger) RecordAsync(ctx context.Context, usage store.StepUsage) bool {
	usage = normalize(usage)
	id := fmt.Sprintf("%s:%d:%d", usage.ConversationID, usage.RunNumber, usage.StepNumber)

	ok := l.queue.TrySubmit(ctx, id, func(ctx context.Context) error {
		err := l.store.UpsertStepUsage(ctx, usage)
		if store.IsRetryable(err) {
			err = l.store.UpsertStepUsage(ctx, usage)
		}
		if err != nil {
			observability.RecordLedgerDrop()
			logger := tracing.LoggerFromContext(ctx, l.logger)
			logger.Warn().
				Err(err).
				Str("conversation_id", usage.ConversationID).
				Int("run_number", usage.RunNumber).
				Int("step_number", usage.StepNumber).
				Msg("Dropping step usage")
		}
		return err
	})
	if !ok {
		observability.RecordLedgerDrop()
	}
	return ok
}

// RunTotals returns the totals of a single run.
func (l *Ledger) RunTotals(ctx context.Context, conversationID string, runNumber int) (store.RunTotals, error) {
	return l.store.RunTotals(ctx, conversationID, runNumber)
}

// Cumulative returns the totals across every run of a conversation.
func (l *Ledger) Cumulative(ctx context.Context, conversationID string) (store.TokenTotals, error) {
	return l.store.AggregateTokens(ctx, conversationID)
}

// Runs returns the per-run totals of a conversation in run order.
func (l *Ledger) Runs(ctx context.Context, conversationID string) ([]store.RunTotals, error) {
	return l.store.ListRunTotals(ctx, conversationID)
}

// Flush waits until every queued write has been attempted.
func (l *Ledger) Flush(ctx context.Context) error {
	return l.queue.Flush(ctx)
}

// Stats exposes the write queue counters.
func (l *Ledger) Stats() commandqueue.Stats {
	return l.queue.Stats()
}

// Close drains pending writes and stops the queue.
func (l *Ledger) Close() error {
	return l.queue.Close()
}

// normalize clamps negative counts to zero.
func normalize(usage store.StepUsage) store.StepUsage {
	if usage.InputTokens < 0 {
		usage.InputTokens = 0
	}
	if usage.OutputTokens < 0 {
		usage.OutputTokens = 0
	}
	return usage
}
