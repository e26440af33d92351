package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/internal/observability"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/internal/tracing"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/engine"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/stepchannel"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/store"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/transcript"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// RunStore is the part of the store the coordinator writes through.
type RunStore interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	AppendTurn(ctx context.Context, conversationID string, role store.Role, content string) (*store.Turn, error)
	SaveAgentState(ctx context.Context, id string, blob []byte) error
	SetStatus(ctx context.Context, id string, status store.Status) error
	ListByStatus(ctx context.Context, status store.Status) ([]store.Conversation, error)
	ResetIfRunning(ctx context.Context, id string) (bool, error)
}

// UsageLedger hands out run numbers and records step usage.
type UsageLedger interface {
	BeginRun(ctx context.Context, conversationID string) (int, error)
	RecordAsync(ctx context.Context, usage store.StepUsage) bool
}

// Config configures a Coordinator.
type Config struct {
	Store  RunStore
	Ledger UsageLedger
	Engine engine.Engine
	// ChannelCapacity is the per-subscriber buffer of each run's channel.
	ChannelCapacity int
	// PersistStepTurns also stores planning and action steps as system turns.
	PersistStepTurns bool
	Listeners        []Listener
	Logger           zerolog.Logger
}

// Coordinator runs at most one engine turn per conversation and relays its
// progress.
type Coordinator struct {
	store            RunStore
	ledger           UsageLedger
	engine           engine.Engine
	channelCapacity  int
	persistStepTurns bool
	registry         *Registry
	logger           zerolog.Logger

	listenersMu sync.RWMutex
	listeners   []Listener

	wg sync.WaitGroup
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	observability.EnsureRegistered()

	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg.ChannelCapacity <= 0 {
		cfg.ChannelCapacity = stepchannel.DefaultCapacity
	}

	return &Coordinator{
		store:            cfg.Store,
		ledger:           cfg.Ledger,
		engine:           cfg.Engine,
		channelCapacity:  cfg.ChannelCapacity,
		persistStepTurns: cfg.PersistStepTurns,
		registry:         NewRegistry(),
		logger:           cfg.Logger.With().Str("component", "coordinator").Logger(),
		listeners:        append([]Listener(nil), cfg.Listeners...),
	}, nil
}

// AddListener registers a lifecycle listener.
func (c *Coordinator) AddListener(l Listener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, l)
}

// StartRun persists message as a user turn and starts a run on a worker.
// It returns store.ErrNotFound for an unknown conversation and
// ErrConversationBusy when a run is already active; in both cases nothing
// has been written and no goroutine started.
func (c *Coordinator) StartRun(ctx context.Context, conversationID, message string) (*Run, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx)
	}
	ctx = tracing.WithConversationID(ctx, conversationID)
	ctx, span := tracing.StartSpan(ctx, "cora.agent", "agent.start_run",
		attribute.String("conversation_id", conversationID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, c.logger)

	fail := func(err error) (*Run, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if !c.registry.Acquire(conversationID) {
		logger.Info().Msg("Rejecting run, conversation is busy")
		return fail(ErrConversationBusy)
	}
	release := true
	defer func() {
		if release {
			c.registry.Release(conversationID)
		}
	}()

	var conv *store.Conversation
	err := withStorageRetry(ctx, func(ctx context.Context) error {
		var err error
		conv, err = c.store.GetConversation(ctx, conversationID)
		return err
	})
	if err != nil {
		return fail(fmt.Errorf("failed to load conversation: %w", err))
	}
	if conv == nil {
		return fail(fmt.Errorf("failed to start run for %s: %w", conversationID, store.ErrNotFound))
	}

	err = withStorageRetry(ctx, func(ctx context.Context) error {
		_, err := c.store.AppendTurn(ctx, conversationID, store.RoleUser, message)
		return err
	})
	if err != nil {
		return fail(fmt.Errorf("failed to save user message: %w", err))
	}

	var runNumber int
	err = withStorageRetry(ctx, func(ctx context.Context) error {
		var err error
		runNumber, err = c.ledger.BeginRun(ctx, conversationID)
		return err
	})
	if err != nil {
		return fail(fmt.Errorf("failed to allocate run number: %w", err))
	}

	err = withStorageRetry(ctx, func(ctx context.Context) error {
		return c.store.SetStatus(ctx, conversationID, store.StatusRunning)
	})
	if err != nil {
		return fail(fmt.Errorf("failed to mark conversation running: %w", err))
	}

	channel := stepchannel.New(stepchannel.Config{
		Capacity:       c.channelCapacity,
		ConversationID: conversationID,
		RunNumber:      runNumber,
		Logger:         c.logger,
	})
	run := newRun(conversationID, runNumber, channel)

	if c.registry.Attach(run) {
		run.Cancel()
	}
	release = false
	observability.SetActiveRuns(c.registry.Len())

	runCtx := tracing.NewRunContext(tracing.Detach(ctx), conversationID, runNumber)
	span.SetAttributes(attribute.Int("run_number", runNumber))
	runLogger := tracing.LoggerFromContext(runCtx, c.logger)
	runLogger.Info().Msg("Run started")

	c.notify(runCtx, LifecycleEvent{
		Type:           EventRunStarted,
		ConversationID: conversationID,
		RunNumber:      runNumber,
		Run:            run,
		Timestamp:      run.StartedAt,
	})

	c.wg.Add(1)
	go c.supervise(runCtx, run, conv.AgentState, message)

	return run, nil
}

// supervise pulls steps from the engine one at a time and checks for
// cancellation before each pull.
func (c *Coordinator) supervise(ctx context.Context, run *Run, priorState []byte, message string) {
	defer c.wg.Done()

	ctx, span := tracing.StartSpan(ctx, "cora.agent", "agent.run",
		attribute.String("conversation_id", run.ConversationID),
		attribute.Int("run_number", run.RunNumber),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, c.logger)

	engineCtx, cancelEngine := context.WithCancel(ctx)
	w := startWorker(engineCtx, c.engine, priorState, message)

	var (
		steps    int
		outcome  Outcome
		output   string
		state    []byte
		runErr   error
		finalRec *engine.StepRecord
	)

pullLoop:
	for {
		if run.cancelled() {
			outcome = OutcomeCancelled
			break
		}

		w.request()

		var p pull
		select {
		case p = <-w.results:
		case <-run.cancelCh:
			// The in-flight step is abandoned; its result is discarded.
			outcome = OutcomeCancelled
			break pullLoop
		}

		switch {
		case p.err != nil:
			outcome = OutcomeFailed
			runErr = &EngineError{Err: p.err}
			break pullLoop
		case !p.ok:
			outcome = OutcomeFailed
			runErr = &EngineError{Err: errors.New("engine finished without a final answer")}
			break pullLoop
		case !p.rec.Kind.Valid():
			outcome = OutcomeFailed
			runErr = &EngineError{Err: fmt.Errorf("unknown step kind %q", p.rec.Kind)}
			break pullLoop
		}

		steps++
		c.handleStep(ctx, run, steps, p.rec)

		if p.rec.Kind == engine.KindFinal {
			rec := p.rec
			finalRec = &rec
			outcome = OutcomeCompleted
			output = rec.Output
			break
		}
	}

	cancelEngine()
	w.stop()

	switch {
	case finalRec != nil && finalRec.State != nil:
		state = finalRec.State
	default:
		state = w.state()
	}
	if state == nil {
		state = priorState
	}

	c.finish(ctx, run, finishParams{
		outcome: outcome,
		output:  output,
		final:   finalRec,
		state:   state,
		steps:   steps,
		err:     runErr,
	})

	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		logger.Warn().Err(runErr).Msg("Run failed")
	}
}

// handleStep publishes a non-final step, queues its usage and, when
// enabled, persists its text as a system turn. The final step is only
// accounted here; its
// event is published after the run is persisted.
func (c *Coordinator) handleStep(ctx context.Context, run *Run, stepNumber int, rec engine.StepRecord) {
	var in, out int64
	if rec.Usage != nil {
		in, out = rec.Usage.InputTokens, rec.Usage.OutputTokens
	}
	observability.RecordStep(string(rec.Kind), in, out)

	c.ledger.RecordAsync(ctx, store.StepUsage{
		ConversationID: run.ConversationID,
		RunNumber:      run.RunNumber,
		StepNumber:     stepNumber,
		Kind:           store.StepKind(rec.Kind),
		InputTokens:    in,
		OutputTokens:   out,
	})

	if rec.Kind == engine.KindFinal {
		return
	}

	run.Events.Publish(stepEvent(stepNumber, rec))

	if !c.persistStepTurns {
		return
	}
	text := transcript.FormatPlanning(stepNumber, rec.Plan)
	if rec.Kind == engine.KindAction {
		text = transcript.FormatAction(stepNumber, rec.Thought, rec.Code, rec.Observations, rec.Error)
	}
	err := withStorageRetry(ctx, func(ctx context.Context) error {
		_, err := c.store.AppendTurn(ctx, run.ConversationID, store.RoleSystem, text)
		return err
	})
	if err != nil {
		logger := tracing.LoggerFromContext(ctx, c.logger)
		logger.Warn().
			Err(err).
			Int("step_number", stepNumber).
			Msg("Failed to persist step text")
	}
}

func stepEvent(stepNumber int, rec engine.StepRecord) stepchannel.Event {
	evt := stepchannel.Event{
		StepNumber: stepNumber,
	}
	switch rec.Kind {
	case engine.KindPlanning:
		evt.Type = stepchannel.EventPlanning
		evt.Plan = rec.Plan
	case engine.KindAction:
		evt.Type = stepchannel.EventAction
		evt.Thought = rec.Thought
		evt.Code = rec.Code
		evt.Observations = rec.Observations
		evt.Error = rec.Error
	case engine.KindFinal:
		evt.Type = stepchannel.EventFinal
		evt.Output = rec.Output
	}
	if rec.Usage != nil {
		evt.Usage = &stepchannel.Usage{
			InputTokens:  rec.Usage.InputTokens,
			OutputTokens: rec.Usage.OutputTokens,
		}
	}
	return evt
}

type finishParams struct {
	outcome Outcome
	output  string
	final   *engine.StepRecord
	state   []byte
	steps   int
	err     error
}

// finish persists the outcome, saves the agent state once, releases the run
// lock, publishes the terminal event and resolves the run, in that order.
func (c *Coordinator) finish(ctx context.Context, run *Run, p finishParams) {
	logger := tracing.LoggerFromContext(ctx, c.logger)
	id := run.ConversationID

	var (
		content string
		role    = store.RoleSystem
		status  = store.StatusIdle
	)
	switch p.outcome {
	case OutcomeCompleted:
		content, role, status = p.output, store.RoleAgent, store.StatusCompleted
	case OutcomeCancelled:
		content = transcript.CancelledMarker
	default:
		content = transcript.FormatError(errorMessage(p.err))
	}

	err := withStorageRetry(ctx, func(ctx context.Context) error {
		_, err := c.store.AppendTurn(ctx, id, role, content)
		return err
	})
	if err != nil && p.outcome == OutcomeCompleted {
		// Without a persisted answer the run cannot count as completed.
		logger.Error().Err(err).Msg("Failed to persist final answer")
		p.outcome = OutcomeFailed
		p.err = fmt.Errorf("failed to persist final answer: %w", err)
		status = store.StatusIdle
	} else if err != nil {
		logger.Error().Err(err).Str("outcome", string(p.outcome)).Msg("Failed to persist run outcome")
	}

	if err := withStorageRetry(ctx, func(ctx context.Context) error {
		return c.store.SetStatus(ctx, id, status)
	}); err != nil {
		logger.Error().Err(err).Str("status", string(status)).Msg("Failed to update conversation status")
	}

	if err := withStorageRetry(ctx, func(ctx context.Context) error {
		return c.store.SaveAgentState(ctx, id, p.state)
	}); err != nil {
		logger.Error().Err(err).Msg("Failed to save agent state")
	}

	c.registry.Release(id)
	observability.SetActiveRuns(c.registry.Len())

	var terminal stepchannel.Event
	switch p.outcome {
	case OutcomeCompleted:
		terminal = stepEvent(p.steps, *p.final)
	case OutcomeCancelled:
		terminal = stepchannel.Event{Type: stepchannel.EventCancelled}
	default:
		terminal = stepchannel.Event{Type: stepchannel.EventError, Message: errorMessage(p.err)}
	}
	run.Events.Publish(terminal)

	result := Result{
		ConversationID: id,
		RunNumber:      run.RunNumber,
		Output:         p.output,
		Outcome:        p.outcome,
		Steps:          p.steps,
		Duration:       time.Since(run.StartedAt),
	}
	runErr := p.err
	switch p.outcome {
	case OutcomeCompleted:
		runErr = nil
	case OutcomeCancelled:
		runErr = ErrCancelled
		result.Output = ""
	default:
		result.Output = ""
	}
	run.finish(result, runErr)

	observability.RecordRun(string(p.outcome), result.Duration)
	observability.RecordRunAudit(ctx, id, run.RunNumber, string(p.outcome), map[string]interface{}{
		"steps":       p.steps,
		"duration_ms": result.Duration.Milliseconds(),
	})
	logger.Info().
		Str("outcome", string(p.outcome)).
		Int("steps", p.steps).
		Dur("duration", result.Duration).
		Msg("Run finished")

	c.notify(ctx, LifecycleEvent{
		Type:           endEventType(p.outcome),
		ConversationID: id,
		RunNumber:      run.RunNumber,
		Run:            run,
		Result:         &result,
		Err:            runErr,
		Timestamp:      time.Now(),
	})
}

func errorMessage(err error) string {
	var engineErr *EngineError
	if errors.As(err, &engineErr) && engineErr.Err != nil {
		return engineErr.Err.Error()
	}
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

func (c *Coordinator) notify(ctx context.Context, event LifecycleEvent) {
	c.listenersMu.RLock()
	listeners := append([]Listener(nil), c.listeners...)
	c.listenersMu.RUnlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error().
						Interface("panic", r).
						Str("event", event.Type).
						Msg("Lifecycle listener panicked")
				}
			}()
			l(ctx, event)
		}()
	}
}

// Cancel asks the active run of conversationID to stop. It reports whether
// there was a run to cancel. A run that is still being started is cancelled
// as soon as it is attached and ends as cancelled before its first step.
func (c *Coordinator) Cancel(conversationID string) bool {
	run, held := c.registry.RequestCancel(conversationID)
	if !held {
		c.logger.Debug().Str("conversation_id", conversationID).Msg("No active run to cancel")
		return false
	}
	if run == nil {
		c.logger.Info().Str("conversation_id", conversationID).Msg("Cancelling run before it starts")
		return true
	}
	c.logger.Info().
		Str("conversation_id", conversationID).
		Int("run_number", run.RunNumber).
		Msg("Cancelling run")
	run.Cancel()
	return true
}

// ActiveRun returns the active run of conversationID, for late observers.
func (c *Coordinator) ActiveRun(conversationID string) (*Run, bool) {
	return c.registry.Get(conversationID)
}

// ActiveRuns returns the ids of conversations with an active run.
func (c *Coordinator) ActiveRuns() []string {
	return c.registry.IDs()
}

// IsRunning reports whether conversationID holds its run lock.
func (c *Coordinator) IsRunning(conversationID string) bool {
	return c.registry.Held(conversationID)
}

// Shutdown cancels every active run and waits for them to be persisted.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	for _, run := range c.registry.Runs() {
		run.Cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
