package hooks

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/internal/observability"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/internal/tracing"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/agent"
	"github.com/rs/zerolog"
)

// Config configures a hook Manager.
type Config struct {
	Enabled bool
	Hooks   []Hook
	Logger  zerolog.Logger
}

// Manager runs the hooks configured for each event. The hook table is fixed
// at construction.
type Manager struct {
	byEvent map[string][]Hook
	logger  zerolog.Logger
	pending sync.WaitGroup
}

// NewManager indexes the enabled hooks by event. A disabled manager, or one
// with no enabled hooks, runs nothing.
func NewManager(cfg Config) (*Manager, error) {
	m := &Manager{
		byEvent: make(map[string][]Hook),
		logger:  cfg.Logger.With().Str("component", "hooks").Logger(),
	}
	if !cfg.Enabled {
		return m, nil
	}

	for i, h := range cfg.Hooks {
		if !h.Enabled {
			continue
		}
		h.Event = strings.TrimSpace(h.Event)
		switch {
		case h.Event == "":
			return nil, fmt.Errorf("hooks[%d]: event is required", i)
		case strings.TrimSpace(h.Script) == "":
			return nil, fmt.Errorf("hooks[%d] (%s): script is required", i, h.Event)
		}
		m.byEvent[h.Event] = append(m.byEvent[h.Event], h)
	}
	return m, nil
}

// Count returns the number of hooks registered for event.
func (m *Manager) Count(event string) int {
	if m == nil {
		return 0
	}
	return len(m.byEvent[event])
}

// Run executes the hooks for event one after another and reports each.
func (m *Manager) Run(ctx context.Context, event string, data map[string]interface{}) []Result {
	if m == nil {
		return nil
	}
	list := m.byEvent[event]
	results := make([]Result, 0, len(list))
	for _, h := range list {
		results = append(results, m.exec(ctx, h, data))
	}
	return results
}

// Trigger runs the hooks for event and joins their failures.
func (m *Manager) Trigger(ctx context.Context, event string, data map[string]interface{}) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event is required")
	}
	var errs []error
	for _, r := range m.Run(ctx, event, data) {
		errs = append(errs, r.Err)
	}
	return errors.Join(errs...)
}

// TriggerAsync runs Trigger in the background on a context detached from
// ctx. Failures are logged. Wait blocks on outstanding calls.
func (m *Manager) TriggerAsync(ctx context.Context, event string, data map[string]interface{}) {
	if m.Count(event) == 0 {
		return
	}
	ctx = tracing.Detach(ctx)
	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		if err := m.Trigger(ctx, event, data); err != nil {
			logger := tracing.LoggerFromContext(ctx, m.logger)
			logger.Warn().Err(err).Str("event", event).Msg("Hook failed")
		}
	}()
}

// Wait blocks until background hooks finish or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	if m == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		m.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Listener runs the hooks for each run lifecycle event in the background.
func (m *Manager) Listener() agent.Listener {
	return func(ctx context.Context, ev agent.LifecycleEvent) {
		m.TriggerAsync(ctx, ev.Type, runData(ev))
	}
}

func runData(ev agent.LifecycleEvent) map[string]interface{} {
	data := map[string]interface{}{
		"conversation_id": ev.ConversationID,
		"run_number":      ev.RunNumber,
		"timestamp":       ev.Timestamp.UTC().Format(time.RFC3339),
	}
	if r := ev.Result; r != nil {
		data["outcome"] = string(r.Outcome)
		data["steps"] = r.Steps
		data["duration_ms"] = r.Duration.Milliseconds()
	}
	if ev.Err != nil {
		data["error"] = ev.Err.Error()
	}
	return data
}

func (m *Manager) exec(ctx context.Context, h Hook, data map[string]interface{}) Result {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout())
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", h.Script)
	cmd.Env = environment(h.Event, data)

	start := time.Now()
	out, err := cmd.CombinedOutput()
	res := Result{Hook: h.name(), Event: h.Event, Duration: time.Since(start), Output: truncate(string(out))}
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w after %s", ctx.Err(), h.timeout())
		}
		res.Err = &ExecError{Hook: res.Hook, Output: res.Output, Err: err}
	}
	observability.RecordHookRun(h.Event, res.Duration, res.Err == nil)

	logger := tracing.LoggerFromContext(ctx, m.logger)
	logger.Debug().
		Str("event", h.Event).
		Str("hook_id", res.Hook).
		Dur("duration", res.Duration).
		Str("output", res.Output).
		AnErr("error", res.Err).
		Msg("Hook executed")
	return res
}
