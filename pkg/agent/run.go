package agent

import (
	"context"
	"sync"
	"time"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/stepchannel"
)

// Outcome says how a run ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Result is the resolved value of a run.
type Result struct {
	ConversationID string        `json:"conversation_id"`
	RunNumber      int           `json:"run_number"`
	Output         string        `json:"output,omitempty"`
	Outcome        Outcome       `json:"outcome"`
	Steps          int           `json:"steps"`
	Duration       time.Duration `json:"duration"`
}

// Run is the handle of one active or finished run.
type Run struct {
	ConversationID string
	RunNumber      int
	StartedAt      time.Time
	// Events relays the run's steps. Subscribe to observe them.
	Events *stepchannel.Channel

	cancelOnce sync.Once
	cancelCh   chan struct{}

	done   chan struct{}
	result Result
	err    error
}

func newRun(conversationID string, runNumber int, events *stepchannel.Channel) *Run {
	return &Run{
		ConversationID: conversationID,
		RunNumber:      runNumber,
		StartedAt:      time.Now(),
		Events:         events,
		cancelCh:       make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// Cancel asks the run to stop. The supervisor notices before it pulls the
// next step. Calling Cancel on a finished run does nothing.
func (r *Run) Cancel() {
	r.cancelOnce.Do(func() {
		close(r.cancelCh)
	})
}

func (r *Run) cancelled() bool {
	select {
	case <-r.cancelCh:
		return true
	default:
		return false
	}
}

// Done is closed once the run has been persisted and its terminal event
// published.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run finishes or ctx is done. The error is nil for a
// completed run, ErrCancelled for a cancelled one and an *EngineError or
// storage error otherwise.
func (r *Run) Wait(ctx context.Context) (Result, error) {
	select {
	case <-r.done:
		return r.result, r.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (r *Run) finish(result Result, err error) {
	r.result = result
	r.err = err
	close(r.done)
}
