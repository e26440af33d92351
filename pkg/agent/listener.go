package agent

import (
	"context"
	"time"
)

// Lifecycle event types.
const (
	EventRunStarted   = "run:started"
	EventRunCompleted = "run:completed"
	EventRunFailed    = "run:failed"
	EventRunCancelled = "run:cancelled"
)

// LifecycleEvent describes a run starting or ending.
type LifecycleEvent struct {
	Type           string
	ConversationID string
	RunNumber      int
	Run            *Run
	// Result and Err are set on the end events.
	Result    *Result
	Err       error
	Timestamp time.Time
}

// Listener observes run lifecycle events. Listeners run synchronously on
// the coordinator's goroutines and must not block.
type Listener func(ctx context.Context, event LifecycleEvent)

func endEventType(outcome Outcome) string {
	switch outcome {
	case OutcomeCompleted:
		return EventRunCompleted
	case OutcomeCancelled:
		return EventRunCancelled
	default:
		return EventRunFailed
	}
}
