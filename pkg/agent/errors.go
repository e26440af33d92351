package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/store"
)

var (
	// ErrConversationBusy is returned when a run is already active for the
	// conversation. Callers must not retry automatically.
	ErrConversationBusy = errors.New("agent is busy: a run is already active for this conversation")

	// ErrEngineFailure matches every *EngineError.
	ErrEngineFailure = errors.New("engine failure")

	// ErrCancelled is the outcome of a run that was interrupted.
	ErrCancelled = errors.New("run cancelled")
)

// EngineError carries the error raised by the reasoning engine.
type EngineError struct {
	Err error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine failure: %v", e.Err)
}

func (e *EngineError) Unwrap() []error {
	return []error{ErrEngineFailure, e.Err}
}

// withStorageRetry runs op and retries it once when it fails with a
// retryable storage error.
func withStorageRetry(ctx context.Context, op func(ctx context.Context) error) error {
	err := op(ctx)
	if err != nil && store.IsRetryable(err) && ctx.Err() == nil {
		err = op(ctx)
	}
	return err
}
