package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrSequenceClosed is returned by Next after Close.
var ErrSequenceClosed = errors.New("engine: sequence closed")

// stepFunc produces one record. It may update the shared state box.
type stepFunc func(ctx context.Context) (StepRecord, error)

// stepSequence runs a fixed list of step functions lazily, one per Next.
// Close may be called from another goroutine; it cancels the step in flight.
type stepSequence struct {
	ctx    context.Context
	cancel context.CancelFunc
	steps  []stepFunc
	next   int
	failed bool
	closed atomic.Bool
	state  *stateBox
}

func newStepSequence(ctx context.Context, state *stateBox, steps ...stepFunc) *stepSequence {
	ctx, cancel := context.WithCancel(ctx)
	return &stepSequence{ctx: ctx, cancel: cancel, steps: steps, state: state}
}

func (s *stepSequence) Next() (StepRecord, bool, error) {
	if s.closed.Load() {
		return StepRecord{}, false, ErrSequenceClosed
	}
	if s.failed || s.next >= len(s.steps) {
		return StepRecord{}, false, nil
	}
	if err := s.ctx.Err(); err != nil {
		s.failed = true
		return StepRecord{}, false, err
	}

	rec, err := s.steps[s.next](s.ctx)
	s.next++
	if err != nil {
		s.failed = true
		return StepRecord{}, false, err
	}
	return rec, true, nil
}

func (s *stepSequence) State() []byte {
	return s.state.get()
}

func (s *stepSequence) Close() error {
	s.closed.Store(true)
	s.cancel()
	return nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
