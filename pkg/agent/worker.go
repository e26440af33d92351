package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/engine"
)

// pull is the answer to one request for the next step.
type pull struct {
	rec engine.StepRecord
	ok  bool
	err error
}

// worker owns the engine sequence of one run. It calls Next only when the
// supervisor asks, so at most one step is ever in flight.
type worker struct {
	requests chan struct{}
	// results is buffered so an abandoned pull never blocks the worker.
	results chan pull

	mu  sync.Mutex
	seq engine.Sequence

	done chan struct{}
}

func startWorker(ctx context.Context, eng engine.Engine, priorState []byte, message string) *worker {
	w := &worker{
		requests: make(chan struct{}, 1),
		results:  make(chan pull, 1),
		done:     make(chan struct{}),
	}
	go w.run(ctx, eng, priorState, message)
	return w
}

func (w *worker) run(ctx context.Context, eng engine.Engine, priorState []byte, message string) {
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			select {
			case w.results <- pull{err: fmt.Errorf("engine panicked: %v", r)}:
			default:
			}
		}
	}()

	seq, err := eng.RunTurn(ctx, priorState, message)
	if err != nil {
		if _, open := <-w.requests; open {
			w.results <- pull{err: err}
		}
		return
	}
	defer seq.Close()

	w.mu.Lock()
	w.seq = seq
	w.mu.Unlock()

	for range w.requests {
		rec, ok, err := seq.Next()
		w.results <- pull{rec: rec, ok: ok, err: err}
		if !ok || err != nil {
			return
		}
	}
}

// request asks for the next step. The answer arrives on results.
func (w *worker) request() {
	w.requests <- struct{}{}
}

// stop tells the worker no more steps will be requested.
func (w *worker) stop() {
	close(w.requests)
}

// state returns the sequence's partial state, or nil before RunTurn returned.
func (w *worker) state() []byte {
	w.mu.Lock()
	seq := w.seq
	w.mu.Unlock()
	if seq == nil {
		return nil
	}
	return seq.State()
}
