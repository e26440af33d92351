package commandqueue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/internal/observability"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultCapacity is used when Config.Capacity is not positive.
const DefaultCapacity = 256

// Task is a unit of background work.
type Task func(ctx context.Context) error

// Event types emitted to handlers.
const (
	EventEnqueued  = "enqueued"
	EventDropped   = "dropped"
	EventCompleted = "completed"
	EventFailed    = "failed"
)

// EventHandler is a function that handles queue events
type EventHandler func(event Event)

// Event represents a queue event
type Event struct {
	Type   string                 // one of the Event* constants
	Queue  string                 // queue name
	TaskID string                 // caller supplied task id
	Data   map[string]interface{} // additional event data
}

// Config configures a Queue.
type Config struct {
	Name     string
	Capacity int
	Logger   zerolog.Logger
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Queued    int   `json:"queued"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

// taskRecord tracks a task's execution state
type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
}

// Queue is a bounded FIFO drained by a single goroutine. Submission never
// blocks: when the buffer is full the task is dropped.
type Queue struct {
	name   string
	logger zerolog.Logger
	tasks  chan *taskRecord
	done   chan struct{}

	mu      sync.Mutex
	closed  bool
	pending int
	drained chan struct{}

	completed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	eventHandlers map[string][]EventHandler
	eventMu       sync.RWMutex
}

// New creates a Queue and starts its drain goroutine.
func New(cfg Config) *Queue {
	observability.EnsureRegistered()

	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}

	drained := make(chan struct{})
	close(drained)

	q := &Queue{
		name:          cfg.Name,
		logger:        cfg.Logger.With().Str("component", "commandqueue").Str("queue", cfg.Name).Logger(),
		tasks:         make(chan *taskRecord, cfg.Capacity),
		done:          make(chan struct{}),
		drained:       drained,
		eventHandlers: make(map[string][]EventHandler),
	}

	go q.drain()

	q.logger.Debug().Int("capacity", cfg.Capacity).Msg("Queue started")
	return q
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

// TrySubmit enqueues task without blocking. It returns false when the queue
// is full or closed; the task is then dropped.
func (q *Queue) TrySubmit(ctx context.Context, id string, task Task) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	record := &taskRecord{
		id:         id,
		task:       task,
		ctx:        tracing.Detach(ctx),
		enqueuedAt: time.Now(),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.drop(ctx, id, "closed")
		return false
	}

	if q.pending == 0 {
		q.drained = make(chan struct{})
	}
	q.pending++

	select {
	case q.tasks <- record:
		queueSize := len(q.tasks)
		q.mu.Unlock()

		observability.RecordQueueEnqueue(q.name, queueSize)
		q.emit(Event{
			Type:   EventEnqueued,
			Queue:  q.name,
			TaskID: id,
			Data:   map[string]interface{}{"queueSize": queueSize},
		})
		return true
	default:
		q.finishLocked()
		q.mu.Unlock()
		q.drop(ctx, id, "full")
		return false
	}
}

func (q *Queue) drop(ctx context.Context, id, reason string) {
	q.dropped.Add(1)
	logger := tracing.LoggerFromContext(ctx, q.logger)
	logger.Warn().
		Str("taskId", id).
		Str("reason", reason).
		Msg("Task dropped")
	q.emit(Event{
		Type:   EventDropped,
		Queue:  q.name,
		TaskID: id,
		Data:   map[string]interface{}{"reason": reason},
	})
}

// finishLocked decrements pending and wakes Flush callers at zero. q.mu must be held.
func (q *Queue) finishLocked() {
	q.pending--
	if q.pending == 0 {
		close(q.drained)
	}
}

func (q *Queue) drain() {
	defer close(q.done)
	for record := range q.tasks {
		q.execute(record)
	}
}

// execute executes a single task
func (q *Queue) execute(record *taskRecord) {
	ctx, span := tracing.StartSpan(
		record.ctx,
		"cora.commandqueue",
		"commandqueue.execute_task",
		attribute.String("queue", q.name),
		attribute.String("task_id", record.id),
	)
	logger := tracing.LoggerFromContext(ctx, q.logger)

	start := time.Now()
	err := q.run(ctx, record)
	duration := time.Since(start)

	eventType := EventCompleted
	if err != nil {
		eventType = EventFailed
		q.failed.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().
			Str("taskId", record.id).
			Dur("duration", duration).
			Err(err).
			Msg("Task failed")
	} else {
		q.completed.Add(1)
		logger.Debug().
			Str("taskId", record.id).
			Dur("duration", duration).
			Dur("wait", start.Sub(record.enqueuedAt)).
			Msg("Task completed")
	}
	span.End()

	observability.RecordQueueCompletion(q.name, duration, err == nil, len(q.tasks))
	q.emit(Event{
		Type:   eventType,
		Queue:  q.name,
		TaskID: record.id,
		Data: map[string]interface{}{
			"duration": duration.Milliseconds(),
			"success":  err == nil,
		},
	})

	q.mu.Lock()
	q.finishLocked()
	q.mu.Unlock()
}

// run shields the drain loop from panicking tasks.
func (q *Queue) run(ctx context.Context, record *taskRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return record.task(ctx)
}

// Flush blocks until every task submitted so far has finished.
func (q *Queue) Flush(ctx context.Context) error {
	q.mu.Lock()
	drained := q.drained
	q.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of tasks waiting to run.
func (q *Queue) Len() int {
	return len(q.tasks)
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Queued:    len(q.tasks),
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
		Dropped:   q.dropped.Load(),
	}
}

// Close stops intake, runs every task already queued and waits for the
// drain goroutine to exit. It is safe to call more than once.
func (q *Queue) Close() error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()

	<-q.done
	observability.SetQueueSize(q.name, 0)
	return nil
}

// On registers an event handler for a specific event type
func (q *Queue) On(eventType string, handler EventHandler) {
	q.eventMu.Lock()
	defer q.eventMu.Unlock()

	q.eventHandlers[eventType] = append(q.eventHandlers[eventType], handler)
}

// Off removes all handlers for the event type
func (q *Queue) Off(eventType string) {
	q.eventMu.Lock()
	defer q.eventMu.Unlock()

	delete(q.eventHandlers, eventType)
}

// emit emits an event synchronously to all registered handlers
func (q *Queue) emit(event Event) {
	q.eventMu.RLock()
	handlers := q.eventHandlers[event.Type]
	q.eventMu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}
