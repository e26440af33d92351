// Package commandqueue provides a bounded, best-effort background work queue.
//
// Invariants:
// - Tasks execute one at a time in submission order.
// - TrySubmit never blocks; a full or closed queue drops the task and reports false.
// - Close runs every task accepted before it was called.
// - Queue activity is observable through events and metrics.
//
// Usage:
//
//	q := commandqueue.New(commandqueue.Config{Name: "usage", Capacity: 256})
//	defer q.Close()
//	ok := q.TrySubmit(ctx, "conv:1:3", func(ctx context.Context) error {
//		return store.UpsertStepUsage(ctx, usage)
//	})
package commandqueue
