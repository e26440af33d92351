// Package stepchannel relays the step events of one run from the goroutine
// driving the engine to any number of observers.
//
// Invariants:
// - Publish never blocks the producer; a slow subscriber loses events, it never stalls the run.
// - Every subscriber sees events in publish order.
// - Exactly one terminal event (final, error or cancelled) ends a stream, and each subscriber receives it exactly once, even when its buffer is full.
// - Subscribers that attach late first replay the retained history.
//
// Usage:
//
//	ch := stepchannel.New(stepchannel.Config{ConversationID: id, RunNumber: 3})
//	sub := ch.Subscribe()
//	defer sub.Close()
//	for evt := range sub.Events(ctx) {
//		render(evt)
//	}
package stepchannel
