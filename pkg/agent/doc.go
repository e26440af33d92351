// Package agent coordinates runs of the reasoning engine.
//
// Invariants:
// - At most one run is active per conversation; a second StartRun fails
//   fast with ErrConversationBusy.
// - The user turn is persisted before StartRun returns.
// - Agent state is saved exactly once per run, after the outcome is known.
// - Each run's channel carries exactly one terminal event, published after
//   persistence and after the run lock is released.
//
// Usage:
//
//	coord, _ := agent.NewCoordinator(agent.Config{Store: st, Ledger: l, Engine: engine.NewEcho()})
//	run, err := coord.StartRun(ctx, conversationID, "list buckets")
//	sub := run.Events.Subscribe()
//	for evt := range sub.Events(ctx) {
//		fmt.Println(evt.Type)
//	}
//	result, err := run.Wait(ctx)
package agent
