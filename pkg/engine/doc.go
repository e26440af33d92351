// Package engine defines the boundary between the run coordinator and the
// reasoning engine.
//
// An Engine turns a prior opaque state and a user message into a lazy
// Sequence of StepRecords. Records are tagged planning, action or final; the
// final record carries the output and the new state. Sequence.State exposes
// the partial state so an interrupted turn still leaves something to save.
//
// Two engines are bundled. Echo is deterministic and needs no credentials.
// LLM calls an Anthropic or OpenAI model through a Provider:
//
//	provider, err := engine.NewProvider(engine.ProviderConfig{Provider: "anthropic", APIKey: key})
//	eng, err := engine.NewLLM(engine.LLMConfig{Provider: provider, Model: "claude-3-5-sonnet-20241022"})
package engine
