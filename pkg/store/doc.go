// Package store provides the durable sqlite store for conversations, turns,
// opaque agent state and per-step token usage.
//
// Invariants:
//   - Reads of an unknown conversation return nil or empty results, never an error.
//   - Writes to an unknown conversation fail with ErrNotFound.
//   - Driver and I/O failures match ErrStorageUnavailable.
//   - Writes to the same conversation are serialized; different conversations do not share a lock.
//   - Step usage is keyed by (conversation, run, step); upserting a key again replaces its counts.
//   - Deleting a conversation cascades to its turns and step usage.
//
// Usage:
//
//	st, err := store.Open(store.Config{Path: "~/.cora/cora.db", Logger: log.Logger})
//	conv, err := st.CreateConversation(ctx, "Session 10:42")
//	_, err = st.AppendTurn(ctx, conv.ID, store.RoleUser, "list buckets")
package store
