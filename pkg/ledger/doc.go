// Package ledger records per-step token usage and aggregates it per run and
// per conversation.
//
// Invariants:
// - A run number is handed out once per run and never reused for the same conversation.
// - Writes are idempotent upserts keyed by (conversation, run, step), so retries never double count.
// - A step without usage is recorded as zeros.
// - Asynchronous writes are best effort and never fail the run that produced them.
package ledger
