// Package conversation is the conversation API shared by the CLI and the
// gateway. It wraps the store, the usage ledger and the run coordinator:
// default and automatic titles, the active conversation, busy-aware delete,
// and transcript reconstruction that includes steps of a run still in
// flight.
package conversation
