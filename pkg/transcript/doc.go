// Package transcript rebuilds the visible history of a conversation from its
// persisted turns.
//
// A user turn opens a group. Step text written by FormatPlanning and
// FormatAction attaches to the open group. Any other agent turn is the final
// answer and closes it; system turns written by FormatError or
// CancelledMarker close it as failed or cancelled. Groups without a closing
// turn stay open.
//
// Reconstruct is pure: it reads nothing but its argument and never fails.
package transcript
