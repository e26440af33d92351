package transcript

import (
	"strconv"
	"strings"
	"time"
)

// EntryKind identifies a flattened transcript entry.
type EntryKind string

const (
	EntryUser      EntryKind = "user"
	EntryPlanning  EntryKind = "planning"
	EntryAction    EntryKind = "action"
	EntryNote      EntryKind = "note"
	EntryFinal     EntryKind = "final"
	EntryError     EntryKind = "error"
	EntryCancelled EntryKind = "cancelled"
)

// Entry is one line of a flattened transcript.
type Entry struct {
	Kind      EntryKind `json:"kind"`
	Group     int       `json:"group"`
	Number    int       `json:"number,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	Live      bool      `json:"live,omitempty"`
}

// Entries flattens the groups in order: user message, steps, then the
// closing entry if there is one.
func (t Transcript) Entries() []Entry {
	var out []Entry
	for i, g := range t.Groups {
		if !g.Implicit {
			out = append(out, Entry{Kind: EntryUser, Group: i, Text: g.User, Timestamp: g.UserAt})
		}
		for _, s := range g.Steps {
			kind := EntryNote
			switch s.Kind {
			case StepPlanning:
				kind = EntryPlanning
			case StepAction:
				kind = EntryAction
			}
			out = append(out, Entry{Kind: kind, Group: i, Number: s.Number, Text: s.Text, Timestamp: s.Timestamp, Live: s.Live})
		}
		switch g.Status {
		case StatusCompleted:
			out = append(out, Entry{Kind: EntryFinal, Group: i, Text: g.Final})
		case StatusFailed:
			out = append(out, Entry{Kind: EntryError, Group: i, Text: g.Error})
		case StatusCancelled:
			out = append(out, Entry{Kind: EntryCancelled, Group: i, Text: CancelledMarker})
		}
	}
	return out
}

// Len returns the number of groups.
func (t Transcript) Len() int {
	return len(t.Groups)
}

// Text renders the transcript as plain text. The output depends only on the
// transcript, so equal inputs render identically.
func (t Transcript) Text() string {
	var b strings.Builder
	for i, g := range t.Groups {
		if i > 0 {
			b.WriteString("\n")
		}
		if !g.Implicit {
			b.WriteString("User: ")
			b.WriteString(g.User)
			b.WriteString("\n")
		}
		for _, s := range g.Steps {
			switch s.Kind {
			case StepPlanning:
				b.WriteString("  [plan " + itoa(s.Number) + "] ")
			case StepAction:
				b.WriteString("  [step " + itoa(s.Number) + "] ")
			default:
				b.WriteString("  [note] ")
			}
			b.WriteString(indent(s.Text))
			b.WriteString("\n")
		}
		switch g.Status {
		case StatusCompleted:
			b.WriteString("Agent: ")
			b.WriteString(g.Final)
		case StatusFailed:
			b.WriteString("Error: ")
			b.WriteString(g.Error)
		case StatusCancelled:
			b.WriteString(CancelledMarker)
		default:
			b.WriteString("(no answer)")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func indent(s string) string {
	return strings.ReplaceAll(s, "\n", "\n    ")
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
