package transcript

import (
	"sort"
	"strings"
	"time"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/stepchannel"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/store"
)

// GroupStatus says how a turn group ended.
type GroupStatus string

const (
	// StatusOpen means no final answer was recorded: the run is still in
	// flight or was interrupted.
	StatusOpen      GroupStatus = "open"
	StatusCompleted GroupStatus = "completed"
	StatusFailed    GroupStatus = "failed"
	StatusCancelled GroupStatus = "cancelled"
)

// StepKind classifies a step summary inside a group.
type StepKind string

const (
	StepPlanning StepKind = "planning"
	StepAction   StepKind = "action"
	StepNote     StepKind = "note"
)

// Step is one reasoning-step summary.
type Step struct {
	Kind      StepKind  `json:"kind"`
	Number    int       `json:"number,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	// Live marks steps taken from an active run rather than from storage.
	Live bool `json:"live,omitempty"`
}

// Group is one user message with everything the agent produced for it.
type Group struct {
	User   string      `json:"user"`
	UserAt time.Time   `json:"user_at"`
	Steps  []Step      `json:"steps,omitempty"`
	Final  string      `json:"final,omitempty"`
	Error  string      `json:"error,omitempty"`
	Status GroupStatus `json:"status"`
	// Implicit groups hold agent or system turns that had no user turn
	// before them.
	Implicit bool `json:"implicit,omitempty"`
}

// Transcript is the reconstructed view of a conversation.
type Transcript struct {
	Groups []Group `json:"groups"`
}

// Reconstruct groups turns into a transcript. Every agent turn is a final
// answer; step summaries are system turns with a Plan or Step header. It
// never fails: unrecognised system content is kept as a note.
func Reconstruct(turns []store.Turn) Transcript {
	ordered := make([]store.Turn, len(turns))
	copy(ordered, turns)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.ID < b.ID
	})

	var b builder
	for _, turn := range ordered {
		switch turn.Role {
		case store.RoleUser:
			b.groups = append(b.groups, Group{
				User:   turn.Content,
				UserAt: turn.Timestamp,
				Status: StatusOpen,
			})

		case store.RoleAgent:
			g := b.open()
			g.Final = strings.TrimPrefix(turn.Content, finalPrefix)
			g.Status = StatusCompleted

		case store.RoleSystem:
			if kind, n, body, ok := parseStep(turn.Content); ok {
				g := b.open()
				g.Steps = append(g.Steps, Step{Kind: kind, Number: n, Text: body, Timestamp: turn.Timestamp})
				continue
			}
			switch {
			case turn.Content == CancelledMarker:
				b.open().Status = StatusCancelled
			case strings.HasPrefix(turn.Content, errorPrefix):
				g := b.open()
				g.Error = strings.TrimPrefix(turn.Content, errorPrefix)
				g.Status = StatusFailed
			default:
				g := b.last()
				g.Steps = append(g.Steps, Step{Kind: StepNote, Text: turn.Content, Timestamp: turn.Timestamp})
			}

		default:
			g := b.last()
			g.Steps = append(g.Steps, Step{Kind: StepNote, Text: turn.Content, Timestamp: turn.Timestamp})
		}
	}

	return Transcript{Groups: b.groups}
}

// ReconstructWithPending reconstructs turns and then attaches the retained
// events of an active run to the last open group. Steps that were already
// persisted as turns are not repeated.
func ReconstructWithPending(turns []store.Turn, pending []stepchannel.Event) Transcript {
	t := Reconstruct(turns)
	if len(pending) == 0 {
		return t
	}

	b := builder{groups: t.Groups}
	g := b.open()
	for _, evt := range pending {
		var step Step
		switch evt.Type {
		case stepchannel.EventPlanning:
			step = Step{Kind: StepPlanning, Number: evt.StepNumber, Text: evt.Plan}
		case stepchannel.EventAction:
			body := strings.TrimPrefix(
				FormatAction(evt.StepNumber, evt.Thought, evt.Code, evt.Observations, evt.Error),
				"Step "+itoa(evt.StepNumber)+"\n",
			)
			step = Step{Kind: StepAction, Number: evt.StepNumber, Text: body}
		default:
			continue
		}
		if hasStep(g, step.Kind, step.Number) {
			continue
		}
		step.Timestamp = evt.Timestamp
		step.Live = true
		g.Steps = append(g.Steps, step)
	}

	return Transcript{Groups: b.groups}
}

func hasStep(g *Group, kind StepKind, number int) bool {
	for _, s := range g.Steps {
		if s.Kind == kind && s.Number == number {
			return true
		}
	}
	return false
}

type builder struct {
	groups []Group
}

// open returns the last group if it is still open, otherwise a new implicit one.
func (b *builder) open() *Group {
	if n := len(b.groups); n > 0 && b.groups[n-1].Status == StatusOpen {
		return &b.groups[n-1]
	}
	b.groups = append(b.groups, Group{Status: StatusOpen, Implicit: true})
	return &b.groups[len(b.groups)-1]
}

// last returns the last group, creating an implicit one when there is none.
func (b *builder) last() *Group {
	if n := len(b.groups); n > 0 {
		return &b.groups[n-1]
	}
	return b.open()
}
