package transcript

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/stepchannel"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func turn(id int64, role store.Role, content string) store.Turn {
	return store.Turn{
		ID:             id,
		ConversationID: "c1",
		Role:           role,
		Content:        content,
		Timestamp:      base.Add(time.Duration(id) * time.Second),
	}
}

func TestReconstruct_Empty(t *testing.T) {
	tr := Reconstruct(nil)
	assert.Empty(t, tr.Groups)
	assert.Empty(t, tr.Entries())
	assert.Equal(t, "", tr.Text())
}

func TestReconstruct_Scenario(t *testing.T) {
	tr := Reconstruct([]store.Turn{
		turn(1, store.RoleUser, "list buckets"),
		turn(2, store.RoleAgent, "3 buckets found"),
	})

	require.Len(t, tr.Groups, 1)
	g := tr.Groups[0]
	assert.Equal(t, "list buckets", g.User)
	assert.Equal(t, "3 buckets found", g.Final)
	assert.Equal(t, StatusCompleted, g.Status)
	assert.Equal(t, "User: list buckets\nAgent: 3 buckets found\n", tr.Text())
}

func TestReconstruct_StepsAndOutcomes(t *testing.T) {
	tr := Reconstruct([]store.Turn{
		turn(1, store.RoleUser, "first"),
		turn(2, store.RoleSystem, FormatPlanning(1, "look around")),
		turn(3, store.RoleSystem, FormatAction(2, "listing", "ls()", "a b", "")),
		turn(4, store.RoleAgent, "Final Answer:\ndone"),
		turn(5, store.RoleUser, "second"),
		turn(6, store.RoleSystem, FormatError("model exploded")),
		turn(7, store.RoleUser, "third"),
		turn(8, store.RoleSystem, CancelledMarker),
		turn(9, store.RoleUser, "fourth"),
	})

	require.Len(t, tr.Groups, 4)

	first := tr.Groups[0]
	assert.Equal(t, StatusCompleted, first.Status)
	assert.Equal(t, "done", first.Final)
	require.Len(t, first.Steps, 2)
	assert.Equal(t, Step{Kind: StepPlanning, Number: 1, Text: "look around", Timestamp: base.Add(2 * time.Second)}, first.Steps[0])
	assert.Equal(t, "listing\nCode: ls()\nResult: a b", first.Steps[1].Text)

	assert.Equal(t, StatusFailed, tr.Groups[1].Status)
	assert.Equal(t, "model exploded", tr.Groups[1].Error)
	assert.Equal(t, StatusCancelled, tr.Groups[2].Status)
	assert.Equal(t, StatusOpen, tr.Groups[3].Status)

	kinds := []EntryKind{}
	for _, e := range tr.Entries() {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []EntryKind{
		EntryUser, EntryPlanning, EntryAction, EntryFinal,
		EntryUser, EntryError,
		EntryUser, EntryCancelled,
		EntryUser,
	}, kinds)
}

func TestReconstruct_AnswerShapedLikeStep(t *testing.T) {
	answer := "Step 1\nOpen the S3 console and pick the bucket."
	tr := Reconstruct([]store.Turn{
		turn(1, store.RoleUser, "how do I empty a bucket?"),
		turn(2, store.RoleSystem, FormatAction(1, "recalling the console flow", "", "", "")),
		turn(3, store.RoleAgent, answer),
	})

	require.Len(t, tr.Groups, 1)
	g := tr.Groups[0]
	assert.Equal(t, StatusCompleted, g.Status)
	assert.Equal(t, answer, g.Final)
	require.Len(t, g.Steps, 1)
	assert.Equal(t, StepAction, g.Steps[0].Kind)
}

func TestReconstruct_OrdersByTimestampThenID(t *testing.T) {
	same := base
	turns := []store.Turn{
		{ID: 3, Role: store.RoleAgent, Content: "answer", Timestamp: same},
		{ID: 1, Role: store.RoleUser, Content: "question", Timestamp: same},
		{ID: 5, Role: store.RoleUser, Content: "later", Timestamp: same.Add(time.Second)},
	}
	original := append([]store.Turn(nil), turns...)

	tr := Reconstruct(turns)
	require.Len(t, tr.Groups, 2)
	assert.Equal(t, "question", tr.Groups[0].User)
	assert.Equal(t, "answer", tr.Groups[0].Final)
	assert.Equal(t, original, turns, "input must not be reordered")
}

func TestReconstruct_ImplicitGroupAndNotes(t *testing.T) {
	tr := Reconstruct([]store.Turn{
		turn(1, store.RoleSystem, "imported from backup"),
		turn(2, store.RoleAgent, "orphan answer"),
		turn(3, store.RoleUser, "hi"),
		turn(4, store.RoleAgent, "hello"),
		turn(5, store.RoleAgent, "unsolicited"),
	})

	require.Len(t, tr.Groups, 3)
	assert.True(t, tr.Groups[0].Implicit)
	assert.Equal(t, "orphan answer", tr.Groups[0].Final)
	require.Len(t, tr.Groups[0].Steps, 1)
	assert.Equal(t, StepNote, tr.Groups[0].Steps[0].Kind)

	assert.Equal(t, "hello", tr.Groups[1].Final)
	assert.True(t, tr.Groups[2].Implicit)
	assert.Equal(t, "unsolicited", tr.Groups[2].Final)
}

func TestReconstruct_Deterministic(t *testing.T) {
	turns := []store.Turn{
		turn(1, store.RoleUser, "a"),
		turn(2, store.RoleSystem, FormatAction(1, "multi\nline", "", "", "boom")),
		turn(3, store.RoleAgent, "b"),
		turn(4, store.RoleUser, "c"),
	}

	first := Reconstruct(turns).Text()
	second := Reconstruct(turns).Text()
	assert.Equal(t, first, second)
	assert.Equal(t, "User: a\n  [step 1] multi\n    line\n    Error: boom\nAgent: b\n\nUser: c\n(no answer)\n", first)
}

func TestReconstructWithPending(t *testing.T) {
	turns := []store.Turn{
		turn(1, store.RoleUser, "q"),
		turn(2, store.RoleSystem, FormatPlanning(1, "persisted plan")),
	}
	pending := []stepchannel.Event{
		{Type: stepchannel.EventPlanning, StepNumber: 1, Plan: "persisted plan"},
		{Type: stepchannel.EventAction, StepNumber: 2, Thought: "t", Observations: "o"},
	}

	tr := ReconstructWithPending(turns, pending)
	require.Len(t, tr.Groups, 1)
	g := tr.Groups[0]
	assert.Equal(t, StatusOpen, g.Status)
	require.Len(t, g.Steps, 2)
	assert.False(t, g.Steps[0].Live)
	assert.True(t, g.Steps[1].Live)
	assert.Equal(t, "t\nResult: o", g.Steps[1].Text)
}

func TestFormatAction(t *testing.T) {
	assert.Equal(t, "Step 3\nthink", FormatAction(3, "think", "", "", ""))
	assert.Equal(t, "Step 1\nt\nCode: c\nResult: r\nError: e", FormatAction(1, "t", "c", "r", "e"))

	kind, n, body, ok := parseStep(FormatPlanning(12, "p"))
	require.True(t, ok)
	assert.Equal(t, StepPlanning, kind)
	assert.Equal(t, 12, n)
	assert.Equal(t, "p", body)

	_, _, _, ok = parseStep("Steps to follow\n...")
	assert.False(t, ok)
}

func TestExportJSONL(t *testing.T) {
	conv := &store.Conversation{
		ID: "c1",
		Turns: []store.Turn{
			turn(1, store.RoleUser, "hi"),
			turn(2, store.RoleAgent, "hello"),
		},
	}

	var buf bytes.Buffer
	require.NoError(t, ExportJSONL(&buf, conv))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var entry ExportEntry
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &entry))
	assert.Equal(t, "c1", entry.ConversationID)
	assert.Equal(t, "agent", entry.Message.Role)
	assert.Equal(t, "hello", entry.Message.Content)
	assert.EqualValues(t, 2, entry.Message.Metadata["turn_id"])

	assert.Error(t, ExportJSONL(&buf, nil))
}
