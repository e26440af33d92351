package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertStepUsage_Idempotent(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	conv, err := st.CreateConversation(ctx, "usage")
	require.NoError(t, err)

	usage := StepUsage{
		ConversationID: conv.ID,
		RunNumber:      1,
		StepNumber:     1,
		Kind:           StepAction,
		InputTokens:    10,
		OutputTokens:   5,
	}
	require.NoError(t, st.UpsertStepUsage(ctx, usage))
	require.NoError(t, st.UpsertStepUsage(ctx, usage))

	totals, err := st.AggregateTokens(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), totals.Input)
	assert.Equal(t, int64(5), totals.Output)
	assert.Equal(t, int64(15), totals.Total())

	usage.InputTokens = 12
	require.NoError(t, st.UpsertStepUsage(ctx, usage))

	steps, err := st.ListStepUsage(ctx, conv.ID, 1)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, int64(12), steps[0].InputTokens)
}

func TestUpsertStepUsage_Validation(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	conv, err := st.CreateConversation(ctx, "validation")
	require.NoError(t, err)

	tests := []struct {
		name  string
		usage StepUsage
	}{
		{"zero run", StepUsage{ConversationID: conv.ID, RunNumber: 0, StepNumber: 1, Kind: StepAction}},
		{"zero step", StepUsage{ConversationID: conv.ID, RunNumber: 1, StepNumber: 0, Kind: StepAction}},
		{"unknown kind", StepUsage{ConversationID: conv.ID, RunNumber: 1, StepNumber: 1, Kind: "tool"}},
		{"negative tokens", StepUsage{ConversationID: conv.ID, RunNumber: 1, StepNumber: 1, Kind: StepFinal, InputTokens: -1}},
		{"missing conversation id", StepUsage{RunNumber: 1, StepNumber: 1, Kind: StepAction}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := st.UpsertStepUsage(ctx, tt.usage)
			assert.Error(t, err)
			assert.False(t, IsRetryable(err))
		})
	}
}

func TestNextRunNumber(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	conv, err := st.CreateConversation(ctx, "runs")
	require.NoError(t, err)

	next, err := st.NextRunNumber(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, next)

	require.NoError(t, st.UpsertStepUsage(ctx, StepUsage{ConversationID: conv.ID, RunNumber: 1, StepNumber: 1, Kind: StepFinal}))
	require.NoError(t, st.UpsertStepUsage(ctx, StepUsage{ConversationID: conv.ID, RunNumber: 3, StepNumber: 1, Kind: StepFinal}))

	next, err = st.NextRunNumber(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, next)
}

func TestRunTotals(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	conv, err := st.CreateConversation(ctx, "totals")
	require.NoError(t, err)

	rows := []StepUsage{
		{ConversationID: conv.ID, RunNumber: 1, StepNumber: 1, Kind: StepPlanning, InputTokens: 100, OutputTokens: 20},
		{ConversationID: conv.ID, RunNumber: 1, StepNumber: 2, Kind: StepAction, InputTokens: 150, OutputTokens: 30},
		{ConversationID: conv.ID, RunNumber: 1, StepNumber: 3, Kind: StepFinal},
		{ConversationID: conv.ID, RunNumber: 2, StepNumber: 1, Kind: StepFinal, InputTokens: 7, OutputTokens: 3},
	}
	for _, row := range rows {
		require.NoError(t, st.UpsertStepUsage(ctx, row))
	}

	run1, err := st.RunTotals(ctx, conv.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, run1.RunNumber)
	assert.Equal(t, 3, run1.Steps)
	assert.Equal(t, TokenTotals{Input: 250, Output: 50}, run1.Tokens)
	assert.False(t, run1.StartedAt.IsZero())

	empty, err := st.RunTotals(ctx, conv.ID, 9)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Steps)
	assert.True(t, empty.StartedAt.IsZero())

	runs, err := st.ListRunTotals(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 1, runs[0].RunNumber)
	assert.Equal(t, 2, runs[1].RunNumber)
	assert.Equal(t, int64(10), runs[1].Tokens.Total())

	all, err := st.AggregateTokens(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, runs[0].Tokens.Total()+runs[1].Tokens.Total(), all.Total())

	steps, err := st.ListStepUsage(ctx, conv.ID, 1)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, StepPlanning, steps[0].Kind)
	assert.Equal(t, StepFinal, steps[2].Kind)
}
