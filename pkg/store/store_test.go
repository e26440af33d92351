package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	st, err := Open(Config{
		Path:   filepath.Join(t.TempDir(), "cora.db"),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// steppingClock returns strictly increasing timestamps.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	current := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Millisecond)
		return current
	}
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{Logger: zerolog.Nop()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage path is required")
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cora.db")
	ctx := context.Background()

	st, err := Open(Config{Path: path, Logger: zerolog.Nop()})
	require.NoError(t, err)
	conv, err := st.CreateConversation(ctx, "persisted")
	require.NoError(t, err)
	require.NoError(t, st.SaveAgentState(ctx, conv.ID, []byte{0x01, 0x02}))
	require.NoError(t, st.Close())

	reopened, err := Open(Config{Path: path, Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "persisted", got.Title)
	assert.Equal(t, []byte{0x01, 0x02}, got.AgentState)
}

func TestStore_CreateAndGetConversation(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	conv, err := st.CreateConversation(ctx, "Session 10:42")
	require.NoError(t, err)
	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, StatusIdle, conv.Status)
	assert.False(t, conv.Active)

	got, err := st.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, conv.ID, got.ID)
	assert.Equal(t, "Session 10:42", got.Title)
	assert.Empty(t, got.Turns)
	assert.Nil(t, got.AgentState)
}

func TestStore_UnknownConversation(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	t.Run("reads return empty results", func(t *testing.T) {
		conv, err := st.GetConversation(ctx, "missing")
		assert.NoError(t, err)
		assert.Nil(t, conv)

		turns, err := st.ListTurns(ctx, "missing")
		assert.NoError(t, err)
		assert.Empty(t, turns)

		totals, err := st.AggregateTokens(ctx, "missing")
		assert.NoError(t, err)
		assert.Equal(t, TokenTotals{}, totals)

		next, err := st.NextRunNumber(ctx, "missing")
		assert.NoError(t, err)
		assert.Equal(t, 1, next)
	})

	t.Run("writes return ErrNotFound", func(t *testing.T) {
		_, err := st.AppendTurn(ctx, "missing", RoleUser, "hi")
		assert.ErrorIs(t, err, ErrNotFound)

		assert.ErrorIs(t, st.SaveAgentState(ctx, "missing", []byte("x")), ErrNotFound)
		assert.ErrorIs(t, st.SetStatus(ctx, "missing", StatusRunning), ErrNotFound)
		assert.ErrorIs(t, st.UpdateTitle(ctx, "missing", "t"), ErrNotFound)
		assert.ErrorIs(t, st.SetActive(ctx, "missing"), ErrNotFound)
		assert.ErrorIs(t, st.DeleteConversation(ctx, "missing"), ErrNotFound)
		assert.ErrorIs(t, st.UpsertStepUsage(ctx, StepUsage{
			ConversationID: "missing", RunNumber: 1, StepNumber: 1, Kind: StepAction,
		}), ErrNotFound)
	})

	t.Run("not found is not retryable", func(t *testing.T) {
		err := st.SetStatus(ctx, "missing", StatusIdle)
		assert.False(t, IsRetryable(err))
	})
}

func TestStore_AppendTurnOrdering(t *testing.T) {
	st, err := Open(Config{
		Path:   filepath.Join(t.TempDir(), "cora.db"),
		Logger: zerolog.Nop(),
		Now:    steppingClock(),
	})
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	conv, err := st.CreateConversation(ctx, "ordering")
	require.NoError(t, err)

	_, err = st.AppendTurn(ctx, conv.ID, RoleUser, "list buckets")
	require.NoError(t, err)
	last, err := st.AppendTurn(ctx, conv.ID, RoleAgent, "3 buckets found")
	require.NoError(t, err)

	got, err := st.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Turns, 2)
	assert.Equal(t, RoleUser, got.Turns[0].Role)
	assert.Equal(t, "list buckets", got.Turns[0].Content)
	assert.Equal(t, RoleAgent, got.Turns[1].Role)
	assert.Equal(t, "3 buckets found", got.Turns[1].Content)
	assert.True(t, got.UpdatedAt.Equal(last.Timestamp))
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))
}

func TestStore_AppendTurnRejectsUnknownRole(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	conv, err := st.CreateConversation(ctx, "roles")
	require.NoError(t, err)

	_, err = st.AppendTurn(ctx, conv.ID, Role("tool"), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid role")
}

func TestStore_ListConversationsMostRecentFirst(t *testing.T) {
	st, err := Open(Config{
		Path:   filepath.Join(t.TempDir(), "cora.db"),
		Logger: zerolog.Nop(),
		Now:    steppingClock(),
	})
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	first, err := st.CreateConversation(ctx, "first")
	require.NoError(t, err)
	second, err := st.CreateConversation(ctx, "second")
	require.NoError(t, err)

	convs, err := st.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, second.ID, convs[0].ID)

	_, err = st.AppendTurn(ctx, first.ID, RoleUser, "bump")
	require.NoError(t, err)

	convs, err = st.ListConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, convs[0].ID)

	recent, err := st.MostRecentConversation(ctx)
	require.NoError(t, err)
	require.NotNil(t, recent)
	assert.Equal(t, first.ID, recent.ID)
}

func TestStore_StatusAndState(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	conv, err := st.CreateConversation(ctx, "state")
	require.NoError(t, err)

	require.NoError(t, st.SetStatus(ctx, conv.ID, StatusRunning))
	require.NoError(t, st.SaveAgentState(ctx, conv.ID, []byte("first")))
	require.NoError(t, st.SaveAgentState(ctx, conv.ID, []byte("second")))

	got, err := st.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, []byte("second"), got.AgentState)

	err = st.SetStatus(ctx, conv.ID, Status("paused"))
	require.Error(t, err)

	running, err := st.ListByStatus(ctx, StatusRunning)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, conv.ID, running[0].ID)
}

func TestStore_ResetIfRunning(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	conv, err := st.CreateConversation(ctx, "stale")
	require.NoError(t, err)
	require.NoError(t, st.SetStatus(ctx, conv.ID, StatusRunning))

	reset, err := st.ResetIfRunning(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, reset)

	require.NoError(t, st.SetStatus(ctx, conv.ID, StatusCompleted))
	reset, err = st.ResetIfRunning(ctx, conv.ID)
	require.NoError(t, err)
	assert.False(t, reset)

	got, err := st.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status, "only a running conversation is reset")

	_, err = st.ResetIfRunning(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_SetActiveKeepsSingleActive(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	a, err := st.CreateConversation(ctx, "a")
	require.NoError(t, err)
	b, err := st.CreateConversation(ctx, "b")
	require.NoError(t, err)

	none, err := st.ActiveConversation(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, st.SetActive(ctx, a.ID))
	require.NoError(t, st.SetActive(ctx, b.ID))

	convs, err := st.ListConversations(ctx)
	require.NoError(t, err)
	activeCount := 0
	for _, c := range convs {
		if c.Active {
			activeCount++
			assert.Equal(t, b.ID, c.ID)
		}
	}
	assert.Equal(t, 1, activeCount)

	active, err := st.ActiveConversation(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, b.ID, active.ID)
}

func TestStore_DeleteConversationCascades(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	conv, err := st.CreateConversation(ctx, "doomed")
	require.NoError(t, err)
	_, err = st.AppendTurn(ctx, conv.ID, RoleUser, "hello")
	require.NoError(t, err)
	require.NoError(t, st.UpsertStepUsage(ctx, StepUsage{
		ConversationID: conv.ID, RunNumber: 1, StepNumber: 1, Kind: StepAction, InputTokens: 4, OutputTokens: 2,
	}))

	require.NoError(t, st.DeleteConversation(ctx, conv.ID))

	got, err := st.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	turns, err := st.ListTurns(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, turns)

	totals, err := st.AggregateTokens(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, TokenTotals{}, totals)
}

func TestStore_ConcurrentConversations(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	const conversations = 4
	const turnsEach = 10

	ids := make([]string, conversations)
	for i := range ids {
		conv, err := st.CreateConversation(ctx, fmt.Sprintf("c%d", i))
		require.NoError(t, err)
		ids[i] = conv.ID
	}

	var wg sync.WaitGroup
	errs := make(chan error, conversations*turnsEach)
	for _, id := range ids {
		for j := 0; j < turnsEach; j++ {
			wg.Add(1)
			go func(id string, j int) {
				defer wg.Done()
				if _, err := st.AppendTurn(ctx, id, RoleUser, fmt.Sprintf("m%d", j)); err != nil {
					errs <- err
				}
			}(id, j)
		}
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	for _, id := range ids {
		turns, err := st.ListTurns(ctx, id)
		require.NoError(t, err)
		assert.Len(t, turns, turnsEach)
	}
}

func TestStore_ClosedDatabaseIsUnavailable(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	conv, err := st.CreateConversation(ctx, "closing")
	require.NoError(t, err)
	require.NoError(t, st.Close())

	_, err = st.AppendTurn(ctx, conv.ID, RoleUser, "late")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.True(t, IsRetryable(err))
}
