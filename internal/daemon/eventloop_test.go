package daemon

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventLoop(t *testing.T) {
	d := createTestDaemon(t, testConfig(t))
	defer d.GetRuntime().Close(t.Context())

	loop := NewEventLoop(d, 0)
	assert.Equal(t, DefaultMaintenanceInterval, loop.interval)

	loop = NewEventLoop(d, time.Second)
	assert.Equal(t, time.Second, loop.interval)
}

func TestEventLoopRunStopsWithContext(t *testing.T) {
	d := createTestDaemon(t, testConfig(t))
	defer d.GetRuntime().Close(t.Context())

	loop := NewEventLoop(d, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	var exited atomic.Bool
	go func() {
		loop.Run(ctx)
		exited.Store(true)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	assert.Eventually(t, exited.Load, time.Second, 5*time.Millisecond)
}

func TestEventLoopTracksFailedUsage(t *testing.T) {
	d := createTestDaemon(t, testConfig(t))
	rt := d.GetRuntime()
	defer rt.Close(t.Context())

	loop := NewEventLoop(d, time.Hour)
	loop.processTasks(t.Context())
	assert.Equal(t, int64(0), loop.lastFailed)

	// A row for a conversation that does not exist violates the foreign key
	// and is dropped after its retry.
	require.True(t, rt.Ledger.RecordAsync(t.Context(), store.StepUsage{
		ConversationID: "missing", RunNumber: 1, StepNumber: 1, Kind: store.StepAction,
	}))
	require.NoError(t, rt.Ledger.Flush(t.Context()))

	loop.processTasks(t.Context())
	assert.Equal(t, rt.Ledger.Stats().Failed, loop.lastFailed)
}
