package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/agent"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/stepchannel"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	mu   sync.Mutex
	err  error
	adds []*redis.XAddArgs
}

func (f *fakeRedis) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	f.adds = append(f.adds, a)
	return redis.NewStringResult("1-0", nil)
}

func (f *fakeRedis) added() []*redis.XAddArgs {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*redis.XAddArgs, len(f.adds))
	copy(out, f.adds)
	return out
}

func TestNew_RequiresClient(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestMonitor_Publish(t *testing.T) {
	fake := &fakeRedis{}
	m, err := New(Config{Client: fake, Logger: zerolog.Nop()})
	require.NoError(t, err)

	evt := stepchannel.Event{Seq: 3, Type: stepchannel.EventAction, ConversationID: "conv-1", RunNumber: 2, Thought: "check"}
	require.NoError(t, m.Publish(context.Background(), evt))

	adds := fake.added()
	require.Len(t, adds, 1)
	args := adds[0]
	assert.Equal(t, DefaultStream, args.Stream)
	assert.Equal(t, DefaultMaxLen, args.MaxLen)
	assert.True(t, args.Approx)

	values := args.Values.(map[string]interface{})
	assert.Equal(t, "conv-1", values["conversation_id"])
	assert.Equal(t, "2", values["run"])
	assert.Equal(t, "3", values["seq"])
	assert.Equal(t, "action", values["type"])

	var decoded stepchannel.Event
	require.NoError(t, json.Unmarshal([]byte(values["payload"].(string)), &decoded))
	assert.Equal(t, "check", decoded.Thought)
}

func TestMonitor_PublishError(t *testing.T) {
	fake := &fakeRedis{err: errors.New("connection refused")}
	m, err := New(Config{Client: fake, Stream: "custom", MaxLen: 5, Logger: zerolog.Nop()})
	require.NoError(t, err)

	err = m.Publish(context.Background(), stepchannel.Event{Type: stepchannel.EventFinal})
	assert.ErrorContains(t, err, "connection refused")
}

func TestMonitor_ListenerFollowsRun(t *testing.T) {
	fake := &fakeRedis{}
	m, err := New(Config{Client: fake, Logger: zerolog.Nop()})
	require.NoError(t, err)

	ch := stepchannel.New(stepchannel.Config{ConversationID: "conv-9", RunNumber: 1, Logger: zerolog.Nop()})
	run := &agent.Run{ConversationID: "conv-9", RunNumber: 1, Events: ch}

	listener := m.Listener()
	listener(context.Background(), agent.LifecycleEvent{Type: agent.EventRunCompleted, Run: run})
	listener(context.Background(), agent.LifecycleEvent{Type: agent.EventRunStarted, Run: run})

	ch.Publish(stepchannel.Event{Type: stepchannel.EventPlanning, StepNumber: 1, Plan: "p"})
	ch.Publish(stepchannel.Event{Type: stepchannel.EventFinal, StepNumber: 2, Output: "ok"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Wait(ctx))

	adds := fake.added()
	require.Len(t, adds, 2)
	assert.Equal(t, "planning", adds[0].Values.(map[string]interface{})["type"])
	assert.Equal(t, "final", adds[1].Values.(map[string]interface{})["type"])
}
