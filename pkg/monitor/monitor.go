package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/internal/observability"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/internal/tracing"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/agent"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/stepchannel"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// DefaultStream is the Redis stream step events are appended to.
	DefaultStream = "cora:steps"
	// DefaultMaxLen caps the stream, approximately.
	DefaultMaxLen int64 = 10000
)

// XAdder is the part of a Redis client the monitor needs.
type XAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// Config configures a Monitor.
type Config struct {
	Client XAdder
	Stream string
	MaxLen int64
	Logger zerolog.Logger
}

// Monitor mirrors every run's step events into a Redis stream so external
// dashboards can follow runs without talking to the gateway.
type Monitor struct {
	client XAdder
	stream string
	maxLen int64
	logger zerolog.Logger

	wg sync.WaitGroup
}

// Dial connects to Redis and checks the connection.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: timeout,
	})

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", addr, err)
	}
	return client, nil
}

// New creates a Monitor.
func New(cfg Config) (*Monitor, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = DefaultMaxLen
	}
	observability.EnsureRegistered()

	return &Monitor{
		client: cfg.Client,
		stream: cfg.Stream,
		maxLen: cfg.MaxLen,
		logger: cfg.Logger.With().Str("component", "monitor").Str("stream", cfg.Stream).Logger(),
	}, nil
}

// Listener follows every run from its start.
func (m *Monitor) Listener() agent.Listener {
	return func(ctx context.Context, event agent.LifecycleEvent) {
		if event.Type != agent.EventRunStarted || event.Run == nil || event.Run.Events == nil {
			return
		}
		sub := event.Run.Events.Subscribe()
		m.wg.Add(1)
		go m.follow(tracing.Detach(ctx), sub)
	}
}

func (m *Monitor) follow(ctx context.Context, sub *stepchannel.Subscription) {
	defer m.wg.Done()
	defer sub.Close()

	logger := tracing.LoggerFromContext(ctx, m.logger)
	for {
		evt, err := sub.Next(ctx)
		if err != nil {
			return
		}
		if err := m.Publish(ctx, evt); err != nil {
			logger.Warn().Err(err).Uint64("seq", evt.Seq).Str("type", string(evt.Type)).Msg("Failed to publish step event")
		}
	}
}

// Publish appends one event to the stream.
func (m *Monitor) Publish(ctx context.Context, evt stepchannel.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: m.stream,
		MaxLen: m.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"conversation_id": evt.ConversationID,
			"run":             strconv.Itoa(evt.RunNumber),
			"seq":             strconv.FormatUint(evt.Seq, 10),
			"type":            string(evt.Type),
			"payload":         string(payload),
		},
	}

	err = m.client.XAdd(ctx, args).Err()
	observability.RecordMonitorPublish(err == nil)
	if err != nil {
		return fmt.Errorf("xadd: %w", err)
	}
	return nil
}

// Wait blocks until every followed run has ended or ctx is done.
func (m *Monitor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
