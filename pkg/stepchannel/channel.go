package stepchannel

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/internal/observability"
	"github.com/rs/zerolog"
)

// DefaultCapacity is the per-subscriber buffer size used when none is configured.
const DefaultCapacity = 100

// Config configures a Channel.
type Config struct {
	Capacity       int
	ConversationID string
	RunNumber      int
	Logger         zerolog.Logger

	// Now overrides the clock, mostly for tests.
	Now func() time.Time
}

// Channel relays the events of one run from its producer to any number of
// subscribers. A Channel is single-pass: once a terminal event has been
// published it accepts nothing further.
type Channel struct {
	capacity       int
	conversationID string
	runNumber      int
	logger         zerolog.Logger
	now            func() time.Time

	mu       sync.Mutex
	seq      uint64
	history  []Event
	terminal *Event
	subs     map[uint64]*Subscription
	nextID   uint64
	done     chan struct{}
}

// New creates a Channel.
func New(cfg Config) *Channel {
	observability.EnsureRegistered()

	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Channel{
		capacity:       cfg.Capacity,
		conversationID: cfg.ConversationID,
		runNumber:      cfg.RunNumber,
		logger: cfg.Logger.With().
			Str("component", "stepchannel").
			Str("conversation_id", cfg.ConversationID).
			Int("run_number", cfg.RunNumber).
			Logger(),
		now:     cfg.Now,
		history: make([]Event, 0, cfg.Capacity),
		subs:    make(map[uint64]*Subscription),
		done:    make(chan struct{}),
	}
}

// ConversationID returns the conversation the channel belongs to.
func (c *Channel) ConversationID() string {
	return c.conversationID
}

// RunNumber returns the run the channel belongs to.
func (c *Channel) RunNumber() int {
	return c.runNumber
}

// Capacity returns the per-subscriber buffer size.
func (c *Channel) Capacity() int {
	return c.capacity
}

// Publish stamps evt with the next sequence number and hands it to every
// subscriber. It never blocks: a subscriber whose buffer is full misses the
// event. Terminal events are always delivered. It returns false when evt was
// rejected because it is invalid or the stream has already terminated.
func (c *Channel) Publish(evt Event) bool {
	if !evt.Type.Valid() {
		c.logger.Warn().Str("type", string(evt.Type)).Msg("Rejecting event with unknown type")
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.terminal != nil {
		c.logger.Debug().
			Str("type", string(evt.Type)).
			Str("terminal", string(c.terminal.Type)).
			Msg("Ignoring event published after terminal")
		return false
	}

	c.seq++
	evt.Seq = c.seq
	evt.ConversationID = c.conversationID
	evt.RunNumber = c.runNumber
	if evt.Timestamp.IsZero() {
		evt.Timestamp = c.now()
	}

	if evt.Terminal() {
		c.terminal = &evt
		for _, sub := range c.subs {
			sub.setTerminal(evt)
		}
		close(c.done)
		return true
	}

	if len(c.history) == c.capacity {
		c.history = append(c.history[:0], c.history[1:]...)
	}
	c.history = append(c.history, evt)

	for _, sub := range c.subs {
		select {
		case sub.ch <- evt:
		default:
			sub.dropped++
			observability.RecordChannelDrop()
			c.logger.Warn().
				Uint64("subscriber", sub.id).
				Uint64("seq", evt.Seq).
				Str("type", string(evt.Type)).
				Msg("Subscriber buffer full, dropping event")
		}
	}
	return true
}

// Subscribe attaches a reader. The reader first receives the retained
// history, then live events, then the terminal event.
func (c *Channel) Subscribe() *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	sub := &Subscription{
		id:       c.nextID,
		channel:  c,
		ch:       make(chan Event, c.capacity),
		termCh:   make(chan struct{}),
		closedCh: make(chan struct{}),
	}
	for _, evt := range c.history {
		sub.ch <- evt
	}

	if c.terminal != nil {
		sub.setTerminal(*c.terminal)
		return sub
	}

	c.subs[sub.id] = sub
	return sub
}

func (c *Channel) unsubscribe(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, id)
}

// Done is closed once a terminal event has been published.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Terminal returns the terminal event, if one has been published.
func (c *Channel) Terminal() (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminal == nil {
		return Event{}, false
	}
	return *c.terminal, true
}

// Pending returns a copy of the retained non-terminal events in publish order.
func (c *Channel) Pending() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.history))
	copy(out, c.history)
	return out
}

// Subscribers returns the number of attached live subscribers.
func (c *Channel) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Subscription is one reader's view of a Channel.
type Subscription struct {
	id      uint64
	channel *Channel
	ch      chan Event

	// guarded by channel.mu
	dropped int

	mu        sync.Mutex
	terminal  *Event
	delivered bool
	termCh    chan struct{}
	closeOnce sync.Once
	closedCh  chan struct{}
}

func (s *Subscription) setTerminal(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal != nil {
		return
	}
	s.terminal = &evt
	close(s.termCh)
}

// Next returns the next event. After the terminal event has been returned
// once, Next returns io.EOF. It also returns io.EOF after Close.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case evt := <-s.ch:
		return evt, nil
	default:
	}

	select {
	case evt := <-s.ch:
		return evt, nil
	case <-s.termCh:
		// Everything buffered was published before the terminal event.
		select {
		case evt := <-s.ch:
			return evt, nil
		default:
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.delivered {
			return Event{}, io.EOF
		}
		s.delivered = true
		return *s.terminal, nil
	case <-s.closedCh:
		return Event{}, io.EOF
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Events adapts Next to a channel for range loops. The returned channel is
// closed after the terminal event, on Close, or when ctx is done.
func (s *Subscription) Events(ctx context.Context) <-chan Event {
	if ctx == nil {
		ctx = context.Background()
	}
	out := make(chan Event)
	go func() {
		defer close(out)
		for {
			evt, err := s.Next(ctx)
			if err != nil {
				return
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Dropped returns how many events this subscriber missed because its buffer
// was full.
func (s *Subscription) Dropped() int {
	s.channel.mu.Lock()
	defer s.channel.mu.Unlock()
	return s.dropped
}

// Close detaches the subscription. Pending Next calls return io.EOF.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.channel.unsubscribe(s.id)
		close(s.closedCh)
	})
}
