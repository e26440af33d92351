package gateway

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/agent"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// EventBroadcaster writes event frames to WebSocket clients. Frames share
// one sequence across all clients.
type EventBroadcaster struct {
	clients *ClientRegistry
	log     zerolog.Logger
	seq     atomic.Int64
	now     func() time.Time
}

func NewEventBroadcaster(clients *ClientRegistry, logger zerolog.Logger) *EventBroadcaster {
	return &EventBroadcaster{
		clients: clients,
		log:     logger.With().Str("component", "broadcaster").Logger(),
		now:     time.Now,
	}
}

// Broadcast sends msg to every connected client and returns how many
// received it.
func (b *EventBroadcaster) Broadcast(msg EventMessage) int {
	return b.fanOut(b.clients.All(), msg)
}

// Publish sends msg to the clients watching msg.ConversationID.
func (b *EventBroadcaster) Publish(msg EventMessage) int {
	return b.fanOut(b.clients.Audience(msg.ConversationID), msg)
}

// SendTo writes msg to one client. False means the client is gone or the
// write failed.
func (b *EventBroadcaster) SendTo(clientID string, msg EventMessage) bool {
	client, ok := b.clients.Get(clientID)
	if !ok {
		return false
	}
	return b.fanOut([]*Client{client}, msg) == 1
}

// Listener turns run lifecycle events into "run.lifecycle" frames for the
// run's conversation.
func (b *EventBroadcaster) Listener() agent.Listener {
	return func(_ context.Context, event agent.LifecycleEvent) {
		b.Publish(EventMessage{
			Event:          "run.lifecycle",
			Data:           lifecycleData(event),
			ConversationID: event.ConversationID,
			RunNumber:      event.RunNumber,
		})
	}
}

func lifecycleData(event agent.LifecycleEvent) map[string]interface{} {
	data := map[string]interface{}{"type": event.Type}
	if res := event.Result; res != nil {
		data["outcome"] = res.Outcome
		data["steps"] = res.Steps
	}
	if event.Err != nil {
		data["error"] = event.Err.Error()
	}
	return data
}

func (b *EventBroadcaster) fanOut(targets []*Client, msg EventMessage) int {
	frame, err := b.encode(&msg)
	if err != nil {
		b.log.Error().Err(err).Str("event", msg.Event).Msg("Dropping event that cannot be encoded")
		return 0
	}
	if len(targets) == 0 {
		return 0
	}

	sent := 0
	for _, c := range targets {
		if err := c.WriteMessage(websocket.TextMessage, frame); err != nil {
			b.log.Warn().Err(err).Str("client_id", c.ID).Str("event", msg.Event).Msg("Event write failed")
			continue
		}
		sent++
	}
	b.log.Debug().
		Str("event", msg.Event).
		Int64("seq", msg.Seq).
		Int("targets", len(targets)).
		Int("sent", sent).
		Msg("Event fanned out")
	return sent
}

// encode fills the envelope fields the caller left unset.
func (b *EventBroadcaster) encode(msg *EventMessage) ([]byte, error) {
	msg.Type = "event"
	if msg.Seq == 0 {
		msg.Seq = b.seq.Add(1)
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = b.now().UnixMilli()
	}
	return json.Marshal(msg)
}
