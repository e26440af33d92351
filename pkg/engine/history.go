package engine

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Message is one entry of a conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// History is the opaque state the bundled engines keep between turns.
type History struct {
	Messages []Message `json:"messages"`
}

// DecodeHistory parses a state blob. An empty blob is an empty history.
func DecodeHistory(state []byte) (History, error) {
	var h History
	if len(state) == 0 {
		return h, nil
	}
	if err := json.Unmarshal(state, &h); err != nil {
		return History{}, fmt.Errorf("failed to decode engine state: %w", err)
	}
	return h, nil
}

// Encode serializes the history.
func (h History) Encode() []byte {
	data, err := json.Marshal(h)
	if err != nil {
		return nil
	}
	return data
}

// Append returns a copy of h with msgs appended.
func (h History) Append(msgs ...Message) History {
	out := History{Messages: make([]Message, 0, len(h.Messages)+len(msgs))}
	out.Messages = append(out.Messages, h.Messages...)
	out.Messages = append(out.Messages, msgs...)
	return out
}

// stateBox holds a sequence's current state for concurrent readers.
type stateBox struct {
	mu    sync.Mutex
	state []byte
}

func (b *stateBox) set(state []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = state
}

func (b *stateBox) get() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == nil {
		return nil
	}
	out := make([]byte, len(b.state))
	copy(out, b.state)
	return out
}
