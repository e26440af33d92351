package stepchannel

import "time"

// EventType tags a step event.
type EventType string

const (
	EventPlanning  EventType = "planning"
	EventAction    EventType = "action"
	EventFinal     EventType = "final"
	EventError     EventType = "error"
	EventCancelled EventType = "cancelled"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventPlanning, EventAction, EventFinal, EventError, EventCancelled:
		return true
	}
	return false
}

// Terminal reports whether t ends a run's stream.
func (t EventType) Terminal() bool {
	return t == EventFinal || t == EventError || t == EventCancelled
}

// Usage is the token usage reported for one step.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Event is one message on a run's stream. Which fields are set depends on Type:
//
//	planning:  StepNumber, Plan, Usage
//	action:    StepNumber, Thought, Code, Observations, Error, Usage
//	final:     StepNumber, Output, Usage
//	error:     Message
//	cancelled: no payload
type Event struct {
	Seq            uint64    `json:"seq"`
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id"`
	RunNumber      int       `json:"run_number"`
	StepNumber     int       `json:"step_number,omitempty"`
	Plan           string    `json:"plan,omitempty"`
	Thought        string    `json:"thought,omitempty"`
	Code           string    `json:"code,omitempty"`
	Observations   string    `json:"observations,omitempty"`
	Error          string    `json:"error,omitempty"`
	Output         string    `json:"output,omitempty"`
	Message        string    `json:"message,omitempty"`
	Usage          *Usage    `json:"usage,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Terminal reports whether e ends the stream.
func (e Event) Terminal() bool {
	return e.Type.Terminal()
}
