package store

import (
	"fmt"
	"time"
)

// Status is the lifecycle status of a conversation.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusRunning, StatusCompleted:
		return true
	}
	return false
}

// Role identifies the author of a turn.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAgent, RoleSystem:
		return true
	}
	return false
}

// StepKind classifies one unit of engine progress.
type StepKind string

const (
	StepPlanning StepKind = "planning"
	StepAction   StepKind = "action"
	StepFinal    StepKind = "final"
)

// Valid reports whether k is a known step kind.
func (k StepKind) Valid() bool {
	switch k {
	case StepPlanning, StepAction, StepFinal:
		return true
	}
	return false
}

// Conversation is a persistent multi-turn chat with the agent.
type Conversation struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Status     Status    `json:"status"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	AgentState []byte    `json:"-"`
	Turns      []Turn    `json:"turns,omitempty"`
}

// Turn is one immutable message within a conversation.
type Turn struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

// StepUsage is the token accounting row of one step.
type StepUsage struct {
	ConversationID string    `json:"conversation_id"`
	RunNumber      int       `json:"run_number"`
	StepNumber     int       `json:"step_number"`
	Kind           StepKind  `json:"step_kind"`
	InputTokens    int64     `json:"input_tokens"`
	OutputTokens   int64     `json:"output_tokens"`
	RecordedAt     time.Time `json:"recorded_at"`
}

func (u StepUsage) validate() error {
	if u.ConversationID == "" {
		return fmt.Errorf("conversation id is required")
	}
	if u.RunNumber < 1 {
		return fmt.Errorf("invalid run number: %d", u.RunNumber)
	}
	if u.StepNumber < 1 {
		return fmt.Errorf("invalid step number: %d", u.StepNumber)
	}
	if !u.Kind.Valid() {
		return fmt.Errorf("invalid step kind: %q", u.Kind)
	}
	if u.InputTokens < 0 || u.OutputTokens < 0 {
		return fmt.Errorf("token counts must be non-negative")
	}
	return nil
}

// TokenTotals sums input and output tokens.
type TokenTotals struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
}

// Total returns input plus output.
func (t TokenTotals) Total() int64 {
	return t.Input + t.Output
}

// RunTotals is the per-run view of token usage.
type RunTotals struct {
	RunNumber int         `json:"run_number"`
	Steps     int         `json:"steps"`
	Tokens    TokenTotals `json:"tokens"`
	StartedAt time.Time   `json:"started_at"`
}
