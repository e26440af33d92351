package engine

import "context"

// Kind tags a StepRecord.
type Kind string

const (
	KindPlanning Kind = "planning"
	KindAction   Kind = "action"
	KindFinal    Kind = "final"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindPlanning, KindAction, KindFinal:
		return true
	}
	return false
}

// Usage is the token usage of one step.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// StepRecord is one unit of engine progress. The fields that apply depend on Kind:
//
//	planning: Plan
//	action:   Thought, Code, Observations, Error
//	final:    Output, State
type StepRecord struct {
	Kind         Kind
	Plan         string
	Thought      string
	Code         string
	Observations string
	Error        string
	Output       string
	Usage        *Usage
	// State is the engine's new opaque state. Only final records carry it;
	// Sequence.State covers the other outcomes.
	State []byte
}

// Engine runs one turn of the reasoning agent.
type Engine interface {
	// RunTurn starts a turn from priorState. Records are produced lazily by
	// the returned Sequence. ctx bounds the whole turn.
	RunTurn(ctx context.Context, priorState []byte, message string) (Sequence, error)
	// Name identifies the engine in logs.
	Name() string
}

// Sequence yields the records of one turn. It is not safe for concurrent
// calls to Next.
type Sequence interface {
	// Next blocks until the next record is ready. ok is false once the
	// sequence is exhausted.
	Next() (rec StepRecord, ok bool, err error)
	// State returns the engine state as of the last completed step. It may
	// be called concurrently with Next.
	State() []byte
	// Close releases resources held by the sequence.
	Close() error
}
