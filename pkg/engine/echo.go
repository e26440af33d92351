package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Echo is a deterministic engine that answers with the user's message. It
// needs no credentials, which makes it the default for local runs and tests.
type Echo struct {
	stepDelay time.Duration
}

// NewEcho creates an Echo engine.
func NewEcho() *Echo {
	return &Echo{}
}

// WithStepDelay makes every step wait d before it is produced.
func (e *Echo) WithStepDelay(d time.Duration) *Echo {
	e.stepDelay = d
	return e
}

// Name implements Engine.
func (e *Echo) Name() string {
	return "echo"
}

// RunTurn implements Engine. The sequence is planning, action, final.
func (e *Echo) RunTurn(ctx context.Context, priorState []byte, message string) (Sequence, error) {
	history, err := DecodeHistory(priorState)
	if err != nil {
		// Unreadable state is replaced rather than wedging the conversation.
		history = History{}
	}
	history = history.Append(Message{Role: "user", Content: message})

	box := &stateBox{}
	box.set(history.Encode())

	words := int64(len(strings.Fields(message)))
	turn := countTurns(history)

	return newStepSequence(ctx, box,
		func(ctx context.Context) (StepRecord, error) {
			if err := sleep(ctx, e.stepDelay); err != nil {
				return StepRecord{}, err
			}
			return StepRecord{
				Kind: KindPlanning,
				Plan: fmt.Sprintf("1. Read message %d of this conversation.\n2. Repeat it back.", turn),
				Usage: &Usage{
					InputTokens:  words,
					OutputTokens: 12,
				},
			}, nil
		},
		func(ctx context.Context) (StepRecord, error) {
			if err := sleep(ctx, e.stepDelay); err != nil {
				return StepRecord{}, err
			}
			return StepRecord{
				Kind:         KindAction,
				Thought:      "Echo the message unchanged.",
				Code:         "print(" + strconv.Quote(message) + ")",
				Observations: message,
				Usage: &Usage{
					InputTokens:  words,
					OutputTokens: words,
				},
			}, nil
		},
		func(ctx context.Context) (StepRecord, error) {
			if err := sleep(ctx, e.stepDelay); err != nil {
				return StepRecord{}, err
			}
			final := history.Append(Message{Role: "assistant", Content: message})
			state := final.Encode()
			box.set(state)
			return StepRecord{
				Kind:   KindFinal,
				Output: message,
				State:  state,
			}, nil
		},
	), nil
}

func countTurns(h History) int {
	n := 0
	for _, m := range h.Messages {
		if m.Role == "user" {
			n++
		}
	}
	return n
}
