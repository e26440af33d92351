package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/internal/observability"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultModel     = "claude-3-5-sonnet-20241022"
	DefaultMaxTokens = 4096

	planningPrompt = "Before answering, outline in a few short numbered lines how you will answer. Do not answer yet."
)

// LLMConfig configures the LLM engine.
type LLMConfig struct {
	Provider     Provider
	Model        string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	// PlanFirst adds a planning call before the answer.
	PlanFirst bool
	Logger    zerolog.Logger
}

// LLM is an engine backed by a chat completion provider. Its state is the
// JSON message history of the conversation.
type LLM struct {
	cfg    LLMConfig
	logger zerolog.Logger
}

// NewLLM creates an LLM engine.
func NewLLM(cfg LLMConfig) (*LLM, error) {
	if cfg.Provider == nil {
		return nil, errors.New("llm engine requires a provider")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	return &LLM{
		cfg: cfg,
		logger: cfg.Logger.With().
			Str("component", "engine").
			Str("provider", cfg.Provider.Name()).
			Str("model", cfg.Model).
			Logger(),
	}, nil
}

// Name implements Engine.
func (e *LLM) Name() string {
	return e.cfg.Provider.Name() + ":" + e.cfg.Model
}

// RunTurn implements Engine.
func (e *LLM) RunTurn(ctx context.Context, priorState []byte, message string) (Sequence, error) {
	logger := tracing.LoggerFromContext(ctx, e.logger)

	history, err := DecodeHistory(priorState)
	if err != nil {
		logger.Warn().Err(err).Msg("Discarding unreadable engine state")
		history = History{}
	}
	history = history.Append(Message{Role: "user", Content: message})

	box := &stateBox{}
	box.set(history.Encode())

	var (
		plan   string
		answer string
	)

	steps := make([]stepFunc, 0, 3)
	if e.cfg.PlanFirst {
		steps = append(steps, func(ctx context.Context) (StepRecord, error) {
			resp, err := e.call(ctx, Request{
				Model:        e.cfg.Model,
				Messages:     history.Messages,
				Temperature:  e.cfg.Temperature,
				MaxTokens:    e.cfg.MaxTokens,
				SystemPrompt: joinPrompt(e.cfg.SystemPrompt, planningPrompt),
			})
			if err != nil {
				return StepRecord{}, fmt.Errorf("planning call failed: %w", err)
			}
			plan = strings.TrimSpace(resp.Content)
			return StepRecord{Kind: KindPlanning, Plan: plan, Usage: resp.Usage}, nil
		})
	}

	steps = append(steps,
		func(ctx context.Context) (StepRecord, error) {
			system := e.cfg.SystemPrompt
			if plan != "" {
				system = joinPrompt(system, "Follow this plan:\n"+plan)
			}
			resp, err := e.call(ctx, Request{
				Model:        e.cfg.Model,
				Messages:     history.Messages,
				Temperature:  e.cfg.Temperature,
				MaxTokens:    e.cfg.MaxTokens,
				SystemPrompt: system,
			})
			if err != nil {
				return StepRecord{}, fmt.Errorf("model call failed: %w", err)
			}
			answer = resp.Content
			history = history.Append(Message{Role: "assistant", Content: answer})
			box.set(history.Encode())

			return StepRecord{
				Kind:         KindAction,
				Thought:      fmt.Sprintf("Asked %s for an answer.", e.Name()),
				Observations: answer,
				Usage:        resp.Usage,
			}, nil
		},
		func(ctx context.Context) (StepRecord, error) {
			return StepRecord{
				Kind:   KindFinal,
				Output: answer,
				State:  box.get(),
			}, nil
		},
	)

	return newStepSequence(ctx, box, steps...), nil
}

// call makes one provider request, retrying once on a transient failure.
func (e *LLM) call(ctx context.Context, request Request) (*Response, error) {
	ctx, span := tracing.StartSpan(ctx, "cora.engine", "engine.provider_call",
		attribute.String("provider", e.cfg.Provider.Name()),
		attribute.String("model", request.Model),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, e.logger)

	resp, err := e.attempt(ctx, request)
	if err != nil && IsRetryableError(err) && ctx.Err() == nil {
		logger.Warn().Err(err).Msg("Provider call failed, retrying once")
		resp, err = e.attempt(ctx, request)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if resp.Usage != nil {
		span.SetAttributes(
			attribute.Int64("input_tokens", resp.Usage.InputTokens),
			attribute.Int64("output_tokens", resp.Usage.OutputTokens),
		)
	}
	return resp, nil
}

func (e *LLM) attempt(ctx context.Context, request Request) (*Response, error) {
	start := time.Now()
	resp, err := e.cfg.Provider.Call(ctx, request)
	observability.RecordProviderCall(e.cfg.Provider.Name(), time.Since(start), err == nil)
	return resp, err
}

func joinPrompt(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}
