package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"strings"
	"syscall"
)

// Provider is an LLM API backend.
type Provider interface {
	// Call makes one completion request.
	Call(ctx context.Context, request Request) (*Response, error)
	Name() string
}

// Request contains the parameters of one completion call.
type Request struct {
	Model        string
	Messages     []Message
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// Response contains the result of one completion call.
type Response struct {
	Content string
	Usage   *Usage
}

// ProviderConfig selects and authenticates a provider.
type ProviderConfig struct {
	Provider string // anthropic | openai
	APIKey   string
	// BaseURL points the client at a proxy or a compatible server.
	BaseURL string
}

func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicProvider(cfg.APIKey, cfg.BaseURL), nil
	case "openai":
		return NewOpenAIProvider(cfg.APIKey, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// ProviderError is a failed provider call. Status is the HTTP status the API
// answered with, or 0 when no answer arrived.
type ProviderError struct {
	Provider string
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s: status %d: %v", e.Provider, e.Status, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// 529 is Anthropic's "overloaded".
var retryableStatus = []int{408, 429, 500, 502, 503, 504, 529}

// IsRetryableError reports whether a provider error is worth one more
// attempt: throttling, a server-side failure or a dropped connection.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var pe *ProviderError
	if errors.As(err, &pe) && pe.Status != 0 {
		return slices.Contains(retryableStatus, pe.Status)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	// Errors that lost their type on the way here.
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{"connection reset", "rate limit", "overloaded", "429", "500", "502", "503", "504", "529"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
