package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/internal/observability"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/internal/tracing"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/agent"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/ledger"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/store"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/transcript"
	"github.com/rs/zerolog"
)

// ErrInvalidArgument marks input the service refuses, such as an empty message.
var ErrInvalidArgument = errors.New("invalid argument")

// Config configures a Service.
type Config struct {
	Store       *store.Store
	Coordinator *agent.Coordinator
	Ledger      *ledger.Ledger
	Logger      zerolog.Logger
	// Now overrides the clock used for default titles.
	Now func() time.Time
}

// Service is the conversation API shared by the CLI and the gateway.
type Service struct {
	store  *store.Store
	coord  *agent.Coordinator
	ledger *ledger.Ledger
	logger zerolog.Logger
	now    func() time.Time

	// cache is a read-through copy of ListConversations. It is never
	// authoritative and is dropped after every change.
	cacheMu sync.Mutex
	cache   []store.Conversation
	cached  bool
}

// Detail is everything a client needs to render one conversation.
type Detail struct {
	Conversation *store.Conversation   `json:"conversation"`
	Transcript   transcript.Transcript `json:"transcript"`
	Tokens       store.TokenTotals     `json:"tokens"`
	Runs         []store.RunTotals     `json:"runs"`
	Running      bool                  `json:"running"`
	ActiveRun    int                   `json:"active_run,omitempty"`
}

// TokenSummary is the cumulative and per-run token usage of a conversation.
type TokenSummary struct {
	ConversationID string            `json:"conversation_id"`
	Cumulative     store.TokenTotals `json:"cumulative"`
	Total          int64             `json:"total"`
	Runs           []store.RunTotals `json:"runs"`
}

// New creates a Service and subscribes it to run lifecycle events.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Coordinator == nil {
		return nil, errors.New("coordinator is required")
	}
	if cfg.Ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Service{
		store:  cfg.Store,
		coord:  cfg.Coordinator,
		ledger: cfg.Ledger,
		logger: cfg.Logger.With().Str("component", "conversation").Logger(),
		now:    cfg.Now,
	}
	cfg.Coordinator.AddListener(func(ctx context.Context, event agent.LifecycleEvent) {
		s.invalidate()
	})
	return s, nil
}

func (s *Service) invalidate() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.cache = nil
	s.cached = false
}

// List returns every conversation, most recently updated first.
func (s *Service) List(ctx context.Context) ([]store.Conversation, error) {
	s.cacheMu.Lock()
	if s.cached {
		out := append([]store.Conversation(nil), s.cache...)
		s.cacheMu.Unlock()
		return out, nil
	}
	s.cacheMu.Unlock()

	convs, err := s.store.ListConversations(ctx)
	if err != nil {
		return nil, err
	}

	s.cacheMu.Lock()
	s.cache = convs
	s.cached = true
	s.cacheMu.Unlock()

	return append([]store.Conversation(nil), convs...), nil
}

// Create creates a conversation. An empty title becomes "Session HH:MM".
func (s *Service) Create(ctx context.Context, title string) (*store.Conversation, error) {
	title = strings.TrimSpace(title)
	if IsDefaultTitle(title) {
		title = DefaultTitle(s.now())
	}

	conv, err := s.store.CreateConversation(ctx, title)
	if err != nil {
		return nil, err
	}
	s.invalidate()

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().
		Str("conversation_id", conv.ID).
		Str("title", conv.Title).
		Msg("Conversation created")
	return conv, nil
}

// Get returns a conversation with its turns. Unknown ids give store.ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*store.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation %s: %w", id, store.ErrNotFound)
	}
	return conv, nil
}

// Rename sets the title of a conversation.
func (s *Service) Rename(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("title cannot be empty: %w", ErrInvalidArgument)
	}
	if err := s.store.UpdateTitle(ctx, id, title); err != nil {
		return err
	}
	s.invalidate()
	return nil
}

// Activate makes id the active conversation.
func (s *Service) Activate(ctx context.Context, id string) error {
	if err := s.store.SetActive(ctx, id); err != nil {
		return err
	}
	s.invalidate()
	return nil
}

// Active returns the active conversation, or nil when there is none.
func (s *Service) Active(ctx context.Context) (*store.Conversation, error) {
	return s.store.ActiveConversation(ctx)
}

// GetOrCreateActive returns the active conversation, falling back to the most
// recent one and then to a new one. The result is marked active.
func (s *Service) GetOrCreateActive(ctx context.Context) (*store.Conversation, error) {
	conv, err := s.store.ActiveConversation(ctx)
	if err != nil {
		return nil, err
	}
	if conv != nil {
		return conv, nil
	}

	conv, err = s.store.MostRecentConversation(ctx)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		conv, err = s.Create(ctx, "")
		if err != nil {
			return nil, err
		}
	}

	if err := s.Activate(ctx, conv.ID); err != nil {
		return nil, err
	}
	conv.Active = true
	return conv, nil
}

// Delete removes a conversation with its turns and usage. It is refused
// with agent.ErrConversationBusy while a run is active.
func (s *Service) Delete(ctx context.Context, id string) error {
	if s.coord.IsRunning(id) {
		return fmt.Errorf("cannot delete conversation %s: %w", id, agent.ErrConversationBusy)
	}

	if err := s.store.DeleteConversation(ctx, id); err != nil {
		observability.RecordConversationAudit(ctx, "conversation_deleted", id, "failure", map[string]interface{}{
			"error": err.Error(),
		})
		return err
	}
	s.ledger.Forget(id)
	s.invalidate()

	observability.RecordConversationAudit(ctx, "conversation_deleted", id, "success", nil)
	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().Str("conversation_id", id).Msg("Conversation deleted")
	return nil
}

// Send starts a run for message. The first message of a conversation that
// still has a placeholder title also becomes its title.
func (s *Service) Send(ctx context.Context, id, message string) (*agent.Run, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, fmt.Errorf("message cannot be empty: %w", ErrInvalidArgument)
	}

	conv, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	retitle := IsDefaultTitle(conv.Title) && !hasUserTurn(conv.Turns)

	run, err := s.coord.StartRun(ctx, id, message)
	if err != nil {
		return nil, err
	}

	if retitle {
		if err := s.store.UpdateTitle(ctx, id, TitleFromMessage(message)); err != nil {
			logger := tracing.LoggerFromContext(ctx, s.logger)
			logger.Warn().Err(err).Str("conversation_id", id).Msg("Failed to set title")
		}
	}
	s.invalidate()
	return run, nil
}

func hasUserTurn(turns []store.Turn) bool {
	for _, t := range turns {
		if t.Role == store.RoleUser {
			return true
		}
	}
	return false
}

// Cancel interrupts the active run of id. It reports whether one existed.
func (s *Service) Cancel(id string) bool {
	return s.coord.Cancel(id)
}

// ActiveRun returns the active run of id, if any.
func (s *Service) ActiveRun(id string) (*agent.Run, bool) {
	return s.coord.ActiveRun(id)
}

// Detail returns a conversation with its transcript and token usage. While
// a run is active its not yet persisted steps are included.
func (s *Service) Detail(ctx context.Context, id string) (*Detail, error) {
	conv, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &Detail{Conversation: conv}
	if run, ok := s.coord.ActiveRun(id); ok {
		detail.Running = true
		detail.ActiveRun = run.RunNumber
		detail.Transcript = transcript.ReconstructWithPending(conv.Turns, run.Events.Pending())
	} else {
		detail.Transcript = transcript.Reconstruct(conv.Turns)
	}

	tokens, err := s.Tokens(ctx, id)
	if err != nil {
		return nil, err
	}
	detail.Tokens = tokens.Cumulative
	detail.Runs = tokens.Runs
	return detail, nil
}

// Tokens returns the token usage of a conversation.
func (s *Service) Tokens(ctx context.Context, id string) (*TokenSummary, error) {
	cumulative, err := s.ledger.Cumulative(ctx, id)
	if err != nil {
		return nil, err
	}
	runs, err := s.ledger.Runs(ctx, id)
	if err != nil {
		return nil, err
	}
	return &TokenSummary{
		ConversationID: id,
		Cumulative:     cumulative,
		Total:          cumulative.Total(),
		Runs:           runs,
	}, nil
}
