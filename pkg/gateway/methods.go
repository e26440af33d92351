package gateway

import (
	"context"
	"fmt"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/internal/tracing"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/agent"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/stepchannel"
)

const sessionIDSchema = `{
	"type": "object",
	"properties": {"sessionId": {"type": "string", "minLength": 1}},
	"required": ["sessionId"]
}`

const createSchema = `{
	"type": "object",
	"properties": {"title": {"type": "string"}}
}`

const chatSendSchema = `{
	"type": "object",
	"properties": {
		"sessionId": {"type": "string", "minLength": 1},
		"message": {"type": "string", "minLength": 1}
	},
	"required": ["sessionId", "message"]
}`

// registerBuiltinMethods registers all built-in RPC methods
func (s *Server) registerBuiltinMethods() error {
	methods := []struct {
		name    string
		schema  string
		handler RequestHandler
	}{
		{"sessions.list", "", s.handleSessionsList},
		{"sessions.get", sessionIDSchema, s.handleSessionsGet},
		{"sessions.create", createSchema, s.handleSessionsCreate},
		{"sessions.delete", sessionIDSchema, s.handleSessionsDelete},
		{"chat.send", chatSendSchema, s.handleChatSend},
		{"agent.abort", sessionIDSchema, s.handleAgentAbort},
		{"tokens.get", sessionIDSchema, s.handleTokensGet},
		{"sessions.watch", sessionIDSchema, s.handleSessionsWatch},
		{"sessions.unwatch", sessionIDSchema, s.handleSessionsUnwatch},
	}
	for _, m := range methods {
		if err := s.router.RegisterMethod(m.name, m.schema, m.handler); err != nil {
			return fmt.Errorf("failed to register %s: %w", m.name, err)
		}
	}
	return nil
}

func stringParam(params map[string]interface{}, key string) string {
	value, _ := params[key].(string)
	return value
}

func (s *Server) handleSessionsList(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	sessions, err := s.conversations.List(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"sessions": sessions}, nil
}

func (s *Server) handleSessionsGet(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return s.conversations.Detail(ctx, stringParam(params, "sessionId"))
}

func (s *Server) handleSessionsCreate(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return s.conversations.Create(ctx, stringParam(params, "title"))
}

func (s *Server) handleSessionsDelete(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	if err := s.conversations.Delete(ctx, stringParam(params, "sessionId")); err != nil {
		return nil, err
	}
	return map[string]interface{}{"success": true}, nil
}

// handleSessionsWatch limits run.lifecycle events for the calling client to
// watched conversations.
func (s *Server) handleSessionsWatch(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	id := stringParam(params, "sessionId")
	if _, err := s.conversations.Get(ctx, id); err != nil {
		return nil, err
	}
	return map[string]interface{}{"watching": s.clients.Watch(clientIDFromContext(ctx), id)}, nil
}

func (s *Server) handleSessionsUnwatch(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	s.clients.Unwatch(clientIDFromContext(ctx), stringParam(params, "sessionId"))
	return map[string]interface{}{"success": true}, nil
}

func (s *Server) handleAgentAbort(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	aborted := s.conversations.Cancel(stringParam(params, "sessionId"))
	return map[string]interface{}{"aborted": aborted}, nil
}

func (s *Server) handleTokensGet(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return s.conversations.Tokens(ctx, stringParam(params, "sessionId"))
}

// handleChatSend starts a run, streams its steps to the calling client as
// "chat.step" events and answers with the run result once it ends.
func (s *Server) handleChatSend(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	run, err := s.conversations.Send(ctx, stringParam(params, "sessionId"), stringParam(params, "message"))
	if err != nil {
		return nil, err
	}

	clientID := clientIDFromContext(ctx)
	if clientID != "" {
		s.clients.Watch(clientID, run.ConversationID)
	}
	requestID := tracing.GetRequestID(ctx)
	logger := tracing.LoggerFromContext(ctx, s.logger)

	sub := run.Events.Subscribe()
	defer sub.Close()
	for {
		evt, err := sub.Next(ctx)
		if err != nil {
			// The caller went away or the stream ended; the run keeps going.
			break
		}
		if clientID != "" {
			s.broadcaster.SendTo(clientID, EventMessage{
				Event:          "chat.step",
				Data:           evt,
				ConversationID: run.ConversationID,
				RunNumber:      run.RunNumber,
				RequestID:      requestID,
			})
		}
		if evt.Terminal() {
			break
		}
	}

	result, err := run.Wait(ctx)
	if err != nil && result.Outcome == "" {
		logger.Debug().Err(err).Str("conversation_id", run.ConversationID).Msg("chat.send returned before run ended")
		return nil, err
	}
	return chatResult(result, err), nil
}

func chatResult(result agent.Result, runErr error) map[string]interface{} {
	out := map[string]interface{}{
		"conversation_id": result.ConversationID,
		"run_number":      result.RunNumber,
		"outcome":         result.Outcome,
		"steps":           result.Steps,
		"output":          result.Output,
	}
	if runErr != nil {
		out["error"] = runErr.Error()
	}
	return out
}

// terminalEnd reports whether evt should be followed by a "done" marker on
// an SSE stream. Cancelled streams end without one.
func terminalEnd(evt stepchannel.Event) bool {
	return evt.Terminal() && evt.Type != stepchannel.EventCancelled
}
