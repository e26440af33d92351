package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/agent"
	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

type titleRequest struct {
	Title string `json:"title"`
}

func (s *Server) listSessions(c echo.Context) error {
	sessions, err := s.conversations.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (s *Server) createSession(c echo.Context) error {
	var req titleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	conv, err := s.conversations.Create(c.Request().Context(), req.Title)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, conv)
}

func (s *Server) getSession(c echo.Context) error {
	detail, err := s.conversations.Detail(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, detail)
}

func (s *Server) renameSession(c echo.Context) error {
	var req titleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	if err := s.conversations.Rename(ctx, c.Param("id"), req.Title); err != nil {
		return err
	}
	conv, err := s.conversations.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, conv)
}

func (s *Server) deleteSession(c echo.Context) error {
	if err := s.conversations.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) activateSession(c echo.Context) error {
	if err := s.conversations.Activate(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) getTokens(c echo.Context) error {
	summary, err := s.conversations.Tokens(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, summary)
}

func (s *Server) getTranscript(c echo.Context) error {
	detail, err := s.conversations.Detail(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"conversation_id": detail.Conversation.ID,
		"running":         detail.Running,
		"entries":         detail.Transcript.Entries(),
		"text":            detail.Transcript.Text(),
	})
}

func (s *Server) interruptSession(c echo.Context) error {
	if !s.conversations.Cancel(c.Param("id")) {
		return echo.NewHTTPError(http.StatusNotFound, "no active run")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "message": "Run interrupted"})
}

// streamChat starts a run and relays it as server-sent events: the user
// message first, then each step, then the terminal event and a "done"
// marker. Leaving the stream does not stop the run.
func (s *Server) streamChat(c echo.Context) error {
	query := strings.TrimSpace(c.QueryParam("query"))
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}

	run, err := s.conversations.Send(c.Request().Context(), c.Param("id"), query)
	if err != nil {
		return err
	}

	streamID := startSSE(c)
	if err := writeSSE(c, map[string]interface{}{"type": "message", "role": "user", "content": query}); err != nil {
		return nil
	}
	return s.relay(c, run, streamID)
}

// attachRun joins the active run of a conversation from its retained
// history onward. It answers 204 when nothing is running.
func (s *Server) attachRun(c echo.Context) error {
	id := c.Param("id")
	run, ok := s.conversations.ActiveRun(id)
	if !ok {
		if _, err := s.conversations.Get(c.Request().Context(), id); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}

	return s.relay(c, run, startSSE(c))
}

func (s *Server) relay(c echo.Context, run *agent.Run, streamID string) error {
	ctx := c.Request().Context()
	logger := s.logger.With().
		Str("stream_id", streamID).
		Str("conversation_id", run.ConversationID).
		Int("run_number", run.RunNumber).
		Logger()
	sub := run.Events.Subscribe()
	defer sub.Close()

	logger.Debug().Msg("SSE stream opened")
	for {
		evt, err := sub.Next(ctx)
		if err != nil {
			logger.Debug().Err(err).Msg("SSE client left, run continues")
			return nil
		}
		if err := writeSSE(c, evt); err != nil {
			return nil
		}
		if terminalEnd(evt) {
			_ = writeSSE(c, map[string]string{"type": "done"})
		}
		if evt.Terminal() {
			return nil
		}
	}
}

// startSSE writes the event-stream headers and returns the stream id sent
// in X-Stream-Id.
func startSSE(c echo.Context) string {
	streamID, err := gonanoid.New()
	if err != nil {
		streamID = "unknown"
	}
	h := c.Response().Header()
	h.Set("X-Stream-Id", streamID)
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set(echo.HeaderCacheControl, "no-cache")
	h.Set(echo.HeaderConnection, "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Flush()
	return streamID
}

func writeSSE(c echo.Context, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response(), "data: %s\n\n", payload); err != nil {
		return err
	}
	c.Response().Flush()
	return nil
}
