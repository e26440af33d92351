package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/internal/tracing"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// handleWebSocket upgrades an authorized request and serves JSON-RPC on it
// until the client disconnects.
func (s *Server) handleWebSocket(c echo.Context) error {
	if s.shuttingDown() {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "server is shutting down")
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return nil
	}

	clientID, err := gonanoid.New()
	if err != nil {
		_ = conn.Close()
		return err
	}

	now := time.Now()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  now,
		LastActivity: now,
		IPAddress:    c.RealIP(),
		RateLimiter:  NewClientRateLimiter(),
	}
	s.clients.Add(client)

	s.logger.Info().Str("clientId", clientID).Str("ip", client.IPAddress).Msg("Client connected")

	s.broadcaster.SendTo(clientID, EventMessage{
		Event: "connected",
		Data:  map[string]interface{}{"clientId": clientID, "methods": s.router.GetMethods()},
	})

	s.serveClient(client)
	return nil
}

func (s *Server) serveClient(client *Client) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		s.clients.Remove(client.ID)
		_ = client.Conn.Close()
		s.logger.Info().Str("clientId", client.ID).Msg("Client disconnected")
	}()

	_ = client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		return client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go s.keepAlive(ctx, client)

	for {
		_, data, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Str("clientId", client.ID).Msg("WebSocket read error")
			}
			return
		}
		_ = client.Conn.SetReadDeadline(time.Now().Add(pongWait))
		s.clients.Touch(client.ID)
		s.handleMessage(ctx, client, data)
	}
}

func (s *Server) keepAlive(ctx context.Context, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			client.writeMu.Lock()
			err := client.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			client.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handleMessage parses one request and routes it in its own goroutine so a
// long chat.send does not block the read loop.
func (s *Server) handleMessage(ctx context.Context, client *Client, data []byte) {
	req, err := s.router.ParseRequest(data)
	if err != nil {
		rpcErr, ok := err.(*RPCError)
		if !ok {
			rpcErr = &RPCError{Code: ParseError, Message: err.Error()}
		}
		_ = client.WriteJSON(&RPCResponse{Error: rpcErr, JSONRPC: "2.0"})
		return
	}

	if ok, reason := client.RateLimiter.Acquire(); !ok {
		code := RateLimitExceeded
		if reason == reasonConcurrent {
			code = TooManyConcurrent
		}
		_ = client.WriteJSON(&RPCResponse{
			ID:      req.ID,
			Error:   &RPCError{Code: code, Message: reason},
			JSONRPC: "2.0",
		})
		return
	}

	s.inFlightReqs.Add(1)
	go func() {
		defer s.inFlightReqs.Done()
		defer client.RateLimiter.Release()

		reqCtx := tracing.NewRequestContext(withClientID(ctx, client.ID))
		resp := s.router.RouteRequest(reqCtx, req)
		if err := client.WriteJSON(resp); err != nil {
			logger := tracing.LoggerFromContext(reqCtx, s.logger)
			logger.Warn().
				Err(err).
				Str("clientId", client.ID).
				Str("method", req.Method).
				Msg("Failed to write response")
		}
	}()
}

type clientKey struct{}

func withClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientKey{}, clientID)
}

// clientIDFromContext returns the WebSocket client behind an RPC, or "" for
// calls that did not arrive over a socket.
func clientIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(clientKey{}).(string)
	return id
}
