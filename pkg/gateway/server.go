package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/internal/observability"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/internal/tracing"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/agent"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/conversation"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
)

// Server serves the HTTP API, the SSE streams and the WebSocket gateway.
type Server struct {
	addr          string
	echo          *echo.Echo
	server        *http.Server
	listener      net.Listener
	conversations *conversation.Service
	auth          *AuthHandler
	router        *RPCRouter
	clients       *ClientRegistry
	broadcaster   *EventBroadcaster
	upgrader      websocket.Upgrader
	logger        zerolog.Logger

	shutdownMu     sync.RWMutex
	isShuttingDown bool
	inFlightReqs   sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Host string
	// Port 0 picks a free port; see Addr after Start.
	Port int
	// SharedSecret enables auth when set.
	SharedSecret  string
	Conversations *conversation.Service
	Logger        zerolog.Logger
}

// NewServer creates a Server and registers its routes and RPC methods.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Conversations == nil {
		return nil, fmt.Errorf("conversation service is required")
	}

	logger := cfg.Logger.With().Str("component", "gateway").Logger()
	clients := NewClientRegistry()

	s := &Server{
		addr:          net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		conversations: cfg.Conversations,
		auth:          NewAuthHandler(cfg.SharedSecret),
		router:        NewRPCRouter(),
		clients:       clients,
		broadcaster:   NewEventBroadcaster(clients, logger),
		logger:        logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	if err := s.registerBuiltinMethods(); err != nil {
		return nil, err
	}
	s.echo = s.routes()
	return s, nil
}

func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.Recover())
	e.Use(s.observe)
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{echo.HeaderContentType, SecretHeader},
		ExposeHeaders: []string{"X-Stream-Id", tracing.TraceHeader},
	}))

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(observability.MetricsHandler()))
	e.GET("/ws", s.handleWebSocket, s.auth.Middleware())

	api := e.Group("/api", s.auth.Middleware())
	api.GET("/sessions", s.listSessions)
	api.POST("/sessions", s.createSession)
	api.GET("/sessions/:id", s.getSession)
	api.PATCH("/sessions/:id", s.renameSession)
	api.DELETE("/sessions/:id", s.deleteSession)
	api.POST("/sessions/:id/activate", s.activateSession)
	api.GET("/sessions/:id/tokens", s.getTokens)
	api.GET("/sessions/:id/transcript", s.getTranscript)
	api.POST("/sessions/:id/interrupt", s.interruptSession)
	api.GET("/sessions/:id/stream", s.streamChat)
	api.GET("/sessions/:id/attach", s.attachRun)

	return e
}

// observe logs each request and counts it by route and status.
func (s *Server) observe(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		ctx := tracing.FromHeader(req.Context(), req.Header)
		c.SetRequest(req.WithContext(ctx))
		c.Response().Header().Set(tracing.TraceHeader, tracing.GetTraceID(ctx))

		start := time.Now()
		err := next(c)

		code := c.Response().Status
		if err != nil {
			code = httpStatus(err)
		}
		route := c.Path()
		if route == "" {
			route = "unmatched"
		}
		observability.RecordHTTPRequest(route, code)

		logger := tracing.LoggerFromContext(ctx, s.logger)
		logger.Debug().
			Str("method", req.Method).
			Str("route", route).
			Int("status", code).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
		return err
	}
}

func (s *Server) handleError(err error, c echo.Context) {
	code := httpStatus(err)
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) && he.Message != nil {
		msg = fmt.Sprint(he.Message)
	}

	logger := tracing.LoggerFromContext(c.Request().Context(), s.logger)
	if code >= http.StatusInternalServerError {
		logger.Error().Err(err).Int("status", code).Str("path", c.Request().URL.Path).Msg("Request failed")
	} else {
		logger.Debug().Err(err).Int("status", code).Str("path", c.Request().URL.Path).Msg("Request rejected")
	}

	if !c.Response().Committed {
		_ = c.JSON(code, map[string]interface{}{"error": msg})
	}
}

// Handler exposes the routes, mostly for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Listener announces run lifecycle events to WebSocket clients.
func (s *Server) Listener() agent.Listener {
	return s.broadcaster.Listener()
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting gateway server")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()
	return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop refuses new WebSocket clients, waits for in-flight RPCs until ctx is
// done, closes every client and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")
	s.broadcaster.Broadcast(EventMessage{
		Event: "server.shutdown",
		Data:  map[string]interface{}{"message": "Server is shutting down"},
	})

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Debug().Msg("All in-flight requests completed")
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown deadline reached, closing clients")
	}

	for _, client := range s.clients.All() {
		_ = client.Conn.Close()
	}

	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

// GetConnectedClients returns information about all connected clients
func (s *Server) GetConnectedClients() []ClientInfo {
	return s.clients.Describe()
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}
