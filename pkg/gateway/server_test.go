package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/agent"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/conversation"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/engine"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/ledger"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/store"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "s3cret"

type testGateway struct {
	server *Server
	http   *httptest.Server
	svc    *conversation.Service
}

func setupTestGateway(t *testing.T, eng engine.Engine) *testGateway {
	t.Helper()

	st, err := store.Open(store.Config{
		Path:   filepath.Join(t.TempDir(), "cora.db"),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	l, err := ledger.New(ledger.Config{Store: st, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	coord, err := agent.NewCoordinator(agent.Config{Store: st, Ledger: l, Engine: eng, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = coord.Shutdown(ctx)
	})

	svc, err := conversation.New(conversation.Config{Store: st, Coordinator: coord, Ledger: l, Logger: zerolog.Nop()})
	require.NoError(t, err)

	srv, err := NewServer(Config{SharedSecret: testSecret, Conversations: svc, Logger: zerolog.Nop()})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testGateway{server: srv, http: ts, svc: svc}
}

func (g *testGateway) do(t *testing.T, method, path string, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, g.http.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(SecretHeader, testSecret)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := g.http.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

// readSSE collects every data payload until the server closes the stream.
func readSSE(t *testing.T, resp *http.Response) []map[string]interface{} {
	t.Helper()
	var events []map[string]interface{}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var evt map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt))
		events = append(events, evt)
	}
	return events
}

func sseTypes(events []map[string]interface{}) []string {
	out := make([]string, len(events))
	for i, evt := range events {
		out[i], _ = evt["type"].(string)
	}
	return out
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(Config{})
	assert.Error(t, err)

	_, err = NewServer(Config{Port: 70000})
	assert.Error(t, err)
}

func TestServer_Healthz(t *testing.T) {
	g := setupTestGateway(t, engine.NewEcho())

	resp, err := http.Get(g.http.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Trace-Id"))

	req, err := http.NewRequest(http.MethodGet, g.http.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-Trace-Id", "caller-trace")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "caller-trace", resp.Header.Get("X-Trace-Id"))
}

func TestServer_RequiresSecret(t *testing.T) {
	g := setupTestGateway(t, engine.NewEcho())

	resp, err := http.Get(g.http.URL + "/api/sessions")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp2, err := http.Get(g.http.URL + "/api/sessions?secret=" + testSecret)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestServer_SessionLifecycle(t *testing.T) {
	g := setupTestGateway(t, engine.NewEcho())

	resp := g.do(t, http.MethodPost, "/api/sessions", `{"title":"Billing audit"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created store.Conversation
	decode(t, resp, &created)
	assert.Equal(t, "Billing audit", created.Title)

	resp = g.do(t, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Sessions []store.Conversation `json:"sessions"`
	}
	decode(t, resp, &list)
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, created.ID, list.Sessions[0].ID)

	resp = g.do(t, http.MethodPatch, "/api/sessions/"+created.ID, `{"title":"Renamed"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var renamed store.Conversation
	decode(t, resp, &renamed)
	assert.Equal(t, "Renamed", renamed.Title)

	resp = g.do(t, http.MethodPatch, "/api/sessions/"+created.ID, `{"title":"  "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = g.do(t, http.MethodPost, "/api/sessions/"+created.ID+"/activate", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = g.do(t, http.MethodGet, "/api/sessions/"+created.ID+"/tokens", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tokens conversation.TokenSummary
	decode(t, resp, &tokens)
	assert.Equal(t, int64(0), tokens.Total)

	resp = g.do(t, http.MethodDelete, "/api/sessions/"+created.ID, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = g.do(t, http.MethodGet, "/api/sessions/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var body map[string]interface{}
	decode(t, resp, &body)
	assert.NotEmpty(t, body["error"])
}

func TestServer_StreamChat(t *testing.T) {
	g := setupTestGateway(t, engine.NewEcho())
	conv, err := g.svc.Create(context.Background(), "")
	require.NoError(t, err)

	resp := g.do(t, http.MethodGet, "/api/sessions/"+conv.ID+"/stream?query=list+buckets", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("X-Stream-Id"))

	events := readSSE(t, resp)
	assert.Equal(t, []string{"message", "planning", "action", "final", "done"}, sseTypes(events))
	assert.Equal(t, "user", events[0]["role"])
	assert.Equal(t, "list buckets", events[0]["content"])
	assert.Equal(t, "list buckets", events[3]["output"])

	require.Eventually(t, func() bool {
		_, running := g.svc.ActiveRun(conv.ID)
		return !running
	}, 2*time.Second, 10*time.Millisecond)

	resp = g.do(t, http.MethodGet, "/api/sessions/"+conv.ID+"/transcript", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tr map[string]interface{}
	decode(t, resp, &tr)
	assert.Contains(t, tr["text"], "list buckets")
}

func TestServer_StreamValidation(t *testing.T) {
	g := setupTestGateway(t, engine.NewEcho())
	conv, err := g.svc.Create(context.Background(), "")
	require.NoError(t, err)

	resp := g.do(t, http.MethodGet, "/api/sessions/"+conv.ID+"/stream", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = g.do(t, http.MethodGet, "/api/sessions/missing/stream?query=hi", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_AttachAndInterrupt(t *testing.T) {
	g := setupTestGateway(t, engine.NewEcho().WithStepDelay(time.Hour))
	ctx := context.Background()
	conv, err := g.svc.Create(ctx, "")
	require.NoError(t, err)

	resp := g.do(t, http.MethodGet, "/api/sessions/"+conv.ID+"/attach", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = g.do(t, http.MethodGet, "/api/sessions/missing/attach", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = g.do(t, http.MethodPost, "/api/sessions/"+conv.ID+"/interrupt", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	run, err := g.svc.Send(ctx, conv.ID, "slow question")
	require.NoError(t, err)

	resp = g.do(t, http.MethodGet, "/api/sessions/"+conv.ID+"/stream?query=again", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	attached := g.do(t, http.MethodGet, "/api/sessions/"+conv.ID+"/attach", "")
	require.Equal(t, http.StatusOK, attached.StatusCode)

	resp = g.do(t, http.MethodPost, "/api/sessions/"+conv.ID+"/interrupt", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	events := readSSE(t, attached)
	assert.Equal(t, []string{"cancelled"}, sseTypes(events))

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	result, err := run.Wait(waitCtx)
	assert.ErrorIs(t, err, agent.ErrCancelled)
	assert.Equal(t, agent.OutcomeCancelled, result.Outcome)
}

func dialGateway(t *testing.T, g *testGateway) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(g.http.URL, "http") + "/ws"
	header := http.Header{}
	header.Set(SecretHeader, testSecret)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	hello := readEvent(t, conn)
	require.Equal(t, "connected", hello.Event)
	return conn
}

// wsCall sends a request and returns its response along with any events
// received before it.
func wsCall(t *testing.T, conn *websocket.Conn, id, method string, params map[string]interface{}) (map[string]interface{}, []map[string]interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	}))

	var events []map[string]interface{}
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var msg map[string]interface{}
		require.NoError(t, conn.ReadJSON(&msg))
		if msg["type"] == "event" {
			events = append(events, msg)
			continue
		}
		if msg["id"] == id {
			return msg, events
		}
	}
}

func TestServer_WebSocketRejectsWithoutSecret(t *testing.T) {
	g := setupTestGateway(t, engine.NewEcho())

	wsURL := "ws" + strings.TrimPrefix(g.http.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_WebSocketSessions(t *testing.T) {
	g := setupTestGateway(t, engine.NewEcho())
	conn := dialGateway(t, g)

	resp, _ := wsCall(t, conn, "1", "sessions.create", map[string]interface{}{"title": "ws"})
	require.Nil(t, resp["error"])
	created := resp["result"].(map[string]interface{})
	id := created["id"].(string)
	assert.Equal(t, "ws", created["title"])

	resp, _ = wsCall(t, conn, "2", "sessions.list", nil)
	sessions := resp["result"].(map[string]interface{})["sessions"].([]interface{})
	assert.Len(t, sessions, 1)

	resp, _ = wsCall(t, conn, "3", "sessions.get", map[string]interface{}{})
	rpcErr := resp["error"].(map[string]interface{})
	assert.Equal(t, float64(InvalidParams), rpcErr["code"])

	resp, _ = wsCall(t, conn, "4", "sessions.get", map[string]interface{}{"sessionId": "missing"})
	rpcErr = resp["error"].(map[string]interface{})
	assert.Equal(t, float64(NotFound), rpcErr["code"])

	resp, _ = wsCall(t, conn, "5", "agent.abort", map[string]interface{}{"sessionId": id})
	assert.Equal(t, false, resp["result"].(map[string]interface{})["aborted"])

	resp, _ = wsCall(t, conn, "6", "sessions.delete", map[string]interface{}{"sessionId": id})
	assert.Equal(t, true, resp["result"].(map[string]interface{})["success"])

	resp, _ = wsCall(t, conn, "7", "nope", nil)
	rpcErr = resp["error"].(map[string]interface{})
	assert.Equal(t, float64(MethodNotFound), rpcErr["code"])
}

func TestServer_WebSocketWatch(t *testing.T) {
	g := setupTestGateway(t, engine.NewEcho())
	conn := dialGateway(t, g)

	conv, err := g.svc.Create(context.Background(), "")
	require.NoError(t, err)

	resp, _ := wsCall(t, conn, "1", "sessions.watch", map[string]interface{}{"sessionId": conv.ID})
	require.Nil(t, resp["error"])
	assert.Equal(t, true, resp["result"].(map[string]interface{})["watching"])

	clients := g.server.GetConnectedClients()
	require.Len(t, clients, 1)
	assert.Equal(t, []string{conv.ID}, clients[0].Watching)

	resp, _ = wsCall(t, conn, "2", "sessions.watch", map[string]interface{}{"sessionId": "missing"})
	rpcErr := resp["error"].(map[string]interface{})
	assert.Equal(t, float64(NotFound), rpcErr["code"])

	resp, _ = wsCall(t, conn, "3", "sessions.unwatch", map[string]interface{}{"sessionId": conv.ID})
	require.Nil(t, resp["error"])
	assert.Empty(t, g.server.GetConnectedClients()[0].Watching)
}

func TestServer_WebSocketChatSend(t *testing.T) {
	g := setupTestGateway(t, engine.NewEcho())
	conn := dialGateway(t, g)

	conv, err := g.svc.Create(context.Background(), "")
	require.NoError(t, err)

	resp, events := wsCall(t, conn, "chat", "chat.send", map[string]interface{}{
		"sessionId": conv.ID,
		"message":   "describe instances",
	})
	require.Nil(t, resp["error"])

	result := resp["result"].(map[string]interface{})
	assert.Equal(t, "completed", result["outcome"])
	assert.Equal(t, "describe instances", result["output"])
	assert.Equal(t, float64(1), result["run_number"])

	var kinds []string
	for _, evt := range events {
		if evt["event"] != "chat.step" {
			continue
		}
		data := evt["data"].(map[string]interface{})
		kinds = append(kinds, data["type"].(string))
		assert.Equal(t, conv.ID, evt["conversation_id"])
	}
	assert.Equal(t, []string{"planning", "action", "final"}, kinds)

	require.Eventually(t, func() bool {
		tokens, err := g.svc.Tokens(context.Background(), conv.ID)
		return err == nil && len(tokens.Runs) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_StopClosesClients(t *testing.T) {
	g := setupTestGateway(t, engine.NewEcho())
	conn := dialGateway(t, g)
	require.Eventually(t, func() bool { return len(g.server.GetConnectedClients()) == 1 }, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, g.server.Stop(ctx))

	shutdown := readEvent(t, conn)
	assert.Equal(t, "server.shutdown", shutdown.Event)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
