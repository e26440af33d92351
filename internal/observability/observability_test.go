package observability

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestMetricsHandlerExposesRecordedMetrics(t *testing.T) {
	RecordRun("completed", 250*time.Millisecond)
	RecordStep("action", 10, 4)
	RecordChannelDrop()
	RecordHTTPRequest("/api/sessions", 200)
	RecordMonitorPublish(false)
	RecordHookRun("daemon:startup", 20*time.Millisecond, true)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)

	assert.Contains(t, text, `cora_run_total{outcome="completed"}`)
	assert.Contains(t, text, `cora_step_total{kind="action"}`)
	assert.Contains(t, text, `cora_tokens_total{direction="input"}`)
	assert.Contains(t, text, "cora_channel_dropped_total")
	assert.Contains(t, text, `cora_monitor_events_total{status="error"}`)
	assert.Contains(t, text, `cora_hook_runs_total{event="daemon:startup",status="success"}`)
}

func TestAuditLoggerWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "audit.log")
	require.NoError(t, InitAuditLogger(path))

	RecordRunAudit(context.Background(), "conv-1", 3, "cancelled", nil)
	RecordConversationAudit(context.Background(), "conversation:delete", "conv-1", "success", nil)
	require.NoError(t, GetAuditLogger().Close())

	// Closing twice is harmless and later records go to stderr.
	require.NoError(t, GetAuditLogger().Close())
	RecordConfigAudit(context.Background(), "reload", "system", nil)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		entries = append(entries, entry)
	}
	require.Len(t, entries, 2)

	assert.Equal(t, "run", entries[0]["type"])
	assert.Equal(t, "run:cancelled", entries[0]["action"])
	assert.Equal(t, "cancelled", entries[0]["status"])
	assert.Equal(t, "conv-1", entries[0]["actor"])

	assert.Equal(t, map[string]interface{}{"run_number": float64(3)}, entries[0]["metadata"])
	assert.NotContains(t, entries[0], "trace_id")

	assert.Equal(t, "conversation:delete", entries[1]["action"])
	assert.NotContains(t, entries[1], "metadata")
}

func TestAuditLoggerCarriesTraceID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	require.NoError(t, InitAuditLogger(path))
	defer GetAuditLogger().Close()

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	ctx, span := tp.Tracer("test").Start(context.Background(), "delete")
	RecordSecurityAudit(ctx, "gateway_auth", "10.0.0.1", "failure", map[string]interface{}{"path": "/api/sessions"})
	span.End()
	require.NoError(t, GetAuditLogger().Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "security", entry["type"])
	assert.Equal(t, span.SpanContext().TraceID().String(), entry["trace_id"])
	assert.NotEmpty(t, entry["timestamp"])
}

func TestRunStatus(t *testing.T) {
	assert.Equal(t, "success", runStatus("completed"))
	assert.Equal(t, "cancelled", runStatus("cancelled"))
	assert.Equal(t, "failure", runStatus("failed"))
}
