package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeLivePID marks the current test process as the running daemon.
func writeLivePID(t *testing.T, cfgPath string) {
	t.Helper()
	pidFile := filepath.Join(filepath.Dir(cfgPath), "cora.pid")
	require.NoError(t, os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0644))
}

func gatewayAt(t *testing.T, srv *httptest.Server) func(*config.Config) {
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return func(cfg *config.Config) {
		cfg.Gateway.Host = u.Hostname()
		cfg.Gateway.Port = port
	}
}

func TestStatusCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		out, err := execute(t, "", "status", "--help")
		require.NoError(t, err)
		assert.Contains(t, out, "PID file")
	})

	t.Run("stopped without pid file", func(t *testing.T) {
		out, err := execute(t, "", "status", "--config", newTestConfig(t))
		require.NoError(t, err)
		assert.Equal(t, "Status: stopped\n", out)
	})

	t.Run("running and healthy", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/healthz", r.URL.Path)
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		cfgPath := newTestConfig(t, gatewayAt(t, srv))
		writeLivePID(t, cfgPath)

		out, err := execute(t, "", "status", "--config", cfgPath)
		require.NoError(t, err)
		assert.Contains(t, out, "Status: running")
		assert.Contains(t, out, fmt.Sprintf("PID: %d", os.Getpid()))
		assert.Contains(t, out, "Uptime:")
		assert.Contains(t, out, fmt.Sprintf("Gateway: %s (healthy)", srv.URL))
	})

	t.Run("gateway answering with an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		cfgPath := newTestConfig(t, gatewayAt(t, srv))
		writeLivePID(t, cfgPath)

		out, err := execute(t, "", "status", "--config", cfgPath)
		require.NoError(t, err)
		assert.Contains(t, out, "unhealthy: 503")
	})

	t.Run("ephemeral port is not probed", func(t *testing.T) {
		cfgPath := newTestConfig(t, func(cfg *config.Config) { cfg.Gateway.Port = 0 })
		writeLivePID(t, cfgPath)

		out, err := execute(t, "", "status", "--config", cfgPath)
		require.NoError(t, err)
		assert.Contains(t, out, "Gateway: 127.0.0.1:0 (ephemeral port, see daemon log)")
	})

	t.Run("json output", func(t *testing.T) {
		cfgPath := newTestConfig(t, func(cfg *config.Config) { cfg.Gateway.Port = 0 })
		writeLivePID(t, cfgPath)

		out, err := execute(t, "", "status", "--json", "--config", cfgPath)
		require.NoError(t, err)

		var st daemonStatus
		require.NoError(t, json.Unmarshal([]byte(out), &st))
		assert.True(t, st.Running)
		assert.Equal(t, os.Getpid(), st.PID)
	})
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{"seconds only", 45 * time.Second, "45s"},
		{"rounds to the second", 1499 * time.Millisecond, "1s"},
		{"minutes and seconds", 2*time.Minute + 30*time.Second, "2m30s"},
		{"hours minutes seconds", 3*time.Hour + 15*time.Minute + 20*time.Second, "3h15m20s"},
		{"days and hours", 50*time.Hour + 10*time.Minute, "2d2h"},
		{"zero", 0, "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatDuration(tt.duration))
		})
	}
}
