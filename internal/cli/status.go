package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/internal/config"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/internal/daemon"
	"github.com/spf13/cobra"
)

const healthTimeout = 2 * time.Second

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long: `Show whether the cora daemon is running, using its PID file, and
probe the gateway health endpoint when the port is fixed.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print status as JSON")
	rootCmd.AddCommand(statusCmd)
}

type daemonStatus struct {
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
	Uptime  string `json:"uptime,omitempty"`
	Gateway string `json:"gateway,omitempty"`
	Health  string `json:"health,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st := collectStatus(cmd.Context(), cfg)
	out := cmd.OutOrStdout()
	if statusJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	if !st.Running {
		fmt.Fprintln(out, "Status: stopped")
		return nil
	}
	fmt.Fprintln(out, "Status: running")
	fmt.Fprintf(out, "PID: %d\n", st.PID)
	if st.Uptime != "" {
		fmt.Fprintf(out, "Uptime: %s\n", st.Uptime)
	}
	fmt.Fprintf(out, "Gateway: %s (%s)\n", st.Gateway, st.Health)
	return nil
}

func collectStatus(ctx context.Context, cfg *config.Config) daemonStatus {
	pidFile := cfg.PIDFile()
	pid, ok := daemon.Running(pidFile)
	if !ok {
		return daemonStatus{}
	}

	st := daemonStatus{Running: true, PID: pid}
	// The PID file is written at startup.
	if info, err := os.Stat(pidFile); err == nil {
		st.Uptime = formatDuration(time.Since(info.ModTime()))
	}

	if cfg.Gateway.Port == 0 {
		st.Gateway = cfg.Gateway.Host + ":0"
		st.Health = "ephemeral port, see daemon log"
		return st
	}
	base := "http://" + net.JoinHostPort(cfg.Gateway.Host, strconv.Itoa(cfg.Gateway.Port))
	st.Gateway = base
	st.Health = probeHealth(ctx, base+"/healthz")
	return st
}

func probeHealth(ctx context.Context, url string) string {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "unreachable"
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "unreachable"
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "unhealthy: " + resp.Status
	}
	return "healthy"
}

// formatDuration renders d as e.g. "2d3h", "4h5m6s" or "7s".
func formatDuration(d time.Duration) string {
	secs := int64(d.Round(time.Second) / time.Second)
	days, secs := secs/86400, secs%86400
	h, secs := secs/3600, secs%3600
	m, s := secs/60, secs%60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd%dh", days, h)
	case h > 0:
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
