package cli

import (
	"fmt"
	"time"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/internal/daemon"
	"github.com/spf13/cobra"
)

var stopTimeout time.Duration

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the cora daemon",
	Long: `Stop the cora daemon gracefully.

The daemon receives SIGTERM, cancels its active runs and exits. If it is
still alive after --timeout it is killed.`,
	Args: cobra.NoArgs,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().DurationVar(&stopTimeout, "timeout", 30*time.Second, "how long to wait for a graceful exit before killing the daemon")
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	pid, ok := daemon.Running(cfg.PIDFile())
	if !ok {
		fmt.Fprintln(out, "Daemon is not running")
		return nil
	}

	fmt.Fprintf(out, "Stopping daemon (pid %d)...\n", pid)
	killed, err := daemon.Terminate(cmd.Context(), pid, stopTimeout)
	if err != nil {
		return err
	}
	if killed {
		fmt.Fprintf(out, "Daemon did not exit within %s and was killed\n", stopTimeout)
		return nil
	}
	fmt.Fprintln(out, "Daemon stopped")
	return nil
}
