package cli

import (
	"fmt"
	"os"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/internal/config"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/internal/daemon"
	"github.com/spf13/cobra"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the cora daemon in the foreground",
	Long: `Run the cora daemon in the foreground.
The daemon serves the HTTP/SSE API and the WebSocket gateway, runs the
janitor that cancels stuck runs, and publishes steps to Redis when a
monitor address is configured. It stops on SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", -1, "gateway port (overrides the config file, 0 picks a free port)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort >= 0 {
		cfg.Gateway.Port = servePort
	}

	if pid, ok := daemon.Running(cfg.PIDFile()); ok && pid != os.Getpid() {
		return &daemon.AlreadyRunningError{PID: pid}
	}

	log, err := newLogger(cfg, true)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	opts := daemon.Options{}
	if path := config.NewLoader(cfgFile).GetConfigPath(); path != "" {
		if _, err := os.Stat(path); err == nil {
			opts.ConfigPath = path
		}
	}

	d, err := daemon.New(cfg, log, opts)
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "cora listening on http://%s\n", d.Status().Addr)
	d.Wait(cmd.Context())
	return nil
}
