// Package cli implements the cora command line.
package cli

import (
	"context"
	"fmt"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/internal/config"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/internal/daemon"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/internal/logger"
	"github.com/spf13/cobra"
)

// version is overridden at link time with -ldflags "-X .../internal/cli.version=...".
var version = "0.1.0"

// Persistent flags.
var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "cora",
	Short: "Cora - cloud operations reasoning agent",
	Long: `Cora runs a step-by-step reasoning agent over persistent conversations.
Each run streams its planning, action and final steps as they happen, and
token usage is tracked per step, per run and per conversation.`,
	Version:      version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if logLevel == "" {
			return nil
		}
		return config.NewValidator().ValidateLogLevel(logLevel)
	},
}

// Execute runs the command named on the command line.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.cora/cora.json)")
	flags.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config file")

	rootCmd.SetVersionTemplate("{{.Name}} version {{.Version}}\n")
}

// loadConfig reads the --config file and applies --log-level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// newLogger builds the process logger. With console false, output only
// reaches the log file so interactive commands own the terminal.
func newLogger(cfg *config.Config, console bool) (*logger.Logger, error) {
	lc := cfg.Logging
	return logger.New(logger.Config{
		Level:     lc.Level,
		File:      lc.File,
		Console:   console && lc.Console,
		Pretty:    lc.Pretty,
		Redaction: lc.Redaction,
		MaxSize:   lc.MaxSize,
		MaxAge:    lc.MaxAge,
		Compress:  lc.Compress,
	})
}

// session is the in-process runtime behind chat, sessions and tokens.
type session struct {
	cfg     *config.Config
	log     *logger.Logger
	runtime *daemon.Runtime
}

func openSession() (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", config.NewLoader(cfgFile).GetConfigPath(), err)
	}
	log, err := newLogger(cfg, false)
	if err != nil {
		return nil, err
	}
	rt, err := daemon.NewRuntime(cfg, log.GetZerolog())
	if err != nil {
		_ = log.Close()
		return nil, err
	}
	return &session{cfg: cfg, log: log, runtime: rt}, nil
}

func (s *session) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), daemon.ShutdownTimeout)
	defer cancel()
	if err := s.runtime.Close(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Runtime did not close cleanly")
	}
	_ = s.log.Close()
}
