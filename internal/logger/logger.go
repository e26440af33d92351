// Package logger builds the process-wide zerolog logger: console output on
// stderr, an optional (rotating) log file and credential redaction.
package logger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger is the process logger. The embedded zerolog.Logger provides the
// usual Debug/Info/Warn/Error/With methods.
type Logger struct {
	zerolog.Logger
	closers []io.Closer
}

// Config holds logger configuration
type Config struct {
	Level     string // debug, info, warn, error; info when empty
	File      string
	Console   bool
	Pretty    bool
	Redaction bool
	MaxSize   int // MB before rotation, 0 keeps a single file
	MaxAge    int // days to keep rotated files
	Compress  bool

	// Out replaces stderr as the console destination.
	Out io.Writer
}

// New builds a Logger and installs it as the zerolog global logger.
func New(cfg Config) (*Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	var (
		sinks   []io.Writer
		closers []io.Closer
	)
	if cfg.Console {
		// Stdout belongs to the CLI.
		var console io.Writer = os.Stderr
		if cfg.Out != nil {
			console = cfg.Out
		}
		if cfg.Pretty {
			console = zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339}
		}
		sinks = append(sinks, console)
	}
	if cfg.File != "" {
		file, err := openLogFile(cfg)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, file)
		closers = append(closers, file)
	}

	var out io.Writer
	switch len(sinks) {
	case 0:
		out = io.Discard
	case 1:
		out = sinks[0]
	default:
		out = zerolog.MultiLevelWriter(sinks...)
	}
	if cfg.Redaction {
		out = NewRedactor().Wrap(out)
	}

	zl := zerolog.New(out).Level(level).With().Timestamp().Logger()
	log.Logger = zl
	zerolog.SetGlobalLevel(level)

	return &Logger{Logger: zl, closers: closers}, nil
}

func openLogFile(cfg Config) (io.WriteCloser, error) {
	if cfg.MaxSize > 0 {
		return NewRotatingWriter(cfg.File, cfg.MaxSize, cfg.MaxAge, cfg.Compress)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

// Close closes the log file, if any. Logging after Close is dropped by the
// file sink.
func (l *Logger) Close() error {
	var errs []error
	for _, c := range l.closers {
		errs = append(errs, c.Close())
	}
	l.closers = nil
	return errors.Join(errs...)
}

// SetLevel changes the minimum level of every logger in the process. An
// unknown level is rejected and leaves the current one in place.
func (l *Logger) SetLevel(level string) error {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return fmt.Errorf("invalid log level %q", level)
	}
	zerolog.SetGlobalLevel(parsed)
	return nil
}

// Component returns a child logger tagged with component=name.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// GetZerolog returns the underlying zerolog.Logger
func (l *Logger) GetZerolog() zerolog.Logger {
	return l.Logger
}
