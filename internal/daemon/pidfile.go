package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// AlreadyRunningError is returned by PIDFile.Acquire when a live process
// holds the file.
type AlreadyRunningError struct {
	PID int
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("daemon already running with pid %d", e.PID)
}

// PIDFile marks a data directory as owned by one daemon process.
type PIDFile struct {
	path   string
	logger zerolog.Logger
}

func NewPIDFile(path string, logger zerolog.Logger) *PIDFile {
	return &PIDFile{path: path, logger: logger}
}

func (p *PIDFile) Path() string { return p.path }

// Acquire creates the file with this process's pid. A file left behind by a
// dead process is replaced; one naming a live process is an
// *AlreadyRunningError.
func (p *PIDFile) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("create pid dir: %w", err)
	}

	self := os.Getpid()
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(p.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", self)
			if cerr := f.Close(); werr == nil {
				werr = cerr
			}
			if werr != nil {
				os.Remove(p.path)
				return fmt.Errorf("write pid file: %w", werr)
			}
			p.logger.Info().Str("pid_file", p.path).Int("pid", self).Msg("PID file acquired")
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("create pid file: %w", err)
		}

		pid, rerr := ReadPID(p.path)
		if rerr == nil && pid == self {
			return nil
		}
		if rerr == nil && ProcessAlive(pid) {
			return &AlreadyRunningError{PID: pid}
		}
		p.logger.Warn().Str("pid_file", p.path).Int("stale_pid", pid).Msg("Replacing stale PID file")
		if err := os.Remove(p.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove stale pid file: %w", err)
		}
	}
	return fmt.Errorf("pid file %s keeps reappearing", p.path)
}

// Release removes the file if it still names this process.
func (p *PIDFile) Release() error {
	pid, err := ReadPID(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if pid != os.Getpid() {
		return nil
	}
	if err := os.Remove(p.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	p.logger.Info().Str("pid_file", p.path).Msg("PID file released")
	return nil
}

// ReadPID parses the pid stored at path.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid file %s: %w", path, err)
	}
	return pid, nil
}

// ProcessAlive reports whether pid names a process we could signal.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := signalProcess(pid, syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

func signalProcess(pid int, sig os.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(sig)
}

// Running returns the pid of the live daemon recorded at path. A file naming
// a dead process is removed.
func Running(path string) (int, bool) {
	pid, err := ReadPID(path)
	if err != nil {
		return 0, false
	}
	if !ProcessAlive(pid) {
		os.Remove(path)
		return 0, false
	}
	return pid, true
}

const (
	pollInterval = 50 * time.Millisecond
	killWait     = 5 * time.Second
)

// Terminate sends SIGTERM to pid and waits up to grace for it to exit, then
// sends SIGKILL. It reports whether the kill was needed.
func Terminate(ctx context.Context, pid int, grace time.Duration) (killed bool, err error) {
	if err := signalProcess(pid, syscall.SIGTERM); err != nil {
		return false, fmt.Errorf("send SIGTERM to %d: %w", pid, err)
	}
	if waitExit(ctx, pid, grace) {
		return false, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err := signalProcess(pid, os.Kill); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return false, fmt.Errorf("send SIGKILL to %d: %w", pid, err)
	}
	waitExit(ctx, pid, killWait)
	return true, nil
}

func waitExit(ctx context.Context, pid int, within time.Duration) bool {
	timer := time.NewTimer(within)
	defer timer.Stop()
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()
	for ProcessAlive(pid) {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return false
		case <-tick.C:
		}
	}
	return true
}
