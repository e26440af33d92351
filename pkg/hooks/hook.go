// Package hooks runs user shell scripts on daemon and run lifecycle events.
package hooks

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"
	"unicode"
)

const (
	EventDaemonStartup  = "daemon:startup"
	EventDaemonShutdown = "daemon:shutdown"
)

// DefaultTimeout bounds a hook without its own timeout.
const DefaultTimeout = 30 * time.Second

// maxOutput caps the script output kept in a Result.
const maxOutput = 4096

// Hook is one shell script bound to a lifecycle event. Run events use the
// agent.Event* names.
type Hook struct {
	ID      string        `json:"id" mapstructure:"id"`
	Event   string        `json:"event" mapstructure:"event"`
	Script  string        `json:"script" mapstructure:"script"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
	Enabled bool          `json:"enabled" mapstructure:"enabled"`
}

func (h Hook) name() string {
	if id := strings.TrimSpace(h.ID); id != "" {
		return id
	}
	return h.Event
}

func (h Hook) timeout() time.Duration {
	if h.Timeout > 0 {
		return h.Timeout
	}
	return DefaultTimeout
}

// Result describes one script execution.
type Result struct {
	Hook     string
	Event    string
	Duration time.Duration
	Output   string
	Err      error
}

// ExecError is returned for a script that exited non-zero, timed out or
// could not start.
type ExecError struct {
	Hook   string
	Output string
	Err    error
}

func (e *ExecError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("hook %s failed: %v", e.Hook, e.Err)
	}
	return fmt.Sprintf("hook %s failed: %v: %s", e.Hook, e.Err, e.Output)
}

func (e *ExecError) Unwrap() error { return e.Err }

// environment is the process environment plus CORA_HOOK_EVENT, one
// CORA_HOOK_DATA_<KEY> per data entry in key order, and the whole of data as
// JSON in CORA_HOOK_PAYLOAD.
func environment(event string, data map[string]interface{}) []string {
	env := append(os.Environ(), "CORA_HOOK_EVENT="+event)
	if len(data) == 0 {
		return env
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		env = append(env, fmt.Sprintf("CORA_HOOK_DATA_%s=%v", envKey(k), data[k]))
	}

	if payload, err := json.Marshal(data); err == nil {
		env = append(env, "CORA_HOOK_PAYLOAD="+string(payload))
	}
	return env
}

// envKey upper-cases key and replaces anything that is not an ASCII letter
// or digit with '_'.
func envKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "UNKNOWN"
	}
	return strings.Map(func(r rune) rune {
		r = unicode.ToUpper(r)
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return r
		}
		return '_'
	}, key)
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxOutput {
		return s
	}
	return s[:maxOutput] + "..."
}
