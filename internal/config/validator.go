package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/agent"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/hooks"
	"github.com/robfig/cron/v3"
)

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	hookEvents = []string{
		hooks.EventDaemonStartup,
		hooks.EventDaemonShutdown,
		agent.EventRunStarted,
		agent.EventRunCompleted,
		agent.EventRunFailed,
		agent.EventRunCancelled,
	}
)

// FieldError ties a validation problem to the config key it was found under.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string { return e.Field + ": " + e.Err.Error() }

func (e *FieldError) Unwrap() error { return e.Err }

// Validator performs the advisory checks behind `cora config validate`.
// Config.Validate covers what the daemon cannot start without; Validator
// also flags values that would only fail later, such as a malformed key.
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey checks the key prefix each provider issues.
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}
	prefix := map[string]string{"anthropic": "sk-ant-", "openai": "sk-"}[provider]
	if prefix != "" && !strings.HasPrefix(key, prefix) {
		return fmt.Errorf("%s API key should start with %s", provider, prefix)
	}
	return nil
}

// ValidateTemperature bounds temperature to what provider accepts.
func (v *Validator) ValidateTemperature(temp float64, provider string) error {
	upper := 1.0
	if provider == "openai" {
		upper = 2.0
	}
	if temp < 0 || temp > upper {
		return fmt.Errorf("temperature must be between 0 and %g, got %g", upper, temp)
	}
	return nil
}

func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 || tokens > 200000 {
		return fmt.Errorf("max tokens must be in 1..200000, got %d", tokens)
	}
	return nil
}

func (v *Validator) ValidateLogLevel(level string) error {
	if slices.Contains(logLevels, level) {
		return nil
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(logLevels, ", "))
}

// ValidateSchedule checks a cron spec or descriptor such as "@every 1m".
// Empty disables the janitor.
func (v *Validator) ValidateSchedule(spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateEndpoint accepts an absolute http or https URL.
func (v *Validator) ValidateEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q is not an http(s) URL", raw)
	}
	return nil
}

// ValidateConfig returns every problem found, each as a *FieldError.
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var problems []error
	check := func(field string, err error) {
		if err != nil {
			problems = append(problems, &FieldError{Field: field, Err: err})
		}
	}

	if kind := cfg.Engine.Kind; kind == "anthropic" || kind == "openai" {
		check("engine.api_key", v.ValidateAPIKey(cfg.Engine.APIKey, kind))
		check("engine.temperature", v.ValidateTemperature(cfg.Engine.Temperature, kind))
		check("engine.max_tokens", v.ValidateMaxTokens(cfg.Engine.MaxTokens))
		if cfg.Engine.BaseURL != "" {
			check("engine.base_url", v.ValidateEndpoint(cfg.Engine.BaseURL))
		}
	}

	check("gateway.host", v.validateBind(cfg.Gateway))
	check("runs.janitor_schedule", v.ValidateSchedule(cfg.Runs.JanitorSchedule))

	if cfg.Monitor.RedisAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.Monitor.RedisAddr); err != nil {
			check("monitor.redis_addr", err)
		}
		if cfg.Monitor.Stream == "" {
			check("monitor.stream", errors.New("stream name is required when redis_addr is set"))
		}
	}

	if cfg.Tracing.Enabled {
		if cfg.Tracing.Endpoint == "" {
			check("tracing.endpoint", errors.New("endpoint is required when tracing is enabled"))
		} else {
			check("tracing.endpoint", v.ValidateEndpoint(cfg.Tracing.Endpoint))
		}
		if r := cfg.Tracing.SampleRatio; r < 0 || r > 1 {
			check("tracing.sample_ratio", fmt.Errorf("must be between 0 and 1, got %g", r))
		}
	}

	check("logging.level", v.ValidateLogLevel(cfg.Logging.Level))
	if cfg.Logging.MaxSize < 0 || cfg.Logging.MaxAge < 0 {
		check("logging", errors.New("max_size and max_age cannot be negative"))
	}

	if cfg.Hooks.Enabled {
		problems = append(problems, v.validateHooks(cfg.Hooks.Hooks)...)
	}
	return problems
}

// validateBind wants a shared secret whenever the gateway listens beyond
// loopback.
func (v *Validator) validateBind(gw GatewayConfig) error {
	if gw.Host == "" {
		return errors.New("host is required")
	}
	if gw.SharedSecret != "" || gw.Host == "localhost" {
		return nil
	}
	if ip := net.ParseIP(gw.Host); ip != nil && ip.IsLoopback() {
		return nil
	}
	return fmt.Errorf("binding to %s requires gateway.shared_secret", gw.Host)
}

func (v *Validator) validateHooks(list []hooks.Hook) []error {
	var problems []error
	seen := make(map[string]bool)
	for i, hook := range list {
		if !hook.Enabled {
			continue
		}
		field := fmt.Sprintf("hooks[%d]", i)
		if hook.ID != "" {
			if seen[hook.ID] {
				problems = append(problems, &FieldError{field + ".id", fmt.Errorf("duplicate id %q", hook.ID)})
			}
			seen[hook.ID] = true
		}
		if event := strings.TrimSpace(hook.Event); !slices.Contains(hookEvents, event) {
			problems = append(problems, &FieldError{field + ".event", fmt.Errorf("unknown event %q", event)})
		}
		if strings.TrimSpace(hook.Script) == "" {
			problems = append(problems, &FieldError{field + ".script", errors.New("script is required")})
		}
		if hook.Timeout < 0 {
			problems = append(problems, &FieldError{field + ".timeout", errors.New("timeout cannot be negative")})
		}
	}
	return problems
}
