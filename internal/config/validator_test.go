package config

import (
	"errors"
	"testing"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/hooks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fields(errs []error) []string {
	var out []string
	for _, err := range errs {
		var fe *FieldError
		if errors.As(err, &fe) {
			out = append(out, fe.Field)
		}
	}
	return out
}

func TestValidateAPIKey(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name     string
		key      string
		provider string
		wantErr  bool
	}{
		{"anthropic prefix", "sk-ant-test123", "anthropic", false},
		{"anthropic wrong prefix", "sk-test123", "anthropic", true},
		{"openai prefix", "sk-test123", "openai", false},
		{"openai wrong prefix", "key-123", "openai", true},
		{"empty", "", "anthropic", true},
		{"unknown provider accepts anything", "whatever", "local", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateAPIKey(tt.key, tt.provider)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateRanges(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateTemperature(1, "anthropic"))
	assert.Error(t, v.ValidateTemperature(1.5, "anthropic"))
	assert.NoError(t, v.ValidateTemperature(1.5, "openai"))
	assert.Error(t, v.ValidateTemperature(-0.1, "openai"))

	assert.NoError(t, v.ValidateMaxTokens(4096))
	assert.Error(t, v.ValidateMaxTokens(0))
	assert.Error(t, v.ValidateMaxTokens(300000))

	assert.NoError(t, v.ValidateLogLevel("warn"))
	assert.Error(t, v.ValidateLogLevel("verbose"))
}

func TestValidateSchedule(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateSchedule(""))
	assert.NoError(t, v.ValidateSchedule("@every 30s"))
	assert.NoError(t, v.ValidateSchedule("*/5 * * * *"))
	assert.Error(t, v.ValidateSchedule("whenever"))
}

func TestValidateEndpoint(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateEndpoint("http://localhost:4318"))
	assert.NoError(t, v.ValidateEndpoint("https://api.example.com/v1"))
	assert.Error(t, v.ValidateEndpoint("localhost:4318"))
	assert.Error(t, v.ValidateEndpoint("ftp://files.example.com"))
}

func TestValidateConfig(t *testing.T) {
	v := NewValidator()

	t.Run("defaults are clean", func(t *testing.T) {
		assert.Empty(t, v.ValidateConfig(DefaultConfig()))
	})

	t.Run("collects every problem by field", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Engine.Kind = "anthropic"
		cfg.Engine.APIKey = "nope"
		cfg.Engine.Temperature = 2
		cfg.Runs.JanitorSchedule = "bad"
		cfg.Logging.Level = "loud"
		cfg.Tracing.Enabled = true
		cfg.Monitor.RedisAddr = "no-port"
		cfg.Hooks.Enabled = true
		cfg.Hooks.Hooks = []hooks.Hook{
			{ID: "a", Event: "daemon:reboot", Enabled: true},
			{ID: "a", Event: hooks.EventDaemonStartup, Script: "true", Enabled: true},
			{ID: "b", Enabled: false},
		}

		assert.Equal(t, []string{
			"engine.api_key",
			"engine.temperature",
			"runs.janitor_schedule",
			"monitor.redis_addr",
			"tracing.endpoint",
			"logging.level",
			"hooks[0].event",
			"hooks[0].script",
			"hooks[1].id",
		}, fields(v.ValidateConfig(cfg)))
	})

	t.Run("exposed gateway needs a secret", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Gateway.Host = "0.0.0.0"
		assert.Equal(t, []string{"gateway.host"}, fields(v.ValidateConfig(cfg)))

		cfg.Gateway.SharedSecret = "s3cret"
		assert.Empty(t, v.ValidateConfig(cfg))

		cfg.Gateway.Host = "localhost"
		cfg.Gateway.SharedSecret = ""
		assert.Empty(t, v.ValidateConfig(cfg))
	})

	t.Run("tracing sample ratio", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Tracing = TracingConfig{Enabled: true, Endpoint: "http://localhost:4318", SampleRatio: 0.25}
		assert.Empty(t, v.ValidateConfig(cfg))

		cfg.Tracing.SampleRatio = 1.5
		assert.Equal(t, []string{"tracing.sample_ratio"}, fields(v.ValidateConfig(cfg)))
	})

	t.Run("run events are valid hook events", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Hooks.Enabled = true
		cfg.Hooks.Hooks = []hooks.Hook{{Event: "run:completed", Script: "true", Enabled: true}}
		assert.Empty(t, v.ValidateConfig(cfg))
	})
}

func TestFieldErrorUnwraps(t *testing.T) {
	sentinel := errors.New("boom")
	err := error(&FieldError{Field: "x", Err: sentinel})
	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, "x: boom", err.Error())
}
