package config

import (
	"encoding/json"
	"fmt"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/hooks"
)

// Config represents the main cora configuration
type Config struct {
	// Data directory, ~/.cora when empty
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	Storage StorageConfig `json:"storage" mapstructure:"storage"`
	Runs    RunsConfig    `json:"runs" mapstructure:"runs"`
	Engine  EngineConfig  `json:"engine" mapstructure:"engine"`
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`
	Monitor MonitorConfig `json:"monitor" mapstructure:"monitor"`
	Hooks   HooksConfig   `json:"hooks" mapstructure:"hooks"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// StorageConfig locates the sqlite database.
type StorageConfig struct {
	Path string `json:"path" mapstructure:"path"` // <data_dir>/cora.db when empty
}

// RunsConfig tunes the run coordinator.
type RunsConfig struct {
	ChannelCapacity    int    `json:"channel_capacity" mapstructure:"channel_capacity"`
	UsageQueueCapacity int    `json:"usage_queue_capacity" mapstructure:"usage_queue_capacity"`
	PersistStepTurns   bool   `json:"persist_step_turns" mapstructure:"persist_step_turns"`
	JanitorSchedule    string `json:"janitor_schedule" mapstructure:"janitor_schedule"`
}

// EngineConfig selects the reasoning engine.
type EngineConfig struct {
	Kind         string  `json:"kind" mapstructure:"kind"` // echo, anthropic, openai
	Model        string  `json:"model" mapstructure:"model"`
	APIKey       string  `json:"api_key" mapstructure:"api_key"`
	BaseURL      string  `json:"base_url" mapstructure:"base_url"`
	SystemPrompt string  `json:"system_prompt" mapstructure:"system_prompt"`
	MaxTokens    int     `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature  float64 `json:"temperature" mapstructure:"temperature"`
	PlanFirst    bool    `json:"plan_first" mapstructure:"plan_first"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB, 0 disables rotation
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Port         int    `json:"port" mapstructure:"port"`
	Host         string `json:"host" mapstructure:"host"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"`
}

// MonitorConfig enables the Redis step stream when RedisAddr is set.
type MonitorConfig struct {
	RedisAddr string `json:"redis_addr" mapstructure:"redis_addr"`
	Stream    string `json:"stream" mapstructure:"stream"`
	MaxLen    int64  `json:"max_len" mapstructure:"max_len"`
}

// HooksConfig holds lifecycle hook scripts.
type HooksConfig struct {
	Enabled bool         `json:"enabled" mapstructure:"enabled"`
	Hooks   []hooks.Hook `json:"hooks" mapstructure:"hooks"`
}

// TracingConfig controls OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	Endpoint    string  `json:"endpoint" mapstructure:"endpoint"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"` // 0 samples every trace
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Runs: RunsConfig{
			ChannelCapacity:    100,
			UsageQueueCapacity: 256,
			PersistStepTurns:   false,
			JanitorSchedule:    "@every 1m",
		},
		Engine: EngineConfig{
			Kind:        "echo",
			Model:       "claude-sonnet-4-5",
			MaxTokens:   4096,
			Temperature: 0.2,
			PlanFirst:   true,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Gateway: GatewayConfig{
			Port: 8000,
			Host: "127.0.0.1",
		},
		Monitor: MonitorConfig{
			Stream: "cora:steps",
			MaxLen: 10000,
		},
		Hooks: HooksConfig{
			Enabled: false,
			Hooks:   []hooks.Hook{},
		},
	}
}

// String returns a JSON representation of the config with secrets masked.
func (c *Config) String() string {
	masked := *c
	if masked.Engine.APIKey != "" {
		masked.Engine.APIKey = "***"
	}
	if masked.Gateway.SharedSecret != "" {
		masked.Gateway.SharedSecret = "***"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Engine.Kind {
	case "", "echo":
	case "anthropic", "openai":
		if c.Engine.APIKey == "" {
			return fmt.Errorf("engine %s: api_key is required (or set CORA_ENGINE_API_KEY)", c.Engine.Kind)
		}
		if c.Engine.Model == "" {
			return fmt.Errorf("engine %s: model is required", c.Engine.Kind)
		}
	default:
		return fmt.Errorf("invalid engine kind %s (must be: echo, anthropic, openai)", c.Engine.Kind)
	}

	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway port: %d", c.Gateway.Port)
	}
	if c.Runs.ChannelCapacity < 0 {
		return fmt.Errorf("runs.channel_capacity must be >= 0")
	}
	if c.Runs.UsageQueueCapacity < 0 {
		return fmt.Errorf("runs.usage_queue_capacity must be >= 0")
	}
	if c.Monitor.MaxLen < 0 {
		return fmt.Errorf("monitor.max_len must be >= 0")
	}

	return nil
}
