package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. CORA_ENGINE_API_KEY.
const EnvPrefix = "CORA"

// Loader reads and writes one config file. An empty path means
// ~/.cora/cora.json.
type Loader struct {
	configPath string
}

func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

// Load is NewLoader(configPath).Load().
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

// DefaultDataDir returns ~/.cora.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, ".cora"), nil
}

// Load layers, lowest first: DefaultConfig, the config file when it exists,
// then CORA_* environment variables. Derived paths are filled in last.
func (l *Loader) Load() (*Config, error) {
	path, err := l.path()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only reaches keys viper already knows about.
	defaults, err := tree(DefaultConfig())
	if err != nil {
		return nil, err
	}
	for key, value := range flatten("", defaults) {
		v.SetDefault(key, value)
	}

	switch _, err := os.Stat(path); {
	case err == nil:
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("stat config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if err := cfg.ResolvePaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as JSON. The file may hold API keys, so it is readable
// by the owner only.
func (l *Loader) Save(cfg *Config) error {
	path, err := l.path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	settings, err := tree(cfg)
	if err != nil {
		return err
	}
	v := viper.New()
	v.SetConfigType("json")
	if err := v.MergeConfigMap(settings); err != nil {
		return fmt.Errorf("stage config: %w", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return os.Chmod(path, 0600)
}

// GetConfigPath returns the file Load and Save use, or "" when the home
// directory is unknown.
func (l *Loader) GetConfigPath() string {
	path, err := l.path()
	if err != nil {
		return ""
	}
	return path
}

func (l *Loader) path() (string, error) {
	if l.configPath != "" {
		return expandHome(l.configPath)
	}
	dir, err := DefaultDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "cora.json"), nil
}

// ResolvePaths expands a leading ~ in the data directory and fills the
// files under it that were left empty.
func (c *Config) ResolvePaths() error {
	if c.DataDir == "" {
		dir, err := DefaultDataDir()
		if err != nil {
			return err
		}
		c.DataDir = dir
	}
	dir, err := expandHome(c.DataDir)
	if err != nil {
		return err
	}
	c.DataDir = dir

	for _, p := range []struct {
		field *string
		name  string
	}{
		{&c.Storage.Path, "cora.db"},
		{&c.Logging.File, "cora.log"},
		{&c.Logging.AuditFile, "audit.log"},
	} {
		if *p.field == "" {
			*p.field = filepath.Join(c.DataDir, p.name)
		}
	}
	return nil
}

// PIDFile is where a running daemon records its process id.
func (c *Config) PIDFile() string {
	return filepath.Join(c.DataDir, "cora.pid")
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// tree converts cfg to the generic map form viper works with, keyed by the
// json tags.
func tree(cfg *Config) (map[string]interface{}, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return out, nil
}

// flatten maps every leaf of node to its dotted key.
func flatten(prefix string, node map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for key, value := range node {
		if prefix != "" {
			key = prefix + "." + key
		}
		if child, ok := value.(map[string]interface{}); ok {
			for k, v := range flatten(key, child) {
				out[k] = v
			}
			continue
		}
		out[key] = value
	}
	return out
}
