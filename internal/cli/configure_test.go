package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cora.json")

	out, err := execute(t, "", "config", "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration saved to: "+path)
	_, err = os.Stat(path)
	require.NoError(t, err)

	_, err = execute(t, "", "config", "init", "--config", path)
	assert.Error(t, err, "existing file needs --force")

	_, err = execute(t, "", "config", "init", "--force", "--config", path)
	assert.NoError(t, err)
}

func TestConfigShowMasksSecrets(t *testing.T) {
	t.Setenv("CORA_ENGINE_API_KEY", "sk-ant-very-secret")

	out, err := execute(t, "", "config", "show", "--config", newTestConfig(t))
	require.NoError(t, err)
	assert.Contains(t, out, `"api_key": "***"`)
	assert.NotContains(t, out, "very-secret")
}

func TestConfigValidate(t *testing.T) {
	out, err := execute(t, "", "config", "validate", "--config", newTestConfig(t))
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")

	t.Setenv("CORA_ENGINE_KIND", "anthropic")
	out, err = execute(t, "", "config", "validate", "--config", newTestConfig(t))
	assert.Error(t, err)
	assert.Contains(t, out, "API key cannot be empty")
}
