package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `{
  "basic_config": {
    "server_address": ":9000",
    "environment": "staging",
    "database": "sqlite3"
  },
  "databases": {
    "sqlite3": {"dsn": "data/app.db"}
  },
  "providers": {
    "compat": {"base_url": "http://llm.local/v1", "model": "small", "api_key": "k"}
  },
  "extraction": {"provider": "compat", "timeout": "15s"},
  "object_store": {"driver": "local", "base_dir": "/tmp/uploads"}
}`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadReadsFileAndDefaults(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.BasicConfig.ServerAddress)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, 15*time.Second, cfg.Extraction.Timeout)
	assert.Equal(t, 4, cfg.Extraction.Workers)
	assert.Equal(t, 7, cfg.Attachments.RetentionDays)
	assert.Equal(t, 24*time.Hour, cfg.Auth.SessionTTL)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "data/app.db"), cfg.Databases["sqlite3"].DSN)

	name, provider, ok := cfg.Provider()
	require.True(t, ok)
	assert.Equal(t, "compat", name)
	assert.Equal(t, "small", provider.Model)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	t.Setenv("STUDYHUB_BASIC_CONFIG_ENVIRONMENT", "production")
	t.Setenv("STUDYHUB_DATABASE_DSN", ":memory:")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, ":memory:", cfg.Databases["sqlite3"].DSN)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}

func TestLoadRequiresDatabase(t *testing.T) {
	path := writeConfig(t, `{"basic_config": {"database": "mysql"}}`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database config for mysql not found")
}

func TestProviderUnset(t *testing.T) {
	cfg := &Config{}
	_, _, ok := cfg.Provider()
	assert.False(t, ok)
}
