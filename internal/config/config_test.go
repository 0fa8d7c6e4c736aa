package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv(EnvAPIURL, "")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	want, err := Default()
	require.NoError(t, err)
	assert.Equal(t, want, cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_OverridesOnlyGivenKeys(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(EnvAPIURL, "")

	path := writeConfig(t, `
api_url: https://kudos.example.com
confirm_timeout: 3s
journal_path: ~/data/journal.db
log_level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://kudos.example.com", cfg.APIURL)
	assert.Equal(t, 3*time.Second, cfg.ConfirmTimeout)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout, "default kept")
	assert.Equal(t, filepath.Join(home, "data", "journal.db"), cfg.JournalPath)

	lvl, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv(EnvAPIURL, "http://twin:9000")

	cfg, err := Load(writeConfig(t, "api_url: https://ignored.example.com\n"))
	require.NoError(t, err)
	assert.Equal(t, "http://twin:9000", cfg.APIURL)
}

func TestLoad_BadYAML(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	_, err := Load(writeConfig(t, "request_timeout: [nope\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty url", func(c *Config) { c.APIURL = "" }},
		{"relative url", func(c *Config) { c.APIURL = "kudos.example.com" }},
		{"zero request timeout", func(c *Config) { c.RequestTimeout = 0 }},
		{"negative confirm timeout", func(c *Config) { c.ConfirmTimeout = -time.Second }},
		{"no journal", func(c *Config) { c.JournalPath = "" }},
		{"no credentials", func(c *Config) { c.CredentialsPath = "" }},
		{"bad level", func(c *Config) { c.LogLevel = "chatty" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Default()
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
