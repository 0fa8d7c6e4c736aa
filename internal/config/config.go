// Package config loads the kudos CLI configuration file stored at
// ~/.kudosync/config.yaml.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigDir is the directory under the user's home for CLI state.
const DefaultConfigDir = ".kudosync"

// DefaultConfigFile is the config file name within the config directory.
const DefaultConfigFile = "config.yaml"

// EnvAPIURL overrides api_url when set.
const EnvAPIURL = "KUDOSYNC_API_URL"

// Config represents the contents of ~/.kudosync/config.yaml.
type Config struct {
	APIURL          string        `yaml:"api_url"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ConfirmTimeout  time.Duration `yaml:"confirm_timeout"`
	JournalPath     string        `yaml:"journal_path"`
	CredentialsPath string        `yaml:"credentials_path"`
	BadgeRules      string        `yaml:"badge_rules,omitempty"` // optional CUE file
	LogLevel        string        `yaml:"log_level"`
}

// Default returns the configuration used when no file exists.
func Default() (*Config, error) {
	dir, err := configDir()
	if err != nil {
		return nil, err
	}
	return &Config{
		APIURL:          "http://localhost:8080",
		RequestTimeout:  10 * time.Second,
		ConfirmTimeout:  15 * time.Second,
		JournalPath:     filepath.Join(dir, "journal.db"),
		CredentialsPath: filepath.Join(dir, "credentials.yaml"),
		LogLevel:        "info",
	}, nil
}

// DefaultPath returns ~/.kudosync/config.yaml.
func DefaultPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFile), nil
}

// Load reads the config at path, or at DefaultPath when path is empty.
// A missing file yields the defaults; keys absent from the file keep their
// default values. The environment override is applied last.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if v, ok := os.LookupEnv(EnvAPIURL); ok && v != "" {
		cfg.APIURL = v
	}
	for _, p := range []*string{&cfg.JournalPath, &cfg.CredentialsPath, &cfg.BadgeRules} {
		if *p, err = expandHome(*p); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return errors.New("api_url is required")
	}
	u, err := url.Parse(c.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api_url %q is not an absolute URL", c.APIURL)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.ConfirmTimeout <= 0 {
		return fmt.Errorf("confirm_timeout must be positive, got %s", c.ConfirmTimeout)
	}
	if c.JournalPath == "" {
		return errors.New("journal_path is required")
	}
	if c.CredentialsPath == "" {
		return errors.New("credentials_path is required")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses log_level.
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}
	return filepath.Join(home, DefaultConfigDir), nil
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}
