// Package config provides configuration management for rtmsync.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/rtmsync/internal/util"
)

const (
	// ConfigFileName is the default config file name
	ConfigFileName = "config.yaml"
	// RTMSyncDir is the rtmsync configuration directory
	RTMSyncDir = ".rtmsync"
	// EnvTokenVar names the environment variable holding the API token.
	// A token in the config file is accepted but the env var wins.
	EnvTokenVar = "RTMSYNC_TOKEN"
)

// RemoteConfig describes the Jira/RTM instance to sync against.
type RemoteConfig struct {
	// BaseURL is the Jira base URL, e.g. https://jira.example.com
	BaseURL string `yaml:"base_url"`

	// Username for basic auth
	Username string `yaml:"username"`

	// Token is the basic-auth password or PAT. Prefer RTMSYNC_TOKEN.
	Token string `yaml:"token,omitempty"`

	// Timeout for a single HTTP request
	Timeout time.Duration `yaml:"timeout"`

	// Endpoints overrides the candidate path templates per logical
	// endpoint key, e.g. {"steps.get": ["/custom/{key}/steps"]}
	Endpoints map[string][]string `yaml:"endpoints,omitempty"`
}

// StoreConfig describes the local database.
type StoreConfig struct {
	// Dialect is "sqlite" or "postgres"
	Dialect string `yaml:"dialect"`

	// Path is the sqlite file path or the postgres DSN
	Path string `yaml:"path"`
}

// ProjectConfig identifies the project being synced.
type ProjectConfig struct {
	// Key is the Jira project key, e.g. PROJ
	Key string `yaml:"key"`

	// ID is the remote numeric project id used by tree endpoints
	ID int64 `yaml:"id"`
}

// SyncConfig tunes the pull and push engines.
type SyncConfig struct {
	// Deep pulls full issue details, steps and links, not just the trees
	Deep bool `yaml:"deep"`

	// FetchWorkers bounds parallel tree downloads (0 = one per tree)
	FetchWorkers int `yaml:"fetch_workers"`
}

// ExcelConfig tunes the spreadsheet bridge.
type ExcelConfig struct {
	// Columns renames logical column names to workbook headers
	Columns map[string]string `yaml:"columns,omitempty"`
}

// Config represents the rtmsync configuration.
type Config struct {
	// Version is the config file version
	Version int `yaml:"version"`

	Remote  RemoteConfig  `yaml:"remote"`
	Store   StoreConfig   `yaml:"store"`
	Project ProjectConfig `yaml:"project"`
	Sync    SyncConfig    `yaml:"sync"`
	Excel   ExcelConfig   `yaml:"excel"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Remote: RemoteConfig{
			Timeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Dialect: "sqlite",
			Path:    filepath.Join(RTMSyncDir, "rtmsync.db"),
		},
		Sync: SyncConfig{
			Deep: true,
		},
	}
}

// APIToken returns the effective token: environment first, file second.
func (c *Config) APIToken() string {
	if tok := os.Getenv(EnvTokenVar); tok != "" {
		return tok
	}
	return c.Remote.Token
}

// Validate reports configuration the engines cannot run with.
func (c *Config) Validate() error {
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("config: remote.base_url is required")
	}
	if c.Project.Key == "" {
		return fmt.Errorf("config: project.key is required")
	}
	switch c.Store.Dialect {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown store dialect %q", c.Store.Dialect)
	}
	return nil
}

// Load reads a config file. A missing file returns defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromDir loads .rtmsync/config.yaml under dir.
func LoadFromDir(dir string) (*Config, error) {
	return Load(filepath.Join(dir, RTMSyncDir, ConfigFileName))
}

// Save writes the config file atomically, creating the directory when
// needed.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// SaveToDir writes .rtmsync/config.yaml under dir.
func (c *Config) SaveToDir(dir string) error {
	return c.Save(filepath.Join(dir, RTMSyncDir, ConfigFileName))
}
