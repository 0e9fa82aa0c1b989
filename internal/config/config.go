package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Store selects and tunes the backing store.
type Store struct {
	Driver                 string `toml:"driver"`
	PostgresURL            string `toml:"postgres_url"`
	MutationTimeoutSeconds int    `toml:"mutation_timeout_seconds"`
	ReadTimeoutSeconds     int    `toml:"read_timeout_seconds"`
	FeedPollIntervalMS     int    `toml:"feed_poll_interval_ms"`
}

// Workflow points at the stage definition file.
type Workflow struct {
	// DefinitionPath is a YAML stage definition; empty uses the built-in pipeline.
	DefinitionPath string `toml:"definition_path"`
}

// Cache contains configuration for the project read cache.
type Cache struct {
	StalenessSeconds int `toml:"staleness_seconds"`
}

// Reconciler contains configuration for change-feed reconciliation.
type Reconciler struct {
	DebounceSeconds     int      `toml:"debounce_seconds"`
	PollIntervalSeconds int      `toml:"poll_interval_seconds"`
	Organizations       []string `toml:"organizations"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Transitions    bool   `toml:"transitions"`
	Bypasses       bool   `toml:"bypasses"`
	LedgerFailures bool   `toml:"ledger_failures"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Actor holds the identity the CLI acts as when talking to the store directly.
type Actor struct {
	ID           string `toml:"id"`
	Organization string `toml:"organization"`
	Privilege    string `toml:"privilege"`
}

// Config encapsulates all configuration values for stagewright.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and API bind address
//   - Store: backing store driver, connection and timeouts
//   - Workflow: stage definition file
//   - Cache: read cache staleness window
//   - Reconciler: change-feed debounce and polling
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
//   - Actor: default CLI identity
type Config struct {
	Paths         Paths         `toml:"paths"`
	Store         Store         `toml:"store"`
	Workflow      Workflow      `toml:"workflow"`
	Cache         Cache         `toml:"cache"`
	Reconciler    Reconciler    `toml:"reconciler"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
	Actor         Actor         `toml:"actor"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("stagewright.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon and CLI operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// MutationTimeout bounds a single conditional stage update.
func (c *Config) MutationTimeout() time.Duration {
	return time.Duration(c.Store.MutationTimeoutSeconds) * time.Second
}

// ReadTimeout bounds project reads and prerequisite lookups.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Store.ReadTimeoutSeconds) * time.Second
}

// FeedPollInterval is how often the SQLite change feed polls for new rows.
func (c *Config) FeedPollInterval() time.Duration {
	return time.Duration(c.Store.FeedPollIntervalMS) * time.Millisecond
}

// CacheStaleness is the window a cached project may be served without a refresh.
func (c *Config) CacheStaleness() time.Duration {
	return time.Duration(c.Cache.StalenessSeconds) * time.Second
}

// DebounceWindow is the minimum spacing between reconciliation passes.
func (c *Config) DebounceWindow() time.Duration {
	return time.Duration(c.Reconciler.DebounceSeconds) * time.Second
}

// PollInterval is the scheduled reconciliation interval; zero disables polling.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Reconciler.PollIntervalSeconds) * time.Second
}

// DaemonLockPath is the flock file guarding a single daemon per data dir.
func (c *Config) DaemonLockPath() string {
	return filepath.Join(c.Paths.DataDir, "stagewrightd.lock")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
