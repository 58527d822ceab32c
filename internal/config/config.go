package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full application configuration, loaded from a YAML file on
// disk. SDKConfig holds the settings the rest of the codebase historically
// addressed directly; the fields alongside it are specific to this proxy's
// account scheduling and persisted-state handling.
type Config struct {
	SDKConfig `yaml:",inline" json:",inline"`

	// Listen is the address the HTTP server binds, e.g. ":8080".
	Listen string `yaml:"listen" json:"listen"`

	// Debug enables verbose (debug-level) logging.
	Debug bool `yaml:"debug" json:"debug"`

	// AuthDir is the directory used to resolve a relative AccountsFile path
	// and, when LoggingToFile is set, to hold the logs directory.
	AuthDir string `yaml:"auth-dir" json:"auth-dir"`

	// AccountsFile is the path to the persisted account snapshot (see
	// Account Store). Relative paths are resolved against AuthDir.
	AccountsFile string `yaml:"accounts-file" json:"accounts-file"`

	// LoggingToFile switches the logger from stdout to a rotating file
	// under AuthDir/logs.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogsMaxTotalSizeMB bounds the total size of the logs directory; 0
	// disables the cleaner.
	LogsMaxTotalSizeMB int `yaml:"logs-max-total-size-mb" json:"logs-max-total-size-mb"`

	// ErrorLogsMaxFiles bounds how many per-request error logs RequestLog
	// keeps when it is only capturing failed requests; 0 disables cleanup.
	ErrorLogsMaxFiles int `yaml:"error-logs-max-files" json:"error-logs-max-files"`

	// Scheduler holds the Account Scheduler's tunables.
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`

	// FallbackModel maps a model ID to the model the scheduler retries with,
	// once, when every account is exhausted for the original model.
	FallbackModel map[string]string `yaml:"fallback-model" json:"fallback-model"`
}

// SchedulerConfig holds the Account Scheduler's retry/wait tunables. Field
// names mirror spec.md's own symbols (MAX_RETRIES, MAX_WAIT_BEFORE_ERROR_MS)
// so the two stay easy to cross-reference.
type SchedulerConfig struct {
	// MaxRetries is the floor on attempts; the scheduler actually attempts
	// max(MaxRetries, accountCount+1).
	MaxRetries int `yaml:"max-retries" json:"max-retries"`

	// MaxWaitBeforeErrorMs bounds how long the scheduler will sleep waiting
	// on a rate-limited account before giving up and returning RateLimit.
	MaxWaitBeforeErrorMs int `yaml:"max-wait-before-error-ms" json:"max-wait-before-error-ms"`

	// StickyIdleWindow is how long a sticky account pin survives without
	// use before it is treated as expired.
	StickyIdleWindow time.Duration `yaml:"sticky-idle-window" json:"sticky-idle-window"`

	// NonStreamTimeout and StreamTimeout bound a single upstream attempt.
	NonStreamTimeout time.Duration `yaml:"non-stream-timeout" json:"non-stream-timeout"`
	StreamTimeout    time.Duration `yaml:"stream-timeout" json:"stream-timeout"`
}

// DefaultSchedulerConfig returns the tunables named explicitly in spec.md.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxRetries:           5,
		MaxWaitBeforeErrorMs: 120_000,
		StickyIdleWindow:     10 * time.Minute,
		NonStreamTimeout:     60 * time.Second,
		StreamTimeout:        180 * time.Second,
	}
}

// Default returns a Config with every tunable set to the values spec.md
// names explicitly, ready to be overridden by LoadFile.
func Default() *Config {
	return &Config{
		Listen:       ":8080",
		AccountsFile: "accounts.json",
		Scheduler:    DefaultSchedulerConfig(),
	}
}

// LoadFile reads and parses a YAML config file, applying migrateLegacyKeys
// for renamed keys before unmarshalling, and filling in defaults for any
// zero-valued scheduler tunable.
func LoadFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	raw = migrateLegacyKeys(raw)

	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applySchedulerDefaults(cfg)
	return cfg, nil
}

// Save writes the configuration back to path as YAML.
func Save(cfg *Config, path string) error {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create dir %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

func applySchedulerDefaults(cfg *Config) {
	defaults := DefaultSchedulerConfig()
	if cfg.Scheduler.MaxRetries <= 0 {
		cfg.Scheduler.MaxRetries = defaults.MaxRetries
	}
	if cfg.Scheduler.MaxWaitBeforeErrorMs <= 0 {
		cfg.Scheduler.MaxWaitBeforeErrorMs = defaults.MaxWaitBeforeErrorMs
	}
	if cfg.Scheduler.StickyIdleWindow <= 0 {
		cfg.Scheduler.StickyIdleWindow = defaults.StickyIdleWindow
	}
	if cfg.Scheduler.NonStreamTimeout <= 0 {
		cfg.Scheduler.NonStreamTimeout = defaults.NonStreamTimeout
	}
	if cfg.Scheduler.StreamTimeout <= 0 {
		cfg.Scheduler.StreamTimeout = defaults.StreamTimeout
	}
}

// migrateLegacyKeys rewrites a handful of renamed top-level YAML keys found
// in older config files before they're unmarshalled, mirroring the model-
// alias migration shim the teacher used for its own renamed keys.
func migrateLegacyKeys(raw []byte) []byte {
	legacyToCurrent := map[string]string{
		"request_log:":   "request-log:",
		"api_keys:":      "api-keys:",
		"proxy_url:":     "proxy-url:",
		"accounts_file:": "accounts-file:",
	}
	lines := strings.Split(string(raw), "\n")
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		indent := line[:len(line)-len(trimmed)]
		for legacy, current := range legacyToCurrent {
			if strings.HasPrefix(trimmed, legacy) {
				lines[i] = indent + current + strings.TrimPrefix(trimmed, legacy)
				break
			}
		}
	}
	return []byte(strings.Join(lines, "\n"))
}
