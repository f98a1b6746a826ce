// ABOUTME: Configuration loading and defaults for hikmaai-sentinel
// ABOUTME: Handles TOML config files, environment overrides and validation

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/hikmaai-io/hikmaai-sentinel/internal/history"
	"github.com/hikmaai-io/hikmaai-sentinel/internal/poller"
)

// Environment variables that override file values.
const (
	EnvAPIKey    = "SENTINEL_API_KEY"
	EnvBaseURL   = "SENTINEL_BASE_URL"
	EnvNATSURL   = "SENTINEL_NATS_URL"
	EnvRedisAddr = "SENTINEL_REDIS_ADDR"
)

// Config holds the complete configuration for hikmaai-sentinel.
type Config struct {
	// Data directory for the Badger and SQLite history stores.
	DataDir string `toml:"data_dir"`

	// Remote analysis service.
	Remote RemoteConfig `toml:"remote"`

	// Polling policy.
	Poll PollConfig `toml:"poll"`

	// Scan history.
	History HistoryConfig `toml:"history"`

	// GCS staging for gs:// file targets.
	GCS GCSConfig `toml:"gcs"`

	// NATS configuration.
	NATS NATSConfig `toml:"nats"`

	// HTTP server configuration.
	HTTP HTTPConfig `toml:"http"`

	// Logging configuration.
	Log LogConfig `toml:"log"`

	// Tracing configuration.
	Tracing TracingConfig `toml:"tracing"`
}

// RemoteConfig holds analysis service settings.
type RemoteConfig struct {
	BaseURL           string        `toml:"base_url"`
	APIKey            string        `toml:"api_key"`
	Timeout           time.Duration `toml:"timeout"`
	// RequestsPerMinute of zero disables limiting. Validate rejects limits
	// that push the last poll attempt past the poll timeout.
	RequestsPerMinute int           `toml:"requests_per_minute"`

	// Circuit breaker around the remote API.
	BreakerMaxFailures  int           `toml:"breaker_max_failures"`
	BreakerResetTimeout time.Duration `toml:"breaker_reset_timeout"`
}

// PollConfig mirrors poller.Policy.
type PollConfig struct {
	MaxAttempts                int           `toml:"max_attempts"`
	Interval                   time.Duration `toml:"interval"`
	Timeout                    time.Duration `toml:"timeout"`
	CompletionThresholdPercent int           `toml:"completion_threshold_percent"`
	Multiplier                 float64       `toml:"multiplier"`
	MaxInterval                time.Duration `toml:"max_interval"`
	JitterFraction             float64       `toml:"jitter_fraction"`
}

// HistoryConfig selects the history backend.
type HistoryConfig struct {
	// Backend: badger, redis, sqlite, memory, or "none" to disable.
	Backend string `toml:"backend"`

	// Path overrides the backend's location under DataDir.
	Path string `toml:"path"`

	ExpectedTargets uint `toml:"expected_targets"`

	Redis RedisConfig `toml:"redis"`
}

// RedisConfig holds Redis history settings.
type RedisConfig struct {
	Addr        string `toml:"addr"`
	Password    string `toml:"password"`
	DB          int    `toml:"db"`
	Prefix      string `toml:"prefix"`
	MaxOutcomes int64  `toml:"max_outcomes"`
}

// GCSConfig holds object staging settings.
type GCSConfig struct {
	Enabled         bool     `toml:"enabled"`
	AllowedBuckets  []string `toml:"allowed_buckets"`
	CredentialsFile string   `toml:"credentials_file"`
	DownloadDir     string   `toml:"download_dir"`
	MaxObjectSize   int64    `toml:"max_object_size"`
	EmulatorHost    string   `toml:"emulator_host"`
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL            string        `toml:"url"`
	Subject        string        `toml:"subject"`
	OutcomeSubject string        `toml:"outcome_subject"`
	Queue          string        `toml:"queue"`
	RequestTimeout time.Duration `toml:"request_timeout"`
	MaxConcurrent  int           `toml:"max_concurrent"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Addr           string   `toml:"addr"`
	UploadDir      string   `toml:"upload_dir"`
	MaxUploadSize  int64    `toml:"max_upload_size"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// TracingConfig holds tracing settings.
type TracingConfig struct {
	Enabled       bool    `toml:"enabled"`
	Endpoint      string  `toml:"endpoint"`
	Insecure      bool    `toml:"insecure"`
	SamplingRatio float64 `toml:"sampling_ratio"`
}

// DefaultConfig returns a Config with default values.
// All external dependencies (NATS, Redis, GCS, tracing) are disabled by
// default for standalone single-binary operation.
func DefaultConfig() *Config {
	policy := poller.DefaultPolicy()
	return &Config{
		DataDir: DefaultDataDir(),
		Remote: RemoteConfig{
			BaseURL:             "https://www.virustotal.com/api/v3",
			Timeout:             60 * time.Second,
			BreakerMaxFailures:  5,
			BreakerResetTimeout: 30 * time.Second,
		},
		Poll: PollConfig{
			MaxAttempts:                policy.MaxAttempts,
			Interval:                   policy.Interval,
			Timeout:                    policy.Timeout,
			CompletionThresholdPercent: policy.CompletionThresholdPercent,
		},
		History: HistoryConfig{
			Backend:         history.BackendBadger,
			ExpectedTargets: 100_000,
			Redis: RedisConfig{
				Prefix: "sentinel:",
			},
		},
		NATS: NATSConfig{
			// Disabled by default; set URL to enable
			URL:            "",
			Subject:        "hikmaai.sentinel.scan",
			OutcomeSubject: "hikmaai.sentinel.outcomes",
			Queue:          "sentinel-workers",
			RequestTimeout: 3 * time.Minute,
			MaxConcurrent:  8,
		},
		HTTP: HTTPConfig{
			// Disabled by default; set Addr to enable (e.g., ":8080")
			Addr:          "",
			MaxUploadSize: 32 << 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: TracingConfig{
			Endpoint:      "localhost:4317",
			Insecure:      true,
			SamplingRatio: 1.0,
		},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// A missing file at the default path is not an error; an explicit path
// must exist. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}

	md, err := toml.DecodeFile(path, cfg)
	switch {
	case err == nil:
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}

	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

// ApplyEnv overrides values from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvAPIKey); v != "" {
		c.Remote.APIKey = v
	}
	if v := getenv(EnvBaseURL); v != "" {
		c.Remote.BaseURL = v
	}
	if v := getenv(EnvNATSURL); v != "" {
		c.NATS.URL = v
	}
	if v := getenv(EnvRedisAddr); v != "" {
		c.History.Redis.Addr = v
	}
}

// Validate checks that the configuration is usable. The API key is checked
// separately by commands that talk to the remote service.
func (c *Config) Validate() error {
	var errs []error

	if c.Remote.BaseURL == "" {
		errs = append(errs, errors.New("remote.base_url is required"))
	}
	if c.Remote.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("remote.requests_per_minute must not be negative"))
	}
	if err := c.PollPolicy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("poll: %w", err))
	} else if err := c.checkRateBudget(); err != nil {
		errs = append(errs, err)
	}

	backends := []string{history.BackendBadger, history.BackendRedis, history.BackendSQLite, history.BackendMemory, BackendNone}
	if !slices.Contains(backends, c.History.Backend) {
		errs = append(errs, fmt.Errorf("history.backend %q must be one of %s", c.History.Backend, strings.Join(backends, ", ")))
	}
	if c.History.Backend == history.BackendRedis && c.History.Redis.Addr == "" {
		errs = append(errs, fmt.Errorf("history.redis.addr is required for the redis backend (or set %s)", EnvRedisAddr))
	}

	if c.NATS.URL != "" && c.NATS.Subject == "" {
		errs = append(errs, errors.New("nats.subject is required when nats.url is set"))
	}
	if c.Tracing.SamplingRatio < 0 || c.Tracing.SamplingRatio > 1 {
		errs = append(errs, errors.New("tracing.sampling_ratio must be between 0 and 1"))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or text", c.Log.Format))
	}

	return errors.Join(errs...)
}

// checkRateBudget rejects limits under which the poll attempt budget can
// never be spent before the wall-clock timeout.
func (c *Config) checkRateBudget() error {
	rpm := c.Remote.RequestsPerMinute
	if rpm <= 0 {
		return nil
	}
	policy := c.PollPolicy()
	last := policy.LimitedFinalQuery(time.Minute/time.Duration(rpm), rpm)
	if last >= policy.Timeout {
		return fmt.Errorf("remote.requests_per_minute %d delays status query %d to %s, past poll.timeout %s",
			rpm, policy.MaxAttempts, last, policy.Timeout)
	}
	return nil
}

// RequireAPIKey reports a missing API key with a hint about the environment.
func (c *Config) RequireAPIKey() error {
	if c.Remote.APIKey == "" {
		return fmt.Errorf("remote.api_key is required (or set %s)", EnvAPIKey)
	}
	return nil
}

// BackendNone disables history.
const BackendNone = "none"

// PollPolicy converts the poll section.
func (c *Config) PollPolicy() poller.Policy {
	return poller.Policy{
		MaxAttempts:                c.Poll.MaxAttempts,
		Interval:                   c.Poll.Interval,
		Timeout:                    c.Poll.Timeout,
		CompletionThresholdPercent: c.Poll.CompletionThresholdPercent,
		Multiplier:                 c.Poll.Multiplier,
		MaxInterval:                c.Poll.MaxInterval,
		JitterFraction:             c.Poll.JitterFraction,
	}
}

// HistoryEnabled reports whether outcomes are persisted.
func (c *Config) HistoryEnabled() bool {
	return c.History.Backend != BackendNone
}

// HistoryStore converts the history section, resolving paths under DataDir.
func (c *Config) HistoryStore() history.Config {
	path := c.History.Path
	if path == "" {
		switch c.History.Backend {
		case history.BackendBadger:
			path = filepath.Join(c.DataDir, "history")
		case history.BackendSQLite:
			path = filepath.Join(c.DataDir, "history.db")
		}
	}
	return history.Config{
		Backend:         c.History.Backend,
		Path:            path,
		ExpectedTargets: c.History.ExpectedTargets,
		Redis: history.RedisConfig{
			Addr:        c.History.Redis.Addr,
			Password:    c.History.Redis.Password,
			DB:          c.History.Redis.DB,
			Prefix:      c.History.Redis.Prefix,
			MaxOutcomes: c.History.Redis.MaxOutcomes,
		},
	}
}

// DefaultDataDir returns the default data directory.
func DefaultDataDir() string {
	// Try XDG_DATA_HOME first.
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "hikmaai-sentinel")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "/var/lib/hikmaai-sentinel"
	}
	return filepath.Join(home, ".local", "share", "hikmaai-sentinel")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "hikmaai-sentinel", "config.toml")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "/etc/hikmaai-sentinel/config.toml"
	}
	return filepath.Join(home, ".config", "hikmaai-sentinel", "config.toml")
}
