// ABOUTME: Tests for configuration defaults, TOML loading and environment overrides
// ABOUTME: Writes config files into temp directories

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hikmaai-io/hikmaai-sentinel/internal/history"
	"github.com/hikmaai-io/hikmaai-sentinel/internal/poller"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	if cfg.NATS.URL != "" || cfg.HTTP.Addr != "" || cfg.Tracing.Enabled || cfg.GCS.Enabled {
		t.Error("external dependencies should be disabled by default")
	}
	if got := cfg.PollPolicy(); got != poller.DefaultPolicy() {
		t.Errorf("PollPolicy() = %+v, want %+v", got, poller.DefaultPolicy())
	}
	if cfg.History.Backend != history.BackendBadger {
		t.Errorf("History.Backend = %q", cfg.History.Backend)
	}
	if cfg.Remote.RequestsPerMinute != 0 {
		t.Errorf("Remote.RequestsPerMinute = %d, want unlimited", cfg.Remote.RequestsPerMinute)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if err := cfg.RequireAPIKey(); err == nil || !strings.Contains(err.Error(), EnvAPIKey) {
		t.Errorf("RequireAPIKey() = %v, want hint about %s", err, EnvAPIKey)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
data_dir = "/srv/sentinel"

[remote]
api_key = "file-key"
timeout = "30s"
requests_per_minute = 500

[poll]
max_attempts = 20
interval = "2s"
timeout = "1m30s"
completion_threshold_percent = 80
multiplier = 1.5
max_interval = "10s"

[history]
backend = "sqlite"

[nats]
url = "nats://nats:4222"

[http]
addr = ":8080"
allowed_origins = ["https://ui.example"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Remote.APIKey != "file-key" || cfg.Remote.Timeout != 30*time.Second || cfg.Remote.RequestsPerMinute != 500 {
		t.Errorf("Remote = %+v", cfg.Remote)
	}
	want := poller.Policy{
		MaxAttempts:                20,
		Interval:                   2 * time.Second,
		Timeout:                    90 * time.Second,
		CompletionThresholdPercent: 80,
		Multiplier:                 1.5,
		MaxInterval:                10 * time.Second,
	}
	if got := cfg.PollPolicy(); got != want {
		t.Errorf("PollPolicy() = %+v, want %+v", got, want)
	}
	if cfg.NATS.Subject != "hikmaai.sentinel.scan" {
		t.Errorf("unset NATS.Subject should keep default, got %q", cfg.NATS.Subject)
	}
	if got := cfg.HistoryStore(); got.Backend != history.BackendSQLite || got.Path != "/srv/sentinel/history.db" {
		t.Errorf("HistoryStore() = %+v", got)
	}
	if len(cfg.HTTP.AllowedOrigins) != 1 {
		t.Errorf("AllowedOrigins = %v", cfg.HTTP.AllowedOrigins)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{
			name: "explicit path missing",
			path: func(t *testing.T) string { return filepath.Join(t.TempDir(), "absent.toml") },
		},
		{
			name: "unknown key",
			path: func(t *testing.T) string { return writeConfig(t, "[remote]\napi_kee = \"typo\"\n") },
		},
		{
			name: "malformed",
			path: func(t *testing.T) string { return writeConfig(t, "[remote\n") },
		},
		{
			name: "bad duration",
			path: func(t *testing.T) string { return writeConfig(t, "[poll]\ninterval = \"soon\"\n") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, err := Load(tt.path(t)); err == nil {
				t.Error("Load() expected error")
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		EnvAPIKey:    "env-key",
		EnvBaseURL:   "http://localhost:9000/api/v3",
		EnvNATSURL:   "nats://env:4222",
		EnvRedisAddr: "redis:6379",
	}

	cfg := DefaultConfig()
	cfg.Remote.APIKey = "file-key"
	cfg.ApplyEnv(func(k string) string { return env[k] })

	if cfg.Remote.APIKey != "env-key" || cfg.Remote.BaseURL != env[EnvBaseURL] {
		t.Errorf("Remote = %+v", cfg.Remote)
	}
	if cfg.NATS.URL != env[EnvNATSURL] || cfg.History.Redis.Addr != env[EnvRedisAddr] {
		t.Errorf("NATS.URL = %q, Redis.Addr = %q", cfg.NATS.URL, cfg.History.Redis.Addr)
	}

	untouched := DefaultConfig()
	untouched.ApplyEnv(func(string) string { return "" })
	if untouched.Remote.BaseURL != DefaultConfig().Remote.BaseURL {
		t.Error("empty environment should not override")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "zero attempts", mutate: func(c *Config) { c.Poll.MaxAttempts = 0 }, wantErr: "poll"},
		{name: "threshold above 100", mutate: func(c *Config) { c.Poll.CompletionThresholdPercent = 101 }, wantErr: "poll"},
		{name: "unknown backend", mutate: func(c *Config) { c.History.Backend = "mongo" }, wantErr: "history.backend"},
		{name: "redis without addr", mutate: func(c *Config) { c.History.Backend = history.BackendRedis }, wantErr: "history.redis.addr"},
		{name: "empty base url", mutate: func(c *Config) { c.Remote.BaseURL = "" }, wantErr: "remote.base_url"},
		{name: "sampling ratio", mutate: func(c *Config) { c.Tracing.SamplingRatio = 2 }, wantErr: "sampling_ratio"},
		{name: "log format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: "log.format"},
		{name: "nats without subject", mutate: func(c *Config) { c.NATS.URL = "nats://x"; c.NATS.Subject = "" }, wantErr: "nats.subject"},
		{name: "rate limit starves polling", mutate: func(c *Config) { c.Remote.RequestsPerMinute = 4 }, wantErr: "remote.requests_per_minute 4"},
		{name: "rate limit just too low", mutate: func(c *Config) { c.Remote.RequestsPerMinute = 5 }, wantErr: "past poll.timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_RateLimitFitsPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		rpm    int
		mutate func(*Config)
	}{
		{name: "unlimited default"},
		{name: "six per minute", rpm: 6},
		{name: "generous limit", rpm: 60},
		{name: "slow limit with long timeout", rpm: 4, mutate: func(c *Config) { c.Poll.Timeout = 5 * time.Minute }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultConfig()
			cfg.Remote.RequestsPerMinute = tt.rpm
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			if err := cfg.Validate(); err != nil {
				t.Errorf("Validate() error = %v", err)
			}
		})
	}
}

func TestHistoryStore_Paths(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.DataDir = "/data"

	if got := cfg.HistoryStore().Path; got != "/data/history" {
		t.Errorf("badger path = %q", got)
	}

	cfg.History.Path = "/custom/db"
	if got := cfg.HistoryStore().Path; got != "/custom/db" {
		t.Errorf("explicit path = %q", got)
	}

	cfg.History.Backend = BackendNone
	if cfg.HistoryEnabled() {
		t.Error("HistoryEnabled() with backend none")
	}
}
