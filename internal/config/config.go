// Package config loads the admin console settings from an optional file, a
// .env file, and RESEARCH_ADMIN_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix scopes environment overrides, e.g. RESEARCH_ADMIN_API_BASE_URL.
const EnvPrefix = "RESEARCH_ADMIN"

// Config captures every tunable of the CLI and the mock backend.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Progress ProgressConfig `mapstructure:"progress"`
	Mock     MockConfig     `mapstructure:"mock"`
}

// APIConfig points the client at the research backend.
type APIConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	ProgressPath   string `mapstructure:"progress_path"`
	PollOnError    bool   `mapstructure:"poll_on_error"`
}

// LoggingConfig selects the logger flavour.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ProgressConfig tunes the progress hub used by the mock backend.
type ProgressConfig struct {
	BufferSize int                 `mapstructure:"buffer_size"`
	LogEnabled bool                `mapstructure:"log_enabled"`
	Batch      ProgressBatchConfig `mapstructure:"batch"`
}

// ProgressBatchConfig bounds hub batches.
type ProgressBatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// MockConfig drives the simulated backend.
type MockConfig struct {
	Port             int      `mapstructure:"port"`
	ItemDelayMs      int      `mapstructure:"item_delay_ms"`
	TotalItems       int      `mapstructure:"total_items"`
	FailingItems     []string `mapstructure:"failing_items"`
	Workers          int      `mapstructure:"workers"`
	QueueDepth       int      `mapstructure:"queue_depth"`
	HeartbeatSeconds int      `mapstructure:"heartbeat_seconds"`
	WriteRPS         float64  `mapstructure:"write_rps"`
	WriteBurst       int      `mapstructure:"write_burst"`
}

// Load reads configuration from the optional file at path. A .env file in
// the working directory, when present, seeds the environment first; variables
// already set win over it.
func Load(path string) (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://localhost:8080")
	v.SetDefault("api.timeout_seconds", 30)
	v.SetDefault("api.progress_path", "/api/admin/tasks/{taskId}/progress")
	v.SetDefault("api.poll_on_error", true)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.batch.max_events", 64)
	v.SetDefault("progress.batch.max_wait_ms", 20)
	v.SetDefault("mock.port", 8080)
	v.SetDefault("mock.item_delay_ms", 250)
	v.SetDefault("mock.total_items", 20)
	v.SetDefault("mock.failing_items", []string{})
	v.SetDefault("mock.workers", 2)
	v.SetDefault("mock.queue_depth", 16)
	v.SetDefault("mock.heartbeat_seconds", 15)
	v.SetDefault("mock.write_rps", 0)
	v.SetDefault("mock.write_burst", 5)
}

// Validate performs semantic validation on the loaded configuration.
func (c Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.base_url must be an absolute URL, got %q", c.API.BaseURL)
	}
	if c.API.TimeoutSeconds <= 0 {
		return errors.New("api.timeout_seconds must be > 0")
	}
	if !strings.Contains(c.API.ProgressPath, "{taskId}") {
		return errors.New("api.progress_path must contain the {taskId} placeholder")
	}
	if c.Progress.BufferSize <= 0 {
		return errors.New("progress.buffer_size must be > 0")
	}
	if c.Mock.Port <= 0 || c.Mock.Port > 65535 {
		return errors.New("mock.port must be between 1 and 65535")
	}
	if c.Mock.ItemDelayMs < 0 {
		return errors.New("mock.item_delay_ms must be >= 0")
	}
	if c.Mock.TotalItems <= 0 {
		return errors.New("mock.total_items must be > 0")
	}
	if c.Mock.Workers <= 0 {
		return errors.New("mock.workers must be > 0")
	}
	if c.Mock.HeartbeatSeconds <= 0 {
		return errors.New("mock.heartbeat_seconds must be > 0")
	}
	if c.Mock.WriteRPS < 0 {
		return errors.New("mock.write_rps must be >= 0")
	}
	return nil
}

// APITimeout is the per-request timeout of the task control client.
func (c Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// ItemDelay is the simulated time spent per item.
func (c MockConfig) ItemDelay() time.Duration {
	return time.Duration(c.ItemDelayMs) * time.Millisecond
}

// Heartbeat is the interval between SSE comment frames.
func (c MockConfig) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// Addr is the listen address of the mock backend.
func (c MockConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// MaxWait is the longest a snapshot waits in the hub before flushing.
func (c ProgressBatchConfig) MaxWait() time.Duration {
	return time.Duration(c.MaxWaitMs) * time.Millisecond
}
