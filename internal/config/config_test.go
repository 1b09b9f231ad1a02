package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
api:
  base_url: https://research.example.com
  timeout_seconds: 45
  progress_path: /v2/tasks/{taskId}/events
  poll_on_error: false
logging:
  development: false
  level: warn
progress:
  buffer_size: 16
  batch:
    max_events: 4
    max_wait_ms: 5
mock:
  port: 9090
  item_delay_ms: 10
  total_items: 5
  failing_items: ["session-002", "session-004"]
  workers: 3
  queue_depth: 8
  heartbeat_seconds: 2
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "https://research.example.com", cfg.API.BaseURL)
	require.Equal(t, 45*time.Second, cfg.APITimeout())
	require.Equal(t, "/v2/tasks/{taskId}/events", cfg.API.ProgressPath)
	require.False(t, cfg.API.PollOnError)
	require.False(t, cfg.Logging.Development)
	require.Equal(t, "warn", cfg.Logging.Level)
	require.Equal(t, 16, cfg.Progress.BufferSize)
	require.Equal(t, 5*time.Millisecond, cfg.Progress.Batch.MaxWait())
	require.Equal(t, ":9090", cfg.Mock.Addr())
	require.Equal(t, 10*time.Millisecond, cfg.Mock.ItemDelay())
	require.Equal(t, []string{"session-002", "session-004"}, cfg.Mock.FailingItems)
	require.Equal(t, 3, cfg.Mock.Workers)
	require.Equal(t, 2*time.Second, cfg.Mock.Heartbeat())
}

func TestLoadDefaultsAndEnvOverrides(t *testing.T) {
	t.Setenv("RESEARCH_ADMIN_API_BASE_URL", "http://127.0.0.1:9999")
	t.Setenv("RESEARCH_ADMIN_MOCK_WORKERS", "7")

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "http://127.0.0.1:9999", cfg.API.BaseURL)
	require.Equal(t, 7, cfg.Mock.Workers)
	require.Equal(t, 30*time.Second, cfg.APITimeout())
	require.Equal(t, "/api/admin/tasks/{taskId}/progress", cfg.API.ProgressPath)
	require.True(t, cfg.API.PollOnError)
	require.Equal(t, 8080, cfg.Mock.Port)
	require.Equal(t, 20, cfg.Mock.TotalItems)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	valid := Config{
		API:      APIConfig{BaseURL: "http://localhost:8080", TimeoutSeconds: 5, ProgressPath: "/t/{taskId}"},
		Progress: ProgressConfig{BufferSize: 1},
		Mock:     MockConfig{Port: 8080, TotalItems: 1, Workers: 1, HeartbeatSeconds: 1},
	}
	require.NoError(t, valid.Validate())

	cases := map[string]func(*Config){
		"api.base_url is required": func(c *Config) { c.API.BaseURL = "" },
		"absolute URL":             func(c *Config) { c.API.BaseURL = "/relative" },
		"api.timeout_seconds":      func(c *Config) { c.API.TimeoutSeconds = 0 },
		"{taskId} placeholder":     func(c *Config) { c.API.ProgressPath = "/tasks/progress" },
		"progress.buffer_size":     func(c *Config) { c.Progress.BufferSize = 0 },
		"mock.port":                func(c *Config) { c.Mock.Port = 70000 },
		"mock.item_delay_ms":       func(c *Config) { c.Mock.ItemDelayMs = -1 },
		"mock.total_items":         func(c *Config) { c.Mock.TotalItems = 0 },
		"mock.workers":             func(c *Config) { c.Mock.Workers = 0 },
		"mock.heartbeat_seconds":   func(c *Config) { c.Mock.HeartbeatSeconds = 0 },
		"mock.write_rps":           func(c *Config) { c.Mock.WriteRPS = -1 },
	}
	for want, mutate := range cases {
		cfg := valid
		mutate(&cfg)
		require.ErrorContains(t, cfg.Validate(), want)
	}
}
