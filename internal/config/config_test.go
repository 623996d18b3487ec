package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 5000, cfg.Server.Port)
	require.Equal(t, 60*time.Second, cfg.RequestTimeout())
	require.True(t, cfg.Logging.Development)
	require.Equal(t, DriverSQLite, cfg.Storage.Driver)
	require.Equal(t, "database.sqlite", cfg.Storage.SQLitePath)
	require.True(t, cfg.Storage.AutoMigrate)
	require.Equal(t, ProviderEmulator, cfg.Remote.Provider)
	require.Equal(t, "http://localhost:8000", cfg.Remote.BaseURL)
	require.Equal(t, "/users/{username}/repos", cfg.Remote.RepoListPath)
	require.Equal(t, "/repos/{username}/{repo_name}", cfg.Remote.RepoDetailPath)
	require.Equal(t, 15*time.Second, cfg.RemoteTimeout())
	require.Zero(t, cfg.Queue.MaxInFlight)
	require.Equal(t, 10*time.Second, cfg.DrainTimeout())
	require.Equal(t, 8000, cfg.Emulator.Port)
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  request_timeout_seconds: 5
logging:
  development: false
  level: warn
storage:
  driver: postgres
  auto_migrate: false
  postgres:
    dsn: postgres://localhost/codehub
    max_conns: 8
remote:
  provider: github
  github_token: ghp_test
  timeout_seconds: 3
queue:
  max_in_flight: 16
pubsub:
  project_id: demo
  topic_name: codehub-tasks
emulator:
  port: 8100
  list_delay_ms: 250
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.False(t, cfg.Logging.Development)
	require.Equal(t, "warn", cfg.Logging.Level)
	require.Equal(t, DriverPostgres, cfg.Storage.Driver)
	require.False(t, cfg.Storage.AutoMigrate)
	require.Equal(t, "postgres://localhost/codehub", cfg.Storage.Postgres.DSN)
	require.Equal(t, int32(8), cfg.Storage.Postgres.MaxConns)
	require.Equal(t, ProviderGitHub, cfg.Remote.Provider)
	require.Equal(t, "ghp_test", cfg.Remote.GitHubToken)
	require.Equal(t, 3*time.Second, cfg.RemoteTimeout())
	require.Equal(t, 16, cfg.Queue.MaxInFlight)
	require.Equal(t, "codehub-tasks", cfg.PubSub.TopicName)
	require.Equal(t, 8100, cfg.Emulator.Port)
	require.Equal(t, 250, cfg.Emulator.ListDelayMs)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CODEHUB_SERVER_PORT", "7070")
	t.Setenv("CODEHUB_STORAGE_DRIVER", "memory")
	t.Setenv("CODEHUB_REMOTE_BASE_URL", "http://emulator:8000")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, DriverMemory, cfg.Storage.Driver)
	require.Equal(t, "http://emulator:8000", cfg.Remote.BaseURL)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		return Config{
			Server:   ServerConfig{Port: 5000, RequestTimeoutSeconds: 60},
			Storage:  StorageConfig{Driver: DriverMemory},
			Remote:   RemoteConfig{Provider: ProviderEmulator, BaseURL: "http://localhost:8000", TimeoutSeconds: 15},
			Emulator: EmulatorConfig{Port: 8000},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mysql" }, "storage.driver"},
		{"postgres dsn", func(c *Config) { c.Storage.Driver = DriverPostgres }, "storage.postgres.dsn"},
		{"sqlite path", func(c *Config) { c.Storage.Driver = DriverSQLite }, "storage.sqlite_path"},
		{"unknown provider", func(c *Config) { c.Remote.Provider = "gitlab" }, "remote.provider"},
		{"github token", func(c *Config) { c.Remote.Provider = ProviderGitHub }, "remote.github_token"},
		{"rate limit", func(c *Config) { c.Remote.RateLimitRPS = -1 }, "remote.rate_limit_rps"},
		{"max in flight", func(c *Config) { c.Queue.MaxInFlight = -1 }, "queue.max_in_flight"},
		{"topic without project", func(c *Config) { c.PubSub.TopicName = "t" }, "pubsub.project_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tt.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
