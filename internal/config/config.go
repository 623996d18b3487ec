// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Remote providers.
const (
	ProviderEmulator = "emulator"
	ProviderGitHub   = "github"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Remote   RemoteConfig   `mapstructure:"remote"`
	Queue    QueueConfig    `mapstructure:"queue"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Emulator EmulatorConfig `mapstructure:"emulator"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// StorageConfig selects and configures the task store.
type StorageConfig struct {
	Driver      string         `mapstructure:"driver"`
	SQLitePath  string         `mapstructure:"sqlite_path"`
	Postgres    PostgresConfig `mapstructure:"postgres"`
	AutoMigrate bool           `mapstructure:"auto_migrate"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// RemoteConfig selects the code-hosting source. RateLimitRPS caps requests
// per second per remote host; 0 disables it.
type RemoteConfig struct {
	Provider       string  `mapstructure:"provider"`
	BaseURL        string  `mapstructure:"base_url"`
	RepoListPath   string  `mapstructure:"repo_list_path"`
	RepoDetailPath string  `mapstructure:"repo_detail_path"`
	GitHubBaseURL  string  `mapstructure:"github_base_url"`
	GitHubToken    string  `mapstructure:"github_token"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// QueueConfig bounds the in-process work queue.
type QueueConfig struct {
	MaxInFlight         int `mapstructure:"max_in_flight"`
	DrainTimeoutSeconds int `mapstructure:"drain_timeout_seconds"`
}

// PubSubConfig holds metadata for task completion events.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// EmulatorConfig controls the bundled code-hosting emulator.
type EmulatorConfig struct {
	Port          int `mapstructure:"port"`
	ListDelayMs   int `mapstructure:"list_delay_ms"`
	DetailDelayMs int `mapstructure:"detail_delay_ms"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CODEHUB")
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

// Every key needs a default so AutomaticEnv can see it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.sqlite_path", "database.sqlite")
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.max_conns", 0)
	v.SetDefault("storage.auto_migrate", true)
	v.SetDefault("remote.provider", ProviderEmulator)
	v.SetDefault("remote.base_url", "http://localhost:8000")
	v.SetDefault("remote.repo_list_path", "/users/{username}/repos")
	v.SetDefault("remote.repo_detail_path", "/repos/{username}/{repo_name}")
	v.SetDefault("remote.github_base_url", "")
	v.SetDefault("remote.github_token", "")
	v.SetDefault("remote.timeout_seconds", 15)
	v.SetDefault("remote.rate_limit_rps", 0)
	v.SetDefault("remote.rate_limit_burst", 1)
	v.SetDefault("queue.max_in_flight", 0)
	v.SetDefault("queue.drain_timeout_seconds", 10)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("emulator.port", 8000)
	v.SetDefault("emulator.list_delay_ms", 0)
	v.SetDefault("emulator.detail_delay_ms", 0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("server.request_timeout_seconds must be > 0"))
	}
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite_path is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.Storage.Postgres.DSN == "" {
			errs = append(errs, errors.New("storage.postgres.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver))
	}
	switch c.Remote.Provider {
	case ProviderEmulator:
		if c.Remote.BaseURL == "" {
			errs = append(errs, errors.New("remote.base_url is required for the emulator provider"))
		}
	case ProviderGitHub:
		if c.Remote.GitHubToken == "" {
			errs = append(errs, errors.New("remote.github_token is required for the github provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("remote.provider %q is not supported", c.Remote.Provider))
	}
	if c.Remote.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("remote.timeout_seconds must be > 0"))
	}
	if c.Remote.RateLimitRPS < 0 {
		errs = append(errs, errors.New("remote.rate_limit_rps must be >= 0"))
	}
	if c.Queue.MaxInFlight < 0 {
		errs = append(errs, errors.New("queue.max_in_flight must be >= 0"))
	}
	if c.Queue.DrainTimeoutSeconds < 0 {
		errs = append(errs, errors.New("queue.drain_timeout_seconds must be >= 0"))
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		errs = append(errs, errors.New("pubsub.project_id must be set when pubsub.topic_name is set"))
	}
	if c.Emulator.Port <= 0 {
		errs = append(errs, errors.New("emulator.port must be > 0"))
	}
	return errors.Join(errs...)
}

// RequestTimeout is the per-request API budget.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// RemoteTimeout is the HTTP client timeout for remote calls.
func (c Config) RemoteTimeout() time.Duration {
	return time.Duration(c.Remote.TimeoutSeconds) * time.Second
}

// DrainTimeout bounds how long shutdown waits for in-flight units.
func (c Config) DrainTimeout() time.Duration {
	return time.Duration(c.Queue.DrainTimeoutSeconds) * time.Second
}
