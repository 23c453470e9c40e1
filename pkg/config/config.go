// Package config loads and validates the gateway's configuration: the
// tycostream.yaml application settings and the path plumbing for the schema
// file that pkg/schema loads. YAML supports {{.ENV_VAR}} template expansion;
// user values are merged over built-in defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Config is the fully resolved application configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
	Webhooks WebhookConfig  `yaml:"webhooks"`
}

// DatabaseConfig holds the upstream connection settings. Every field falls
// back to a TYCO_DB_* environment variable so deployments can keep
// credentials out of YAML.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN renders the connection string for pgx.
func (c DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Database,
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	} else {
		u.User = url.User(c.User)
	}
	q := url.Values{}
	q.Set("sslmode", c.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// ServerConfig holds the HTTP/WebSocket listener settings.
type ServerConfig struct {
	// ListenAddr is the host:port the API server binds.
	ListenAddr string `yaml:"listen_addr"`

	// WriteTimeout bounds one WebSocket frame write.
	WriteTimeout Duration `yaml:"write_timeout"`

	// AllowedOrigins lists origin patterns accepted for WebSocket
	// upgrades. Empty allows same-host browsers only.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// RuntimeConfig tunes the streaming core.
type RuntimeConfig struct {
	// BufferSize bounds each subscriber's live queue. A subscriber whose
	// queue fills is dropped, never an event.
	BufferSize int `yaml:"buffer_size"`

	// FetchTimeout is the server-side wait of one upstream FETCH.
	FetchTimeout Duration `yaml:"fetch_timeout"`

	// IdleTimeout forces an upstream reconnect after this much silence.
	IdleTimeout Duration `yaml:"idle_timeout"`

	// ReconnectMinBackoff and ReconnectMaxBackoff bound the upstream
	// reconnect ladder.
	ReconnectMinBackoff Duration `yaml:"reconnect_min_backoff"`
	ReconnectMaxBackoff Duration `yaml:"reconnect_max_backoff"`

	// ShutdownGrace bounds orderly shutdown: subscriber teardown and
	// pending webhook deliveries share it.
	ShutdownGrace Duration `yaml:"shutdown_grace"`
}

// WebhookConfig tunes trigger delivery.
type WebhookConfig struct {
	RequestTimeout Duration `yaml:"request_timeout"`
	MaxAttempts    int      `yaml:"max_attempts"`
	MinBackoff     Duration `yaml:"min_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff"`
	QueueSize      int      `yaml:"queue_size"`
}

// defaultConfig returns the built-in defaults; user YAML merges over it.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     6875,
			User:     "materialize",
			Database: "materialize",
			SSLMode:  "disable",
		},
		Server: ServerConfig{
			ListenAddr:   ":8080",
			WriteTimeout: Duration(10 * time.Second),
		},
		Runtime: RuntimeConfig{
			BufferSize:          1024,
			FetchTimeout:        Duration(time.Second),
			IdleTimeout:         Duration(30 * time.Second),
			ReconnectMinBackoff: Duration(time.Second),
			ReconnectMaxBackoff: Duration(30 * time.Second),
			ShutdownGrace:       Duration(10 * time.Second),
		},
		Webhooks: WebhookConfig{
			RequestTimeout: Duration(10 * time.Second),
			MaxAttempts:    3,
			MinBackoff:     Duration(500 * time.Millisecond),
			MaxBackoff:     Duration(10 * time.Second),
			QueueSize:      256,
		},
	}
}

// validate rejects configurations that cannot run.
func (c *Config) validate() error {
	var errs []error
	check := func(ok bool, field, reason string) {
		if !ok {
			errs = append(errs, NewValidationError(field, reason))
		}
	}

	check(c.Database.Host != "", "database.host", "is required")
	check(c.Database.Port > 0 && c.Database.Port < 65536, "database.port", "must be 1-65535")
	check(c.Database.User != "", "database.user", "is required")
	check(c.Database.Database != "", "database.dbname", "is required")

	check(c.Server.ListenAddr != "", "server.listen_addr", "is required")
	check(c.Server.WriteTimeout > 0, "server.write_timeout", "must be positive")

	check(c.Runtime.BufferSize > 0, "runtime.buffer_size", "must be positive")
	check(c.Runtime.FetchTimeout > 0, "runtime.fetch_timeout", "must be positive")
	check(c.Runtime.IdleTimeout > c.Runtime.FetchTimeout,
		"runtime.idle_timeout", "must exceed fetch_timeout")
	check(c.Runtime.ReconnectMinBackoff > 0, "runtime.reconnect_min_backoff", "must be positive")
	check(c.Runtime.ReconnectMaxBackoff >= c.Runtime.ReconnectMinBackoff,
		"runtime.reconnect_max_backoff", "must be at least reconnect_min_backoff")
	check(c.Runtime.ShutdownGrace > 0, "runtime.shutdown_grace", "must be positive")

	check(c.Webhooks.RequestTimeout > 0, "webhooks.request_timeout", "must be positive")
	check(c.Webhooks.MaxAttempts > 0, "webhooks.max_attempts", "must be positive")
	check(c.Webhooks.MinBackoff > 0, "webhooks.min_backoff", "must be positive")
	check(c.Webhooks.MaxBackoff >= c.Webhooks.MinBackoff,
		"webhooks.max_backoff", "must be at least min_backoff")
	check(c.Webhooks.QueueSize > 0, "webhooks.queue_size", "must be positive")

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrValidationFailed, errors.Join(errs...))
	}
	return nil
}
