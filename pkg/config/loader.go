package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// AppConfigFile is the application config file name inside the config dir.
const AppConfigFile = "tycostream.yaml"

// SchemaFile is the source schema file name inside the config dir.
const SchemaFile = "schema.yaml"

// Initialize loads, merges, and validates the application configuration
// from configDir. A missing tycostream.yaml is not an error; the defaults
// plus environment fallbacks must be enough to run against a local upstream.
func Initialize(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)

	cfg := defaultConfig()

	path := filepath.Join(configDir, AppConfigFile)
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		log.Info("No application config file, using defaults", "path", path)
	case err != nil:
		return nil, NewLoadError(AppConfigFile, err)
	default:
		user := &Config{}
		// Environment variables expand before parse via {{.VAR}} templates.
		if err := yaml.Unmarshal(ExpandEnv(data), user); err != nil {
			return nil, NewLoadError(AppConfigFile, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
		}
		// User-set fields override defaults; unset fields keep them.
		if err := mergo.Merge(cfg, user, mergo.WithOverride); err != nil {
			return nil, NewLoadError(AppConfigFile, err)
		}
	}

	applyEnvFallbacks(&cfg.Database)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	log.Info("Configuration initialized",
		"listen_addr", cfg.Server.ListenAddr,
		"database_host", cfg.Database.Host,
		"buffer_size", cfg.Runtime.BufferSize)
	return cfg, nil
}

// SchemaPath returns the schema file location for a config dir.
func SchemaPath(configDir string) string {
	return filepath.Join(configDir, SchemaFile)
}

// applyEnvFallbacks fills database settings from TYCO_DB_* variables when
// the YAML (or defaults) left them at their zero value — except Password,
// where the environment always wins so secrets can stay out of files.
func applyEnvFallbacks(db *DatabaseConfig) {
	if v := os.Getenv("TYCO_DB_HOST"); v != "" && db.Host == "localhost" {
		db.Host = v
	}
	if v := os.Getenv("TYCO_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && db.Port == 6875 {
			db.Port = port
		} else if err != nil {
			slog.Warn("Ignoring invalid TYCO_DB_PORT", "value", v)
		}
	}
	if v := os.Getenv("TYCO_DB_USER"); v != "" && db.User == "materialize" {
		db.User = v
	}
	if v := os.Getenv("TYCO_DB_NAME"); v != "" && db.Database == "materialize" {
		db.Database = v
	}
	if v := os.Getenv("TYCO_DB_PASSWORD"); v != "" {
		db.Password = v
	}
	if v := os.Getenv("TYCO_DB_SSLMODE"); v != "" && db.SSLMode == "disable" {
		db.SSLMode = v
	}
}
