package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tycostream/tycostream/pkg/version"
)

var (
	configDir string
	logLevel  string
	logFormat string
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

var rootCmd = &cobra.Command{
	Use:     "tycostream",
	Short:   "Streaming gateway for Materialize views",
	Version: version.Full(),
	Long: `tycostream subscribes to Materialize views and serves them as live,
filterable row streams over WebSocket. Clients get a consistent snapshot
followed by the exact change stream; webhook triggers fire on filter
transitions.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()

		// Load .env from the config directory so TYCO_DB_* secrets can
		// live next to the YAML.
		envPath := filepath.Join(configDir, ".env")
		if err := godotenv.Load(envPath); err != nil {
			slog.Debug("No .env file, continuing with existing environment",
				"path", envPath)
		} else {
			slog.Info("Loaded environment", "path", envPath)
		}
		return nil
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&configDir, "config-dir",
		getEnv("CONFIG_DIR", "./config"),
		"Path to the directory holding tycostream.yaml and schema.yaml")
	f.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	f.StringVar(&logFormat, "log-format", "text", "Log format (text, json)")
}

func setupLogging() {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
