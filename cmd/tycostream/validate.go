package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tycostream/tycostream/pkg/config"
	"github.com/tycostream/tycostream/pkg/schema"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and schema without connecting",
	Long: `Validate loads tycostream.yaml and schema.yaml from the config directory
and reports what the gateway would serve. It never touches the upstream,
so it is safe in CI and pre-deploy hooks.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Initialize(configDir)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		registry, err := schema.Load(config.SchemaPath(configDir))
		if err != nil {
			return fmt.Errorf("schema: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Configuration OK\n")
		fmt.Fprintf(out, "  upstream:    %s:%d/%s\n",
			cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)
		fmt.Fprintf(out, "  listen_addr: %s\n", cfg.Server.ListenAddr)
		fmt.Fprintf(out, "  buffer_size: %d\n", cfg.Runtime.BufferSize)

		fmt.Fprintf(out, "Schema OK: %d source(s)\n", registry.Len())
		for _, src := range registry.All() {
			fmt.Fprintf(out, "  %s (pk: %s): %s\n",
				src.Name, src.PrimaryKey, strings.Join(src.ColumnNames(), ", "))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
