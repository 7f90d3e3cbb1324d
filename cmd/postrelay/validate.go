package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/postrelay/config"
)

// validateCmd validates a config file without polling.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a postrelay configuration file without polling anything.

This command parses the YAML, expands environment variables, and validates
all fields. Unlike serve it never creates a missing file, so it is useful
for CI/CD pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  postrelay validate -c config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	path, err := configPath(cmd)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	active := 0
	for _, src := range config.BuildSources(cfg) {
		if src.Qualifies() {
			active++
		}
	}

	port := "disabled"
	if cfg.Settings.Port > 0 {
		port = fmt.Sprint(cfg.Settings.Port)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Notification delay: %s\n", cfg.Settings.Delay())
	fmt.Fprintf(out, "  Status server:      %s\n", port)
	fmt.Fprintf(out, "  Sources:            %d configured, %d active\n", len(cfg.Sources), active)
	return nil
}
