package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/postrelay/config"
)

// envCmd reports where configuration comes from without printing secrets.
var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Show configuration location and credential presence",
	Long: `Show which config file is used and whether the Reddit credentials and
webhooks resolve to a value. Secret values are never printed.`,
	Args: cobra.NoArgs,
	RunE: runEnv,
}

func init() {
	rootCmd.AddCommand(envCmd)
}

func runEnv(cmd *cobra.Command, args []string) error {
	path, err := configPath(cmd)
	if err != nil {
		return err
	}
	reg, err := config.OpenRegistry(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg, err := reg.Config()
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(commandContext(cmd), nil); err != nil {
		return err
	}

	r := cfg.Settings.Reddit
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config file:   %s\n", reg.Path())
	fmt.Fprintf(out, "Client ID:     %s\n", presence(r.ClientID))
	fmt.Fprintf(out, "Client secret: %s\n", presence(r.ClientSecret))
	fmt.Fprintf(out, "User agent:    %s\n", r.UserAgent)
	fmt.Fprintf(out, "Username:      %s\n", presence(r.Username))
	fmt.Fprintf(out, "Reddit ready:  %t\n", r.Configured())

	configured := 0
	for _, sc := range cfg.Sources {
		if sc.WebhookURL != "" {
			configured++
		}
	}
	fmt.Fprintf(out, "Webhooks:      %d of %d sources\n", configured, len(cfg.Sources))
	return nil
}

func presence(s string) string {
	if s == "" {
		return "not set"
	}
	return "set"
}
