// Package main is the entry point for the postrelay CLI.
//
// postrelay can be used as a library (SDK) or run as a standalone binary
// driven by a YAML file. This CLI is the standalone binary.
//
// Usage:
//
//	postrelay serve -c config.yaml              # Poll sources and relay to Discord
//	postrelay validate -c config.yaml           # Validate configuration
//	postrelay sources list                      # Show configured sources
//	postrelay sources add golang --webhook URL  # Add a subreddit
//	postrelay usage show                        # Network usage totals
//	postrelay env                               # Credential presence
//	postrelay version                           # Show version info
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigPath = "config/config.yaml"

// cliEnv holds the settings the CLI reads from the environment.
type cliEnv struct {
	ConfigPath string `env:"POSTRELAY_CONFIG, default=config/config.yaml"`
}

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "postrelay",
	Short: "Relay new Reddit and feed posts to Discord",
	Long: `postrelay polls subreddits and RSS/Atom feeds on a per-source interval
and posts every new item to the source's Discord webhook.

Quick start:
  1. postrelay sources add golang --interval 5 --webhook https://discord.com/api/webhooks/...
  2. Put REDDIT_CLIENT_ID and REDDIT_CLIENT_SECRET in .env
  3. postrelay serve

The configuration file defaults to config/config.yaml and is created on
first use. Override it with -c or POSTRELAY_CONFIG.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// a missing .env is fine; the environment may already be set
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("loading .env: %w", err)
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "postrelay %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to config file (default $POSTRELAY_CONFIG or "+defaultConfigPath+")")
	rootCmd.AddCommand(versionCmd)
}

// configPath returns the --config flag, falling back to POSTRELAY_CONFIG and
// then to the default location.
func configPath(cmd *cobra.Command) (string, error) {
	if p, _ := cmd.Flags().GetString("config"); p != "" {
		return p, nil
	}
	var env cliEnv
	if err := envconfig.Process(commandContext(cmd), &env); err != nil {
		return "", fmt.Errorf("reading environment: %w", err)
	}
	return env.ConfigPath, nil
}

// commandContext returns the command's context, or Background when run
// without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
