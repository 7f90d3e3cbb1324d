package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jpalmerr/postrelay/config"
	"github.com/jpalmerr/postrelay/internal/source"
)

// sourcesCmd groups the commands editing the source list in the config file.
var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage configured sources",
	Long: `List, add, remove and edit the sources in the config file.

Changes are saved immediately and picked up by a running relay on the
source's next tick.`,
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured sources",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openRegistry(cmd)
		if err != nil {
			return err
		}
		cfg, err := reg.Config()
		if err != nil {
			return err
		}
		if len(cfg.Sources) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No sources configured.")
			return nil
		}

		t := table.NewWriter()
		t.SetOutputMirror(cmd.OutOrStdout())
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"Name", "Kind", "Interval", "Enabled", "Webhook", "Last checked"})
		for _, sc := range cfg.Sources {
			webhook := "missing"
			if sc.WebhookURL != "" {
				webhook = "set"
			}
			checked := "never"
			if !sc.LastChecked.IsZero() {
				checked = sc.LastChecked.Format(time.RFC3339)
			}
			t.AppendRow(table.Row{
				sc.Name,
				sc.EffectiveKind(),
				formatMinutes(float64(sc.Interval)),
				sc.IsEnabled(),
				webhook,
				checked,
			})
		}
		t.Render()
		return nil
	},
}

var sourcesAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Add a subreddit or feed",
	Long: `Add a source. NAME is the subreddit name without the r/ prefix, or any
label for a feed source.

Example:
  postrelay sources add golang --interval 5 --webhook https://discord.com/api/webhooks/...
  postrelay sources add goblog --kind feed --url https://go.dev/blog/feed.atom --interval 60`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openRegistry(cmd)
		if err != nil {
			return err
		}
		interval, _ := cmd.Flags().GetFloat64("interval")
		webhook, _ := cmd.Flags().GetString("webhook")
		kind, _ := cmd.Flags().GetString("kind")
		feedURL, _ := cmd.Flags().GetString("url")
		disabled, _ := cmd.Flags().GetBool("disabled")

		sc := config.SourceConfig{
			Name:       args[0],
			Kind:       source.Kind(kind),
			URL:        feedURL,
			Interval:   config.Minutes(interval),
			WebhookURL: webhook,
		}
		if disabled {
			enabled := false
			sc.Enabled = &enabled
		}
		if err := reg.Add(sc); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added %s (every %s)\n", args[0], formatMinutes(interval))
		return nil
	},
}

var sourcesRemoveCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Remove a source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openRegistry(cmd)
		if err != nil {
			return err
		}
		if err := reg.Remove(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
		return nil
	},
}

var sourcesSetIntervalCmd = &cobra.Command{
	Use:   "set-interval NAME MINUTES",
	Short: "Change how often a source is polled",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		minutes, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid interval %q: %w", args[1], err)
		}
		reg, err := openRegistry(cmd)
		if err != nil {
			return err
		}
		if err := reg.SetInterval(args[0], minutes); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s now polled every %s\n", args[0], formatMinutes(minutes))
		return nil
	},
}

var sourcesSetWebhookCmd = &cobra.Command{
	Use:   "set-webhook NAME URL",
	Short: "Change where a source's posts are delivered",
	Long: `Change the Discord webhook of a source. URL may be a ${VAR} reference
resolved from the environment at startup. An empty URL unconfigures the
source, which then stops being polled.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openRegistry(cmd)
		if err != nil {
			return err
		}
		if err := reg.SetWebhook(args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Webhook updated for %s\n", args[0])
		return nil
	},
}

var sourcesEnableCmd = &cobra.Command{
	Use:   "enable NAME",
	Short: "Resume polling a source",
	Args:  cobra.ExactArgs(1),
	RunE:  setEnabled(true),
}

var sourcesDisableCmd = &cobra.Command{
	Use:   "disable NAME",
	Short: "Stop polling a source without removing it",
	Args:  cobra.ExactArgs(1),
	RunE:  setEnabled(false),
}

func setEnabled(enabled bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		reg, err := openRegistry(cmd)
		if err != nil {
			return err
		}
		if err := reg.SetEnabled(args[0], enabled); err != nil {
			return err
		}
		state := "disabled"
		if enabled {
			state = "enabled"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", args[0], state)
		return nil
	}
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
	sourcesCmd.AddCommand(
		sourcesListCmd,
		sourcesAddCmd,
		sourcesRemoveCmd,
		sourcesSetIntervalCmd,
		sourcesSetWebhookCmd,
		sourcesEnableCmd,
		sourcesDisableCmd,
	)

	sourcesAddCmd.Flags().Float64("interval", 5, "polling interval in minutes")
	sourcesAddCmd.Flags().String("webhook", "", "Discord webhook URL")
	sourcesAddCmd.Flags().String("kind", string(source.KindReddit), "source kind: reddit or feed")
	sourcesAddCmd.Flags().String("url", "", "feed document URL (kind feed only)")
	sourcesAddCmd.Flags().Bool("disabled", false, "add the source without polling it")
}

// openRegistry opens the config file named by the flags or environment.
func openRegistry(cmd *cobra.Command) (*config.FileRegistry, error) {
	path, err := configPath(cmd)
	if err != nil {
		return nil, err
	}
	return config.OpenRegistry(path)
}

// formatMinutes renders an interval in minutes, e.g. "5m" or "1.5m".
func formatMinutes(m float64) string {
	return strconv.FormatFloat(m, 'f', -1, 64) + "m"
}
