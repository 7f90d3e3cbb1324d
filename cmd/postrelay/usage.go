package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/postrelay/config"
	"github.com/jpalmerr/postrelay/usage"
)

// usageCmd groups the network usage commands.
var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show or reset network usage",
	Long: `Show or reset the bytes postrelay has sent and received, bucketed by
day, ISO week and month (UTC).`,
}

var usageShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print usage totals",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		meter, closeMeter, err := openUsage(cmd)
		if err != nil {
			return err
		}
		defer closeMeter()

		out := cmd.OutOrStdout()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			rec, err := meter.Record(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		}

		st, err := meter.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Today:      %s\n", usage.FormatBytes(st.Today))
		fmt.Fprintf(out, "This week:  %s\n", usage.FormatBytes(st.ThisWeek))
		fmt.Fprintf(out, "This month: %s\n", usage.FormatBytes(st.ThisMonth))
		return nil
	},
}

var usageClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all recorded usage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		meter, closeMeter, err := openUsage(cmd)
		if err != nil {
			return err
		}
		defer closeMeter()

		if err := meter.Clear(commandContext(cmd)); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Usage data cleared.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(usageCmd)
	usageCmd.AddCommand(usageShowCmd, usageClearCmd)

	usageShowCmd.Flags().Bool("json", false, "print every bucket as JSON")
}

// openUsage opens the usage database named in the config file. Usage kept in
// memory by a running relay cannot be read from another process.
func openUsage(cmd *cobra.Command) (usage.Meter, func(), error) {
	path, err := configPath(cmd)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Settings.UsageDB == "" {
		return nil, nil, errors.New("usage_db is not set; usage is only kept in memory while serving")
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return openMeter(commandContext(cmd), cfg.Settings.UsageDB, logger)
}
