package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dvzrv/caterpillar/internal/config"
	"github.com/dvzrv/caterpillar/pkg/errors"
	"github.com/dvzrv/caterpillar/pkg/journal"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded update sessions",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of sessions to list")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if cfg.HistoryPath == "" {
		return fmt.Errorf("session history is disabled (history_path is empty)")
	}

	history, err := journal.Open(cfg.HistoryPath)
	if err != nil {
		return errors.Wrap(err, "journal init failed")
	}
	defer history.Close()

	entries, err := history.List(cmd.Context(), historyLimit)
	if err != nil {
		return errors.Wrap(err, "history query failed")
	}
	if len(entries) == 0 {
		fmt.Println("No sessions recorded")
		return nil
	}

	fmt.Printf("%-20s %-14s %-10s %-40s %s\n", "FINISHED", "OUTCOME", "VERSION", "BUNDLE", "OVERRIDE")
	for _, entry := range entries {
		bundlePath := entry.BundlePath
		if bundlePath == "" {
			bundlePath = "-"
		}
		bundleVersion := entry.BundleVersion
		if bundleVersion == "" {
			bundleVersion = "-"
		}
		fmt.Printf("%-20s %-14s %-10s %-40s %v\n",
			entry.FinishedAt, entry.Outcome, bundleVersion, bundlePath, entry.Override)
	}
	return nil
}
