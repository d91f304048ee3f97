package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cleanupRetentionDays int

func init() {
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(snapshotCmd)

	cleanupCmd.Flags().IntVar(&cleanupRetentionDays, "retention-days", 0, "Remove records resolved more than this many days ago (0 = configured default)")
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove stale resolution records",
	Long: `Remove records whose most recent resolution is older than the
retention horizon. Removal is permanent; history goes with the record.

Examples:
  resolvd cleanup
  resolvd cleanup --retention-days 30`,
	RunE: runCleanup,
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Force an immediate snapshot to disk",
	Long: `Write the current tracker state to the snapshot file immediately,
without waiting for the periodic timer.

Examples:
  resolvd snapshot`,
	RunE: runSnapshot,
}

func runCleanup(cmd *cobra.Command, args []string) error {
	rt, err := initRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	removed, err := rt.svc.Cleanup(cmd.Context(), cleanupRetentionDays)
	if err != nil {
		return fmt.Errorf("cleaning up: %w", err)
	}

	if outputJSON {
		return printJSON(map[string]int{"removed": removed})
	}
	fmt.Printf("Removed %d stale record(s)\n", removed)
	return nil
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	rt, err := initRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.svc.PersistToDisk(cmd.Context()); err != nil {
		return fmt.Errorf("persisting: %w", err)
	}

	if outputJSON {
		return printJSON(map[string]bool{"persisted": true})
	}
	fmt.Println("Snapshot written")
	return nil
}
