package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newMaintainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Expire stale cache entries, prune old runs and optimize the database",
		Args:  cobra.NoArgs,
		RunE:  runMaintain,
	}
	cmd.Flags().Bool("vacuum", false, "also VACUUM the database file")
	return cmd
}

func runMaintain(cmd *cobra.Command, _ []string) error {
	vacuum, err := cmd.Flags().GetBool("vacuum")
	if err != nil {
		return err
	}
	cfg, logMgr, logger, err := bootstrap(cmd, os.Stderr)
	if err != nil {
		return err
	}
	defer logMgr.Close() //nolint:errcheck

	a, err := newApp(cmd.Context(), cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	rep, err := a.maintenance.RunOnce(cmd.Context())
	if err != nil {
		return err
	}
	if vacuum {
		if err := a.maintenance.Vacuum(cmd.Context()); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "expired %d cache entries, pruned %d runs, optimized: %t\n",
		rep.ExpiredEntries, rep.PrunedRuns, rep.Optimized)
	return nil
}
