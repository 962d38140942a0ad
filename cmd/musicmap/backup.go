package main

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/sydlexius/musicmap/internal/backup"
	"github.com/sydlexius/musicmap/internal/database"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the database and prune old snapshots",
		Args:  cobra.NoArgs,
		RunE:  runBackup,
	}
	cmd.Flags().Bool("list", false, "list existing snapshots instead of taking one")
	addOutputFlag(cmd)
	return cmd
}

func runBackup(cmd *cobra.Command, _ []string) error {
	list, err := cmd.Flags().GetBool("list")
	if err != nil {
		return err
	}
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	cfg, logMgr, logger, err := bootstrap(cmd, os.Stderr)
	if err != nil {
		return err
	}
	defer logMgr.Close() //nolint:errcheck

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck
	svc := newBackupService(cfg, db, logger)

	if !list {
		info, err := svc.Backup(cmd.Context())
		if err != nil {
			return err
		}
		removed, err := svc.Prune()
		if err != nil {
			return err
		}
		if format == outputJSON {
			return writeJSON(cmd.OutOrStdout(), map[string]any{"backup": info, "pruned": removed})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes), pruned %d\n", info.Filename, info.Size, len(removed))
		return nil
	}

	all, err := svc.List()
	if err != nil {
		return err
	}
	if format == outputJSON {
		if all == nil {
			all = []backup.Info{}
		}
		return writeJSON(cmd.OutOrStdout(), all)
	}
	rows := make([]table.Row, 0, len(all))
	for _, b := range all {
		rows = append(rows, table.Row{b.Filename, b.Size, b.CreatedAt.Local().Format(time.DateTime)})
	}
	renderTable(cmd.OutOrStdout(), table.Row{"File", "Size", "Created"}, rows)
	return nil
}
