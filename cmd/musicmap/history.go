package main

import (
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/sydlexius/musicmap/internal/database"
	"github.com/sydlexius/musicmap/internal/history"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent resolve runs",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}
	cmd.Flags().IntP("limit", "n", 20, "number of runs to show")
	addOutputFlag(cmd)
	return cmd
}

func runHistory(cmd *cobra.Command, _ []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}
	cfg, logMgr, _, err := bootstrap(cmd, os.Stderr)
	if err != nil {
		return err
	}
	defer logMgr.Close() //nolint:errcheck

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck
	if _, err := database.Migrate(cmd.Context(), db); err != nil {
		return err
	}

	runs, err := history.NewService(db).List(cmd.Context(), limit)
	if err != nil {
		return err
	}

	if format == outputJSON {
		return writeJSON(cmd.OutOrStdout(), runs)
	}
	renderTable(cmd.OutOrStdout(),
		table.Row{"Run", "Started", "Artists", "Resolved", "Unresolved", "Failed", "Cached", "Workers", "Duration"},
		runRows(runs))
	return nil
}

func runRows(runs []history.Run) []table.Row {
	rows := make([]table.Row, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, table.Row{
			r.ID, r.StartedAt.Local().Format(time.DateTime),
			r.Total, r.Resolved, r.Unresolved, r.Failed, r.Cached, r.Workers,
			r.Duration().Round(time.Millisecond),
		})
	}
	return rows
}
