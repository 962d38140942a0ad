package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/sydlexius/musicmap/internal/provider"
)

const checkTimeout = 30 * time.Second

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Test connectivity to Wikipedia, MusicBrainz and Nominatim",
		Args:  cobra.NoArgs,
		RunE:  runCheck,
	}
	addOutputFlag(cmd)
	return cmd
}

func runCheck(cmd *cobra.Command, _ []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	cfg, logMgr, logger, err := bootstrap(cmd, os.Stderr)
	if err != nil {
		return err
	}
	defer logMgr.Close() //nolint:errcheck

	limiter := rateLimiters(cfg.Sources)
	wiki, mb, nom := sourceAdapters(cfg.Sources, limiter, logger)
	reg := provider.NewRegistry()
	reg.Register(wiki)
	reg.Register(mb)
	reg.Register(nom)

	ctx, cancel := context.WithTimeout(cmd.Context(), checkTimeout)
	defer cancel()
	results := reg.CheckAll(ctx)

	if format == outputJSON {
		if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
			return err
		}
	} else {
		renderTable(cmd.OutOrStdout(), table.Row{"Source", "Status", "Latency", "Error"}, checkRows(results))
	}

	for _, r := range results {
		if !r.OK {
			return fmt.Errorf("%s is unreachable", r.Name.DisplayName())
		}
	}
	return nil
}

func checkRows(results []provider.CheckResult) []table.Row {
	rows := make([]table.Row, 0, len(results))
	for _, r := range results {
		status := "ok"
		if !r.OK {
			status = "FAIL"
		}
		rows = append(rows, table.Row{r.Name.DisplayName(), status, r.Latency.Round(time.Millisecond), r.Error})
	}
	return rows
}
