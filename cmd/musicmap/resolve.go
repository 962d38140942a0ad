package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/sydlexius/musicmap/internal/location"
	"github.com/sydlexius/musicmap/internal/origin"
)

func newResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve [artist...]",
		Short: "Resolve artists once and print their origins",
		Long: `Resolve the named artists and print the result. With no arguments, artist
names are read from stdin, one per line.`,
		RunE: runResolve,
	}
	addOutputFlag(cmd)
	return cmd
}

func runResolve(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}

	names := args
	if len(names) == 0 {
		if names, err = readNames(cmd.InOrStdin()); err != nil {
			return fmt.Errorf("reading artist names: %w", err)
		}
	}
	if len(names) == 0 {
		return fmt.Errorf("no artist names given")
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

	reqs := make([]location.ArtistRequest, 0, len(names))
	for _, n := range names {
		reqs = append(reqs, location.ArtistRequest{Name: n})
	}
	res := a.orchestrator.ResolveBatch(cmd.Context(), reqs)

	out := cmd.OutOrStdout()
	if format == outputJSON {
		return writeJSON(out, res)
	}
	renderTable(out, table.Row{"Artist", "Origin", "Lat", "Lon", "Source"}, locationRows(res.Locations))
	printRunSummary(cmd.ErrOrStderr(), res)
	return nil
}

// readNames returns the non-blank lines of r, trimmed.
func readNames(r io.Reader) ([]string, error) {
	var names []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if n := strings.TrimSpace(sc.Text()); n != "" {
			names = append(names, n)
		}
	}
	return names, sc.Err()
}

func locationRows(locs []location.ResolvedLocation) []table.Row {
	rows := make([]table.Row, 0, len(locs))
	for _, l := range locs {
		originText, lat, lon := "-", "-", "-"
		if l.Origin != nil {
			originText = *l.Origin
		}
		if l.Coordinates != nil {
			lat = strconv.FormatFloat(l.Coordinates.Lat, 'f', 4, 64)
			lon = strconv.FormatFloat(l.Coordinates.Lon, 'f', 4, 64)
		}
		rows = append(rows, table.Row{l.ArtistName, originText, lat, lon, string(l.Source)})
	}
	return rows
}

func printRunSummary(w io.Writer, res origin.BatchResult) {
	s := res.Stats
	fmt.Fprintf(w, "\nrun %s: %d artists, %d resolved, %d unresolved, %d failed (%d cached, %d workers) in %s\n",
		res.RunID, s.Total, s.Resolved, s.Unresolved, s.Failed, s.Cached, s.Workers, s.Duration().Round(time.Millisecond))
}
