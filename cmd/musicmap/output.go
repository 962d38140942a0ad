package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	outputFlag  = "output"
	outputAuto  = "auto"
	outputJSON  = "json"
	outputTable = "table"
)

func addOutputFlag(cmd *cobra.Command) {
	cmd.Flags().StringP(outputFlag, "o", outputAuto,
		"output format: auto (table on a terminal, JSON otherwise), json or table")
}

// outputFormat resolves the --output flag to json or table.
func outputFormat(cmd *cobra.Command) (string, error) {
	format, err := cmd.Flags().GetString(outputFlag)
	if err != nil {
		return "", err
	}
	switch format {
	case outputJSON, outputTable:
		return format, nil
	case outputAuto:
		if isTerminal(cmd.OutOrStdout()) {
			return outputTable, nil
		}
		return outputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q", format)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd())) //nolint:gosec // G115: fd fits in int
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderTable(w io.Writer, header table.Row, rows []table.Row) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(header)
	t.AppendRows(rows)
	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	t.Render()
}
