package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sydlexius/musicmap/internal/config"
	"github.com/sydlexius/musicmap/internal/logging"
	"github.com/sydlexius/musicmap/internal/version"
)

const configFlag = "config"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "musicmap",
		Short: "Resolve music artists to their geographic origin",
		Long: `musicmap places artists on a map. It reads the artist's Wikipedia infobox,
falls back to the MusicBrainz registry and geocodes the result with Nominatim.
Without a subcommand it runs the HTTP server.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
		Version:           fmt.Sprintf("%s (%s)", version.Version, version.Commit),
		SilenceUsage:      true,
		SilenceErrors:     true,
		DisableAutoGenTag: true,
	}

	cmd.PersistentFlags().String(configFlag, config.Path(),
		"path to the YAML config file (MM_CONFIG_PATH)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newResolveCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newMaintainCmd())
	cmd.AddCommand(newBackupCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// bootstrap loads the config named by --config and starts logging to console.
func bootstrap(cmd *cobra.Command, console io.Writer) (*config.Config, *logging.Manager, *slog.Logger, error) {
	path, err := cmd.Flags().GetString(configFlag)
	if err != nil {
		return nil, nil, nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}
	mgr, logger := logging.NewManager(cfg.Logging.Manager(), logging.WithConsole(console))
	return cfg, mgr, logger, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "musicmap %s (commit %s)\n", version.Version, version.Commit)
		},
	}
}
