// Package main is the entry point for the devstats server.
//
// MAIN PACKAGE IN GO:
// The main package should be kept minimal. Its job is to read configuration,
// create the logger, and hand off to internal/server. All actual logic lives
// in the imported packages.
//
// COMMANDS (cobra):
//
//	devstats            same as `devstats serve`
//	devstats serve      run the HTTP server
//	devstats keygen     print a fresh ENCRYPTION_KEY
//	devstats token      mint a session JWT for a user (scripts, curl)
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sakif/devstats/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "devstats",
		Short: "Link GitHub accounts and keep their public stats in sync",
		Long: `devstats serves the /integrations API: users link a GitHub account
through OAuth, and the server periodically pulls their public profile,
repositories and language breakdown into a local SQLite database.

Configuration comes from the environment (and an optional .env file).`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}

	root.AddCommand(newServeCmd(), newKeygenCmd(), newTokenCmd())
	return root
}

// loadConfig loads and validates configuration and returns a logger at LOG_LEVEL.
//
// Log levels (from least to most severe): Debug → Info → Warn → Error.
// Validate has already rejected unknown levels, so ParseLevel cannot fail here.
func loadConfig() (*config.Config, *slog.Logger, error) {
	bootstrap := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := config.Load(bootstrap)
	if err != nil {
		return nil, nil, err
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}
