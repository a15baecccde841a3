package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sakif/devstats/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
}

func runServe(cmd *cobra.Command) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Debug("configuration loaded", "config", cfg)

	// SIGINT (Ctrl+C) or SIGTERM (docker stop, k8s) cancels ctx and starts
	// the graceful shutdown inside Run.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
