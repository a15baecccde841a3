package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/devstats/internal/auth"
	"github.com/sakif/devstats/internal/server"
)

func newTokenCmd() *cobra.Command {
	var (
		userID string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a session JWT for a user",
		Long: `token registers the user id (if new) and prints a signed session token.

	curl -H "Authorization: Bearer $(devstats token --user-id alice)" \
	     localhost:8080/integrations/status`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return errors.New("--user-id is required")
			}

			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}

			tokens, err := auth.NewTokenService(cfg.JWTSecret)
			if err != nil {
				return err
			}

			db, err := server.OpenDB(cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.EnsureUser(cmd.Context(), userID); err != nil {
				return fmt.Errorf("registering user: %w", err)
			}

			signed, err := tokens.GenerateWithDuration(userID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user-id", "", "user id to put in the token's subject")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTokenTTL, "token lifetime")
	return cmd
}
