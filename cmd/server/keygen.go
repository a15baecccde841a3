package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sakif/devstats/internal/credential"
)

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a random 256-bit ENCRYPTION_KEY",
		Long: `keygen prints 64 hex characters suitable for ENCRYPTION_KEY.

Changing the key makes every stored GitHub token undecryptable; affected users
have to link their account again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := credential.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}
