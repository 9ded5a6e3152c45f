package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Varsh1009/dnate-question-bot-backend/internal/auth"
	"github.com/Varsh1009/dnate-question-bot-backend/internal/config"
)

func newTokenCmd() *cobra.Command {
	var ttl = auth.DefaultTokenTTL

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a bearer token for local testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			token, err := auth.GenerateJWT(cfg.JWTSecret, args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", ttl, "token lifetime")
	return cmd
}
