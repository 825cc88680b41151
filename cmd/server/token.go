package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/gdg-garage/confreg/internal/auth"
	"github.com/gdg-garage/confreg/internal/config"
	"github.com/spf13/cobra"
)

func tokenCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token [operator]",
		Short: "Mint a bearer token for the operator endpoints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if cfg.AdminJWTSecret == "" {
				return errors.New("ADMIN_JWT_SECRET is required")
			}

			authenticator, err := auth.NewAuthenticator(cfg.AdminJWTSecret)
			if err != nil {
				return err
			}
			token, err := authenticator.GenerateToken(args[0], ttl)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", auth.TokenDuration, "token lifetime")
	return cmd
}
