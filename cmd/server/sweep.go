package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale pending registrations and retry unsent confirmations once",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.sweeper.Sweep(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "expired: %d, confirmed: %d\n", result.Expired, result.Confirmed)
			return err
		},
	}
}
