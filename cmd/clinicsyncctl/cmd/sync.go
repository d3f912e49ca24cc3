package cmd

import (
	"context"
	"errors"

	"github.com/pilab-dev/clinic-sync/log"
	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	var userID, email string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile one user's clinics against the provider",
		Long: `Triggers a clinic sync for the given user. If a sync for the user is already
running the server reports success without doing any work.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID == "" {
				return errors.New("--user-id is required")
			}
			return traced(cmd, func(ctx context.Context) error {
				c, err := newClient()
				if err != nil {
					return err
				}
				result, err := c.Sync(ctx, userID, email)
				if err != nil {
					return err
				}
				appLogger.Debug(ctx, "Sync finished", log.Fields{"user_id": userID})
				return printResult(cmd.OutOrStdout(), result)
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user-id", "", "local user id")
	cmd.Flags().StringVar(&email, "email", "", "provider email (defaults to the stored user email)")
	return cmd
}
