package cmd

import (
	"context"

	"github.com/pilab-dev/clinic-sync/services"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return connectionCmd("status", "Show the provider connection status",
		func(ctx context.Context) (*services.ConnectionStatus, error) {
			c, err := newClient()
			if err != nil {
				return nil, err
			}
			return c.Status(ctx)
		})
}

func newConnectCmd() *cobra.Command {
	return connectionCmd("connect", "Log in to the provider unless a credential is already active",
		func(ctx context.Context) (*services.ConnectionStatus, error) {
			c, err := newClient()
			if err != nil {
				return nil, err
			}
			return c.Connect(ctx)
		})
}

func newReconnectCmd() *cobra.Command {
	return connectionCmd("reconnect", "Discard the provider credential and log in again",
		func(ctx context.Context) (*services.ConnectionStatus, error) {
			c, err := newClient()
			if err != nil {
				return nil, err
			}
			return c.Reconnect(ctx)
		})
}

func connectionCmd(use, short string, call func(ctx context.Context) (*services.ConnectionStatus, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return traced(cmd, func(ctx context.Context) error {
				status, err := call(ctx)
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), status)
			})
		},
	}
}
