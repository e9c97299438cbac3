package main

import (
	"github.com/spf13/cobra"
)

// configFile is the global --config flag.
var configFile string

// NewRootCmd creates the stackauthd command tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stackauthd",
		Short: "Authentication and session service",
		Long: `stackauthd exposes registration, login, token refresh, email
verification and password recovery over a JSON HTTP API.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}
