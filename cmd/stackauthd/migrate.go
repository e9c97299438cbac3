package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/MrEthical07/stackauth/config"
	"github.com/MrEthical07/stackauth/store/postgres"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	var down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply every pending migration to the PostgreSQL database, or revert
the latest one with --down.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd, down)
		},
	}

	config.RegisterDatabaseFlags(cmd.Flags())
	cmd.Flags().BoolVar(&down, "down", false, "revert the most recent migration")

	return cmd
}

func runMigrate(cmd *cobra.Command, down bool) error {
	pg, err := config.LoadDatabase(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	cmd.Println("Connecting to database...")
	pool, err := postgres.Connect(ctx, pg.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	if down {
		cmd.Println("Reverting latest migration...")
		if err := postgres.Rollback(ctx, pool); err != nil {
			return oops.With("operation", "rollback").Wrap(err)
		}
		cmd.Println("Rollback completed successfully")
		return nil
	}

	cmd.Println("Running migrations...")
	if err := postgres.Migrate(ctx, pool); err != nil {
		return oops.With("operation", "migrate").Wrap(err)
	}
	cmd.Println("Migrations completed successfully")
	return nil
}
