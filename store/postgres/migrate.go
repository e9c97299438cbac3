package postgres

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/samber/oops"

	"github.com/MrEthical07/stackauth/store/postgres/migrations"
)

// gooseUp and gooseDown are seams for testing without a database.
var (
	gooseUp = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return goose.UpContext(ctx, db, dir, opts...)
	}
	gooseDown = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return goose.DownContext(ctx, db, dir, opts...)
	}
)

// Migrate applies every pending embedded migration.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	return runMigrations(ctx, pool, "up", gooseUp)
}

// Rollback reverts the most recent migration.
func Rollback(ctx context.Context, pool *pgxpool.Pool) error {
	return runMigrations(ctx, pool, "down", gooseDown)
}

func runMigrations(
	ctx context.Context,
	pool *pgxpool.Pool,
	direction string,
	run func(context.Context, *sql.DB, string, ...goose.OptionsFunc) error,
) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	return migrateDB(ctx, db, direction, run)
}

func migrateDB(
	ctx context.Context,
	db *sql.DB,
	direction string,
	run func(context.Context, *sql.DB, string, ...goose.OptionsFunc) error,
) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("pgx"); err != nil {
		return oops.Code("MIGRATION_FAILED").With("direction", direction).Wrap(err)
	}
	if err := run(ctx, db, "."); err != nil {
		return oops.Code("MIGRATION_FAILED").With("direction", direction).Wrap(err)
	}
	return nil
}
