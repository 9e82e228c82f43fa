package infra

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"mediaqueue/internal/migrations"
)

// MigratePostgres applies the embedded Postgres migrations. goose drives a
// database/sql handle, so it opens its own short-lived lib/pq connection
// rather than borrowing from the pgx pool.
func MigratePostgres(ctx context.Context, databaseURL string, logger zerolog.Logger) error {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()
	return migrate(ctx, goose.DialectPostgres, db, "postgres", logger)
}

// MigrateSQLite applies the embedded SQLite migrations to db.
func MigrateSQLite(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	return migrate(ctx, goose.DialectSQLite3, db, "sqlite", logger)
}

func migrate(ctx context.Context, dialect goose.Dialect, db *sql.DB, dir string, logger zerolog.Logger) error {
	fsys, err := fs.Sub(migrations.FS, dir)
	if err != nil {
		return fmt.Errorf("migrations %s: %w", dir, err)
	}
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return fmt.Errorf("migrations %s: %w", dir, err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrate %s: %w", dir, err)
	}
	for _, res := range results {
		logger.Info().
			Str("store", dir).
			Int64("version", res.Source.Version).
			Dur("took", res.Duration).
			Msg("migrate: applied")
	}
	return nil
}
