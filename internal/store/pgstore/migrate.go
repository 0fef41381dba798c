package pgstore

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib" // register the pgx driver under database/sql
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// MigrateUp applies every pending migration in migrations/ against a
// Postgres database opened from dsn. Callers running against a database
// that already owns its own schema (e.g. provisioned by an operator) can
// skip this and build a *pgxpool.Pool directly for New.
func MigrateUp(log *slog.Logger, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("pgstore: open for migration: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("pgstore: set goose dialect: %w", err)
	}

	log.Info("running postgres migrations (up)")
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("pgstore: migrate up: %w", err)
	}
	return nil
}

// MigrateStatus reports the applied/pending state of every migration to log.
func MigrateStatus(log *slog.Logger, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("pgstore: open for migration: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("pgstore: set goose dialect: %w", err)
	}
	return goose.Status(db, "migrations")
}
