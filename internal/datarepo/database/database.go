package database

import (
	"context"
	"embed"

	"github.com/jackc/pgtype/pgxtype"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"github.com/dinvlad/jade-data-repo/internal/common/database"
)

//go:embed migrations/*.sql
var fs embed.FS

// Migrate brings the namespace and load ledger schema up to date.
func Migrate(ctx context.Context, db pgxtype.Querier) error {
	migrations, err := database.ReadMigrations(fs, "migrations")
	if err != nil {
		return err
	}
	return database.UpdateDatabase(ctx, db, migrations)
}

// WithTestDb runs action against a freshly migrated, throwaway database.
func WithTestDb(action func(db *pgxpool.Pool) error) error {
	migrations, err := database.ReadMigrations(fs, "migrations")
	if err != nil {
		return errors.WithStack(err)
	}
	return database.WithTestDb(migrations, action)
}
