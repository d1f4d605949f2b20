package internal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"

	"github.com/dukerupert/chandlery/migrations"
)

// RunMigrations brings the catalog, order, booking, ledger and shipment
// tables up to date and returns the resulting schema version.
func RunMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) (int64, error) {
	goose.SetBaseFS(migrations.FS)

	if err := goose.SetDialect("postgres"); err != nil {
		return 0, fmt.Errorf("failed to set goose dialect: %w", err)
	}

	before, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return before, fmt.Errorf("failed to run migrations: %w", err)
	}
	after, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return before, fmt.Errorf("failed to read schema version: %w", err)
	}

	if logger != nil {
		logger.Info("schema migrated", "from_version", before, "to_version", after)
	}
	return after, nil
}
