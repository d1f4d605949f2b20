// Package bootstrap builds the collaborators shared by the server and the
// worker from configuration.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dukerupert/chandlery/internal"
	"github.com/dukerupert/chandlery/internal/domain"
	"github.com/dukerupert/chandlery/internal/inventory"
	"github.com/dukerupert/chandlery/internal/memory"
	"github.com/dukerupert/chandlery/internal/postgres"
)

// Repositories is every persistence port the workflows use.
type Repositories interface {
	domain.CatalogRepository
	domain.UserRepository
	domain.OrderRepository
	domain.BookingRepository
	domain.InvoiceRepository
	domain.ShipmentRepository
	domain.NotificationRepository
	inventory.Ledger
}

// Store is an opened backend.
type Store struct {
	Repositories
	Kind string

	ping  func(context.Context) error
	close func()
}

// Ping reports backend health.
func (s *Store) Ping(ctx context.Context) error {
	if s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

// Close releases connections.
func (s *Store) Close() {
	if s.close != nil {
		s.close()
	}
}

// OpenStore opens the backend named by cfg.Store. For postgres it runs
// pending migrations before handing out the pool.
func OpenStore(ctx context.Context, cfg *internal.Config, logger *slog.Logger) (*Store, error) {
	if cfg.Store == internal.StoreMemory {
		logger.Warn("using in-memory store: data is lost on restart")
		mem := memory.NewStore()
		SeedDemo(mem, logger)
		return &Store{Repositories: mem, Kind: internal.StoreMemory}, nil
	}

	// Initialize database/sql connection for migrations
	logger.Info("Connecting to database...")
	sqlDB, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	logger.Info("Running database migrations...")
	if _, err := internal.RunMigrations(ctx, sqlDB, logger); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	db := postgres.New(pool)
	return &Store{
		Repositories: db,
		Kind:         internal.StorePostgres,
		ping:         db.Ping,
		close:        pool.Close,
	}, nil
}
