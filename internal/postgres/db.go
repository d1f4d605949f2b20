// Package postgres implements the repository interfaces on PostgreSQL
// through pgx.
//
// A single DB value satisfies every repository the workflows use. Writes
// that race (token claims, invoice transitions, stock adjustments) are
// single conditional statements so the database decides the winner.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dukerupert/chandlery/internal/domain"
	"github.com/dukerupert/chandlery/internal/inventory"
)

// Postgres error codes the repositories react to.
const (
	uniqueViolation = "23505"
	checkViolation  = "23514"
)

// querier is the subset of pgx shared by the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is the PostgreSQL store.
type DB struct {
	pool *pgxpool.Pool
}

// Compile-time checks that DB implements every repository.
var (
	_ domain.CatalogRepository      = (*DB)(nil)
	_ domain.UserRepository         = (*DB)(nil)
	_ domain.OrderRepository        = (*DB)(nil)
	_ domain.BookingRepository      = (*DB)(nil)
	_ domain.InvoiceRepository      = (*DB)(nil)
	_ domain.ShipmentRepository     = (*DB)(nil)
	_ domain.NotificationRepository = (*DB)(nil)
	_ inventory.Ledger              = (*DB)(nil)
)

// New wraps an open pool.
func New(pool *pgxpool.Pool) *DB {
	return &DB{pool: pool}
}

// Ping checks the connection for the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// inTx runs fn inside a transaction, rolling back on any error.
func (db *DB) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == checkViolation
}

// notFound maps pgx.ErrNoRows to the given domain error and wraps anything
// else as internal.
func notFound(err error, sentinel *domain.Error, op, msg string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.WithOp(sentinel, op)
	}
	return domain.Internal(err, op, msg)
}

// nullUUID stores uuid.Nil as NULL for optional references.
func nullUUID(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: id != uuid.Nil}
}
