package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dukerupert/chandlery/internal/domain"
)

// =============================================================================
// INVOICE LEDGER
// =============================================================================

const invoiceColumns = `id, kind, order_id, booking_id, quote_id, customer_id, business_id,
	original_amount_cents, original_currency, amount_cents, currency, locked_rate,
	rate_locked_at, platform_fee_cents, business_amount_cents, status,
	gateway_invoice_id, gateway_invoice_url, payment_intent_id, paid_at,
	created_at, updated_at`

// CreateInvoice appends a ledger row and its first status event.
func (db *DB) CreateInvoice(ctx context.Context, inv *domain.Invoice) error {
	const op = "postgres.create_invoice"
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO invoices (`+invoiceColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
				$17, $18, $19, $20, $21, $22)`,
			inv.ID, inv.Kind, nullUUID(inv.OrderID), nullUUID(inv.BookingID), nullUUID(inv.QuoteID),
			inv.CustomerID, nullUUID(inv.BusinessID), inv.OriginalAmountCents, inv.OriginalCurrency,
			inv.AmountCents, inv.Currency, inv.LockedRate, inv.RateLockedAt, inv.PlatformFee,
			inv.BusinessAmount, inv.Status, inv.GatewayInvoiceID, inv.GatewayInvoiceURL,
			inv.PaymentIntentID, inv.PaidAt, inv.CreatedAt, inv.UpdatedAt,
		)
		if err != nil {
			return err
		}
		return appendInvoiceEvent(ctx, tx, inv.ID, "", inv.Status, "recorded", inv.CreatedAt)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Conflict(op, "gateway invoice already recorded")
		}
		return domain.Internal(err, op, "failed to record invoice")
	}
	return nil
}

func (db *DB) GetInvoice(ctx context.Context, id uuid.UUID) (*domain.Invoice, error) {
	inv, err := scanInvoice(db.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, domain.ErrInvoiceNotFound, "postgres.get_invoice", "failed to get invoice")
	}
	return inv, nil
}

func (db *DB) GetInvoiceByGatewayID(ctx context.Context, gatewayID string) (*domain.Invoice, error) {
	inv, err := scanInvoice(db.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE gateway_invoice_id = $1`, gatewayID))
	if err != nil {
		return nil, notFound(err, domain.ErrInvoiceNotFound, "postgres.get_invoice_by_gateway", "failed to get invoice")
	}
	return inv, nil
}

func (db *DB) ListInvoicesForOrder(ctx context.Context, orderID uuid.UUID) ([]*domain.Invoice, error) {
	return db.listInvoices(ctx, "postgres.list_order_invoices", `order_id = $1`, orderID)
}

func (db *DB) ListInvoicesForBooking(ctx context.Context, bookingID uuid.UUID) ([]*domain.Invoice, error) {
	return db.listInvoices(ctx, "postgres.list_booking_invoices", `booking_id = $1`, bookingID)
}

func (db *DB) listInvoices(ctx context.Context, op, where string, id uuid.UUID) ([]*domain.Invoice, error) {
	rows, err := db.pool.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE `+where+` ORDER BY seq`, id)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list invoices")
	}
	defer rows.Close()

	var out []*domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, domain.Internal(err, op, "failed to scan invoice")
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, op, "failed to list invoices")
	}
	return out, nil
}

func scanInvoice(row pgx.Row) (*domain.Invoice, error) {
	var inv domain.Invoice
	var orderID, bookingID, quoteID, businessID uuid.NullUUID
	err := row.Scan(
		&inv.ID, &inv.Kind, &orderID, &bookingID, &quoteID, &inv.CustomerID, &businessID,
		&inv.OriginalAmountCents, &inv.OriginalCurrency, &inv.AmountCents, &inv.Currency,
		&inv.LockedRate, &inv.RateLockedAt, &inv.PlatformFee, &inv.BusinessAmount, &inv.Status,
		&inv.GatewayInvoiceID, &inv.GatewayInvoiceURL, &inv.PaymentIntentID, &inv.PaidAt,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	inv.OrderID = orderID.UUID
	inv.BookingID = bookingID.UUID
	inv.QuoteID = quoteID.UUID
	inv.BusinessID = businessID.UUID
	return &inv, nil
}

// TransitionInvoice is the conditional update behind every ledger status
// change. Concurrent deliveries of the same webhook race on the status
// predicate and exactly one of them moves the row.
func (db *DB) TransitionInvoice(ctx context.Context, id uuid.UUID, from []domain.InvoiceStatus, to domain.InvoiceStatus, paidAt *time.Time, paymentIntentID, note string) (bool, error) {
	const op = "postgres.transition_invoice"
	statuses := make([]string, len(from))
	for i, s := range from {
		statuses[i] = string(s)
	}

	moved := false
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		var prev domain.InvoiceStatus
		var at time.Time
		err := tx.QueryRow(ctx, `
			WITH prev AS (
				SELECT id, status FROM invoices
				WHERE id = $1 AND status = ANY($2::text[])
				FOR UPDATE
			)
			UPDATE invoices i SET
				status = $3,
				paid_at = COALESCE($4::timestamptz, i.paid_at),
				payment_intent_id = CASE WHEN $5::text = '' THEN i.payment_intent_id ELSE $5::text END,
				updated_at = COALESCE($4::timestamptz, now())
			FROM prev WHERE i.id = prev.id
			RETURNING prev.status, i.updated_at`,
			id, statuses, to, paidAt, paymentIntentID,
		).Scan(&prev, &at)
		if err != nil {
			return err
		}
		moved = true
		return appendInvoiceEvent(ctx, tx, id, prev, to, note, at)
	})
	switch {
	case err == nil:
		return moved, nil
	case errors.Is(err, pgx.ErrNoRows):
		if _, err := db.GetInvoice(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	default:
		return false, domain.Internal(err, op, "failed to update invoice")
	}
}

func (db *DB) ListInvoiceEvents(ctx context.Context, invoiceID uuid.UUID) ([]domain.InvoiceEvent, error) {
	const op = "postgres.list_invoice_events"
	rows, err := db.pool.Query(ctx, `
		SELECT id, invoice_id, from_status, to_status, note, created_at
		FROM invoice_events WHERE invoice_id = $1 ORDER BY seq`, invoiceID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list invoice events")
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.InvoiceEvent, error) {
		var ev domain.InvoiceEvent
		err := row.Scan(&ev.ID, &ev.InvoiceID, &ev.From, &ev.To, &ev.Note, &ev.At)
		return ev, err
	})
	if err != nil {
		return nil, domain.Internal(err, op, "failed to scan invoice events")
	}
	return events, nil
}

func appendInvoiceEvent(ctx context.Context, q querier, invoiceID uuid.UUID, from, to domain.InvoiceStatus, note string, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := q.Exec(ctx, `
		INSERT INTO invoice_events (id, invoice_id, from_status, to_status, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), invoiceID, from, to, note, at,
	)
	return err
}
