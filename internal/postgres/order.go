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
// ORDERS
// =============================================================================

const itemColumns = `id, product_id, product_name, business_id, business_kind, quantity,
	unit_price_cents, line_total_cents, currency, unit_price_usd_cents,
	line_total_usd_cents, conversion_rate, status, confirmation_token,
	token_expires_at, decline_reason, inventory_deducted, deducted_quantity, invoiced, updated_at`

// CreateOrder inserts the order and its items in one transaction.
func (db *DB) CreateOrder(ctx context.Context, o *domain.Order) error {
	const op = "postgres.create_order"
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO orders (id, customer_id, status, payment_status, currency,
				subtotal_cents, platform_fee_cents, shipping_cents, total_amount_cents,
				delivery_address, stripe_invoice_id, stripe_invoice_url, invoice_finalized,
				payment_intent_id, paid_at, history, refunds, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
				$16, $17, 1, $18, $19)`,
			o.ID, o.CustomerID, o.Status, o.PaymentStatus, o.Currency,
			o.SubtotalCents, o.PlatformFeeCents, o.ShippingCents, o.TotalAmountCents,
			o.DeliveryAddress, o.StripeInvoiceID, o.StripeInvoiceURL, o.InvoiceFinalized,
			o.PaymentIntentID, o.PaidAt, history(o.History), refunds(o.Refunds),
			o.CreatedAt, o.UpdatedAt,
		)
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for i, it := range o.Items {
			batch.Queue(`
				INSERT INTO order_items (order_id, position, `+itemColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
					$15, $16, $17, $18, $19, $20, $21, $22)`,
				o.ID, i, it.ID, it.ProductID, it.ProductName, it.BusinessID, it.BusinessKind,
				it.Quantity, it.UnitPriceCents, it.LineTotalCents, it.Currency,
				it.UnitPriceUSDCents, it.LineTotalUSDCents, it.ConversionRate, it.Status,
				it.ConfirmationToken, it.TokenExpiresAt, it.DeclineReason,
				it.InventoryDeducted, it.DeductedQuantity, it.Invoiced, it.UpdatedAt,
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Conflict(op, "order already exists")
		}
		return domain.Internal(err, op, "failed to create order")
	}
	o.Version = 1
	return nil
}

// GetOrder loads an order with its items in checkout order.
func (db *DB) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return getOrder(ctx, db.pool, id)
}

func getOrder(ctx context.Context, q querier, id uuid.UUID) (*domain.Order, error) {
	const op = "postgres.get_order"
	var o domain.Order
	err := q.QueryRow(ctx, `
		SELECT id, customer_id, status, payment_status, currency, subtotal_cents,
			platform_fee_cents, shipping_cents, total_amount_cents, delivery_address,
			stripe_invoice_id, stripe_invoice_url, invoice_finalized, payment_intent_id,
			paid_at, history, refunds, version, created_at, updated_at
		FROM orders WHERE id = $1`, id).Scan(
		&o.ID, &o.CustomerID, &o.Status, &o.PaymentStatus, &o.Currency, &o.SubtotalCents,
		&o.PlatformFeeCents, &o.ShippingCents, &o.TotalAmountCents, &o.DeliveryAddress,
		&o.StripeInvoiceID, &o.StripeInvoiceURL, &o.InvoiceFinalized, &o.PaymentIntentID,
		&o.PaidAt, &o.History, &o.Refunds, &o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, domain.ErrOrderNotFound, op, "failed to get order")
	}

	rows, err := q.Query(ctx, `
		SELECT `+itemColumns+` FROM order_items
		WHERE order_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load order items")
	}
	defer rows.Close()
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(
			&it.ID, &it.ProductID, &it.ProductName, &it.BusinessID, &it.BusinessKind,
			&it.Quantity, &it.UnitPriceCents, &it.LineTotalCents, &it.Currency,
			&it.UnitPriceUSDCents, &it.LineTotalUSDCents, &it.ConversionRate, &it.Status,
			&it.ConfirmationToken, &it.TokenExpiresAt, &it.DeclineReason,
			&it.InventoryDeducted, &it.DeductedQuantity, &it.Invoiced, &it.UpdatedAt,
		); err != nil {
			return nil, domain.Internal(err, op, "failed to scan order item")
		}
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, op, "failed to load order items")
	}
	return &o, nil
}

// GetOrderByItemToken finds the order owning a confirmation token hash.
func (db *DB) GetOrderByItemToken(ctx context.Context, token string) (*domain.Order, error) {
	const op = "postgres.get_order_by_token"
	var orderID uuid.UUID
	err := db.pool.QueryRow(ctx, `
		SELECT order_id FROM order_items WHERE confirmation_token = $1`, token).Scan(&orderID)
	if err != nil {
		return nil, notFound(err, domain.ErrTokenInvalid, op, "failed to look up token")
	}
	return db.GetOrder(ctx, orderID)
}

// SaveOrder writes the order and its items when o.Version still matches
// the stored row, then advances o.Version.
func (db *DB) SaveOrder(ctx context.Context, o *domain.Order) error {
	const op = "postgres.save_order"
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE orders SET status = $3, payment_status = $4, subtotal_cents = $5,
				platform_fee_cents = $6, shipping_cents = $7, total_amount_cents = $8,
				stripe_invoice_id = $9, stripe_invoice_url = $10, invoice_finalized = $11,
				payment_intent_id = $12, paid_at = $13, history = $14, refunds = $15,
				version = version + 1, updated_at = $16
			WHERE id = $1 AND version = $2`,
			o.ID, o.Version, o.Status, o.PaymentStatus, o.SubtotalCents,
			o.PlatformFeeCents, o.ShippingCents, o.TotalAmountCents,
			o.StripeInvoiceID, o.StripeInvoiceURL, o.InvoiceFinalized,
			o.PaymentIntentID, o.PaidAt, history(o.History), refunds(o.Refunds), o.UpdatedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return versionMiss(ctx, tx, "orders", o.ID, domain.ErrOrderNotFound, domain.ErrOrderVersion, op)
		}

		batch := &pgx.Batch{}
		for _, it := range o.Items {
			batch.Queue(`
				UPDATE order_items SET status = $2, decline_reason = $3,
					inventory_deducted = $4, deducted_quantity = $5, invoiced = $6, updated_at = $7
				WHERE id = $1`,
				it.ID, it.Status, it.DeclineReason, it.InventoryDeducted, it.DeductedQuantity,
				it.Invoiced, it.UpdatedAt,
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		var derr *domain.Error
		if errors.As(err, &derr) {
			return err
		}
		return domain.Internal(err, op, "failed to save order")
	}
	o.Version++
	return nil
}

// ClaimItemToken moves a pending item with an unexpired token in a single
// conditional update, so two clicks on the same link cannot both win.
func (db *DB) ClaimItemToken(ctx context.Context, token string, status domain.ItemStatus, now time.Time) (uuid.UUID, uuid.UUID, error) {
	const op = "postgres.claim_item_token"
	var orderID, itemID uuid.UUID
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE order_items SET status = $2, updated_at = $3
			WHERE confirmation_token = $1 AND status = 'pending' AND token_expires_at > $3
			RETURNING order_id, id`, token, status, now).Scan(&orderID, &itemID)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE orders SET version = version + 1 WHERE id = $1`, orderID)
		return err
	})
	if err == nil {
		return orderID, itemID, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, uuid.Nil, domain.Internal(err, op, "failed to claim token")
	}

	// Nothing qualified: tell a spent token apart from an unknown or
	// expired one. Expiry wins over use.
	var current domain.ItemStatus
	var expiresAt time.Time
	err = db.pool.QueryRow(ctx, `
		SELECT status, token_expires_at FROM order_items
		WHERE confirmation_token = $1`, token).Scan(&current, &expiresAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return uuid.Nil, uuid.Nil, domain.WithOp(domain.ErrTokenInvalid, op)
	case err != nil:
		return uuid.Nil, uuid.Nil, domain.Internal(err, op, "failed to read token")
	case !now.Before(expiresAt):
		return uuid.Nil, uuid.Nil, domain.WithOp(domain.ErrTokenInvalid, op)
	case current != domain.ItemPending:
		return uuid.Nil, uuid.Nil, domain.WithOp(domain.ErrTokenUsed, op)
	default:
		return uuid.Nil, uuid.Nil, domain.WithOp(domain.ErrTokenInvalid, op)
	}
}

// versionMiss explains a versioned update that touched no row.
func versionMiss(ctx context.Context, q querier, table string, id uuid.UUID, missing, stale *domain.Error, op string) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&exists); err != nil {
		return domain.Internal(err, op, "failed to check row")
	}
	if !exists {
		return domain.WithOp(missing, op)
	}
	return domain.WithOp(stale, op)
}

// history and refunds keep empty slices out of JSONB as null.
func history(h []domain.HistoryEntry) []domain.HistoryEntry {
	if h == nil {
		return []domain.HistoryEntry{}
	}
	return h
}

func refunds(r []domain.RefundRecord) []domain.RefundRecord {
	if r == nil {
		return []domain.RefundRecord{}
	}
	return r
}
