package postgres

import (
	"context"

	"github.com/google/uuid"

	"github.com/dukerupert/chandlery/internal/domain"
)

// =============================================================================
// CATALOG
// =============================================================================

const productColumns = `id, business_id, name, sku, unit_price_cents, currency,
	stock_quantity, weight_grams, length_cm, width_cm, height_cm`

// GetProduct returns a product with its current stock.
func (db *DB) GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	var p domain.Product
	err := db.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id).Scan(
		&p.ID, &p.BusinessID, &p.Name, &p.SKU, &p.UnitPriceCents, &p.Currency,
		&p.StockQuantity, &p.WeightGrams, &p.LengthCm, &p.WidthCm, &p.HeightCm,
	)
	if err != nil {
		return nil, notFound(err, domain.ErrProductNotFound, "postgres.get_product", "failed to get product")
	}
	return &p, nil
}

// GetBusiness returns a supplying business.
func (db *DB) GetBusiness(ctx context.Context, id uuid.UUID) (*domain.Business, error) {
	var b domain.Business
	err := db.pool.QueryRow(ctx, `
		SELECT id, kind, name, email, stripe_account_id, ship_from,
		       manual_shipping, manual_shipping_cents
		FROM businesses WHERE id = $1`, id).Scan(
		&b.ID, &b.Kind, &b.Name, &b.Email, &b.StripeAccountID, &b.ShipFrom,
		&b.ManualShipping, &b.ManualShippingCents,
	)
	if err != nil {
		return nil, notFound(err, domain.ErrBusinessNotFound, "postgres.get_business", "failed to get business")
	}
	return &b, nil
}

// UpsertBusiness inserts or replaces a business. Seeding and tests use it;
// the workflows only read businesses.
func (db *DB) UpsertBusiness(ctx context.Context, b domain.Business) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO businesses (id, kind, name, email, stripe_account_id, ship_from,
		                        manual_shipping, manual_shipping_cents)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind, name = EXCLUDED.name, email = EXCLUDED.email,
			stripe_account_id = EXCLUDED.stripe_account_id, ship_from = EXCLUDED.ship_from,
			manual_shipping = EXCLUDED.manual_shipping,
			manual_shipping_cents = EXCLUDED.manual_shipping_cents`,
		b.ID, b.Kind, b.Name, b.Email, b.StripeAccountID, b.ShipFrom,
		b.ManualShipping, b.ManualShippingCents,
	)
	if err != nil {
		return domain.Internal(err, "postgres.upsert_business", "failed to save business")
	}
	return nil
}

// UpsertProduct inserts or replaces a product including its stock level.
func (db *DB) UpsertProduct(ctx context.Context, p domain.Product) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			business_id = EXCLUDED.business_id, name = EXCLUDED.name, sku = EXCLUDED.sku,
			unit_price_cents = EXCLUDED.unit_price_cents, currency = EXCLUDED.currency,
			stock_quantity = EXCLUDED.stock_quantity, weight_grams = EXCLUDED.weight_grams,
			length_cm = EXCLUDED.length_cm, width_cm = EXCLUDED.width_cm,
			height_cm = EXCLUDED.height_cm`,
		p.ID, p.BusinessID, p.Name, p.SKU, p.UnitPriceCents, p.Currency,
		p.StockQuantity, p.WeightGrams, p.LengthCm, p.WidthCm, p.HeightCm,
	)
	if err != nil {
		return domain.Internal(err, "postgres.upsert_product", "failed to save product")
	}
	return nil
}

// =============================================================================
// INVENTORY LEDGER
// =============================================================================

// Decrement lowers stock in one statement and returns the units removed.
// Stock floors at zero rather than failing, so a confirmation never blocks
// on a stale count.
func (db *DB) Decrement(ctx context.Context, productID uuid.UUID, qty int) (int, error) {
	var removed int
	err := db.pool.QueryRow(ctx, `
		WITH cur AS (
			SELECT id, stock_quantity FROM products WHERE id = $1 FOR UPDATE
		)
		UPDATE products p SET stock_quantity = GREATEST(cur.stock_quantity - $2, 0)
		FROM cur WHERE p.id = cur.id
		RETURNING LEAST(GREATEST(cur.stock_quantity, 0), $2)`, productID, qty).Scan(&removed)
	if err != nil {
		return 0, notFound(err, domain.ErrProductNotFound, "postgres.decrement", "failed to decrement stock")
	}
	return removed, nil
}

// Increment restocks a product.
func (db *DB) Increment(ctx context.Context, productID uuid.UUID, qty int) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE products SET stock_quantity = stock_quantity + $2
		WHERE id = $1`, productID, qty)
	if err != nil {
		return domain.Internal(err, "postgres.increment", "failed to increment stock")
	}
	if tag.RowsAffected() == 0 {
		return domain.WithOp(domain.ErrProductNotFound, "postgres.increment")
	}
	return nil
}

// Quantity returns the current stock level.
func (db *DB) Quantity(ctx context.Context, productID uuid.UUID) (int, error) {
	var qty int
	err := db.pool.QueryRow(ctx, `SELECT stock_quantity FROM products WHERE id = $1`, productID).Scan(&qty)
	if err != nil {
		return 0, notFound(err, domain.ErrProductNotFound, "postgres.quantity", "failed to read stock")
	}
	return qty, nil
}
