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
// SHIPMENTS
// =============================================================================

const shipmentColumns = `id, order_id, business_id, item_ids, status, parcel, rates,
	business_handled, shipping_cost_cents, carrier_shipment_id, tracking_code,
	label_url, carrier, invoiced, last_webhook_data, version, created_at, updated_at`

// CreateShipment inserts sh unless the (order, business) pair already has
// a shipment, in which case that one is returned with created false.
func (db *DB) CreateShipment(ctx context.Context, sh *domain.Shipment) (*domain.Shipment, bool, error) {
	const op = "postgres.create_shipment"
	tag, err := db.pool.Exec(ctx, `
		INSERT INTO shipments (`+shipmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 1, $16, $17)
		ON CONFLICT (order_id, business_id) DO NOTHING`,
		sh.ID, sh.OrderID, sh.BusinessID, itemIDs(sh.ItemIDs), sh.Status, sh.Parcel, rates(sh.Rates),
		sh.BusinessHandled, sh.ShippingCostCents, sh.CarrierShipmentID, sh.TrackingCode,
		sh.LabelURL, sh.Carrier, sh.Invoiced, webhookData(sh.LastWebhookData), sh.CreatedAt, sh.UpdatedAt,
	)
	if err != nil {
		return nil, false, domain.Internal(err, op, "failed to create shipment")
	}
	if tag.RowsAffected() == 0 {
		existing, err := db.GetShipmentForBusiness(ctx, sh.OrderID, sh.BusinessID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	sh.Version = 1
	return sh, true, nil
}

func (db *DB) GetShipment(ctx context.Context, id uuid.UUID) (*domain.Shipment, error) {
	sh, err := scanShipment(db.pool.QueryRow(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, domain.ErrShipmentNotFound, "postgres.get_shipment", "failed to get shipment")
	}
	return sh, nil
}

func (db *DB) GetShipmentForBusiness(ctx context.Context, orderID, businessID uuid.UUID) (*domain.Shipment, error) {
	sh, err := scanShipment(db.pool.QueryRow(ctx, `
		SELECT `+shipmentColumns+` FROM shipments
		WHERE order_id = $1 AND business_id = $2`, orderID, businessID))
	if err != nil {
		return nil, notFound(err, domain.ErrShipmentNotFound, "postgres.get_business_shipment", "failed to get shipment")
	}
	return sh, nil
}

func (db *DB) GetShipmentByTrackingCode(ctx context.Context, code string) (*domain.Shipment, error) {
	const op = "postgres.get_shipment_by_tracking"
	if code == "" {
		return nil, domain.WithOp(domain.ErrShipmentNotFound, op)
	}
	sh, err := scanShipment(db.pool.QueryRow(ctx, `
		SELECT `+shipmentColumns+` FROM shipments WHERE tracking_code = $1`, code))
	if err != nil {
		return nil, notFound(err, domain.ErrShipmentNotFound, op, "failed to get shipment")
	}
	return sh, nil
}

func (db *DB) ListShipmentsForOrder(ctx context.Context, orderID uuid.UUID) ([]*domain.Shipment, error) {
	const op = "postgres.list_order_shipments"
	rows, err := db.pool.Query(ctx, `
		SELECT `+shipmentColumns+` FROM shipments WHERE order_id = $1 ORDER BY seq`, orderID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list shipments")
	}
	defer rows.Close()

	var out []*domain.Shipment
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			return nil, domain.Internal(err, op, "failed to scan shipment")
		}
		out = append(out, sh)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, op, "failed to list shipments")
	}
	return out, nil
}

func scanShipment(row pgx.Row) (*domain.Shipment, error) {
	var sh domain.Shipment
	var raw []byte
	err := row.Scan(
		&sh.ID, &sh.OrderID, &sh.BusinessID, &sh.ItemIDs, &sh.Status, &sh.Parcel, &sh.Rates,
		&sh.BusinessHandled, &sh.ShippingCostCents, &sh.CarrierShipmentID, &sh.TrackingCode,
		&sh.LabelURL, &sh.Carrier, &sh.Invoiced, &raw, &sh.Version, &sh.CreatedAt, &sh.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		sh.LastWebhookData = raw
	}
	return &sh, nil
}

// SaveShipment writes sh when its Version still matches, then advances it.
func (db *DB) SaveShipment(ctx context.Context, sh *domain.Shipment) error {
	const op = "postgres.save_shipment"
	tag, err := db.pool.Exec(ctx, `
		UPDATE shipments SET item_ids = $3, status = $4, parcel = $5, rates = $6,
			business_handled = $7, shipping_cost_cents = $8, carrier_shipment_id = $9,
			tracking_code = $10, label_url = $11, carrier = $12, invoiced = $13,
			last_webhook_data = $14, version = version + 1, updated_at = $15
		WHERE id = $1 AND version = $2`,
		sh.ID, sh.Version, itemIDs(sh.ItemIDs), sh.Status, sh.Parcel, rates(sh.Rates),
		sh.BusinessHandled, sh.ShippingCostCents, sh.CarrierShipmentID,
		sh.TrackingCode, sh.LabelURL, sh.Carrier, sh.Invoiced,
		webhookData(sh.LastWebhookData), sh.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Conflict(op, "shipment already exists for this business")
		}
		return domain.Internal(err, op, "failed to save shipment")
	}
	if tag.RowsAffected() == 0 {
		return versionMiss(ctx, db.pool, "shipments", sh.ID, domain.ErrShipmentNotFound, domain.ErrShipmentVersion, op)
	}
	sh.Version++
	return nil
}

func itemIDs(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}

func rates(r []domain.ShippingRate) []domain.ShippingRate {
	if r == nil {
		return []domain.ShippingRate{}
	}
	return r
}

// webhookData passes raw carrier payloads through as JSON text, or NULL.
func webhookData(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

func (db *DB) CreateNotification(ctx context.Context, n *domain.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	data := n.Data
	if data == nil {
		data = map[string]string{}
	}
	_, err := db.pool.Exec(ctx, `
		INSERT INTO notifications (id, recipient_id, type, priority, title, message, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, n.RecipientID, n.Type, n.Priority, n.Title, n.Message, data, n.CreatedAt,
	)
	if err != nil {
		if isCheckViolation(err) {
			return domain.Invalid("postgres.create_notification", "unknown notification priority")
		}
		return domain.Internal(err, "postgres.create_notification", "failed to save notification")
	}
	return nil
}

// ListNotifications returns the newest notifications first. A limit of
// zero returns all of them.
func (db *DB) ListNotifications(ctx context.Context, recipientID uuid.UUID, limit int) ([]domain.Notification, error) {
	const op = "postgres.list_notifications"
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := db.pool.Query(ctx, `
		SELECT id, recipient_id, type, priority, title, message, data, created_at
		FROM notifications WHERE recipient_id = $1
		ORDER BY seq DESC LIMIT $2`, recipientID, lim)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list notifications")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Notification, error) {
		var n domain.Notification
		err := row.Scan(&n.ID, &n.RecipientID, &n.Type, &n.Priority, &n.Title, &n.Message, &n.Data, &n.CreatedAt)
		return n, err
	})
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.Internal(err, op, "failed to scan notifications")
	}
	return out, nil
}
