// Package inventory applies stock deltas caused by order item transitions.
package inventory

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dukerupert/chandlery/internal/domain"
	"github.com/dukerupert/chandlery/internal/telemetry"
)

// Ledger mutates product stock. Every call must be a single atomic
// statement against the stored value. Decrement floors at zero and
// reports how many units it actually removed.
type Ledger interface {
	Decrement(ctx context.Context, productID uuid.UUID, qty int) (int, error)
	Increment(ctx context.Context, productID uuid.UUID, qty int) error
	Quantity(ctx context.Context, productID uuid.UUID) (int, error)
}

// Delta is the direction of a stock change.
type Delta string

const (
	DeltaNone    Delta = "none"
	DeltaDeduct  Delta = "deduct"
	DeltaRestock Delta = "restock"
)

// restocking statuses return held stock to the shelf.
var restocking = map[domain.ItemStatus]bool{
	domain.ItemCancelled:          true,
	domain.ItemDeclined:           true,
	domain.ItemReturnedToSupplier: true,
}

// Plan reports which delta a transition implies for an item. The item's
// InventoryDeducted flag is the only state consulted, so replaying a
// transition never deducts or restocks twice.
func Plan(item *domain.OrderItem, to domain.ItemStatus) Delta {
	switch {
	case to == domain.ItemConfirmed && !item.InventoryDeducted:
		return DeltaDeduct
	case restocking[to] && item.InventoryDeducted:
		return DeltaRestock
	default:
		return DeltaNone
	}
}

// Adjuster applies Plan through a Ledger and flips the item's flag.
type Adjuster struct {
	ledger Ledger
	logger *slog.Logger
}

// NewAdjuster creates an adjuster over ledger.
func NewAdjuster(ledger Ledger, logger *slog.Logger) *Adjuster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adjuster{ledger: ledger, logger: logger}
}

// Apply performs the stock change for item moving to status to. The caller
// persists the item afterwards so the flag survives.
func (a *Adjuster) Apply(ctx context.Context, item *domain.OrderItem, to domain.ItemStatus) (Delta, error) {
	const op = "inventory.apply"

	delta := Plan(item, to)
	switch delta {
	case DeltaDeduct:
		removed, err := a.ledger.Decrement(ctx, item.ProductID, item.Quantity)
		if err != nil {
			return DeltaNone, domain.WrapError(err, domain.EINTERNAL, op, "failed to deduct stock")
		}
		item.InventoryDeducted = true
		item.DeductedQuantity = removed
	case DeltaRestock:
		// Only what the floored decrement took comes back.
		if item.DeductedQuantity > 0 {
			if err := a.ledger.Increment(ctx, item.ProductID, item.DeductedQuantity); err != nil {
				return DeltaNone, domain.WrapError(err, domain.EINTERNAL, op, "failed to restock")
			}
		}
		item.InventoryDeducted = false
		item.DeductedQuantity = 0
	default:
		return DeltaNone, nil
	}

	a.logger.Debug("inventory adjusted",
		"product_id", item.ProductID,
		"item_id", item.ID,
		"quantity", item.Quantity,
		"held", item.DeductedQuantity,
		"delta", delta,
	)
	if telemetry.Business != nil {
		telemetry.Business.InventoryAdjustments.WithLabelValues(string(delta)).Inc()
	}
	return delta, nil
}
