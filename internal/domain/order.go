package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ORDER DOMAIN TYPES
// =============================================================================

// ItemStatus is the per-item fulfilment state. The order's aggregate status
// uses the same vocabulary.
type ItemStatus string

const (
	ItemPending            ItemStatus = "pending"
	ItemConfirmed          ItemStatus = "confirmed"
	ItemDeclined           ItemStatus = "declined"
	ItemProcessing         ItemStatus = "processing"
	ItemShipped            ItemStatus = "shipped"
	ItemOutForDelivery     ItemStatus = "out_for_delivery"
	ItemDelivered          ItemStatus = "delivered"
	ItemCancelled          ItemStatus = "cancelled"
	ItemFailed             ItemStatus = "failed"
	ItemReturnedToSupplier ItemStatus = "returned_to_supplier"
)

// AllItemStatuses lists every item status.
var AllItemStatuses = []ItemStatus{
	ItemPending, ItemConfirmed, ItemDeclined, ItemProcessing, ItemShipped,
	ItemOutForDelivery, ItemDelivered, ItemCancelled, ItemFailed, ItemReturnedToSupplier,
}

// progress orders the non-terminal-path statuses for aggregate derivation.
var progress = map[ItemStatus]int{
	ItemPending:            0,
	ItemConfirmed:          1,
	ItemProcessing:         2,
	ItemShipped:            3,
	ItemOutForDelivery:     4,
	ItemDelivered:          5,
	ItemFailed:             5,
	ItemReturnedToSupplier: 5,
}

// PaymentStatus tracks money collection for an order.
type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "pending"
	PaymentPaid              PaymentStatus = "paid"
	PaymentFailed            PaymentStatus = "failed"
	PaymentCancelled         PaymentStatus = "cancelled"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
)

// Order errors.
var (
	ErrOrderNotFound       = &Error{Code: ENOTFOUND, Message: "Order not found"}
	ErrOrderItemNotFound   = &Error{Code: ENOTFOUND, Message: "Order item not found"}
	ErrTokenInvalid        = &Error{Code: EGONE, Message: "Confirmation token is invalid or expired"}
	ErrTokenUsed           = &Error{Code: EPROCESSED, Message: "Confirmation token has already been processed"}
	ErrOrderVersion        = &Error{Code: ECONFLICT, Message: "Order was modified concurrently, retry"}
	ErrNoItemsForActor     = &Error{Code: EFORBIDDEN, Message: "No items in this order belong to the caller"}
	ErrPaymentIntentAbsent = &Error{Code: EINTERNAL, Message: "Paid order has no recorded payment reference"}
)

// OrderItem is one product line. Items have no identity outside their order.
type OrderItem struct {
	ID           uuid.UUID
	ProductID    uuid.UUID
	ProductName  string
	BusinessID   uuid.UUID
	BusinessKind BusinessKind
	Quantity     int

	// Native currency amounts.
	UnitPriceCents int64
	LineTotalCents int64
	Currency       string

	// Settlement (USD) amounts, frozen at checkout.
	UnitPriceUSDCents int64
	LineTotalUSDCents int64
	ConversionRate    decimal.Decimal

	Status            ItemStatus
	ConfirmationToken string
	TokenExpiresAt    time.Time
	DeclineReason     string

	// InventoryDeducted is true while stock for this line is held out of the
	// ledger. It makes repeated inventory deltas idempotent.
	InventoryDeducted bool

	// DeductedQuantity is what the ledger actually removed on confirm.
	// It is less than Quantity when stock was short, and restocks return it.
	DeductedQuantity int

	// Invoiced is true once a gateway invoice line exists for the item.
	Invoiced bool

	UpdatedAt time.Time
}

// HistoryEntry is one append-only audit record of a status change.
type HistoryEntry struct {
	ID      uuid.UUID `json:"id"`
	ItemID  uuid.UUID `json:"item_id"` // uuid.Nil for order-level entries
	From    string    `json:"from"`
	To      string    `json:"to"`
	Actor   ActorKind `json:"actor"`
	ActorID uuid.UUID `json:"actor_id"`
	Reason  string    `json:"reason,omitempty"`
	Notes   string    `json:"notes,omitempty"`
	At      time.Time `json:"at"`
}

// RefundRecord captures the money movements made for a cancellation.
type RefundRecord struct {
	ID               uuid.UUID   `json:"id"`
	BusinessID       uuid.UUID   `json:"business_id"`
	ItemIDs          []uuid.UUID `json:"item_ids"`
	Initiator        ActorKind   `json:"initiator"`
	AfterShipment    bool        `json:"after_shipment"`
	RefundCents      int64       `json:"refund_cents"`
	ShippingCents    int64       `json:"shipping_cents,omitempty"` // part of RefundCents
	TransferCents    int64       `json:"transfer_cents"`
	StripeRefundID   string      `json:"stripe_refund_id,omitempty"`
	StripeTransferID string      `json:"stripe_transfer_id,omitempty"`
	At               time.Time   `json:"at"`
}

// Order is the aggregate root for a multi-business purchase.
type Order struct {
	ID         uuid.UUID
	CustomerID uuid.UUID
	Items      []OrderItem

	Status        ItemStatus
	PaymentStatus PaymentStatus

	// Settlement currency amounts.
	Currency         string
	SubtotalCents    int64
	PlatformFeeCents int64
	ShippingCents    int64
	TotalAmountCents int64

	DeliveryAddress Address

	StripeInvoiceID  string
	StripeInvoiceURL string
	InvoiceFinalized bool
	PaymentIntentID  string
	PaidAt           *time.Time

	History []HistoryEntry
	Refunds []RefundRecord

	// Version guards optimistic concurrency in Save.
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Item returns the item with the given id.
func (o *Order) Item(id uuid.UUID) (*OrderItem, bool) {
	for i := range o.Items {
		if o.Items[i].ID == id {
			return &o.Items[i], true
		}
	}
	return nil, false
}

// ItemByToken returns the item holding the confirmation token.
func (o *Order) ItemByToken(token string) (*OrderItem, bool) {
	for i := range o.Items {
		if o.Items[i].ConfirmationToken == token {
			return &o.Items[i], true
		}
	}
	return nil, false
}

// ItemsForBusiness returns pointers to the items a business supplies.
func (o *Order) ItemsForBusiness(businessID uuid.UUID) []*OrderItem {
	var items []*OrderItem
	for i := range o.Items {
		if o.Items[i].BusinessID == businessID {
			items = append(items, &o.Items[i])
		}
	}
	return items
}

// Businesses returns the distinct supplying businesses in item order.
func (o *Order) Businesses() []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, it := range o.Items {
		if !seen[it.BusinessID] {
			seen[it.BusinessID] = true
			ids = append(ids, it.BusinessID)
		}
	}
	return ids
}

// CanAccessItem reports whether the actor owns the item or the order.
func (o *Order) CanAccessItem(a Actor, it *OrderItem) bool {
	switch a.Kind {
	case ActorAdmin, ActorSystem:
		return true
	case ActorCustomer:
		return o.CustomerID == a.ID
	default:
		return it.BusinessID == a.ID
	}
}

// CheckItemTransition validates a move for one item without mutating it.
func (o *Order) CheckItemTransition(op string, a Actor, it *OrderItem, to ItemStatus) error {
	if !o.CanAccessItem(a, it) {
		return Forbidden(op, "order item does not belong to the caller")
	}
	if a.Kind == ActorManufacturer && it.BusinessKind != BusinessManufacturer {
		return Forbidden(op, "manufacturer may not act on distributor items")
	}
	if a.Kind == ActorDistributor && it.BusinessKind == BusinessManufacturer {
		return Forbidden(op, "distributor may not act on manufacturer items")
	}
	return ItemTransitions.Check(op, "order_item", it.Status, to, a.Kind)
}

// TransitionItem applies a checked move, appends a history entry and
// recomputes the aggregate status.
func (o *Order) TransitionItem(op string, a Actor, itemID uuid.UUID, to ItemStatus, reason, notes string, now time.Time) error {
	it, ok := o.Item(itemID)
	if !ok {
		return WithOp(ErrOrderItemNotFound, op)
	}
	if err := o.CheckItemTransition(op, a, it, to); err != nil {
		return err
	}

	from := it.Status
	it.Status = to
	it.UpdatedAt = now
	if to == ItemDeclined {
		it.DeclineReason = reason
	}
	o.History = append(o.History, HistoryEntry{
		ID:      uuid.New(),
		ItemID:  it.ID,
		From:    string(from),
		To:      string(to),
		Actor:   a.Kind,
		ActorID: a.ID,
		Reason:  reason,
		Notes:   notes,
		At:      now,
	})
	o.Recompute(now)
	return nil
}

// RecordClaimedItem appends the history entry for a pending item that was
// moved atomically by ClaimItemToken.
func (o *Order) RecordClaimedItem(op string, a Actor, itemID uuid.UUID, to ItemStatus, reason string, now time.Time) error {
	it, ok := o.Item(itemID)
	if !ok {
		return WithOp(ErrOrderItemNotFound, op)
	}
	it.Status = to
	it.UpdatedAt = now
	if to == ItemDeclined {
		it.DeclineReason = reason
	}
	o.History = append(o.History, HistoryEntry{
		ID:      uuid.New(),
		ItemID:  it.ID,
		From:    string(ItemPending),
		To:      string(to),
		Actor:   a.Kind,
		ActorID: a.ID,
		Reason:  reason,
		Notes:   "confirmation token",
		At:      now,
	})
	o.Recompute(now)
	return nil
}

// RecordPayment changes the payment status with an order-level history entry.
func (o *Order) RecordPayment(a Actor, to PaymentStatus, reason string, now time.Time) {
	if o.PaymentStatus == to {
		return
	}
	o.History = append(o.History, HistoryEntry{
		ID:      uuid.New(),
		From:    "payment:" + string(o.PaymentStatus),
		To:      "payment:" + string(to),
		Actor:   a.Kind,
		ActorID: a.ID,
		Reason:  reason,
		At:      now,
	})
	o.PaymentStatus = to
	o.UpdatedAt = now
}

// Recompute refreshes the aggregate status from the items.
func (o *Order) Recompute(now time.Time) {
	status := AggregateStatus(o.Items)
	if status != o.Status {
		o.Status = status
	}
	o.UpdatedAt = now
}

// AggregateStatus derives an order's status from its items. Declined and
// cancelled items drop out; the rest must agree, otherwise the least
// advanced status wins.
func AggregateStatus(items []OrderItem) ItemStatus {
	if len(items) == 0 {
		return ItemPending
	}

	var active []ItemStatus
	allDeclined := true
	for _, it := range items {
		switch it.Status {
		case ItemDeclined:
		case ItemCancelled:
			allDeclined = false
		default:
			allDeclined = false
			active = append(active, it.Status)
		}
	}

	if len(active) == 0 {
		if allDeclined {
			return ItemDeclined
		}
		return ItemCancelled
	}

	least := active[0]
	uniform := true
	for _, s := range active[1:] {
		if s != least {
			uniform = false
		}
		if progress[s] < progress[least] {
			least = s
		}
	}
	if uniform {
		return active[0]
	}
	return least
}

// AllDecided reports whether no item is still awaiting its business.
func (o *Order) AllDecided() bool {
	for _, it := range o.Items {
		if it.Status == ItemPending {
			return false
		}
	}
	return true
}

// OrderRepository persists orders. SaveOrder compares the Version field
// with the stored row, returns ErrOrderVersion on mismatch and increments
// o.Version on success.
type OrderRepository interface {
	CreateOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (*Order, error)
	GetOrderByItemToken(ctx context.Context, token string) (*Order, error)
	SaveOrder(ctx context.Context, o *Order) error

	// ClaimItemToken atomically moves a pending, unexpired item to status
	// and reports the owning order and item. It returns ErrTokenInvalid
	// or ErrTokenUsed when no row qualifies.
	ClaimItemToken(ctx context.Context, token string, status ItemStatus, now time.Time) (orderID, itemID uuid.UUID, err error)
}
