package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceKind identifies which collection event an invoice represents.
type InvoiceKind string

const (
	InvoiceOrder   InvoiceKind = "order"
	InvoiceDeposit InvoiceKind = "deposit"
	InvoiceBalance InvoiceKind = "balance"
)

// InvoiceStatus is the ledger status of a collection event.
type InvoiceStatus string

const (
	InvoicePending   InvoiceStatus = "pending"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceFailed    InvoiceStatus = "failed"
	InvoiceCancelled InvoiceStatus = "cancelled"
	InvoiceRefunded  InvoiceStatus = "refunded"
)

// Invoice errors.
var (
	ErrInvoiceNotFound    = &Error{Code: ENOTFOUND, Message: "Invoice not found"}
	ErrInvoiceAlreadyPaid = &Error{Code: EPROCESSED, Message: "Invoice already paid"}
	ErrInvoiceVoided      = &Error{Code: EPROCESSED, Message: "Invoice already voided"}
)

// Invoice is an append-only ledger row for one collection event. Rows are
// never deleted; status changes are also written to the invoice event log.
type Invoice struct {
	ID        uuid.UUID
	Kind      InvoiceKind
	OrderID   uuid.UUID // uuid.Nil for booking invoices
	BookingID uuid.UUID // uuid.Nil for order invoices
	QuoteID   uuid.UUID

	CustomerID uuid.UUID
	BusinessID uuid.UUID // uuid.Nil when several businesses share an order

	// Original amount in the customer's currency and the settlement amount.
	OriginalAmountCents int64
	OriginalCurrency    string
	AmountCents         int64
	Currency            string

	// Conversion frozen at quote acceptance or checkout.
	LockedRate     decimal.Decimal
	RateLockedAt   time.Time
	PlatformFee    int64
	BusinessAmount int64 // payout owed to the supplying business

	Status InvoiceStatus

	GatewayInvoiceID  string
	GatewayInvoiceURL string
	PaymentIntentID   string
	PaidAt            *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsOrder reports whether the invoice links to an order.
func (i *Invoice) IsOrder() bool { return i.Kind == InvoiceOrder }

// InvoiceEvent is one append-only ledger log entry.
type InvoiceEvent struct {
	ID        uuid.UUID
	InvoiceID uuid.UUID
	From      InvoiceStatus
	To        InvoiceStatus
	Note      string
	At        time.Time
}

// InvoiceRepository stores the ledger.
type InvoiceRepository interface {
	CreateInvoice(ctx context.Context, inv *Invoice) error
	GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error)
	GetInvoiceByGatewayID(ctx context.Context, gatewayID string) (*Invoice, error)
	ListInvoicesForOrder(ctx context.Context, orderID uuid.UUID) ([]*Invoice, error)
	ListInvoicesForBooking(ctx context.Context, bookingID uuid.UUID) ([]*Invoice, error)

	// TransitionInvoice moves an invoice to status only when its current
	// status is one of from. It returns false, nil when no row qualified,
	// which makes webhook replays no-ops.
	TransitionInvoice(ctx context.Context, id uuid.UUID, from []InvoiceStatus, to InvoiceStatus, paidAt *time.Time, paymentIntentID, note string) (bool, error)

	ListInvoiceEvents(ctx context.Context, invoiceID uuid.UUID) ([]InvoiceEvent, error)
}
