package billing

import (
	"context"
	"time"
)

// Provider defines the interface for the payment gateway.
// All amounts are integer minor units in the given currency.
type Provider interface {
	// CreateCustomer creates a customer record in the billing provider.
	CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error)

	// GetCustomer retrieves an existing customer.
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)

	// CreateInvoice creates a draft invoice. Pending invoice items on the
	// customer are excluded; lines are appended with AddInvoiceItem.
	CreateInvoice(ctx context.Context, params CreateInvoiceParams) (*Invoice, error)

	// AddInvoiceItem appends one line (positive or negative) to a draft.
	AddInvoiceItem(ctx context.Context, params InvoiceItemParams) (*InvoiceItem, error)

	// FinalizeInvoice moves a draft to open so it can be paid.
	FinalizeInvoice(ctx context.Context, invoiceID string) (*Invoice, error)

	// SendInvoice emails the hosted invoice to the customer.
	SendInvoice(ctx context.Context, invoiceID string) (*Invoice, error)

	// GetInvoice retrieves the gateway view of an invoice.
	GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error)

	// VoidInvoice voids an open invoice. Drafts are deleted by the gateway
	// instead, which implementations handle transparently.
	VoidInvoice(ctx context.Context, invoiceID string) (*Invoice, error)

	// CreateTransfer pays a connected business account.
	CreateTransfer(ctx context.Context, params TransferParams) (*Transfer, error)

	// RefundPayment refunds part or all of a completed payment.
	RefundPayment(ctx context.Context, params RefundParams) (*Refund, error)

	// ParseWebhook verifies the signature and decodes the event. It returns
	// ErrInvalidWebhookSignature when verification fails.
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

// Invoice statuses reported by the gateway.
const (
	InvoiceStatusDraft         = "draft"
	InvoiceStatusOpen          = "open"
	InvoiceStatusPaid          = "paid"
	InvoiceStatusVoid          = "void"
	InvoiceStatusUncollectible = "uncollectible"
)

// Webhook event types the reconciler consumes.
const (
	EventInvoicePaid                = "invoice.paid"
	EventInvoicePaymentSucceeded    = "invoice.payment_succeeded"
	EventInvoicePaymentFailed       = "invoice.payment_failed"
	EventInvoiceVoided              = "invoice.voided"
	EventInvoiceMarkedUncollectible = "invoice.marked_uncollectible"
)

// CreateCustomerParams contains parameters for creating a customer.
type CreateCustomerParams struct {
	Email          string
	Name           string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

// Customer represents a billing customer.
type Customer struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
}

// CreateInvoiceParams contains parameters for creating a draft invoice.
type CreateInvoiceParams struct {
	// CustomerID is the gateway customer (cus_...)
	CustomerID string

	// Currency code (ISO 4217) - e.g., "usd"
	Currency string

	Description string

	// DaysUntilDue applies to send_invoice collection. Default: 7
	DaysUntilDue int64

	// Metadata must carry the kind ("order" or "booking") and the aggregate
	// id so webhook events can be routed back.
	Metadata map[string]string

	// IdempotencyKey prevents duplicate drafts on retried calls
	IdempotencyKey string
}

// InvoiceItemParams contains one invoice line.
type InvoiceItemParams struct {
	CustomerID  string
	InvoiceID   string
	AmountCents int64 // negative for discounts
	Currency    string
	Description string
	Metadata    map[string]string

	IdempotencyKey string
}

// InvoiceItem is a created invoice line.
type InvoiceItem struct {
	ID          string
	InvoiceID   string
	AmountCents int64
	Description string
}

// Invoice is the gateway view of an invoice.
type Invoice struct {
	// ID is the gateway invoice id (in_...)
	ID         string
	CustomerID string

	// Status: draft, open, paid, void, uncollectible
	Status string

	// HostedURL is the customer-facing payment page
	HostedURL string

	AmountDueCents  int64
	AmountPaidCents int64
	Currency        string

	// PaymentIntentID is set once a payment has been attempted
	PaymentIntentID string

	PaidAt    *time.Time
	Metadata  map[string]string
	CreatedAt time.Time
}

// Collectible reports whether the invoice can still be (or has been) paid.
func (i *Invoice) Collectible() bool {
	return i.Status != InvoiceStatusVoid && i.Status != InvoiceStatusUncollectible
}

// TransferParams contains parameters for paying a connected account.
type TransferParams struct {
	AmountCents int64
	Currency    string

	// DestinationAccountID is the connected account (acct_...)
	DestinationAccountID string

	// TransferGroup ties transfers to the originating order
	TransferGroup string

	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

// Transfer represents a payout to a connected account.
type Transfer struct {
	ID          string
	AmountCents int64
	Currency    string
	Destination string
	CreatedAt   time.Time
}

// RefundParams contains parameters for creating a refund.
type RefundParams struct {
	PaymentIntentID string
	AmountCents     int64  // If 0, refunds full amount
	Reason          string // "duplicate", "fraudulent", "requested_by_customer"
	Metadata        map[string]string
	IdempotencyKey  string
}

// Refund represents a payment refund.
type Refund struct {
	ID        string
	PaymentID string
	Amount    int64
	Status    string // succeeded, pending, failed
	CreatedAt time.Time
}

// WebhookEvent is a verified gateway event.
type WebhookEvent struct {
	ID      string
	Type    string
	Created time.Time

	// Invoice is set for invoice.* events
	Invoice *Invoice
}
