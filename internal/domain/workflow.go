package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// WORKFLOW SERVICES
// =============================================================================
// Every mutating operation returns the outbox events produced alongside
// the new state. The caller dispatches them once the call has returned.

// OrderLine is one requested product at checkout.
type OrderLine struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"gt=0"`
}

// CreateOrderParams contains checkout input.
type CreateOrderParams struct {
	Products        []OrderLine `json:"products" validate:"required,min=1,dive"`
	DeliveryAddress Address     `json:"delivery_address"`
}

// UpdateOrderStatusParams drives a role-scoped item transition.
type UpdateOrderStatusParams struct {
	Status ItemStatus  `json:"status" validate:"required"`
	Items  []uuid.UUID `json:"item_ids,omitempty"` // empty: every item the actor may touch
	Reason string      `json:"reason,omitempty"`
	Notes  string      `json:"notes,omitempty"`

	// ManualShippingCents overrides the business default when it handles
	// shipping itself.
	ManualShippingCents *int64 `json:"manual_shipping_cents,omitempty" validate:"omitempty,gte=0"`
}

// OrderResult is the state plus outbox of an order operation.
type OrderResult struct {
	Order  *Order
	Events Events
}

// OrderService is the order workflow engine.
type OrderService interface {
	CreateOrder(ctx context.Context, customer Actor, params CreateOrderParams) (*OrderResult, error)
	GetOrder(ctx context.Context, actor Actor, orderID uuid.UUID) (*Order, error)
	ConfirmOrder(ctx context.Context, token string) (*OrderResult, error)
	DeclineOrder(ctx context.Context, token, reason string) (*OrderResult, error)
	UpdateOrderStatus(ctx context.Context, actor Actor, orderID uuid.UUID, params UpdateOrderStatusParams) (*OrderResult, error)

	// AfterShipmentReady re-runs the invoice finalize gate once a label is
	// bought or a shipment becomes business-handled.
	AfterShipmentReady(ctx context.Context, orderID uuid.UUID) (*OrderResult, error)
}

// CreateBookingParams contains booking request input.
type CreateBookingParams struct {
	BusinessID        uuid.UUID `json:"business_id" validate:"required"`
	ServiceName       string    `json:"service_name" validate:"required,max=200"`
	ServicePriceCents int64     `json:"service_price_cents" validate:"gte=0"`
	Currency          string    `json:"currency" validate:"required,len=3"`
	ScheduledAt       time.Time `json:"scheduled_at" validate:"required"`
	RequiresQuote     bool      `json:"requires_quote"`
	Notes             string    `json:"notes,omitempty" validate:"max=2000"`
}

// QuoteLine is one line offered by the business.
type QuoteLine struct {
	Description    string `json:"description" validate:"required,max=500"`
	Quantity       int    `json:"quantity" validate:"gt=0"`
	UnitPriceCents int64  `json:"unit_price_cents" validate:"gte=0"`
	Currency       string `json:"currency" validate:"required,len=3"`
}

// AddQuoteParams contains the quoted lines.
type AddQuoteParams struct {
	Services []QuoteLine `json:"services" validate:"required,min=1,dive"`
}

// QuoteItemAction is a customer decision on a single line.
type QuoteItemAction string

const (
	QuoteActionAccept      QuoteItemAction = "accept"
	QuoteActionReject      QuoteItemAction = "reject"
	QuoteActionRequestEdit QuoteItemAction = "request_edit"
)

// RespondQuoteItemParams is a per-line customer decision.
type RespondQuoteItemParams struct {
	Action QuoteItemAction `json:"action" validate:"required,oneof=accept reject request_edit"`
	Note   string          `json:"note,omitempty"`
}

// EditQuoteItemParams is the business answer to an edit request.
type EditQuoteItemParams struct {
	Quantity       int    `json:"quantity" validate:"gt=0"`
	UnitPriceCents int64  `json:"unit_price_cents" validate:"gte=0"`
	Note           string `json:"note,omitempty"`
}

// BookingResult is the state plus outbox of a booking operation.
type BookingResult struct {
	Booking *Booking
	Quote   *Quote
	Invoice *Invoice
	Events  Events
}

// BookingService is the booking and quote workflow engine.
type BookingService interface {
	CreateBooking(ctx context.Context, customer Actor, params CreateBookingParams) (*BookingResult, error)
	GetBooking(ctx context.Context, actor Actor, bookingID uuid.UUID) (*BookingResult, error)
	ConfirmBooking(ctx context.Context, token string) (*BookingResult, error)
	DeclineBooking(ctx context.Context, token, reason string) (*BookingResult, error)
	UpdateBookingStatus(ctx context.Context, actor Actor, bookingID uuid.UUID, status BookingStatus, reason string) (*BookingResult, error)

	AddQuote(ctx context.Context, actor Actor, bookingID uuid.UUID, params AddQuoteParams) (*BookingResult, error)
	AcceptQuote(ctx context.Context, actor Actor, bookingID uuid.UUID) (*BookingResult, error)
	RejectQuote(ctx context.Context, actor Actor, bookingID uuid.UUID, reason string) (*BookingResult, error)
	RespondToQuoteItem(ctx context.Context, actor Actor, bookingID, itemID uuid.UUID, params RespondQuoteItemParams) (*BookingResult, error)
	EditQuoteItem(ctx context.Context, actor Actor, bookingID, itemID uuid.UUID, params EditQuoteItemParams) (*BookingResult, error)

	CreateBookingPayment(ctx context.Context, actor Actor, bookingID uuid.UUID) (*BookingResult, error)
	CreateBalancePayment(ctx context.Context, actor Actor, bookingID uuid.UUID) (*BookingResult, error)
	UpdateCompletionStatus(ctx context.Context, actor Actor, bookingID uuid.UUID, status CompletedStatus, reason string) (*BookingResult, error)
}

// ShipmentResult is the state plus outbox of a shipment operation.
type ShipmentResult struct {
	Shipment *Shipment
	Events   Events
	Noop     bool
}

// TrackingUpdate is a verified carrier tracking callback.
type TrackingUpdate struct {
	TrackingCode  string
	CarrierStatus string
	Raw           []byte
}

// ShipmentService is the shipment orchestrator.
type ShipmentService interface {
	CreateForBusiness(ctx context.Context, orderID, businessID uuid.UUID, manualShippingCents *int64) (*ShipmentResult, error)
	RefreshRates(ctx context.Context, actor Actor, shipmentID uuid.UUID) (*ShipmentResult, error)
	SelectRate(ctx context.Context, actor Actor, shipmentID uuid.UUID, rateID string) (*ShipmentResult, error)
	BuyLabel(ctx context.Context, actor Actor, shipmentID uuid.UUID) (*ShipmentResult, error)
	HandleTracking(ctx context.Context, update TrackingUpdate) (*ShipmentResult, error)
}

// PaymentEventKind is the normalized gateway event type.
type PaymentEventKind string

const (
	PaymentEventPaid   PaymentEventKind = "paid"
	PaymentEventFailed PaymentEventKind = "payment_failed"
	PaymentEventVoided PaymentEventKind = "voided"
)

// PaymentEvent is a verified gateway callback.
type PaymentEvent struct {
	Kind             PaymentEventKind
	EventID          string
	GatewayInvoiceID string
	PaymentIntentID  string
	AmountPaidCents  int64
	PaidAt           time.Time
}

// ReconcileResult reports what a payment event changed.
type ReconcileResult struct {
	Invoice   *Invoice
	Duplicate bool
	Events    Events
}

// PaymentReconciler applies gateway events to the ledger and aggregates.
type PaymentReconciler interface {
	Reconcile(ctx context.Context, ev PaymentEvent) (*ReconcileResult, error)
}
