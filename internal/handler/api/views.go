package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/chandlery/internal/domain"
)

// Response shapes. Confirmation tokens and optimistic-lock versions never
// leave the service.

type orderItemView struct {
	ID                uuid.UUID         `json:"id"`
	ProductID         uuid.UUID         `json:"product_id"`
	ProductName       string            `json:"product_name"`
	BusinessID        uuid.UUID         `json:"business_id"`
	Quantity          int               `json:"quantity"`
	UnitPriceCents    int64             `json:"unit_price_cents"`
	LineTotalCents    int64             `json:"line_total_cents"`
	Currency          string            `json:"currency"`
	LineTotalUSDCents int64             `json:"line_total_usd_cents"`
	Status            domain.ItemStatus `json:"status"`
	DeclineReason     string            `json:"decline_reason,omitempty"`
}

type orderView struct {
	ID               uuid.UUID             `json:"id"`
	CustomerID       uuid.UUID             `json:"customer_id"`
	Status           domain.ItemStatus     `json:"status"`
	PaymentStatus    domain.PaymentStatus  `json:"payment_status"`
	Currency         string                `json:"currency"`
	SubtotalCents    int64                 `json:"subtotal_cents"`
	PlatformFeeCents int64                 `json:"platform_fee_cents"`
	ShippingCents    int64                 `json:"shipping_cents"`
	TotalAmountCents int64                 `json:"total_amount_cents"`
	DeliveryAddress  domain.Address        `json:"delivery_address"`
	InvoiceURL       string                `json:"invoice_url,omitempty"`
	InvoiceFinalized bool                  `json:"invoice_finalized"`
	PaidAt           *time.Time            `json:"paid_at,omitempty"`
	Items            []orderItemView       `json:"items"`
	History          []domain.HistoryEntry `json:"history"`
	Refunds          []domain.RefundRecord `json:"refunds,omitempty"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

func newOrderView(o *domain.Order) orderView {
	v := orderView{
		ID:               o.ID,
		CustomerID:       o.CustomerID,
		Status:           o.Status,
		PaymentStatus:    o.PaymentStatus,
		Currency:         o.Currency,
		SubtotalCents:    o.SubtotalCents,
		PlatformFeeCents: o.PlatformFeeCents,
		ShippingCents:    o.ShippingCents,
		TotalAmountCents: o.TotalAmountCents,
		DeliveryAddress:  o.DeliveryAddress,
		InvoiceURL:       o.StripeInvoiceURL,
		InvoiceFinalized: o.InvoiceFinalized,
		PaidAt:           o.PaidAt,
		Items:            make([]orderItemView, 0, len(o.Items)),
		History:          o.History,
		Refunds:          o.Refunds,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
	if v.History == nil {
		v.History = []domain.HistoryEntry{}
	}
	for _, it := range o.Items {
		v.Items = append(v.Items, orderItemView{
			ID:                it.ID,
			ProductID:         it.ProductID,
			ProductName:       it.ProductName,
			BusinessID:        it.BusinessID,
			Quantity:          it.Quantity,
			UnitPriceCents:    it.UnitPriceCents,
			LineTotalCents:    it.LineTotalCents,
			Currency:          it.Currency,
			LineTotalUSDCents: it.LineTotalUSDCents,
			Status:            it.Status,
			DeclineReason:     it.DeclineReason,
		})
	}
	return v
}

type quoteView struct {
	ID               uuid.UUID          `json:"id"`
	Status           domain.QuoteStatus `json:"status"`
	Services         []domain.QuoteItem `json:"services"`
	AmountCents      int64              `json:"amount_cents"`
	QuoteAmountCents int64              `json:"quote_amount_cents"`
	PlatformFeeCents int64              `json:"platform_fee_cents"`
	RatesLockedAt    *time.Time         `json:"rates_locked_at,omitempty"`
}

type invoiceView struct {
	ID          uuid.UUID            `json:"id"`
	Kind        domain.InvoiceKind   `json:"kind"`
	Status      domain.InvoiceStatus `json:"status"`
	AmountCents int64                `json:"amount_cents"`
	Currency    string               `json:"currency"`
	URL         string               `json:"url,omitempty"`
	PaidAt      *time.Time           `json:"paid_at,omitempty"`
}

func newInvoiceView(inv *domain.Invoice) *invoiceView {
	if inv == nil {
		return nil
	}
	return &invoiceView{
		ID:          inv.ID,
		Kind:        inv.Kind,
		Status:      inv.Status,
		AmountCents: inv.AmountCents,
		Currency:    inv.Currency,
		URL:         inv.GatewayInvoiceURL,
		PaidAt:      inv.PaidAt,
	}
}

type bookingView struct {
	ID                   uuid.UUID                   `json:"id"`
	CustomerID           uuid.UUID                   `json:"customer_id"`
	BusinessID           uuid.UUID                   `json:"business_id"`
	ServiceName          string                      `json:"service_name"`
	Notes                string                      `json:"notes,omitempty"`
	ScheduledAt          time.Time                   `json:"scheduled_at"`
	ServicePriceCents    int64                       `json:"service_price_cents"`
	Currency             string                      `json:"currency"`
	ServicePriceUSDCents int64                       `json:"service_price_usd_cents"`
	Status               domain.BookingStatus        `json:"status"`
	RequiresQuote        bool                        `json:"requires_quote"`
	QuoteStatus          domain.QuoteStatus          `json:"quote_status,omitempty"`
	CompletedStatus      domain.CompletedStatus      `json:"completed_status"`
	RejectionReason      string                      `json:"rejection_reason,omitempty"`
	PaymentStatus        domain.BookingPaymentStatus `json:"payment_status"`
	PaidAt               *time.Time                  `json:"paid_at,omitempty"`
	QuoteAmountCents     int64                       `json:"quote_amount_cents"`
	PlatformFeeCents     int64                       `json:"platform_fee_cents"`
	TotalCents           int64                       `json:"total_cents"`
	StatusHistory        []domain.HistoryEntry       `json:"status_history"`
	CreatedAt            time.Time                   `json:"created_at"`
	UpdatedAt            time.Time                   `json:"updated_at"`

	Quote   *quoteView   `json:"quote,omitempty"`
	Invoice *invoiceView `json:"invoice,omitempty"`
}

func newBookingView(res *domain.BookingResult) bookingView {
	b := res.Booking
	v := bookingView{
		ID:                   b.ID,
		CustomerID:           b.CustomerID,
		BusinessID:           b.BusinessID,
		ServiceName:          b.ServiceName,
		Notes:                b.Notes,
		ScheduledAt:          b.ScheduledAt,
		ServicePriceCents:    b.ServicePriceCents,
		Currency:             b.Currency,
		ServicePriceUSDCents: b.ServicePriceUSDCents,
		Status:               b.Status,
		RequiresQuote:        b.RequiresQuote,
		QuoteStatus:          b.QuoteStatus,
		CompletedStatus:      b.CompletedStatus,
		RejectionReason:      b.RejectionReason,
		PaymentStatus:        b.PaymentStatus,
		PaidAt:               b.PaidAt,
		QuoteAmountCents:     b.QuoteAmountCents,
		PlatformFeeCents:     b.PlatformFeeCents,
		TotalCents:           b.TotalCents(),
		StatusHistory:        b.StatusHistory,
		CreatedAt:            b.CreatedAt,
		UpdatedAt:            b.UpdatedAt,
		Invoice:              newInvoiceView(res.Invoice),
	}
	if v.StatusHistory == nil {
		v.StatusHistory = []domain.HistoryEntry{}
	}
	if q := res.Quote; q != nil {
		v.Quote = &quoteView{
			ID:               q.ID,
			Status:           q.Status,
			Services:         q.Services,
			AmountCents:      q.AmountCents,
			QuoteAmountCents: q.QuoteAmountCents,
			PlatformFeeCents: q.PlatformFeeCents,
			RatesLockedAt:    q.RatesLockedAt,
		}
	}
	return v
}

type shipmentView struct {
	ID                uuid.UUID             `json:"id"`
	OrderID           uuid.UUID             `json:"order_id"`
	BusinessID        uuid.UUID             `json:"business_id"`
	ItemIDs           []uuid.UUID           `json:"item_ids"`
	Status            domain.ShipmentStatus `json:"status"`
	Parcel            domain.Parcel         `json:"parcel"`
	Rates             []domain.ShippingRate `json:"rates"`
	BusinessHandled   bool                  `json:"business_handled"`
	ShippingCostCents int64                 `json:"shipping_cost_cents"`
	TrackingCode      string                `json:"tracking_code,omitempty"`
	LabelURL          string                `json:"label_url,omitempty"`
	Carrier           string                `json:"carrier,omitempty"`
	UpdatedAt         time.Time             `json:"updated_at"`
}

func newShipmentView(sh *domain.Shipment) shipmentView {
	v := shipmentView{
		ID:                sh.ID,
		OrderID:           sh.OrderID,
		BusinessID:        sh.BusinessID,
		ItemIDs:           sh.ItemIDs,
		Status:            sh.Status,
		Parcel:            sh.Parcel,
		Rates:             sh.Rates,
		BusinessHandled:   sh.BusinessHandled,
		ShippingCostCents: sh.ShippingCostCents,
		TrackingCode:      sh.TrackingCode,
		LabelURL:          sh.LabelURL,
		Carrier:           sh.Carrier,
		UpdatedAt:         sh.UpdatedAt,
	}
	if v.Rates == nil {
		v.Rates = []domain.ShippingRate{}
	}
	return v
}
