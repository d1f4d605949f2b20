package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/customer"
	stripeinvoice "github.com/stripe/stripe-go/v83/invoice"
	"github.com/stripe/stripe-go/v83/invoiceitem"
	"github.com/stripe/stripe-go/v83/refund"
	"github.com/stripe/stripe-go/v83/transfer"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/dukerupert/chandlery/internal/telemetry"
)

// StripeProvider implements Provider using Stripe invoices, Connect
// transfers and refunds.
type StripeProvider struct {
	config StripeConfig
}

// NewStripeProvider creates a new Stripe billing provider.
func NewStripeProvider(config StripeConfig) (*StripeProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAPIKey, err)
	}
	config.apply()
	return &StripeProvider{config: config}, nil
}

// observe records gateway latency.
func observe(operation string, start time.Time) {
	if telemetry.Business != nil {
		telemetry.Business.ExternalAPILatency.WithLabelValues("stripe", operation).Observe(time.Since(start).Seconds())
	}
}

// CreateCustomer creates a Stripe customer.
func (s *StripeProvider) CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error) {
	defer observe("customer.create", time.Now())

	p := &stripe.CustomerParams{
		Email: stripe.String(params.Email),
		Name:  stripe.String(params.Name),
	}
	if params.Description != "" {
		p.Description = stripe.String(params.Description)
	}
	for k, v := range params.Metadata {
		p.AddMetadata(k, v)
	}
	if params.IdempotencyKey != "" {
		p.SetIdempotencyKey(params.IdempotencyKey)
	}
	p.Context = ctx

	c, err := customer.New(p)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return toCustomer(c), nil
}

// GetCustomer retrieves a Stripe customer.
func (s *StripeProvider) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	defer observe("customer.get", time.Now())

	p := &stripe.CustomerParams{}
	p.Context = ctx
	c, err := customer.Get(customerID, p)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return toCustomer(c), nil
}

// CreateInvoice creates a draft send_invoice invoice.
func (s *StripeProvider) CreateInvoice(ctx context.Context, params CreateInvoiceParams) (*Invoice, error) {
	defer observe("invoice.create", time.Now())

	days := params.DaysUntilDue
	if days == 0 {
		days = 7
	}
	p := &stripe.InvoiceParams{
		Customer:                    stripe.String(params.CustomerID),
		Currency:                    stripe.String(strings.ToLower(params.Currency)),
		CollectionMethod:            stripe.String(string(stripe.InvoiceCollectionMethodSendInvoice)),
		DaysUntilDue:                stripe.Int64(days),
		AutoAdvance:                 stripe.Bool(false),
		PendingInvoiceItemsBehavior: stripe.String("exclude"),
	}
	if params.Description != "" {
		p.Description = stripe.String(params.Description)
	}
	for k, v := range params.Metadata {
		p.AddMetadata(k, v)
	}
	if params.IdempotencyKey != "" {
		p.SetIdempotencyKey(params.IdempotencyKey)
	}
	p.Context = ctx

	inv, err := stripeinvoice.New(p)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return toInvoice(inv), nil
}

// AddInvoiceItem attaches one line to a draft invoice.
func (s *StripeProvider) AddInvoiceItem(ctx context.Context, params InvoiceItemParams) (*InvoiceItem, error) {
	defer observe("invoiceitem.create", time.Now())

	p := &stripe.InvoiceItemParams{
		Customer:    stripe.String(params.CustomerID),
		Invoice:     stripe.String(params.InvoiceID),
		Amount:      stripe.Int64(params.AmountCents),
		Currency:    stripe.String(strings.ToLower(params.Currency)),
		Description: stripe.String(params.Description),
	}
	for k, v := range params.Metadata {
		p.AddMetadata(k, v)
	}
	if params.IdempotencyKey != "" {
		p.SetIdempotencyKey(params.IdempotencyKey)
	}
	p.Context = ctx

	item, err := invoiceitem.New(p)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return &InvoiceItem{
		ID:          item.ID,
		InvoiceID:   params.InvoiceID,
		AmountCents: item.Amount,
		Description: item.Description,
	}, nil
}

// FinalizeInvoice finalizes a draft invoice.
func (s *StripeProvider) FinalizeInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	defer observe("invoice.finalize", time.Now())

	p := &stripe.InvoiceFinalizeInvoiceParams{AutoAdvance: stripe.Bool(false)}
	p.Context = ctx
	inv, err := stripeinvoice.FinalizeInvoice(invoiceID, p)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return toInvoice(inv), nil
}

// SendInvoice emails a finalized invoice.
func (s *StripeProvider) SendInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	defer observe("invoice.send", time.Now())

	p := &stripe.InvoiceSendInvoiceParams{}
	p.Context = ctx
	inv, err := stripeinvoice.SendInvoice(invoiceID, p)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return toInvoice(inv), nil
}

// GetInvoice retrieves an invoice with its payments expanded so the
// payment intent is available for refunds.
func (s *StripeProvider) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	defer observe("invoice.get", time.Now())

	p := &stripe.InvoiceParams{}
	p.AddExpand("payments")
	p.Context = ctx
	inv, err := stripeinvoice.Get(invoiceID, p)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return toInvoice(inv), nil
}

// VoidInvoice voids an open invoice or deletes a draft.
func (s *StripeProvider) VoidInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	current, err := s.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	defer observe("invoice.void", time.Now())
	switch current.Status {
	case InvoiceStatusVoid, InvoiceStatusPaid:
		return current, nil
	case InvoiceStatusDraft:
		p := &stripe.InvoiceParams{}
		p.Context = ctx
		if _, err := stripeinvoice.Del(invoiceID, p); err != nil {
			return nil, wrapStripeError(err)
		}
		current.Status = InvoiceStatusVoid
		return current, nil
	}

	p := &stripe.InvoiceVoidInvoiceParams{}
	p.Context = ctx
	inv, err := stripeinvoice.VoidInvoice(invoiceID, p)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return toInvoice(inv), nil
}

// CreateTransfer sends funds to a connected account.
func (s *StripeProvider) CreateTransfer(ctx context.Context, params TransferParams) (*Transfer, error) {
	if params.DestinationAccountID == "" {
		return nil, ErrMissingDestination
	}
	defer observe("transfer.create", time.Now())

	p := &stripe.TransferParams{
		Amount:      stripe.Int64(params.AmountCents),
		Currency:    stripe.String(strings.ToLower(params.Currency)),
		Destination: stripe.String(params.DestinationAccountID),
	}
	if params.TransferGroup != "" {
		p.TransferGroup = stripe.String(params.TransferGroup)
	}
	if params.Description != "" {
		p.Description = stripe.String(params.Description)
	}
	for k, v := range params.Metadata {
		p.AddMetadata(k, v)
	}
	if params.IdempotencyKey != "" {
		p.SetIdempotencyKey(params.IdempotencyKey)
	}
	p.Context = ctx

	t, err := transfer.New(p)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	out := &Transfer{
		ID:          t.ID,
		AmountCents: t.Amount,
		Currency:    string(t.Currency),
		CreatedAt:   time.Unix(t.Created, 0),
	}
	if t.Destination != nil {
		out.Destination = t.Destination.ID
	}
	return out, nil
}

// RefundPayment refunds a Stripe payment.
func (s *StripeProvider) RefundPayment(ctx context.Context, params RefundParams) (*Refund, error) {
	if params.PaymentIntentID == "" {
		return nil, ErrMissingPayment
	}
	defer observe("refund.create", time.Now())

	p := &stripe.RefundParams{
		PaymentIntent: stripe.String(params.PaymentIntentID),
	}
	if params.AmountCents > 0 {
		p.Amount = stripe.Int64(params.AmountCents)
	}
	if params.Reason != "" {
		p.Reason = stripe.String(params.Reason)
	}
	for k, v := range params.Metadata {
		p.AddMetadata(k, v)
	}
	if params.IdempotencyKey != "" {
		p.SetIdempotencyKey(params.IdempotencyKey)
	}
	p.Context = ctx

	r, err := refund.New(p)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return &Refund{
		ID:        r.ID,
		PaymentID: params.PaymentIntentID,
		Amount:    r.Amount,
		Status:    string(r.Status),
		CreatedAt: time.Unix(r.Created, 0),
	}, nil
}

// ParseWebhook verifies a Stripe webhook signature and decodes the event.
func (s *StripeProvider) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.config.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhookSignature, err)
	}

	out := &WebhookEvent{
		ID:      event.ID,
		Type:    string(event.Type),
		Created: time.Unix(event.Created, 0),
	}
	if strings.HasPrefix(out.Type, "invoice.") && event.Data != nil {
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("failed to decode invoice from event %s: %w", event.ID, err)
		}
		out.Invoice = toInvoice(&inv)
	}
	return out, nil
}

func toCustomer(c *stripe.Customer) *Customer {
	return &Customer{
		ID:        c.ID,
		Email:     c.Email,
		Name:      c.Name,
		CreatedAt: time.Unix(c.Created, 0),
	}
}

func toInvoice(inv *stripe.Invoice) *Invoice {
	out := &Invoice{
		ID:              inv.ID,
		Status:          string(inv.Status),
		HostedURL:       inv.HostedInvoiceURL,
		AmountDueCents:  inv.AmountDue,
		AmountPaidCents: inv.AmountPaid,
		Currency:        string(inv.Currency),
		Metadata:        inv.Metadata,
		CreatedAt:       time.Unix(inv.Created, 0),
	}
	if inv.Customer != nil {
		out.CustomerID = inv.Customer.ID
	}
	if inv.StatusTransitions != nil && inv.StatusTransitions.PaidAt > 0 {
		paidAt := time.Unix(inv.StatusTransitions.PaidAt, 0).UTC()
		out.PaidAt = &paidAt
	}
	if inv.Payments != nil {
		for _, p := range inv.Payments.Data {
			if p.Payment != nil && p.Payment.PaymentIntent != nil {
				out.PaymentIntentID = p.Payment.PaymentIntent.ID
			}
		}
	}
	return out
}
