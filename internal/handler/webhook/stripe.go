package webhook

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/chandlery/internal/billing"
	"github.com/dukerupert/chandlery/internal/domain"
	"github.com/dukerupert/chandlery/internal/handler"
	"github.com/dukerupert/chandlery/internal/middleware"
	"github.com/dukerupert/chandlery/internal/telemetry"
)

// StripeSignatureHeader carries the gateway's event signature.
const StripeSignatureHeader = "Stripe-Signature"

// StripeHandler applies Stripe invoice events to the ledger.
type StripeHandler struct {
	provider   billing.Provider
	payments   domain.PaymentReconciler
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewStripeHandler creates a new Stripe webhook handler. The signing secret
// lives in the provider.
func NewStripeHandler(provider billing.Provider, payments domain.PaymentReconciler, dispatcher Dispatcher, logger *slog.Logger) *StripeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeHandler{
		provider:   provider,
		payments:   payments,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// paymentEventKind maps a gateway event type onto the reconciler's
// vocabulary. ok is false for events we acknowledge and ignore.
func paymentEventKind(eventType string) (kind domain.PaymentEventKind, ok bool) {
	switch eventType {
	case billing.EventInvoicePaid, billing.EventInvoicePaymentSucceeded:
		return domain.PaymentEventPaid, true
	case billing.EventInvoicePaymentFailed:
		return domain.PaymentEventFailed, true
	case billing.EventInvoiceVoided, billing.EventInvoiceMarkedUncollectible:
		return domain.PaymentEventVoided, true
	}
	return "", false
}

// HandleWebhook handles POST /webhooks/stripe
//
// Stripe CLI testing:
//
//	stripe listen --forward-to localhost:3000/webhooks/stripe
//	stripe trigger invoice.paid
func (h *StripeHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger := middleware.GetLogger(r.Context(), h.logger).With("provider", providerStripe)

	payload, ok := readBody(w, r)
	if !ok {
		return
	}

	signature := r.Header.Get(StripeSignatureHeader)
	if signature == "" {
		logger.Warn("webhook rejected: missing signature")
		handler.ErrorResponse(w, r, domain.Invalid("webhook.stripe", "Missing signature"))
		return
	}

	event, err := h.provider.ParseWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, billing.ErrInvalidWebhookSignature) {
			logger.Warn("webhook rejected: invalid signature")
			handler.ErrorResponse(w, r, domain.Invalid("webhook.stripe", "Invalid signature"))
			return
		}
		logger.Warn("webhook rejected: unreadable event", "error", err)
		handler.ErrorResponse(w, r, domain.Invalid("webhook.stripe", "Invalid event payload"))
		return
	}

	logger = logger.With("event_id", event.ID, "event_type", event.Type)
	observeReceived(providerStripe, event.Type)

	err = h.process(r.Context(), logger, event)
	observeDone(providerStripe, event.Type, start, err)
	if err != nil {
		logger.Error("webhook processing failed", "error", err)
		telemetry.CaptureErrorFromContext(r.Context(), err, map[string]interface{}{
			"event_id":   event.ID,
			"event_type": event.Type,
		})
	}

	acknowledge(w)
}

func (h *StripeHandler) process(ctx context.Context, logger *slog.Logger, event *billing.WebhookEvent) error {
	kind, ok := paymentEventKind(event.Type)
	if !ok {
		logger.Debug("webhook ignored: unhandled event type")
		return nil
	}
	if event.Invoice == nil || event.Invoice.ID == "" {
		logger.Warn("webhook ignored: event carries no invoice")
		return nil
	}

	pe := domain.PaymentEvent{
		Kind:             kind,
		EventID:          event.ID,
		GatewayInvoiceID: event.Invoice.ID,
		PaymentIntentID:  event.Invoice.PaymentIntentID,
		AmountPaidCents:  event.Invoice.AmountPaidCents,
		PaidAt:           event.Created,
	}
	if event.Invoice.PaidAt != nil {
		pe.PaidAt = *event.Invoice.PaidAt
	}

	res, err := h.payments.Reconcile(ctx, pe)
	if err != nil {
		if errors.Is(err, domain.ErrInvoiceNotFound) {
			// Invoices raised outside the marketplace share the account.
			logger.Info("webhook ignored: invoice not in ledger", "gateway_invoice_id", pe.GatewayInvoiceID)
			return nil
		}
		return err
	}

	if res.Duplicate {
		logger.Info("webhook replay ignored", "invoice_id", res.Invoice.ID)
		return nil
	}

	logger.Info("payment reconciled",
		"invoice_id", res.Invoice.ID,
		"kind", res.Invoice.Kind,
		"status", res.Invoice.Status,
	)
	if h.dispatcher != nil {
		h.dispatcher.Dispatch(context.WithoutCancel(ctx), res.Events)
	}
	return nil
}
