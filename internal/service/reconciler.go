package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dukerupert/chandlery/internal/domain"
	"github.com/dukerupert/chandlery/internal/email"
	"github.com/dukerupert/chandlery/internal/telemetry"
)

// maxCascadeAttempts bounds retries of an aggregate save that lost an
// optimistic-lock race with a concurrent workflow call.
const maxCascadeAttempts = 3

type reconciler struct {
	*Clients
	ledger *InvoiceLedger
}

// Reconcile applies a verified gateway event. The ledger row moves first
// with a conditional update, so a replayed event finds nothing to move and
// returns Duplicate without touching the order or booking.
func (r *reconciler) Reconcile(ctx context.Context, pe domain.PaymentEvent) (res *domain.ReconcileResult, err error) {
	const op = "payment.reconcile"
	ctx, span := startSpan(ctx, op,
		attribute.String("event_kind", string(pe.Kind)),
		attribute.String("gateway_invoice_id", pe.GatewayInvoiceID),
	)
	defer func() { endSpan(span, err) }()

	if pe.GatewayInvoiceID == "" {
		return nil, domain.Invalid(op, "event carries no invoice id")
	}
	inv, err := r.ledger.ByGatewayID(ctx, pe.GatewayInvoiceID)
	if err != nil {
		return nil, err
	}

	var moved bool
	switch pe.Kind {
	case domain.PaymentEventPaid:
		paidAt := pe.PaidAt
		if paidAt.IsZero() {
			paidAt = r.Now()
		}
		moved, err = r.ledger.MarkPaid(ctx, inv.ID, paidAt, pe.PaymentIntentID)
	case domain.PaymentEventFailed:
		moved, err = r.ledger.MarkFailed(ctx, inv.ID, "payment failed")
	case domain.PaymentEventVoided:
		moved, err = r.ledger.MarkCancelled(ctx, inv.ID, "invoice voided at gateway")
	default:
		return nil, domain.Invalid(op, fmt.Sprintf("unknown payment event %q", pe.Kind))
	}
	if err != nil {
		return nil, err
	}

	res = &domain.ReconcileResult{Invoice: inv}
	if !moved {
		r.Logger.Info("payment event already applied",
			"event_id", pe.EventID,
			"kind", pe.Kind,
			"invoice_id", inv.ID,
			"status", inv.Status,
		)
		res.Duplicate = true
		return res, nil
	}

	if fresh, err := r.ledger.Get(ctx, inv.ID); err == nil {
		res.Invoice = fresh
		inv = fresh
	}
	if telemetry.Business != nil {
		switch pe.Kind {
		case domain.PaymentEventPaid:
			telemetry.Business.PaymentSucceeded.WithLabelValues(string(inv.Kind)).Inc()
		case domain.PaymentEventFailed:
			telemetry.Business.PaymentFailed.WithLabelValues(string(inv.Kind)).Inc()
		}
	}
	r.Logger.Info("payment event applied",
		"event_id", pe.EventID,
		"kind", pe.Kind,
		"invoice_id", inv.ID,
		"invoice_kind", inv.Kind,
		"amount_cents", inv.AmountCents,
	)

	if inv.IsOrder() {
		err = r.retry(func() error { return r.cascadeOrder(ctx, inv, pe, &res.Events) })
	} else {
		err = r.retry(func() error { return r.cascadeBooking(ctx, inv, pe, &res.Events) })
	}
	if err != nil {
		r.Logger.Error("CRITICAL: invoice updated but cascade failed",
			"event_id", pe.EventID,
			"kind", pe.Kind,
			"invoice_id", inv.ID,
			"order_id", inv.OrderID,
			"booking_id", inv.BookingID,
			"error", err,
		)
		telemetry.CaptureCritical(ctx, err, "payment_reconcile", map[string]interface{}{
			"event_id":   pe.EventID,
			"invoice_id": inv.ID.String(),
			"order_id":   inv.OrderID.String(),
			"booking_id": inv.BookingID.String(),
		})
		if telemetry.Business != nil {
			telemetry.Business.ReconciliationFailures.WithLabelValues(string(pe.Kind)).Inc()
		}
		return res, err
	}
	return res, nil
}

// retry re-runs a cascade that lost an optimistic-lock race. Each attempt
// reloads the aggregate.
func (r *reconciler) retry(fn func() error) error {
	var err error
	for range maxCascadeAttempts {
		err = fn()
		if !errors.Is(err, domain.ErrOrderVersion) &&
			!errors.Is(err, domain.ErrBookingVersion) &&
			!errors.Is(err, domain.ErrQuoteVersion) {
			return err
		}
	}
	return err
}

// cascadeOrder mirrors the ledger change onto the order. Inventory and
// shipments are never touched from here.
func (r *reconciler) cascadeOrder(ctx context.Context, inv *domain.Invoice, pe domain.PaymentEvent, ev *domain.Events) error {
	order, err := r.Orders.GetOrder(ctx, inv.OrderID)
	if err != nil {
		return err
	}
	now := r.Now()
	system := domain.System()

	switch pe.Kind {
	case domain.PaymentEventPaid:
		if pe.PaymentIntentID != "" {
			order.PaymentIntentID = pe.PaymentIntentID
		}
		order.PaidAt = inv.PaidAt
		order.RecordPayment(system, domain.PaymentPaid, "invoice paid", now)
	case domain.PaymentEventFailed:
		order.RecordPayment(system, domain.PaymentFailed, "payment failed", now)
	case domain.PaymentEventVoided:
		if order.PaymentStatus == domain.PaymentPending || order.PaymentStatus == domain.PaymentFailed {
			order.RecordPayment(system, domain.PaymentCancelled, "invoice voided", now)
		}
	}
	if err := r.Orders.SaveOrder(ctx, order); err != nil {
		return err
	}

	// Messages are rebuilt on every attempt, so only the last one counts.
	*ev = (*ev)[:0]
	name := "order.payment_" + string(pe.Kind)
	_, addr := r.customerEmail(ctx, order.CustomerID)
	data := map[string]string{"order_id": order.ID.String()}

	switch pe.Kind {
	case domain.PaymentEventPaid:
		r.mail(ev, name, order.ID, addr, email.SummaryEmail{
			SubjectLine: "Payment received for order " + ref(order.ID),
			Heading:     "Thank you, your payment was received",
			TotalLabel:  "Paid",
			Total:       usd(inv.AmountCents),
		})
		r.notify(ev, name, order.ID, order.CustomerID, NotifyPayment, domain.PriorityNormal,
			"Payment received", fmt.Sprintf("Order %s is paid", ref(order.ID)), data)
		for _, bid := range order.Businesses() {
			r.notify(ev, name, order.ID, bid, NotifyPayment, domain.PriorityNormal,
				"Order paid", fmt.Sprintf("The customer paid order %s", ref(order.ID)), data)
		}
	case domain.PaymentEventFailed:
		r.mail(ev, name, order.ID, addr, email.SummaryEmail{
			SubjectLine: "Payment failed for order " + ref(order.ID),
			Heading:     "We could not collect your payment",
			Intro:       "Please try again with another payment method.",
			TotalLabel:  "Amount due",
			Total:       usd(inv.AmountCents),
			ActionLabel: "Pay invoice",
			ActionURL:   inv.GatewayInvoiceURL,
		})
		r.notify(ev, name, order.ID, order.CustomerID, NotifyPayment, domain.PriorityHigh,
			"Payment failed", fmt.Sprintf("Payment for order %s failed", ref(order.ID)), data)
	}
	ev.Lifecycle(name, order.ID, map[string]string{
		"invoice_id":     inv.ID.String(),
		"payment_status": string(order.PaymentStatus),
	})
	return nil
}

// cascadeBooking advances the booking and its quote for a deposit or
// balance event.
func (r *reconciler) cascadeBooking(ctx context.Context, inv *domain.Invoice, pe domain.PaymentEvent, ev *domain.Events) error {
	b, err := r.Bookings.GetBooking(ctx, inv.BookingID)
	if err != nil {
		return err
	}
	now := r.Now()
	system := domain.System()
	quoteStatus := domain.QuoteStatus("")

	switch pe.Kind {
	case domain.PaymentEventPaid:
		if inv.Kind == domain.InvoiceDeposit {
			b.SetPaymentStatus(system, domain.BookingDepositPaid, "deposit paid", now)
			quoteStatus = domain.QuoteDepositPaid
		} else {
			b.SetPaymentStatus(system, domain.BookingPaid, "balance paid", now)
			b.PaidAt = inv.PaidAt
			quoteStatus = domain.QuotePaid
		}
	case domain.PaymentEventFailed:
		// A failed balance leaves the collected deposit on record.
		if inv.Kind == domain.InvoiceDeposit && b.PaymentStatus == domain.BookingUnpaid {
			b.SetPaymentStatus(system, domain.BookingPaymentFailed, "deposit payment failed", now)
		}
	case domain.PaymentEventVoided:
		if b.Status == domain.BookingCancelled &&
			(b.PaymentStatus == domain.BookingUnpaid || b.PaymentStatus == domain.BookingPaymentFailed) {
			b.SetPaymentStatus(system, domain.BookingPaymentVoid, "invoice voided", now)
		}
	}
	if err := r.Bookings.SaveBooking(ctx, b); err != nil {
		return err
	}

	if quoteStatus != "" && b.QuoteID != uuid.Nil {
		q, err := r.Bookings.GetQuote(ctx, b.QuoteID)
		if err != nil {
			return err
		}
		if q.Status != quoteStatus {
			q.Status = quoteStatus
			q.UpdatedAt = now
			if err := r.Bookings.SaveQuote(ctx, q); err != nil {
				return err
			}
		}
	}

	*ev = (*ev)[:0]
	name := "booking." + string(inv.Kind) + "_" + string(pe.Kind)
	data := map[string]string{"booking_id": b.ID.String(), "invoice_id": inv.ID.String()}
	_, addr := r.customerEmail(ctx, b.CustomerID)
	phase := "Deposit"
	if inv.Kind == domain.InvoiceBalance {
		phase = "Balance"
	}

	switch pe.Kind {
	case domain.PaymentEventPaid:
		r.mail(ev, name, b.ID, addr, email.SummaryEmail{
			SubjectLine: phase + " received for " + b.ServiceName,
			Heading:     phase + " received",
			Rows:        []email.Row{{Label: "Service", Value: b.ServiceName}},
			TotalLabel:  "Paid",
			Total:       usd(inv.AmountCents),
		})
		r.notify(ev, name, b.ID, b.CustomerID, NotifyPayment, domain.PriorityNormal,
			phase+" received", fmt.Sprintf("%s paid for %s", usd(inv.AmountCents), b.ServiceName), data)

		intro := "You can start the work."
		if inv.Kind == domain.InvoiceBalance {
			intro = "The booking is fully paid. The customer can now confirm completion."
		}
		if biz := r.business(ctx, b.BusinessID); biz != nil {
			r.mail(ev, name, b.ID, biz.Email, email.SummaryEmail{
				SubjectLine: phase + " paid for booking " + ref(b.ID),
				Heading:     "The customer paid the " + phase,
				Intro:       intro,
				Rows:        []email.Row{{Label: "Service", Value: b.ServiceName}},
				TotalLabel:  "Paid",
				Total:       usd(inv.AmountCents),
			})
		}
		r.notify(ev, name, b.ID, b.BusinessID, NotifyPayment, domain.PriorityHigh,
			phase+" paid", intro, data)
	case domain.PaymentEventFailed:
		r.mail(ev, name, b.ID, addr, email.SummaryEmail{
			SubjectLine: phase + " payment failed for " + b.ServiceName,
			Heading:     "We could not collect your payment",
			Intro:       "Please try again with another payment method.",
			TotalLabel:  "Amount due",
			Total:       usd(inv.AmountCents),
			ActionLabel: "Pay invoice",
			ActionURL:   inv.GatewayInvoiceURL,
		})
		r.notify(ev, name, b.ID, b.CustomerID, NotifyPayment, domain.PriorityHigh,
			"Payment failed", fmt.Sprintf("%s payment for %s failed", phase, b.ServiceName), data)
	}
	ev.Lifecycle(name, b.ID, map[string]string{
		"invoice_id":     inv.ID.String(),
		"payment_status": string(b.PaymentStatus),
	})
	return nil
}
