package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dukerupert/chandlery/internal/billing"
	"github.com/dukerupert/chandlery/internal/currency"
	"github.com/dukerupert/chandlery/internal/domain"
	"github.com/dukerupert/chandlery/internal/email"
	"github.com/dukerupert/chandlery/internal/telemetry"
)

// CreateBookingPayment issues the deposit invoice: every line at full price,
// the platform fee and a negative line for the half collected later.
func (s *bookingService) CreateBookingPayment(ctx context.Context, actor domain.Actor, bookingID uuid.UUID) (res *domain.BookingResult, err error) {
	const op = "booking.deposit"
	ctx, span := startSpan(ctx, op,
		attribute.String("actor", actor.String()),
		attribute.String("booking_id", bookingID.String()),
	)
	defer func() { endSpan(span, err) }()

	b, q, err := s.loadForPayment(ctx, op, actor, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != domain.BookingConfirmed {
		return nil, domain.IllegalTransitionf(op, "booking_payment", string(b.PaymentStatus), string(domain.BookingDepositPaid),
			"booking status is %s", b.Status)
	}
	if b.RequiresQuote && (q == nil || !q.Settled()) {
		return nil, domain.Invalid(op, "every quote line must be accepted or rejected before payment")
	}

	existing, attempt, err := s.existingInvoice(ctx, b, domain.InvoiceDeposit)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &domain.BookingResult{Booking: b, Quote: q, Invoice: existing}, nil
	}
	switch b.PaymentStatus {
	case domain.BookingUnpaid, domain.BookingPaymentFailed:
	default:
		return nil, domain.AlreadyProcessed(op, "deposit has already been collected")
	}

	deposit, balance := depositSplit(b.TotalCents())
	inv, err := s.raiseInvoice(ctx, op, b, q, domain.InvoiceDeposit, attempt, deposit, billing.InvoiceItemParams{
		AmountCents: -balance,
		Description: "50% deposit discount (balance due on completion)",
	})
	if err != nil {
		return nil, err
	}
	return s.invoiceRaised(ctx, b, q, inv), nil
}

// CreateBalancePayment issues the balance invoice once the deposit is paid
// and the business has requested completion.
func (s *bookingService) CreateBalancePayment(ctx context.Context, actor domain.Actor, bookingID uuid.UUID) (res *domain.BookingResult, err error) {
	const op = "booking.balance"
	ctx, span := startSpan(ctx, op,
		attribute.String("actor", actor.String()),
		attribute.String("booking_id", bookingID.String()),
	)
	defer func() { endSpan(span, err) }()

	b, q, err := s.loadForPayment(ctx, op, actor, bookingID)
	if err != nil {
		return nil, err
	}

	existing, attempt, err := s.existingInvoice(ctx, b, domain.InvoiceBalance)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &domain.BookingResult{Booking: b, Quote: q, Invoice: existing}, nil
	}
	if b.Status != domain.BookingConfirmed {
		return nil, domain.IllegalTransitionf(op, "booking_payment", string(b.PaymentStatus), string(domain.BookingPaid),
			"booking is %s", b.Status)
	}
	if b.PaymentStatus != domain.BookingDepositPaid {
		return nil, domain.WithOp(domain.ErrDepositNotPaid, op)
	}
	if b.CompletedStatus != domain.CompletionRequested {
		return nil, domain.IllegalTransitionf(op, "booking_payment", string(b.PaymentStatus), string(domain.BookingPaid),
			"completion status is %s", b.CompletedStatus)
	}

	deposit, balance := depositSplit(b.TotalCents())
	inv, err := s.raiseInvoice(ctx, op, b, q, domain.InvoiceBalance, attempt, balance, billing.InvoiceItemParams{
		AmountCents: -deposit,
		Description: "Deposit already paid",
	})
	if err != nil {
		return nil, err
	}
	return s.invoiceRaised(ctx, b, q, inv), nil
}

// loadForPayment returns the booking and, when quoted, its quote. Only the
// customer or an admin may raise invoices.
func (s *bookingService) loadForPayment(ctx context.Context, op string, actor domain.Actor, bookingID uuid.UUID) (*domain.Booking, *domain.Quote, error) {
	if actor.Kind != domain.ActorCustomer && actor.Kind != domain.ActorAdmin {
		return nil, nil, domain.Forbidden(op, "only the customer can pay for a booking")
	}
	b, err := s.Bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}
	if !b.CanAccess(actor) {
		return nil, nil, domain.Forbidden(op, "booking does not belong to the caller")
	}
	if b.QuoteID == uuid.Nil {
		return b, nil, nil
	}
	q, err := s.Bookings.GetQuote(ctx, b.QuoteID)
	if err != nil {
		return nil, nil, err
	}
	return b, q, nil
}

// existingInvoice returns the phase's invoice when it is paid or still
// collectible at the gateway. A pending row whose gateway invoice was
// voided behind our back is closed so a fresh one can be raised; attempt
// numbers the next invoice for its idempotency key.
func (s *bookingService) existingInvoice(ctx context.Context, b *domain.Booking, kind domain.InvoiceKind) (*domain.Invoice, int, error) {
	invs, err := s.ledger.ForBooking(ctx, b.ID)
	if err != nil {
		return nil, 0, err
	}
	attempt := 1
	for _, inv := range invs {
		if inv.Kind == kind {
			attempt++
		}
	}

	inv := latest(invs, kind)
	if inv == nil {
		return nil, attempt, nil
	}
	switch inv.Status {
	case domain.InvoicePaid, domain.InvoiceRefunded:
		return inv, attempt, nil
	case domain.InvoicePending, domain.InvoiceFailed:
		gw, err := s.Billing.GetInvoice(ctx, inv.GatewayInvoiceID)
		if err != nil {
			return nil, 0, domain.External(err, "booking.invoice_lookup", "failed to load invoice")
		}
		if gw.Collectible() {
			return inv, attempt, nil
		}
		if _, err := s.ledger.MarkCancelled(ctx, inv.ID, "gateway invoice "+gw.Status); err != nil {
			return nil, 0, err
		}
	}
	return nil, attempt, nil
}

// raiseInvoice builds, finalizes and sends one phase invoice and appends
// its ledger row. adjust is the negative line that reduces the full price
// to amount.
func (s *bookingService) raiseInvoice(ctx context.Context, op string, b *domain.Booking, q *domain.Quote, kind domain.InvoiceKind, attempt int, amount int64, adjust billing.InvoiceItemParams) (*domain.Invoice, error) {
	customerID, err := s.ensureCustomer(ctx, b.CustomerID)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("booking-%s-%s-%d", b.ID, kind, attempt)

	draft, err := s.Billing.CreateInvoice(ctx, billing.CreateInvoiceParams{
		CustomerID:   customerID,
		Currency:     "usd",
		Description:  fmt.Sprintf("%s (%s) booking %s", b.ServiceName, kind, ref(b.ID)),
		DaysUntilDue: s.Config.InvoiceDueDays,
		Metadata: map[string]string{
			"kind":       "booking",
			"phase":      string(kind),
			"booking_id": b.ID.String(),
		},
		IdempotencyKey: key,
	})
	if err != nil {
		return nil, domain.External(err, op, "failed to create invoice")
	}

	lines := []billing.InvoiceItemParams{}
	if b.ServicePriceUSDCents > 0 {
		lines = append(lines, billing.InvoiceItemParams{AmountCents: b.ServicePriceUSDCents, Description: b.ServiceName})
	}
	if q != nil {
		for _, it := range q.Services {
			if it.Status != domain.QuoteItemAccepted {
				continue
			}
			lines = append(lines, billing.InvoiceItemParams{
				AmountCents: it.TotalPriceCents,
				Description: fmt.Sprintf("%d x %s", it.Quantity, it.Description),
				Metadata:    map[string]string{"quote_item_id": it.ID.String()},
			})
		}
	}
	lines = append(lines,
		billing.InvoiceItemParams{AmountCents: b.PlatformFeeCents, Description: "Platform fee"},
		adjust,
	)
	for i, line := range lines {
		if line.AmountCents == 0 {
			continue
		}
		line.CustomerID = customerID
		line.InvoiceID = draft.ID
		line.Currency = "usd"
		line.IdempotencyKey = fmt.Sprintf("%s-line-%d", key, i)
		if _, err := s.Billing.AddInvoiceItem(ctx, line); err != nil {
			return nil, domain.External(err, op, "failed to add invoice line")
		}
	}

	gw, err := s.Billing.FinalizeInvoice(ctx, draft.ID)
	if err != nil {
		return nil, domain.External(err, op, "failed to finalize invoice")
	}
	if _, err := s.Billing.SendInvoice(ctx, draft.ID); err != nil {
		s.Logger.Warn("failed to send booking invoice",
			"booking_id", b.ID,
			"invoice_id", draft.ID,
			"error", err,
		)
	}
	if telemetry.Business != nil {
		telemetry.Business.InvoicesFinalized.WithLabelValues(string(kind)).Inc()
	}

	// The fee is split between the two phases like the total.
	feeDeposit, feeBalance := depositSplit(b.PlatformFeeCents)
	fee := feeDeposit
	if kind == domain.InvoiceBalance {
		fee = feeBalance
	}
	rate, lockedAt := b.ConversionRate, b.CreatedAt
	if q != nil && q.RatesLockedAt != nil {
		lockedAt = *q.RatesLockedAt
	}
	if rate.IsZero() {
		rate = decimal.NewFromInt(1)
	}

	inv := &domain.Invoice{
		Kind:                kind,
		BookingID:           b.ID,
		CustomerID:          b.CustomerID,
		BusinessID:          b.BusinessID,
		OriginalAmountCents: currency.ConvertFromUSDWithRate(amount, b.Currency, rate),
		OriginalCurrency:    b.Currency,
		AmountCents:         amount,
		Currency:            currency.Settlement,
		LockedRate:          rate,
		RateLockedAt:        lockedAt,
		PlatformFee:         fee,
		BusinessAmount:      amount - fee,
		GatewayInvoiceID:    gw.ID,
		GatewayInvoiceURL:   gw.HostedURL,
	}
	if q != nil {
		inv.QuoteID = q.ID
	}
	if err := s.ledger.Record(ctx, inv); err != nil {
		s.Logger.Error("CRITICAL: invoice sent but not recorded",
			"booking_id", b.ID,
			"gateway_invoice_id", gw.ID,
			"error", err,
		)
		telemetry.CaptureCritical(ctx, err, "booking_invoice", map[string]interface{}{
			"booking_id":         b.ID.String(),
			"gateway_invoice_id": gw.ID,
		})
		return nil, err
	}

	s.Logger.Info("booking invoice raised",
		"booking_id", b.ID,
		"kind", kind,
		"invoice_id", inv.ID,
		"gateway_invoice_id", gw.ID,
		"amount_cents", amount,
	)
	return inv, nil
}

func (s *bookingService) invoiceRaised(ctx context.Context, b *domain.Booking, q *domain.Quote, inv *domain.Invoice) *domain.BookingResult {
	res := &domain.BookingResult{Booking: b, Quote: q, Invoice: inv}
	name := "booking." + string(inv.Kind) + "_invoice"

	heading, label := "Your deposit invoice", "Deposit due"
	if inv.Kind == domain.InvoiceBalance {
		heading, label = "Your balance invoice", "Balance due"
	}
	_, addr := s.customerEmail(ctx, b.CustomerID)
	s.mail(&res.Events, name, b.ID, addr, email.SummaryEmail{
		SubjectLine: heading + " for " + b.ServiceName,
		Heading:     heading,
		Rows: []email.Row{
			{Label: "Total", Value: usd(b.TotalCents())},
			{Label: "Platform fee included", Value: usd(b.PlatformFeeCents)},
		},
		TotalLabel:  label,
		Total:       usd(inv.AmountCents),
		ActionLabel: "Pay invoice",
		ActionURL:   inv.GatewayInvoiceURL,
	})
	s.notify(&res.Events, name, b.ID, b.CustomerID, NotifyPayment, domain.PriorityHigh,
		heading, fmt.Sprintf("%s for %s", usd(inv.AmountCents), b.ServiceName),
		map[string]string{"booking_id": b.ID.String(), "invoice_url": inv.GatewayInvoiceURL})
	res.Events.Lifecycle(name, b.ID, map[string]string{
		"invoice_id":   inv.ID.String(),
		"amount_cents": fmt.Sprint(inv.AmountCents),
	})
	return res
}
