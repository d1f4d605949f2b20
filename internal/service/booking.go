package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dukerupert/chandlery/internal/domain"
	"github.com/dukerupert/chandlery/internal/email"
	"github.com/dukerupert/chandlery/internal/telemetry"
)

type bookingService struct {
	*Clients
	ledger *InvoiceLedger
}

// CreateBooking records a service request and sends the business its
// confirmation links. Quoted bookings start with a pending quote and are
// confirmed by AddQuote instead of the link.
func (s *bookingService) CreateBooking(ctx context.Context, customer domain.Actor, params domain.CreateBookingParams) (res *domain.BookingResult, err error) {
	const op = "booking.create"
	ctx, span := startSpan(ctx, op, attribute.String("actor", customer.String()))
	defer func() { endSpan(span, err) }()

	if customer.Kind != domain.ActorCustomer {
		return nil, domain.Forbidden(op, "only customers can request bookings")
	}
	if err := validateParams(op, params); err != nil {
		return nil, err
	}

	user, err := s.Users.GetUser(ctx, customer.ID)
	if err != nil {
		return nil, err
	}
	biz, err := s.Catalog.GetBusiness(ctx, params.BusinessID)
	if err != nil {
		if errors.Is(err, domain.ErrBusinessNotFound) {
			return nil, domain.NewValidationError(op, "business_id", "unknown business")
		}
		return nil, err
	}

	conv, err := s.Rates.ConvertToUSD(ctx, params.ServicePriceCents, params.Currency)
	if err != nil {
		return nil, err
	}
	token, err := s.NewToken()
	if err != nil {
		return nil, domain.Internal(err, op, "failed to generate confirmation token")
	}

	now := s.Now()
	quoteStatus := domain.QuoteNotRequired
	if params.RequiresQuote {
		quoteStatus = domain.QuotePending
	}
	b := &domain.Booking{
		ID:                   uuid.New(),
		CustomerID:           customer.ID,
		BusinessID:           biz.ID,
		BusinessKind:         biz.Kind,
		ServiceName:          params.ServiceName,
		Notes:                params.Notes,
		ScheduledAt:          params.ScheduledAt,
		ServicePriceCents:    params.ServicePriceCents,
		Currency:             conv.FromCurrency,
		ServicePriceUSDCents: conv.ToCents,
		ConversionRate:       conv.Rate,
		Status:               domain.BookingPending,
		RequiresQuote:        params.RequiresQuote,
		QuoteStatus:          quoteStatus,
		CompletedStatus:      domain.CompletionPending,
		PaymentStatus:        domain.BookingUnpaid,
		QuoteAmountCents:     conv.ToCents,
		PlatformFeeCents:     s.platformFee(conv.ToCents),
		ConfirmationToken:    hashToken(token),
		TokenExpiresAt:       now.Add(s.Config.TokenTTL),
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if err := s.Bookings.CreateBooking(ctx, b); err != nil {
		return nil, domain.Internal(err, op, "failed to create booking")
	}

	s.Logger.Info("booking created",
		"booking_id", b.ID,
		"customer_id", b.CustomerID,
		"business_id", b.BusinessID,
		"requires_quote", b.RequiresQuote,
		"total_cents", b.TotalCents(),
	)
	if telemetry.Business != nil {
		telemetry.Business.BookingsCreated.WithLabelValues(strconv.FormatBool(b.RequiresQuote)).Inc()
	}

	var ev domain.Events
	rows := []email.Row{
		{Label: "Service", Value: b.ServiceName},
		{Label: "Scheduled", Value: b.ScheduledAt.UTC().Format("Jan 2, 2006 15:04 MST")},
		{Label: "Customer", Value: user.FullName()},
	}
	confirmation := email.ConfirmationRequestEmail{
		Kind:         "booking",
		Reference:    ref(b.ID),
		BusinessName: biz.Name,
		Rows:         rows,
		ConfirmURL:   s.link(domain.TokenLink(domain.BookingTokenConfirmPath, token)),
		DeclineURL:   s.link(domain.TokenLink(domain.BookingTokenDeclinePath, token)),
		ExpiresAt:    b.TokenExpiresAt,
	}
	if b.RequiresQuote {
		confirmation.Rows = append(rows, email.Row{Label: "Pricing", Value: "Quote requested"})
		confirmation.ConfirmURL = s.link("bookings", b.ID.String(), "quote")
	} else {
		confirmation.Total = email.FormatMoney(b.ServicePriceCents, b.Currency)
	}
	s.mail(&ev, "booking.confirmation_requested", b.ID, biz.Email, confirmation)
	title := "New booking request"
	if b.RequiresQuote {
		title = "New quote request"
	}
	s.notify(&ev, "booking.confirmation_requested", b.ID, biz.ID, NotifyBookingRequested, domain.PriorityHigh,
		title, fmt.Sprintf("%s requested %s", user.FullName(), b.ServiceName),
		map[string]string{"booking_id": b.ID.String()})

	intro := "The provider will confirm your booking shortly."
	if b.RequiresQuote {
		intro = "The provider will send you a quote to review."
	}
	s.mail(&ev, "booking.acknowledged", b.ID, user.Email, email.SummaryEmail{
		SubjectLine: "Booking request " + ref(b.ID) + " received",
		Heading:     "Thanks, " + user.FullName(),
		Intro:       intro,
		Rows:        rows[:2],
		TotalLabel:  "Estimated total",
		Total:       usd(b.TotalCents()),
	})
	s.notify(&ev, "booking.acknowledged", b.ID, b.CustomerID, NotifyBookingRequested, domain.PriorityNormal,
		"Booking requested", fmt.Sprintf("Waiting for %s to respond", biz.Name),
		map[string]string{"booking_id": b.ID.String()})
	ev.Lifecycle("booking.created", b.ID, map[string]string{
		"business_id":    b.BusinessID.String(),
		"requires_quote": strconv.FormatBool(b.RequiresQuote),
	})

	return &domain.BookingResult{Booking: b, Events: ev}, nil
}

// GetBooking returns a booking and its quote to one of its parties.
func (s *bookingService) GetBooking(ctx context.Context, actor domain.Actor, bookingID uuid.UUID) (*domain.BookingResult, error) {
	const op = "booking.get"

	b, err := s.Bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.CanAccess(actor) {
		return nil, domain.Forbidden(op, "booking does not belong to the caller")
	}
	res := &domain.BookingResult{Booking: b}
	if b.QuoteID != uuid.Nil {
		q, err := s.Bookings.GetQuote(ctx, b.QuoteID)
		if err != nil {
			return nil, err
		}
		res.Quote = q
	}
	return res, nil
}

// ConfirmBooking consumes the business's confirmation token.
func (s *bookingService) ConfirmBooking(ctx context.Context, token string) (res *domain.BookingResult, err error) {
	const op = "booking.confirm"
	ctx, span := startSpan(ctx, op)
	defer func() { endSpan(span, err) }()

	if token == "" {
		return nil, domain.WithOp(domain.ErrTokenInvalid, op)
	}
	// The quote guard is checked before the claim so a quoted booking's
	// token is not burned by an early click.
	b, err := s.Bookings.GetBookingByToken(ctx, hashToken(token))
	if err != nil {
		return nil, err
	}
	if b.Status == domain.BookingPending && b.RequiresQuote && b.QuoteStatus != domain.QuoteProvided {
		return nil, domain.WithOp(domain.ErrQuoteRequired, op)
	}
	return s.claim(ctx, op, token, domain.BookingConfirmed, "")
}

// DeclineBooking consumes the business's confirmation token as a decline.
func (s *bookingService) DeclineBooking(ctx context.Context, token, reason string) (res *domain.BookingResult, err error) {
	const op = "booking.decline"
	ctx, span := startSpan(ctx, op)
	defer func() { endSpan(span, err) }()

	if token == "" {
		return nil, domain.WithOp(domain.ErrTokenInvalid, op)
	}
	return s.claim(ctx, op, token, domain.BookingDeclined, reason)
}

func (s *bookingService) claim(ctx context.Context, op, token string, to domain.BookingStatus, reason string) (*domain.BookingResult, error) {
	now := s.Now()
	id, err := s.Bookings.ClaimBookingToken(ctx, hashToken(token), to, now)
	if err != nil {
		return nil, err
	}
	b, err := s.Bookings.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	actor := domain.BusinessActor(b.BusinessKind, b.BusinessID)
	b.RecordClaimed(actor, to, reason, now)
	if to == domain.BookingDeclined {
		b.RejectionReason = reason
	}
	if err := s.Bookings.SaveBooking(ctx, b); err != nil {
		return nil, err
	}
	if telemetry.Business != nil {
		telemetry.Business.BookingTransitions.WithLabelValues(string(to), string(actor.Kind)).Inc()
	}
	s.Logger.Info("booking claimed by token",
		"booking_id", b.ID,
		"business_id", b.BusinessID,
		"status", to,
	)

	var ev domain.Events
	s.statusMessages(ctx, b, actor, to, reason, &ev)
	return &domain.BookingResult{Booking: b, Events: ev}, nil
}

// UpdateBookingStatus applies a role-gated booking transition. Cancelling
// voids unpaid booking invoices.
func (s *bookingService) UpdateBookingStatus(ctx context.Context, actor domain.Actor, bookingID uuid.UUID, status domain.BookingStatus, reason string) (res *domain.BookingResult, err error) {
	const op = "booking.update_status"
	ctx, span := startSpan(ctx, op,
		attribute.String("actor", actor.String()),
		attribute.String("booking_id", bookingID.String()),
		attribute.String("status", string(status)),
	)
	defer func() { endSpan(span, err) }()

	if _, err := domain.ParseBookingStatus(string(status)); err != nil {
		return nil, err
	}
	b, err := s.Bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	now := s.Now()
	if err := b.Transition(op, actor, status, reason, now); err != nil {
		return nil, err
	}
	if status == domain.BookingDeclined {
		b.RejectionReason = reason
	}

	var ev domain.Events
	if status == domain.BookingCancelled {
		s.cancelPayments(ctx, b, actor, reason, &ev)
	}
	if err := s.Bookings.SaveBooking(ctx, b); err != nil {
		return nil, err
	}
	if telemetry.Business != nil {
		telemetry.Business.BookingTransitions.WithLabelValues(string(status), string(actor.Kind)).Inc()
	}
	s.Logger.Info("booking status updated",
		"booking_id", b.ID,
		"actor", actor.String(),
		"status", status,
	)

	s.statusMessages(ctx, b, actor, status, reason, &ev)
	return &domain.BookingResult{Booking: b, Events: ev}, nil
}

// cancelPayments voids every open booking invoice. Money already collected
// is not returned automatically; operators are alerted instead.
func (s *bookingService) cancelPayments(ctx context.Context, b *domain.Booking, actor domain.Actor, reason string, ev *domain.Events) {
	s.voidOpenInvoices(ctx, b, ev)

	now := s.Now()
	switch b.PaymentStatus {
	case domain.BookingUnpaid, domain.BookingPaymentFailed:
		b.SetPaymentStatus(actor, domain.BookingPaymentVoid, "booking cancelled", now)
	case domain.BookingDepositPaid, domain.BookingPaid:
		s.Logger.Warn("cancelled booking has collected payment",
			"booking_id", b.ID,
			"payment_status", b.PaymentStatus,
		)
		s.opsAlert(ev, b.ID, ref(b.ID), "cancelled booking has collected payment", []email.Row{
			{Label: "Payment status", Value: humanStatus(string(b.PaymentStatus))},
			{Label: "Cancelled by", Value: string(actor.Kind)},
			{Label: "Reason", Value: reason},
		})
	}
}

// voidOpenInvoices voids pending deposit and balance invoices at the
// gateway and closes their ledger rows.
func (s *bookingService) voidOpenInvoices(ctx context.Context, b *domain.Booking, ev *domain.Events) {
	invs, err := s.ledger.ForBooking(ctx, b.ID)
	if err != nil {
		s.Logger.Error("failed to list booking invoices", "booking_id", b.ID, "error", err)
		return
	}
	for _, inv := range invs {
		if inv.Status != domain.InvoicePending && inv.Status != domain.InvoiceFailed {
			continue
		}
		if inv.GatewayInvoiceID != "" {
			if _, err := s.Billing.VoidInvoice(ctx, inv.GatewayInvoiceID); err != nil {
				s.Logger.Error("failed to void booking invoice",
					"booking_id", b.ID,
					"invoice_id", inv.ID,
					"gateway_invoice_id", inv.GatewayInvoiceID,
					"error", err,
				)
				continue
			}
		}
		if _, err := s.ledger.MarkCancelled(ctx, inv.ID, "booking cancelled"); err != nil {
			s.Logger.Error("failed to cancel ledger invoice", "invoice_id", inv.ID, "error", err)
			continue
		}
		ev.Lifecycle("booking.invoice_voided", b.ID, map[string]string{
			"invoice_id": inv.ID.String(),
			"kind":       string(inv.Kind),
		})
	}
}

// UpdateCompletionStatus drives the completion handshake. The business may
// request completion once the deposit is paid; the customer confirms after
// the balance is paid or rejects with a reason.
func (s *bookingService) UpdateCompletionStatus(ctx context.Context, actor domain.Actor, bookingID uuid.UUID, status domain.CompletedStatus, reason string) (res *domain.BookingResult, err error) {
	const op = "booking.update_completion"
	ctx, span := startSpan(ctx, op,
		attribute.String("actor", actor.String()),
		attribute.String("booking_id", bookingID.String()),
		attribute.String("status", string(status)),
	)
	defer func() { endSpan(span, err) }()

	if _, err := domain.ParseCompletedStatus(string(status)); err != nil {
		return nil, err
	}
	b, err := s.Bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.CanAccess(actor) {
		return nil, domain.Forbidden(op, "booking does not belong to the caller")
	}

	switch status {
	case domain.CompletionRequested:
		if b.PaymentStatus != domain.BookingDepositPaid && b.PaymentStatus != domain.BookingPaid {
			return nil, domain.WithOp(domain.ErrDepositNotPaid, op)
		}
	case domain.CompletionCompleted:
		if b.PaymentStatus != domain.BookingPaid {
			return nil, domain.WithOp(domain.ErrBalanceNotPaid, op)
		}
	case domain.CompletionRejected:
		if reason == "" {
			return nil, domain.WithOp(domain.ErrRejectionReason, op)
		}
	}

	now := s.Now()
	if err := b.TransitionCompletion(op, actor, status, reason, now); err != nil {
		return nil, err
	}
	if err := s.Bookings.SaveBooking(ctx, b); err != nil {
		return nil, err
	}
	if telemetry.Business != nil {
		telemetry.Business.BookingTransitions.WithLabelValues("completion_"+string(status), string(actor.Kind)).Inc()
		if status == domain.CompletionCompleted {
			telemetry.Business.BookingTransitions.WithLabelValues(string(domain.BookingCompleted), string(domain.ActorSystem)).Inc()
		}
	}
	s.Logger.Info("booking completion updated",
		"booking_id", b.ID,
		"actor", actor.String(),
		"completed_status", status,
		"status", b.Status,
	)

	var ev domain.Events
	s.completionMessages(ctx, b, status, reason, &ev)
	return &domain.BookingResult{Booking: b, Events: ev}, nil
}

// statusMessages tells the other party about a booking status change.
func (s *bookingService) statusMessages(ctx context.Context, b *domain.Booking, actor domain.Actor, to domain.BookingStatus, reason string, ev *domain.Events) {
	name := "booking." + string(to)
	rows := []email.Row{
		{Label: "Service", Value: b.ServiceName},
		{Label: "Scheduled", Value: b.ScheduledAt.UTC().Format("Jan 2, 2006 15:04 MST")},
	}
	if reason != "" {
		rows = append(rows, email.Row{Label: "Reason", Value: reason})
	}
	data := map[string]string{"booking_id": b.ID.String(), "status": string(to)}
	heading := "Booking " + humanStatus(string(to))

	if actor.Kind == domain.ActorCustomer {
		if biz := s.business(ctx, b.BusinessID); biz != nil {
			s.mail(ev, name, b.ID, biz.Email, email.SummaryEmail{
				SubjectLine: "Booking " + ref(b.ID) + " " + humanStatus(string(to)) + " by the customer",
				Heading:     heading,
				Rows:        rows,
			})
		}
		s.notify(ev, name, b.ID, b.BusinessID, NotifyBookingUpdate, domain.PriorityNormal,
			heading, fmt.Sprintf("The customer %s booking %s", humanStatus(string(to)), ref(b.ID)), data)
	} else {
		_, addr := s.customerEmail(ctx, b.CustomerID)
		s.mail(ev, name, b.ID, addr, email.SummaryEmail{
			SubjectLine: "Booking " + ref(b.ID) + " " + humanStatus(string(to)),
			Heading:     heading,
			Rows:        rows,
			TotalLabel:  "Total",
			Total:       usd(b.TotalCents()),
		})
		priority := domain.PriorityNormal
		if to != domain.BookingConfirmed {
			priority = domain.PriorityHigh
		}
		s.notify(ev, name, b.ID, b.CustomerID, NotifyBookingUpdate, priority,
			heading, fmt.Sprintf("%s is now %s", b.ServiceName, humanStatus(string(to))), data)
	}
	ev.Lifecycle(name, b.ID, map[string]string{"actor": string(actor.Kind)})
}

func (s *bookingService) completionMessages(ctx context.Context, b *domain.Booking, status domain.CompletedStatus, reason string, ev *domain.Events) {
	name := "booking.completion_" + string(status)
	data := map[string]string{"booking_id": b.ID.String()}

	switch status {
	case domain.CompletionRequested:
		_, addr := s.customerEmail(ctx, b.CustomerID)
		_, balance := depositSplit(b.TotalCents())
		msg := email.SummaryEmail{
			SubjectLine: "Please confirm " + b.ServiceName + " is complete",
			Heading:     "Your provider marked the job complete",
			Intro:       "Review the work, pay the balance and confirm completion, or let the provider know what is missing.",
			Rows:        []email.Row{{Label: "Service", Value: b.ServiceName}},
			ActionLabel: "Review booking",
			ActionURL:   s.link("bookings", b.ID.String()),
		}
		if b.PaymentStatus == domain.BookingDepositPaid {
			msg.TotalLabel = "Balance due"
			msg.Total = usd(balance)
		}
		s.mail(ev, name, b.ID, addr, msg)
		s.notify(ev, name, b.ID, b.CustomerID, NotifyBookingUpdate, domain.PriorityHigh,
			"Completion requested", fmt.Sprintf("Confirm that %s is complete", b.ServiceName), data)

	case domain.CompletionCompleted:
		biz := s.business(ctx, b.BusinessID)
		if biz != nil {
			s.mail(ev, name, b.ID, biz.Email, email.SummaryEmail{
				SubjectLine: "Booking " + ref(b.ID) + " completed",
				Heading:     "The customer confirmed completion",
				Intro:       "This booking is now eligible for payout.",
				Rows:        []email.Row{{Label: "Service", Value: b.ServiceName}},
				TotalLabel:  "Payout",
				Total:       usd(b.QuoteAmountCents),
			})
		}
		s.notify(ev, "booking.payout_eligible", b.ID, b.BusinessID, NotifyPayoutEligible, domain.PriorityHigh,
			"Payout eligible", fmt.Sprintf("%s for booking %s", usd(b.QuoteAmountCents), ref(b.ID)), data)
		ev.Lifecycle("booking.completed", b.ID, nil)

	case domain.CompletionRejected:
		if biz := s.business(ctx, b.BusinessID); biz != nil {
			s.mail(ev, name, b.ID, biz.Email, email.SummaryEmail{
				SubjectLine: "Completion of booking " + ref(b.ID) + " was rejected",
				Heading:     "The customer rejected completion",
				Intro:       "Resolve the issue below, then request completion again.",
				Rows:        []email.Row{{Label: "Service", Value: b.ServiceName}, {Label: "Reason", Value: reason}},
			})
		}
		s.notify(ev, name, b.ID, b.BusinessID, NotifyBookingUpdate, domain.PriorityHigh,
			"Completion rejected", reason, data)
	}
}
