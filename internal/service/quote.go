package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dukerupert/chandlery/internal/currency"
	"github.com/dukerupert/chandlery/internal/domain"
	"github.com/dukerupert/chandlery/internal/email"
	"github.com/dukerupert/chandlery/internal/telemetry"
)

// quoteActions maps a customer decision onto the line status it produces.
var quoteActions = map[domain.QuoteItemAction]domain.QuoteItemStatus{
	domain.QuoteActionAccept:      domain.QuoteItemAccepted,
	domain.QuoteActionReject:      domain.QuoteItemRejected,
	domain.QuoteActionRequestEdit: domain.QuoteItemEditRequested,
}

// AddQuote prices a quoted booking. Providing the quote also confirms the
// booking.
func (s *bookingService) AddQuote(ctx context.Context, actor domain.Actor, bookingID uuid.UUID, params domain.AddQuoteParams) (res *domain.BookingResult, err error) {
	const op = "quote.add"
	ctx, span := startSpan(ctx, op,
		attribute.String("actor", actor.String()),
		attribute.String("booking_id", bookingID.String()),
	)
	defer func() { endSpan(span, err) }()

	if !actor.IsBusiness() && actor.Kind != domain.ActorAdmin {
		return nil, domain.Forbidden(op, "only the business can quote a booking")
	}
	if err := validateParams(op, params); err != nil {
		return nil, err
	}

	b, err := s.Bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.CanAccess(actor) {
		return nil, domain.Forbidden(op, "booking does not belong to the caller")
	}
	if !b.RequiresQuote {
		return nil, domain.WithOp(domain.ErrQuoteNotRequired, op)
	}
	if b.Status != domain.BookingPending || b.QuoteStatus != domain.QuotePending {
		return nil, domain.IllegalTransitionf(op, "quote", string(b.QuoteStatus), string(domain.QuoteProvided),
			"booking status is %s", b.Status)
	}

	now := s.Now()
	q := &domain.Quote{
		ID:         uuid.New(),
		BookingID:  b.ID,
		BusinessID: b.BusinessID,
		CreatedAt:  now,
	}
	for _, line := range params.Services {
		item := domain.QuoteItem{
			ID:             uuid.New(),
			Description:    line.Description,
			Quantity:       line.Quantity,
			UnitPriceCents: line.UnitPriceCents,
			Currency:       line.Currency,
			Status:         domain.QuoteItemPending,
		}
		if err := s.price(ctx, &item); err != nil {
			return nil, err
		}
		q.Services = append(q.Services, item)
	}
	q.Recompute(b.ServicePriceUSDCents, s.platformFee, now)

	b.QuoteID = q.ID
	b.QuoteAmountCents = q.QuoteAmountCents
	b.PlatformFeeCents = q.PlatformFeeCents
	b.SetQuoteStatus(actor, domain.QuoteProvided, now)
	if err := b.Transition(op, domain.System(), domain.BookingConfirmed, "quote provided", now); err != nil {
		return nil, err
	}

	if err := s.Bookings.CreateQuote(ctx, q); err != nil {
		return nil, domain.Internal(err, op, "failed to create quote")
	}
	if err := s.Bookings.SaveBooking(ctx, b); err != nil {
		return nil, err
	}

	s.Logger.Info("quote provided",
		"booking_id", b.ID,
		"quote_id", q.ID,
		"lines", len(q.Services),
		"quote_amount_cents", q.QuoteAmountCents,
		"platform_fee_cents", q.PlatformFeeCents,
	)
	if telemetry.Business != nil {
		telemetry.Business.QuotesDerived.WithLabelValues(string(domain.QuoteProvided)).Inc()
		telemetry.Business.BookingTransitions.WithLabelValues(string(domain.BookingConfirmed), string(domain.ActorSystem)).Inc()
	}

	var ev domain.Events
	_, addr := s.customerEmail(ctx, b.CustomerID)
	s.mail(&ev, "quote.provided", b.ID, addr, email.SummaryEmail{
		SubjectLine: "Your quote for " + b.ServiceName,
		Heading:     "Your quote is ready",
		Intro:       "Accept or reject each line, or ask the provider to revise it.",
		Rows:        quoteRows(b, q),
		TotalLabel:  "Total including fees",
		Total:       usd(b.TotalCents()),
		ActionLabel: "Review quote",
		ActionURL:   s.link("bookings", b.ID.String(), "quote"),
	})
	s.notify(&ev, "quote.provided", b.ID, b.CustomerID, NotifyQuoteUpdate, domain.PriorityHigh,
		"Quote ready", fmt.Sprintf("%s quoted %s for %s", ref(b.ID), usd(b.TotalCents()), b.ServiceName),
		map[string]string{"booking_id": b.ID.String(), "quote_id": q.ID.String()})
	ev.Lifecycle("quote.provided", b.ID, map[string]string{"quote_id": q.ID.String()})
	ev.Lifecycle("booking.confirmed", b.ID, map[string]string{"actor": string(domain.ActorSystem)})

	return &domain.BookingResult{Booking: b, Quote: q, Events: ev}, nil
}

// AcceptQuote accepts every open line and locks their rates.
func (s *bookingService) AcceptQuote(ctx context.Context, actor domain.Actor, bookingID uuid.UUID) (res *domain.BookingResult, err error) {
	const op = "quote.accept"
	ctx, span := startSpan(ctx, op,
		attribute.String("actor", actor.String()),
		attribute.String("booking_id", bookingID.String()),
	)
	defer func() { endSpan(span, err) }()

	b, q, err := s.loadQuote(ctx, op, actor, bookingID)
	if err != nil {
		return nil, err
	}

	now := s.Now()
	changed := 0
	for i := range q.Services {
		it := &q.Services[i]
		if it.Status == domain.QuoteItemAccepted || it.Status == domain.QuoteItemRejected {
			continue
		}
		if _, err := q.TransitionItem(op, actor, it.ID, domain.QuoteItemAccepted, now); err != nil {
			return nil, err
		}
		changed++
	}
	if changed == 0 {
		return &domain.BookingResult{Booking: b, Quote: q}, nil
	}
	if err := s.lockRates(ctx, q, now); err != nil {
		return nil, err
	}

	var ev domain.Events
	if err := s.applyQuote(ctx, op, actor, b, q, "quote accepted", &ev); err != nil {
		return nil, err
	}
	s.quoteMessages(ctx, b, q, "quote.accepted", "Quote accepted",
		fmt.Sprintf("The customer accepted your quote for %s", b.ServiceName), &ev)
	return &domain.BookingResult{Booking: b, Quote: q, Events: ev}, nil
}

// RejectQuote rejects the whole quote, which cancels the booking and any
// unpaid invoice.
func (s *bookingService) RejectQuote(ctx context.Context, actor domain.Actor, bookingID uuid.UUID, reason string) (res *domain.BookingResult, err error) {
	const op = "quote.reject"
	ctx, span := startSpan(ctx, op,
		attribute.String("actor", actor.String()),
		attribute.String("booking_id", bookingID.String()),
	)
	defer func() { endSpan(span, err) }()

	if actor.Kind != domain.ActorCustomer && actor.Kind != domain.ActorAdmin {
		return nil, domain.Forbidden(op, "only the customer can reject a quote")
	}
	b, q, err := s.loadQuote(ctx, op, actor, bookingID)
	if err != nil {
		return nil, err
	}
	if q.Status == domain.QuoteDepositPaid || q.Status == domain.QuotePaid {
		return nil, domain.IllegalTransitionf(op, "quote", string(q.Status), string(domain.QuoteRejected),
			"payment has been collected")
	}
	if q.Status == domain.QuoteRejected {
		return &domain.BookingResult{Booking: b, Quote: q}, nil
	}

	now := s.Now()
	for i := range q.Services {
		q.Services[i].Status = domain.QuoteItemRejected
		if reason != "" {
			q.Services[i].CustomerNote = reason
		}
	}
	q.UpdatedAt = now

	var ev domain.Events
	if err := s.applyQuote(ctx, op, actor, b, q, reason, &ev); err != nil {
		return nil, err
	}
	s.quoteMessages(ctx, b, q, "quote.rejected", "Quote rejected",
		fmt.Sprintf("The customer rejected your quote for %s", b.ServiceName), &ev)
	return &domain.BookingResult{Booking: b, Quote: q, Events: ev}, nil
}

// RespondToQuoteItem records a customer decision on one line.
func (s *bookingService) RespondToQuoteItem(ctx context.Context, actor domain.Actor, bookingID, itemID uuid.UUID, params domain.RespondQuoteItemParams) (res *domain.BookingResult, err error) {
	const op = "quote.respond_item"
	ctx, span := startSpan(ctx, op,
		attribute.String("actor", actor.String()),
		attribute.String("booking_id", bookingID.String()),
		attribute.String("item_id", itemID.String()),
	)
	defer func() { endSpan(span, err) }()

	if err := validateParams(op, params); err != nil {
		return nil, err
	}
	b, q, err := s.loadQuote(ctx, op, actor, bookingID)
	if err != nil {
		return nil, err
	}

	now := s.Now()
	to := quoteActions[params.Action]
	it, err := q.TransitionItem(op, actor, itemID, to, now)
	if err != nil {
		return nil, err
	}
	if params.Note != "" {
		it.CustomerNote = params.Note
	}
	if to == domain.QuoteItemAccepted {
		if err := s.lockItem(ctx, it, now); err != nil {
			return nil, err
		}
		if q.Settled() {
			q.RatesLockedAt = &now
		}
	}

	var ev domain.Events
	if err := s.applyQuote(ctx, op, actor, b, q, params.Note, &ev); err != nil {
		return nil, err
	}
	title := "Quote line " + humanStatus(string(to))
	s.quoteMessages(ctx, b, q, "quote.item_"+string(to), title,
		fmt.Sprintf("%s: %s", it.Description, humanStatus(string(to))), &ev)
	return &domain.BookingResult{Booking: b, Quote: q, Events: ev}, nil
}

// EditQuoteItem answers an edit request with a new quantity and price.
func (s *bookingService) EditQuoteItem(ctx context.Context, actor domain.Actor, bookingID, itemID uuid.UUID, params domain.EditQuoteItemParams) (res *domain.BookingResult, err error) {
	const op = "quote.edit_item"
	ctx, span := startSpan(ctx, op,
		attribute.String("actor", actor.String()),
		attribute.String("booking_id", bookingID.String()),
		attribute.String("item_id", itemID.String()),
	)
	defer func() { endSpan(span, err) }()

	if err := validateParams(op, params); err != nil {
		return nil, err
	}
	b, q, err := s.loadQuote(ctx, op, actor, bookingID)
	if err != nil {
		return nil, err
	}

	now := s.Now()
	it, err := q.TransitionItem(op, actor, itemID, domain.QuoteItemEdited, now)
	if err != nil {
		return nil, err
	}
	it.Quantity = params.Quantity
	it.UnitPriceCents = params.UnitPriceCents
	it.BusinessNote = params.Note
	if err := s.price(ctx, it); err != nil {
		return nil, err
	}

	var ev domain.Events
	if err := s.applyQuote(ctx, op, actor, b, q, params.Note, &ev); err != nil {
		return nil, err
	}

	_, addr := s.customerEmail(ctx, b.CustomerID)
	s.mail(&ev, "quote.item_edited", b.ID, addr, email.SummaryEmail{
		SubjectLine: "Your quote for " + b.ServiceName + " was revised",
		Heading:     "A quote line was revised",
		Intro:       params.Note,
		Rows:        quoteRows(b, q),
		TotalLabel:  "Total including fees",
		Total:       usd(b.TotalCents()),
		ActionLabel: "Review quote",
		ActionURL:   s.link("bookings", b.ID.String(), "quote"),
	})
	s.notify(&ev, "quote.item_edited", b.ID, b.CustomerID, NotifyQuoteUpdate, domain.PriorityNormal,
		"Quote revised", fmt.Sprintf("%s now costs %s", it.Description, usd(it.TotalPriceCents)),
		map[string]string{"booking_id": b.ID.String(), "item_id": it.ID.String()})
	return &domain.BookingResult{Booking: b, Quote: q, Events: ev}, nil
}

// loadQuote fetches a booking and its quote for one of its parties. Quote
// decisions and edits only apply while the booking is confirmed.
func (s *bookingService) loadQuote(ctx context.Context, op string, actor domain.Actor, bookingID uuid.UUID) (*domain.Booking, *domain.Quote, error) {
	b, err := s.Bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}
	if !b.CanAccess(actor) {
		return nil, nil, domain.Forbidden(op, "booking does not belong to the caller")
	}
	if !b.RequiresQuote {
		return nil, nil, domain.WithOp(domain.ErrQuoteNotRequired, op)
	}
	if b.QuoteID == uuid.Nil {
		return nil, nil, domain.WithOp(domain.ErrQuoteNotFound, op)
	}
	if b.Status != domain.BookingConfirmed {
		return nil, nil, domain.IllegalTransitionf(op, "quote", string(b.QuoteStatus), string(b.QuoteStatus),
			"booking is %s", b.Status)
	}
	q, err := s.Bookings.GetQuote(ctx, b.QuoteID)
	if err != nil {
		return nil, nil, err
	}
	return b, q, nil
}

// applyQuote re-derives the quote after a line mutation and carries the
// result onto the booking. A fully rejected quote cancels the booking.
func (s *bookingService) applyQuote(ctx context.Context, op string, actor domain.Actor, b *domain.Booking, q *domain.Quote, reason string, ev *domain.Events) error {
	now := s.Now()
	derived := q.Recompute(b.ServicePriceUSDCents, s.platformFee, now)
	b.QuoteAmountCents = q.QuoteAmountCents
	b.PlatformFeeCents = q.PlatformFeeCents
	b.SetQuoteStatus(actor, derived, now)

	if derived == domain.QuoteRejected && b.Status == domain.BookingConfirmed {
		if err := b.Transition(op, domain.System(), domain.BookingCancelled, "quote rejected", now); err != nil {
			return err
		}
		s.cancelPayments(ctx, b, actor, reason, ev)
		if telemetry.Business != nil {
			telemetry.Business.BookingTransitions.WithLabelValues(string(domain.BookingCancelled), string(domain.ActorSystem)).Inc()
		}
		ev.Lifecycle("booking.cancelled", b.ID, map[string]string{"reason": "quote rejected"})
	}

	if err := s.Bookings.SaveQuote(ctx, q); err != nil {
		return err
	}
	if err := s.Bookings.SaveBooking(ctx, b); err != nil {
		return err
	}

	if telemetry.Business != nil {
		telemetry.Business.QuotesDerived.WithLabelValues(string(derived)).Inc()
	}
	s.Logger.Info("quote updated",
		"booking_id", b.ID,
		"quote_id", q.ID,
		"quote_status", derived,
		"quote_amount_cents", q.QuoteAmountCents,
	)
	ev.Lifecycle("quote."+string(derived), b.ID, map[string]string{"quote_id": q.ID.String()})
	return nil
}

// price converts a line at the current rate. Locked lines keep their rate.
func (s *bookingService) price(ctx context.Context, it *domain.QuoteItem) error {
	total := it.UnitPriceCents * int64(it.Quantity)
	if it.LockedRate != nil {
		it.UnitPriceUSDCents = currency.ConvertWithRate(it.UnitPriceCents, it.Currency, *it.LockedRate)
		it.TotalPriceCents = currency.ConvertWithRate(total, it.Currency, *it.LockedRate)
		return nil
	}
	conv, err := s.Rates.ConvertToUSD(ctx, total, it.Currency)
	if err != nil {
		return err
	}
	it.Currency = conv.FromCurrency
	it.ConversionRate = conv.Rate
	it.UnitPriceUSDCents = currency.ConvertWithRate(it.UnitPriceCents, it.Currency, conv.Rate)
	it.TotalPriceCents = conv.ToCents
	return nil
}

// lockItem freezes the rate of an accepted line at the rate in force now.
func (s *bookingService) lockItem(ctx context.Context, it *domain.QuoteItem, now time.Time) error {
	if it.LockedRate != nil {
		return nil
	}
	quote, err := s.Rates.Rate(ctx, it.Currency)
	if err != nil {
		return err
	}
	rate := quote.Rate
	at := now
	it.LockedRate = &rate
	it.LockedAt = &at
	it.ConversionRate = rate
	return s.price(ctx, it)
}

// lockRates locks every accepted line.
func (s *bookingService) lockRates(ctx context.Context, q *domain.Quote, now time.Time) error {
	for i := range q.Services {
		if q.Services[i].Status != domain.QuoteItemAccepted {
			continue
		}
		if err := s.lockItem(ctx, &q.Services[i], now); err != nil {
			return err
		}
	}
	q.RatesLockedAt = &now
	return nil
}

// quoteMessages tells the business about a customer decision.
func (s *bookingService) quoteMessages(ctx context.Context, b *domain.Booking, q *domain.Quote, name, title, message string, ev *domain.Events) {
	if biz := s.business(ctx, b.BusinessID); biz != nil {
		s.mail(ev, name, b.ID, biz.Email, email.SummaryEmail{
			SubjectLine: title + ": booking " + ref(b.ID),
			Heading:     title,
			Intro:       message,
			Rows:        quoteRows(b, q),
			TotalLabel:  "Quote status",
			Total:       humanStatus(string(b.QuoteStatus)),
		})
	}
	s.notify(ev, name, b.ID, b.BusinessID, NotifyQuoteUpdate, domain.PriorityNormal, title, message,
		map[string]string{"booking_id": b.ID.String(), "quote_status": string(b.QuoteStatus)})
}

func quoteRows(b *domain.Booking, q *domain.Quote) []email.Row {
	rows := make([]email.Row, 0, len(q.Services)+2)
	if b.ServicePriceUSDCents > 0 {
		rows = append(rows, email.Row{Label: b.ServiceName, Value: usd(b.ServicePriceUSDCents)})
	}
	for _, it := range q.Services {
		label := fmt.Sprintf("%d x %s (%s)", it.Quantity, it.Description, humanStatus(string(it.Status)))
		rows = append(rows, email.Row{Label: label, Value: usd(it.TotalPriceCents)})
	}
	rows = append(rows, email.Row{Label: "Platform fee", Value: usd(q.PlatformFeeCents)})
	return rows
}
