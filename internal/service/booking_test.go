package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/chandlery/internal/domain"
)

func requestBooking(t *testing.T, h *harness, biz domain.Business, priceCents int64, quoted bool) *domain.BookingResult {
	t.Helper()
	res, err := h.svc.Bookings.CreateBooking(t.Context(), h.customerActor(), domain.CreateBookingParams{
		BusinessID:        biz.ID,
		ServiceName:       "Hull survey",
		ServicePriceCents: priceCents,
		Currency:          "USD",
		ScheduledAt:       h.now.Add(72 * time.Hour),
		RequiresQuote:     quoted,
	})
	require.NoError(t, err)
	return res
}

func quoteLines() domain.AddQuoteParams {
	return domain.AddQuoteParams{Services: []domain.QuoteLine{
		{Description: "Antifouling", Quantity: 2, UnitPriceCents: 7500, Currency: "USD"},
		{Description: "Zinc anodes", Quantity: 1, UnitPriceCents: 5000, Currency: "USD"},
	}}
}

func TestCreateBooking(t *testing.T) {
	h := newHarness(t)
	yard := h.addBusiness("boatyard", true)

	res := requestBooking(t, h, yard, 10000, false)

	b := res.Booking
	assert.Equal(t, domain.BookingPending, b.Status)
	assert.Equal(t, domain.QuoteNotRequired, b.QuoteStatus)
	assert.Equal(t, domain.CompletionPending, b.CompletedStatus)
	assert.Equal(t, domain.BookingUnpaid, b.PaymentStatus)
	assert.Equal(t, int64(10000), b.QuoteAmountCents)
	assert.Equal(t, int64(1000), b.PlatformFeeCents)
	assert.Equal(t, hashToken(h.tokens[0]), b.ConfirmationToken)
	assert.Equal(t, 2, res.Events.Count(domain.EventEmail))
}

func TestConfirmBooking_TokenIsSingleUse(t *testing.T) {
	h := newHarness(t)
	yard := h.addBusiness("boatyard", true)
	res := requestBooking(t, h, yard, 10000, false)

	confirmed, err := h.svc.Bookings.ConfirmBooking(t.Context(), h.tokens[0])
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, confirmed.Booking.Status)
	require.NotEmpty(t, confirmed.Booking.StatusHistory)
	last := confirmed.Booking.StatusHistory[len(confirmed.Booking.StatusHistory)-1]
	assert.Equal(t, domain.ActorDistributor, last.Actor)

	_, err = h.svc.Bookings.ConfirmBooking(t.Context(), h.tokens[0])
	assert.ErrorIs(t, err, domain.ErrTokenUsed)
	_, err = h.svc.Bookings.DeclineBooking(t.Context(), h.tokens[0], "double booked")
	assert.ErrorIs(t, err, domain.ErrTokenUsed)

	assert.Equal(t, domain.BookingConfirmed, h.booking(t, res.Booking.ID).Status)
}

func TestDeclineBooking(t *testing.T) {
	h := newHarness(t)
	yard := h.addBusiness("boatyard", true)
	res := requestBooking(t, h, yard, 10000, false)

	declined, err := h.svc.Bookings.DeclineBooking(t.Context(), h.tokens[0], "yard closed that week")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingDeclined, declined.Booking.Status)
	assert.Equal(t, "yard closed that week", h.booking(t, res.Booking.ID).RejectionReason)
}

func TestConfirmBooking_ExpiredToken(t *testing.T) {
	h := newHarness(t)
	yard := h.addBusiness("boatyard", true)
	requestBooking(t, h, yard, 10000, false)

	h.now = h.now.Add(7*24*time.Hour + time.Minute)
	_, err := h.svc.Bookings.ConfirmBooking(t.Context(), h.tokens[0])
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)
}

func TestAddQuote_ConfirmsBooking(t *testing.T) {
	h := newHarness(t)
	yard := h.addBusiness("boatyard", true)
	res := requestBooking(t, h, yard, 5000, true)
	distributor := domain.BusinessActor(domain.BusinessDistributor, yard.ID)

	_, err := h.svc.Bookings.ConfirmBooking(t.Context(), h.tokens[0])
	assert.ErrorIs(t, err, domain.ErrQuoteRequired)
	assert.Equal(t, domain.BookingPending, h.booking(t, res.Booking.ID).Status, "an early click must not burn the token")

	_, err = h.svc.Bookings.AddQuote(t.Context(), h.customerActor(), res.Booking.ID, quoteLines())
	assert.Equal(t, domain.EFORBIDDEN, domain.ErrorCode(err))

	quoted, err := h.svc.Bookings.AddQuote(t.Context(), distributor, res.Booking.ID, quoteLines())
	require.NoError(t, err)

	b := quoted.Booking
	assert.Equal(t, domain.BookingConfirmed, b.Status)
	assert.Equal(t, domain.QuoteProvided, b.QuoteStatus)
	assert.Equal(t, int64(25000), b.QuoteAmountCents)
	assert.Equal(t, int64(2500), b.PlatformFeeCents)

	q := quoted.Quote
	require.NotNil(t, q)
	assert.Equal(t, int64(20000), q.AmountCents)
	assert.Equal(t, int64(25000), q.QuoteAmountCents)
	assert.Len(t, q.Services, 2)

	_, err = h.svc.Bookings.AddQuote(t.Context(), distributor, res.Booking.ID, quoteLines())
	assert.True(t, domain.IsIllegalTransition(err), "a booking is quoted once")

	_, err = h.svc.Bookings.ConfirmBooking(t.Context(), h.tokens[0])
	assert.ErrorIs(t, err, domain.ErrTokenUsed)
}

func TestQuote_PerItemResponses(t *testing.T) {
	h := newHarness(t)
	yard := h.addBusiness("boatyard", true)
	res := requestBooking(t, h, yard, 5000, true)
	distributor := domain.BusinessActor(domain.BusinessDistributor, yard.ID)
	quoted, err := h.svc.Bookings.AddQuote(t.Context(), distributor, res.Booking.ID, quoteLines())
	require.NoError(t, err)
	paint, anodes := quoted.Quote.Services[0].ID, quoted.Quote.Services[1].ID

	_, err = h.svc.Bookings.CreateBookingPayment(t.Context(), h.customerActor(), res.Booking.ID)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err), "quote must be settled before payment")

	edit, err := h.svc.Bookings.RespondToQuoteItem(t.Context(), h.customerActor(), res.Booking.ID, anodes,
		domain.RespondQuoteItemParams{Action: domain.QuoteActionRequestEdit, Note: "two anodes please"})
	require.NoError(t, err)
	assert.Equal(t, domain.QuoteEditRequested, edit.Booking.QuoteStatus)

	edited, err := h.svc.Bookings.EditQuoteItem(t.Context(), distributor, res.Booking.ID, anodes,
		domain.EditQuoteItemParams{Quantity: 2, UnitPriceCents: 5000, Note: "done"})
	require.NoError(t, err)
	assert.Equal(t, domain.QuoteEdited, edited.Booking.QuoteStatus)
	assert.Equal(t, int64(5000+15000+10000), edited.Booking.QuoteAmountCents)

	_, err = h.svc.Bookings.RespondToQuoteItem(t.Context(), h.customerActor(), res.Booking.ID, paint,
		domain.RespondQuoteItemParams{Action: domain.QuoteActionAccept})
	require.NoError(t, err)
	partial, err := h.svc.Bookings.RespondToQuoteItem(t.Context(), h.customerActor(), res.Booking.ID, anodes,
		domain.RespondQuoteItemParams{Action: domain.QuoteActionReject, Note: "will fit them myself"})
	require.NoError(t, err)

	b := partial.Booking
	assert.Equal(t, domain.QuotePartiallyAccepted, b.QuoteStatus)
	assert.Equal(t, domain.BookingConfirmed, b.Status)
	assert.Equal(t, int64(20000), b.QuoteAmountCents, "rejected lines drop out of the total")
	assert.Equal(t, int64(2000), b.PlatformFeeCents)
	require.NotNil(t, partial.Quote.Services[0].LockedRate, "accepting a line locks its rate")

	paid, err := h.svc.Bookings.CreateBookingPayment(t.Context(), h.customerActor(), res.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(11000), paid.Invoice.AmountCents)
	assert.Equal(t, int64(11000), h.billing.InvoiceTotal(paid.Invoice.GatewayInvoiceID))
}

func TestRejectQuote_CancelsBooking(t *testing.T) {
	h := newHarness(t)
	yard := h.addBusiness("boatyard", true)
	res := requestBooking(t, h, yard, 5000, true)
	_, err := h.svc.Bookings.AddQuote(t.Context(), domain.BusinessActor(domain.BusinessDistributor, yard.ID), res.Booking.ID, quoteLines())
	require.NoError(t, err)

	rejected, err := h.svc.Bookings.RejectQuote(t.Context(), h.customerActor(), res.Booking.ID, "too expensive")
	require.NoError(t, err)

	assert.Equal(t, domain.QuoteRejected, rejected.Booking.QuoteStatus)
	assert.Equal(t, domain.BookingCancelled, rejected.Booking.Status)
	for _, it := range rejected.Quote.Services {
		assert.Equal(t, domain.QuoteItemRejected, it.Status)
	}
}

func TestBookingPayments_DepositThenBalance(t *testing.T) {
	h := newHarness(t)
	yard := h.addBusiness("boatyard", true)
	res := requestBooking(t, h, yard, 10001, false)
	id := res.Booking.ID
	customer := h.customerActor()
	distributor := domain.BusinessActor(domain.BusinessDistributor, yard.ID)

	_, err := h.svc.Bookings.CreateBookingPayment(t.Context(), customer, id)
	require.True(t, domain.IsIllegalTransition(err), "pending bookings cannot be paid")

	_, err = h.svc.Bookings.ConfirmBooking(t.Context(), h.tokens[0])
	require.NoError(t, err)

	_, err = h.svc.Bookings.UpdateCompletionStatus(t.Context(), distributor, id, domain.CompletionRequested, "")
	assert.ErrorIs(t, err, domain.ErrDepositNotPaid)
	_, err = h.svc.Bookings.CreateBalancePayment(t.Context(), customer, id)
	assert.ErrorIs(t, err, domain.ErrDepositNotPaid)

	deposit, err := h.svc.Bookings.CreateBookingPayment(t.Context(), customer, id)
	require.NoError(t, err)
	again, err := h.svc.Bookings.CreateBookingPayment(t.Context(), customer, id)
	require.NoError(t, err)
	assert.Equal(t, deposit.Invoice.GatewayInvoiceID, again.Invoice.GatewayInvoiceID)
	assert.Equal(t, 1, h.billing.Calls("CreateInvoice"))

	h.pay(t, deposit.Invoice.GatewayInvoiceID, "evt_deposit")
	b := h.booking(t, id)
	assert.Equal(t, domain.BookingDepositPaid, b.PaymentStatus)

	_, err = h.svc.Bookings.UpdateCompletionStatus(t.Context(), distributor, id, domain.CompletionRequested, "")
	require.NoError(t, err)

	balance, err := h.svc.Bookings.CreateBalancePayment(t.Context(), customer, id)
	require.NoError(t, err)
	replay, err := h.svc.Bookings.CreateBalancePayment(t.Context(), customer, id)
	require.NoError(t, err)
	assert.Equal(t, balance.Invoice.GatewayInvoiceID, replay.Invoice.GatewayInvoiceID)

	total := b.TotalCents()
	assert.Equal(t, int64(11001), total)
	assert.Equal(t, int64(5501), deposit.Invoice.AmountCents)
	assert.Equal(t, int64(5500), balance.Invoice.AmountCents)
	assert.Equal(t, total, deposit.Invoice.AmountCents+balance.Invoice.AmountCents)
	assert.Equal(t, total, h.billing.InvoiceTotal(deposit.Invoice.GatewayInvoiceID)+h.billing.InvoiceTotal(balance.Invoice.GatewayInvoiceID))
	assert.Equal(t, b.PlatformFeeCents, deposit.Invoice.PlatformFee+balance.Invoice.PlatformFee)

	_, err = h.svc.Bookings.UpdateCompletionStatus(t.Context(), customer, id, domain.CompletionCompleted, "")
	assert.ErrorIs(t, err, domain.ErrBalanceNotPaid)

	h.pay(t, balance.Invoice.GatewayInvoiceID, "evt_balance")
	assert.Equal(t, domain.BookingPaid, h.booking(t, id).PaymentStatus)

	done, err := h.svc.Bookings.UpdateCompletionStatus(t.Context(), customer, id, domain.CompletionCompleted, "")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCompleted, done.Booking.Status)
	assert.Equal(t, domain.CompletionCompleted, done.Booking.CompletedStatus)
	assert.Len(t, done.Events.Named("booking.payout_eligible"), 1)
}

func TestCompletion_RejectNeedsReason(t *testing.T) {
	h := newHarness(t)
	yard := h.addBusiness("boatyard", true)
	res := requestBooking(t, h, yard, 10000, false)
	_, err := h.svc.Bookings.ConfirmBooking(t.Context(), h.tokens[0])
	require.NoError(t, err)
	deposit, err := h.svc.Bookings.CreateBookingPayment(t.Context(), h.customerActor(), res.Booking.ID)
	require.NoError(t, err)
	h.pay(t, deposit.Invoice.GatewayInvoiceID, "evt_deposit")
	_, err = h.svc.Bookings.UpdateCompletionStatus(t.Context(), domain.BusinessActor(domain.BusinessDistributor, yard.ID), res.Booking.ID, domain.CompletionRequested, "")
	require.NoError(t, err)

	_, err = h.svc.Bookings.UpdateCompletionStatus(t.Context(), h.customerActor(), res.Booking.ID, domain.CompletionRejected, "")
	assert.ErrorIs(t, err, domain.ErrRejectionReason)

	rejected, err := h.svc.Bookings.UpdateCompletionStatus(t.Context(), h.customerActor(), res.Booking.ID, domain.CompletionRejected, "hull still fouled")
	require.NoError(t, err)
	assert.Equal(t, domain.CompletionRejected, rejected.Booking.CompletedStatus)
	assert.Equal(t, domain.BookingConfirmed, rejected.Booking.Status)
	assert.Equal(t, "hull still fouled", rejected.Booking.RejectionReason)
}

func TestCancelledBooking_StaysCancelled(t *testing.T) {
	h := newHarness(t)
	yard := h.addBusiness("boatyard", true)
	res := requestBooking(t, h, yard, 10000, false)
	id := res.Booking.ID
	customer := h.customerActor()
	distributor := domain.BusinessActor(domain.BusinessDistributor, yard.ID)

	_, err := h.svc.Bookings.ConfirmBooking(t.Context(), h.tokens[0])
	require.NoError(t, err)
	deposit, err := h.svc.Bookings.CreateBookingPayment(t.Context(), customer, id)
	require.NoError(t, err)
	h.pay(t, deposit.Invoice.GatewayInvoiceID, "evt_deposit")

	_, err = h.svc.Bookings.UpdateBookingStatus(t.Context(), customer, id, domain.BookingCancelled, "boat sold")
	require.NoError(t, err)

	_, err = h.svc.Bookings.UpdateCompletionStatus(t.Context(), distributor, id, domain.CompletionRequested, "")
	assert.True(t, domain.IsIllegalTransition(err), "got %v", err)
	_, err = h.svc.Bookings.CreateBalancePayment(t.Context(), customer, id)
	assert.True(t, domain.IsIllegalTransition(err), "got %v", err)
	_, err = h.svc.Bookings.UpdateCompletionStatus(t.Context(), customer, id, domain.CompletionCompleted, "")
	assert.Error(t, err)

	b := h.booking(t, id)
	assert.Equal(t, domain.BookingCancelled, b.Status)
	assert.Equal(t, domain.CompletionPending, b.CompletedStatus)
	assert.Equal(t, 1, h.billing.Calls("CreateInvoice"), "no balance invoice is raised")
}

func TestQuote_DecisionsNeedConfirmedBooking(t *testing.T) {
	h := newHarness(t)
	yard := h.addBusiness("boatyard", true)
	res := requestBooking(t, h, yard, 5000, true)
	id := res.Booking.ID
	customer := h.customerActor()
	distributor := domain.BusinessActor(domain.BusinessDistributor, yard.ID)

	quoted, err := h.svc.Bookings.AddQuote(t.Context(), distributor, id, quoteLines())
	require.NoError(t, err)
	line := quoted.Quote.Services[0].ID

	_, err = h.svc.Bookings.UpdateBookingStatus(t.Context(), customer, id, domain.BookingCancelled, "changed plans")
	require.NoError(t, err)

	tests := []struct {
		name string
		call func() error
	}{
		{"accept", func() error {
			_, err := h.svc.Bookings.AcceptQuote(t.Context(), customer, id)
			return err
		}},
		{"reject", func() error {
			_, err := h.svc.Bookings.RejectQuote(t.Context(), customer, id, "late")
			return err
		}},
		{"respond", func() error {
			_, err := h.svc.Bookings.RespondToQuoteItem(t.Context(), customer, id, line,
				domain.RespondQuoteItemParams{Action: domain.QuoteActionRequestEdit})
			return err
		}},
		{"edit", func() error {
			_, err := h.svc.Bookings.EditQuoteItem(t.Context(), distributor, id, line,
				domain.EditQuoteItemParams{Quantity: 1, UnitPriceCents: 100})
			return err
		}},
		{"add", func() error {
			_, err := h.svc.Bookings.AddQuote(t.Context(), distributor, id, quoteLines())
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			assert.True(t, domain.IsIllegalTransition(err), "got %v", err)
		})
	}

	q, err := h.store.GetQuote(t.Context(), quoted.Quote.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QuoteProvided, h.booking(t, id).QuoteStatus)
	for _, it := range q.Services {
		assert.Equal(t, domain.QuoteItemPending, it.Status)
		assert.Nil(t, it.LockedRate)
	}
}
