package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/chandlery/internal/domain"
)

func paymentEntries(history []domain.HistoryEntry) int {
	n := 0
	for _, h := range history {
		if strings.HasPrefix(h.To, "payment:") {
			n++
		}
	}
	return n
}

func TestReconcile_OrderReplayIsNoop(t *testing.T) {
	h := newHarness(t)
	biz := h.addBusiness("chandler", true)
	p := h.addProduct(biz, "Windlass", 90000, 2)
	res := placeOrder(t, h, domain.OrderLine{ProductID: p.ID, Quantity: 1})
	_, err := h.svc.Orders.ConfirmOrder(t.Context(), h.tokens[0])
	require.NoError(t, err)
	o := h.order(t, res.Order.ID)

	first := h.pay(t, o.StripeInvoiceID, "evt_1")
	assert.False(t, first.Duplicate)
	assert.Equal(t, domain.InvoicePaid, first.Invoice.Status)
	assert.Equal(t, 1, first.Events.Count(domain.EventEmail))
	assert.Equal(t, 2, first.Events.Count(domain.EventNotification), "customer and business are told")

	second := h.pay(t, o.StripeInvoiceID, "evt_1")
	assert.True(t, second.Duplicate)
	assert.Empty(t, second.Events)

	o = h.order(t, o.ID)
	assert.Equal(t, domain.PaymentPaid, o.PaymentStatus)
	assert.Equal(t, "pi_evt_1", o.PaymentIntentID)
	require.NotNil(t, o.PaidAt)
	assert.Equal(t, 1, paymentEntries(o.History))

	events, err := h.svc.Ledger.History(t.Context(), first.Invoice.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.InvoicePending, events[1].From)
	assert.Equal(t, domain.InvoicePaid, events[1].To)
}

func TestReconcile_UnknownInvoice(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Payments.Reconcile(t.Context(), domain.PaymentEvent{
		Kind:             domain.PaymentEventPaid,
		GatewayInvoiceID: "in_unknown",
	})
	assert.ErrorIs(t, err, domain.ErrInvoiceNotFound)

	_, err = h.svc.Payments.Reconcile(t.Context(), domain.PaymentEvent{Kind: domain.PaymentEventPaid})
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestReconcile_BookingFailedThenPaid(t *testing.T) {
	h := newHarness(t)
	yard := h.addBusiness("boatyard", true)
	res := requestBooking(t, h, yard, 10000, false)
	_, err := h.svc.Bookings.ConfirmBooking(t.Context(), h.tokens[0])
	require.NoError(t, err)
	deposit, err := h.svc.Bookings.CreateBookingPayment(t.Context(), h.customerActor(), res.Booking.ID)
	require.NoError(t, err)
	gw := deposit.Invoice.GatewayInvoiceID

	failed, err := h.svc.Payments.Reconcile(t.Context(), domain.PaymentEvent{
		Kind:             domain.PaymentEventFailed,
		EventID:          "evt_fail",
		GatewayInvoiceID: gw,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceFailed, failed.Invoice.Status)
	assert.Equal(t, domain.BookingPaymentFailed, h.booking(t, res.Booking.ID).PaymentStatus)

	paid := h.pay(t, gw, "evt_retry")
	assert.Equal(t, domain.InvoicePaid, paid.Invoice.Status)
	assert.Equal(t, 2, paid.Events.Count(domain.EventEmail), "customer and business are emailed")

	b := h.booking(t, res.Booking.ID)
	assert.Equal(t, domain.BookingDepositPaid, b.PaymentStatus)
	assert.Equal(t, domain.BookingConfirmed, b.Status)
}

func TestReconcile_VoidedOrderInvoice(t *testing.T) {
	h := newHarness(t)
	biz := h.addBusiness("chandler", true)
	p := h.addProduct(biz, "Chart plotter", 65000, 2)
	res := placeOrder(t, h, domain.OrderLine{ProductID: p.ID, Quantity: 1})
	_, err := h.svc.Orders.ConfirmOrder(t.Context(), h.tokens[0])
	require.NoError(t, err)
	o := h.order(t, res.Order.ID)

	voided, err := h.svc.Payments.Reconcile(t.Context(), domain.PaymentEvent{
		Kind:             domain.PaymentEventVoided,
		EventID:          "evt_void",
		GatewayInvoiceID: o.StripeInvoiceID,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceCancelled, voided.Invoice.Status)

	o = h.order(t, o.ID)
	assert.Equal(t, domain.PaymentCancelled, o.PaymentStatus)
	assert.Equal(t, domain.ItemConfirmed, o.Items[0].Status, "payment events never move items")
}
