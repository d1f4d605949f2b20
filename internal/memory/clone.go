package memory

import (
	"slices"
	"time"

	"github.com/dukerupert/chandlery/internal/domain"
)

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneOrder(o *domain.Order) *domain.Order {
	out := *o
	out.Items = slices.Clone(o.Items)
	out.History = slices.Clone(o.History)
	out.Refunds = make([]domain.RefundRecord, len(o.Refunds))
	for i, r := range o.Refunds {
		r.ItemIDs = slices.Clone(r.ItemIDs)
		out.Refunds[i] = r
	}
	out.PaidAt = cloneTime(o.PaidAt)
	return &out
}

func cloneBooking(b *domain.Booking) *domain.Booking {
	out := *b
	out.StatusHistory = slices.Clone(b.StatusHistory)
	out.PaidAt = cloneTime(b.PaidAt)
	return &out
}

func cloneQuote(q *domain.Quote) *domain.Quote {
	out := *q
	out.Services = make([]domain.QuoteItem, len(q.Services))
	for i, it := range q.Services {
		if it.LockedRate != nil {
			r := *it.LockedRate
			it.LockedRate = &r
		}
		it.LockedAt = cloneTime(it.LockedAt)
		out.Services[i] = it
	}
	out.RatesLockedAt = cloneTime(q.RatesLockedAt)
	return &out
}

func cloneInvoice(inv *domain.Invoice) *domain.Invoice {
	out := *inv
	out.PaidAt = cloneTime(inv.PaidAt)
	return &out
}

func cloneShipment(s *domain.Shipment) *domain.Shipment {
	out := *s
	out.ItemIDs = slices.Clone(s.ItemIDs)
	out.Rates = slices.Clone(s.Rates)
	out.LastWebhookData = slices.Clone(s.LastWebhookData)
	return &out
}
