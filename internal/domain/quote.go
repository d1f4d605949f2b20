package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// QuoteStatus is the booking-level quote state. Once a quote exists it is
// always DeriveQuoteStatus over the line items. The quote record itself
// additionally advances to deposit_paid and paid.
type QuoteStatus string

const (
	QuoteNotRequired       QuoteStatus = "not_required"
	QuotePending           QuoteStatus = "pending"
	QuoteProvided          QuoteStatus = "provided"
	QuoteAccepted          QuoteStatus = "accepted"
	QuoteRejected          QuoteStatus = "rejected"
	QuoteEditRequested     QuoteStatus = "edit_requested"
	QuoteEdited            QuoteStatus = "edited"
	QuotePartiallyAccepted QuoteStatus = "partially_accepted"
	QuoteDepositPaid       QuoteStatus = "deposit_paid"
	QuotePaid              QuoteStatus = "paid"
)

// QuoteItemStatus is the per-line customer decision.
type QuoteItemStatus string

const (
	QuoteItemPending       QuoteItemStatus = "pending"
	QuoteItemAccepted      QuoteItemStatus = "accepted"
	QuoteItemRejected      QuoteItemStatus = "rejected"
	QuoteItemEditRequested QuoteItemStatus = "edit_requested"
	QuoteItemEdited        QuoteItemStatus = "edited"
)

// AllQuoteItemStatuses lists every line status.
var AllQuoteItemStatuses = []QuoteItemStatus{
	QuoteItemPending, QuoteItemAccepted, QuoteItemRejected, QuoteItemEditRequested, QuoteItemEdited,
}

// Quote errors.
var (
	ErrQuoteNotFound     = &Error{Code: ENOTFOUND, Message: "Quote not found"}
	ErrQuoteItemNotFound = &Error{Code: ENOTFOUND, Message: "Quote item not found"}
	ErrQuoteNotRequired  = &Error{Code: EINVALID, Message: "Booking does not require a quote"}
	ErrQuoteVersion      = &Error{Code: ECONFLICT, Message: "Quote was modified concurrently, retry"}
)

// QuoteItem is one priced service line.
type QuoteItem struct {
	ID          uuid.UUID `json:"id"`
	Description string    `json:"description"`
	Quantity    int       `json:"quantity"`

	UnitPriceCents int64  `json:"unit_price_cents"`
	Currency       string `json:"currency"`

	// Converted settlement amounts, refreshed until the rate is locked.
	UnitPriceUSDCents int64           `json:"unit_price_usd_cents"`
	TotalPriceCents   int64           `json:"total_price_cents"`
	ConversionRate    decimal.Decimal `json:"conversion_rate"`

	// Locked at acceptance; later rate drift must not touch these.
	LockedRate *decimal.Decimal `json:"locked_rate,omitempty"`
	LockedAt   *time.Time       `json:"locked_at,omitempty"`

	Status       QuoteItemStatus `json:"status"`
	CustomerNote string          `json:"customer_note,omitempty"`
	BusinessNote string          `json:"business_note,omitempty"`
}

// Quote belongs to exactly one booking.
type Quote struct {
	ID         uuid.UUID
	BookingID  uuid.UUID
	BusinessID uuid.UUID
	Services   []QuoteItem
	Status     QuoteStatus

	// Settlement amounts.
	AmountCents      int64 // sum of service lines
	QuoteAmountCents int64 // base service + lines, pre-fee
	PlatformFeeCents int64

	RatesLockedAt *time.Time

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Item returns the line with the given id.
func (q *Quote) Item(id uuid.UUID) (*QuoteItem, bool) {
	for i := range q.Services {
		if q.Services[i].ID == id {
			return &q.Services[i], true
		}
	}
	return nil, false
}

// ItemStatuses returns the current line statuses.
func (q *Quote) ItemStatuses() []QuoteItemStatus {
	out := make([]QuoteItemStatus, len(q.Services))
	for i, s := range q.Services {
		out[i] = s.Status
	}
	return out
}

// QuoteItemTransitions gates per-line decisions. Business rows are keyed
// under ActorDistributor for both business kinds.
var QuoteItemTransitions = TransitionTable[QuoteItemStatus]{
	QuoteItemPending: {
		ActorCustomer: {QuoteItemAccepted, QuoteItemRejected, QuoteItemEditRequested},
		ActorAdmin:    {QuoteItemAccepted, QuoteItemRejected, QuoteItemEditRequested},
	},
	QuoteItemEdited: {
		ActorCustomer: {QuoteItemAccepted, QuoteItemRejected, QuoteItemEditRequested},
		ActorAdmin:    {QuoteItemAccepted, QuoteItemRejected, QuoteItemEditRequested},
	},
	QuoteItemEditRequested: {
		ActorDistributor: {QuoteItemEdited},
		ActorAdmin:       {QuoteItemEdited},
	},
	QuoteItemAccepted: {},
	QuoteItemRejected: {},
}

// DeriveQuoteStatus projects line statuses onto the booking's quote status.
// It is total over every combination and idempotent.
func DeriveQuoteStatus(items []QuoteItemStatus) QuoteStatus {
	if len(items) == 0 {
		return QuoteProvided
	}

	counts := make(map[QuoteItemStatus]int, len(items))
	for _, s := range items {
		counts[s]++
	}
	n := len(items)

	switch {
	case counts[QuoteItemAccepted] == n:
		return QuoteAccepted
	case counts[QuoteItemRejected] == n:
		return QuoteRejected
	case counts[QuoteItemEditRequested] > 0:
		return QuoteEditRequested
	case counts[QuoteItemEdited] > 0:
		return QuoteEdited
	case counts[QuoteItemAccepted] > 0:
		return QuotePartiallyAccepted
	default:
		return QuoteProvided
	}
}

// TransitionItem applies a checked per-line decision.
func (q *Quote) TransitionItem(op string, a Actor, itemID uuid.UUID, to QuoteItemStatus, now time.Time) (*QuoteItem, error) {
	it, ok := q.Item(itemID)
	if !ok {
		return nil, WithOp(ErrQuoteItemNotFound, op)
	}
	if err := QuoteItemTransitions.Check(op, "quote_item", it.Status, to, actorForBooking(a)); err != nil {
		return nil, err
	}
	it.Status = to
	q.UpdatedAt = now
	return it, nil
}

// Recompute refreshes the derived status and the settlement totals.
// Rejected lines drop out of the amount.
func (q *Quote) Recompute(serviceUSDCents int64, fee func(int64) int64, now time.Time) QuoteStatus {
	var amount int64
	for _, s := range q.Services {
		if s.Status != QuoteItemRejected {
			amount += s.TotalPriceCents
		}
	}
	q.AmountCents = amount
	q.QuoteAmountCents = serviceUSDCents + amount
	q.PlatformFeeCents = fee(q.QuoteAmountCents)
	if q.Status != QuoteDepositPaid && q.Status != QuotePaid {
		q.Status = DeriveQuoteStatus(q.ItemStatuses())
	}
	q.UpdatedAt = now
	return DeriveQuoteStatus(q.ItemStatuses())
}

// Settled reports whether every line has a final answer and at least one
// was accepted, the point at which the quote can be invoiced.
func (q *Quote) Settled() bool {
	accepted := false
	for _, s := range q.Services {
		switch s.Status {
		case QuoteItemAccepted:
			accepted = true
		case QuoteItemRejected:
		default:
			return false
		}
	}
	return accepted
}
