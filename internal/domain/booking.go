package domain

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// BOOKING DOMAIN TYPES
// =============================================================================

// BookingStatus is the main booking state machine.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingCompleted BookingStatus = "completed"
	BookingDeclined  BookingStatus = "declined"
)

// CompletedStatus is the post-confirmation completion handshake. It moves
// independently of BookingStatus; JointStates constrains the pair.
type CompletedStatus string

const (
	CompletionPending   CompletedStatus = "pending"
	CompletionRequested CompletedStatus = "request_completed"
	CompletionCompleted CompletedStatus = "completed"
	CompletionRejected  CompletedStatus = "rejected"
)

// BookingPaymentStatus tracks the two-phase deposit/balance collection.
type BookingPaymentStatus string

const (
	BookingUnpaid        BookingPaymentStatus = "unpaid"
	BookingDepositPaid   BookingPaymentStatus = "deposit_paid"
	BookingPaid          BookingPaymentStatus = "paid"
	BookingPaymentFailed BookingPaymentStatus = "failed"
	BookingPaymentVoid   BookingPaymentStatus = "cancelled"
)

// Booking errors.
var (
	ErrBookingNotFound      = &Error{Code: ENOTFOUND, Message: "Booking not found"}
	ErrBookingVersion       = &Error{Code: ECONFLICT, Message: "Booking was modified concurrently, retry"}
	ErrQuoteRequired        = &Error{Code: EINVALID, Message: "Booking requires a quote before it can be confirmed"}
	ErrDepositNotPaid       = &Error{Code: EINVALID, Message: "Deposit must be paid first"}
	ErrBalanceNotPaid       = &Error{Code: EINVALID, Message: "Balance must be paid before completion"}
	ErrRejectionReason      = &Error{Code: EINVALID, Message: "A rejection reason is required"}
	ErrCompletionNotAllowed = &Error{Code: EINVALID, Message: "Completion state not allowed for this booking status"}
)

// Booking is a single service engagement between a customer and a business.
type Booking struct {
	ID           uuid.UUID
	CustomerID   uuid.UUID
	BusinessID   uuid.UUID
	BusinessKind BusinessKind

	ServiceName string
	Notes       string
	ScheduledAt time.Time

	// Native service price and its settlement conversion.
	ServicePriceCents    int64
	Currency             string
	ServicePriceUSDCents int64
	ConversionRate       decimal.Decimal

	Status          BookingStatus
	RequiresQuote   bool
	QuoteStatus     QuoteStatus
	QuoteID         uuid.UUID // uuid.Nil until a quote is provided
	CompletedStatus CompletedStatus
	RejectionReason string

	PaymentStatus BookingPaymentStatus
	PaidAt        *time.Time

	// Settlement amounts: QuoteAmountCents is the pre-fee total.
	QuoteAmountCents int64
	PlatformFeeCents int64

	ConfirmationToken string
	TokenExpiresAt    time.Time

	StatusHistory []HistoryEntry

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TotalCents is the amount plus platform fee the customer owes in full.
func (b *Booking) TotalCents() int64 {
	return b.QuoteAmountCents + b.PlatformFeeCents
}

// CanAccess reports whether the actor is a party to the booking.
func (b *Booking) CanAccess(a Actor) bool {
	switch a.Kind {
	case ActorAdmin, ActorSystem:
		return true
	case ActorCustomer:
		return b.CustomerID == a.ID
	default:
		return b.BusinessID == a.ID
	}
}

// Transition moves the main status after checking the role table and the
// quote guard. It appends a history entry.
func (b *Booking) Transition(op string, a Actor, to BookingStatus, reason string, now time.Time) error {
	if !b.CanAccess(a) {
		return Forbidden(op, "booking does not belong to the caller")
	}
	if err := BookingTransitions.Check(op, "booking", b.Status, to, actorForBooking(a)); err != nil {
		return err
	}
	if to == BookingConfirmed && b.RequiresQuote && b.QuoteStatus != QuoteProvided {
		return IllegalTransitionf(op, "booking", string(b.Status), string(to),
			"quote status is %s", b.QuoteStatus)
	}
	if !JointStateAllowed(to, b.CompletedStatus) {
		return IllegalTransitionf(op, "booking", string(b.Status), string(to),
			"completion status %s", b.CompletedStatus)
	}
	b.record(a, "status:"+string(b.Status), "status:"+string(to), reason, now)
	b.Status = to
	return nil
}

// TransitionCompletion moves the completion handshake. Only a confirmed
// booking takes part in it. The joint table is checked against both the
// current and the resulting pair.
func (b *Booking) TransitionCompletion(op string, a Actor, to CompletedStatus, reason string, now time.Time) error {
	if !b.CanAccess(a) {
		return Forbidden(op, "booking does not belong to the caller")
	}
	if b.Status != BookingConfirmed {
		return IllegalTransitionf(op, "completion", string(b.CompletedStatus), string(to),
			"booking is %s", b.Status)
	}
	if !JointStateAllowed(b.Status, b.CompletedStatus) {
		return IllegalTransitionf(op, "completion", string(b.CompletedStatus), string(to),
			"booking status %s does not admit completion status %s", b.Status, b.CompletedStatus)
	}
	if err := CompletionTransitions.Check(op, "completion", b.CompletedStatus, to, actorForBooking(a)); err != nil {
		return err
	}

	next := b.Status
	if to == CompletionCompleted {
		next = BookingCompleted
	}
	if !JointStateAllowed(next, to) {
		return IllegalTransitionf(op, "completion", string(b.CompletedStatus), string(to),
			"booking status %s does not admit completion status %s", next, to)
	}

	b.record(a, "completion:"+string(b.CompletedStatus), "completion:"+string(to), reason, now)
	b.CompletedStatus = to
	if to == CompletionRejected {
		b.RejectionReason = reason
	}
	if next != b.Status {
		b.record(System(), "status:"+string(b.Status), "status:"+string(next), "completion confirmed", now)
		b.Status = next
	}
	return nil
}

// RecordClaimed appends the history entry for a pending booking that was
// moved atomically by ClaimBookingToken.
func (b *Booking) RecordClaimed(a Actor, to BookingStatus, reason string, now time.Time) {
	b.record(a, "status:"+string(BookingPending), "status:"+string(to), reason, now)
	b.Status = to
}

// SetQuoteStatus records a change of the derived quote status.
func (b *Booking) SetQuoteStatus(a Actor, qs QuoteStatus, now time.Time) {
	if b.QuoteStatus == qs {
		return
	}
	b.record(a, "quote:"+string(b.QuoteStatus), "quote:"+string(qs), "", now)
	b.QuoteStatus = qs
}

// SetPaymentStatus records a payment status change.
func (b *Booking) SetPaymentStatus(a Actor, ps BookingPaymentStatus, reason string, now time.Time) {
	if b.PaymentStatus == ps {
		return
	}
	b.record(a, "payment:"+string(b.PaymentStatus), "payment:"+string(ps), reason, now)
	b.PaymentStatus = ps
}

func (b *Booking) record(a Actor, from, to, reason string, now time.Time) {
	b.StatusHistory = append(b.StatusHistory, HistoryEntry{
		ID:      uuid.New(),
		From:    from,
		To:      to,
		Actor:   a.Kind,
		ActorID: a.ID,
		Reason:  reason,
		At:      now,
	})
	b.UpdatedAt = now
}

// actorForBooking collapses both business kinds onto the distributor row;
// the booking tables do not distinguish them.
func actorForBooking(a Actor) ActorKind {
	if a.IsBusiness() {
		return ActorDistributor
	}
	return a.Kind
}

// BookingTransitions is the role-gated booking state machine. Business
// rows are keyed under ActorDistributor for both business kinds.
var BookingTransitions = TransitionTable[BookingStatus]{
	BookingPending: {
		ActorCustomer:    {BookingCancelled},
		ActorDistributor: {BookingConfirmed, BookingDeclined, BookingCancelled},
		ActorAdmin:       {BookingConfirmed, BookingDeclined, BookingCancelled},
		ActorSystem:      {BookingConfirmed},
	},
	BookingConfirmed: {
		ActorCustomer:    {BookingCancelled},
		ActorDistributor: {BookingCancelled},
		ActorAdmin:       {BookingCancelled},
		ActorSystem:      {BookingCompleted, BookingCancelled},
	},
	BookingCompleted: {},
	BookingDeclined:  {},
	BookingCancelled: {},
}

// CompletionTransitions gates the handshake: the business requests, the
// customer answers.
var CompletionTransitions = TransitionTable[CompletedStatus]{
	CompletionPending: {
		ActorDistributor: {CompletionRequested},
		ActorAdmin:       {CompletionRequested},
	},
	CompletionRejected: {
		ActorDistributor: {CompletionRequested},
		ActorAdmin:       {CompletionRequested},
	},
	CompletionRequested: {
		ActorCustomer: {CompletionCompleted, CompletionRejected},
		ActorAdmin:    {CompletionCompleted, CompletionRejected},
	},
	CompletionCompleted: {},
}

// JointStates lists every legal (status, completedStatus) combination.
// A cancelled booking keeps whatever completion state it was cancelled in,
// but TransitionCompletion never moves it further.
var JointStates = map[BookingStatus][]CompletedStatus{
	BookingPending:   {CompletionPending},
	BookingConfirmed: {CompletionPending, CompletionRequested, CompletionRejected},
	BookingCompleted: {CompletionCompleted},
	BookingCancelled: {CompletionPending, CompletionRequested, CompletionRejected},
	BookingDeclined:  {CompletionPending},
}

// JointStateAllowed reports whether the two booking state machines may
// hold the given pair of values at the same time.
func JointStateAllowed(s BookingStatus, c CompletedStatus) bool {
	return slices.Contains(JointStates[s], c)
}

// ParseBookingStatus validates a caller-supplied booking status.
func ParseBookingStatus(s string) (BookingStatus, error) {
	switch v := BookingStatus(s); v {
	case BookingPending, BookingConfirmed, BookingCancelled, BookingCompleted, BookingDeclined:
		return v, nil
	}
	return "", Invalid("booking.status", fmt.Sprintf("unknown booking status %q", s))
}

// ParseCompletedStatus validates a caller-supplied completion status.
func ParseCompletedStatus(s string) (CompletedStatus, error) {
	switch v := CompletedStatus(s); v {
	case CompletionPending, CompletionRequested, CompletionCompleted, CompletionRejected:
		return v, nil
	}
	return "", Invalid("booking.completion", fmt.Sprintf("unknown completion status %q", s))
}

// BookingRepository persists bookings and their quotes. Quotes live in
// their own table so they can be audited independently. Save methods use
// the Version field like OrderRepository.SaveOrder.
type BookingRepository interface {
	CreateBooking(ctx context.Context, b *Booking) error
	GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error)
	GetBookingByToken(ctx context.Context, token string) (*Booking, error)
	SaveBooking(ctx context.Context, b *Booking) error

	// ClaimBookingToken atomically moves a pending booking with an
	// unexpired token to status.
	ClaimBookingToken(ctx context.Context, token string, status BookingStatus, now time.Time) (uuid.UUID, error)

	CreateQuote(ctx context.Context, q *Quote) error
	GetQuote(ctx context.Context, id uuid.UUID) (*Quote, error)
	SaveQuote(ctx context.Context, q *Quote) error
}
