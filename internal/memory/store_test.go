package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/chandlery/internal/domain"
)

func newOrder(now time.Time, token string) *domain.Order {
	return &domain.Order{
		ID:     uuid.New(),
		Status: domain.ItemPending,
		Items: []domain.OrderItem{{
			ID:                uuid.New(),
			BusinessID:        uuid.New(),
			ProductID:         uuid.New(),
			Quantity:          1,
			Status:            domain.ItemPending,
			ConfirmationToken: token,
			TokenExpiresAt:    now.Add(time.Hour),
		}},
		CreatedAt: now,
	}
}

func TestClaimItemToken(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	s := NewStore()
	o := newOrder(now, "hash-1")
	require.NoError(t, s.CreateOrder(ctx, o))
	assert.Equal(t, 1, o.Version)

	orderID, itemID, err := s.ClaimItemToken(ctx, "hash-1", domain.ItemConfirmed, now)
	require.NoError(t, err)
	assert.Equal(t, o.ID, orderID)
	assert.Equal(t, o.Items[0].ID, itemID)

	_, _, err = s.ClaimItemToken(ctx, "hash-1", domain.ItemDeclined, now)
	assert.ErrorIs(t, err, domain.ErrTokenUsed)

	_, _, err = s.ClaimItemToken(ctx, "hash-unknown", domain.ItemConfirmed, now)
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)

	got, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ItemConfirmed, got.Items[0].Status)
	assert.Equal(t, 2, got.Version, "a claim bumps the version")
}

func TestClaimItemToken_Expired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	s := NewStore()
	o := newOrder(now, "hash-1")
	require.NoError(t, s.CreateOrder(ctx, o))

	_, _, err := s.ClaimItemToken(ctx, "hash-1", domain.ItemConfirmed, now.Add(time.Hour))
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)
}

func TestClaimToken_ExpiryWinsOverUse(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	s := NewStore()

	o := newOrder(now, "hash-item")
	require.NoError(t, s.CreateOrder(ctx, o))
	_, _, err := s.ClaimItemToken(ctx, "hash-item", domain.ItemConfirmed, now)
	require.NoError(t, err)

	b := &domain.Booking{
		ID:                uuid.New(),
		Status:            domain.BookingPending,
		ConfirmationToken: "hash-booking",
		TokenExpiresAt:    now.Add(time.Hour),
		CreatedAt:         now,
	}
	require.NoError(t, s.CreateBooking(ctx, b))
	_, err = s.ClaimBookingToken(ctx, "hash-booking", domain.BookingConfirmed, now)
	require.NoError(t, err)

	later := now.Add(2 * time.Hour)
	_, _, err = s.ClaimItemToken(ctx, "hash-item", domain.ItemDeclined, later)
	assert.ErrorIs(t, err, domain.ErrTokenInvalid, "spent and expired reads as expired")
	_, err = s.ClaimBookingToken(ctx, "hash-booking", domain.BookingDeclined, later)
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)

	_, err = s.ClaimBookingToken(ctx, "hash-booking", domain.BookingDeclined, now)
	assert.ErrorIs(t, err, domain.ErrTokenUsed, "spent but unexpired still reads as used")
}

func TestSaveOrder_VersionConflict(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	o := newOrder(time.Now(), "hash-1")
	require.NoError(t, s.CreateOrder(ctx, o))

	a, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	b, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)

	a.ShippingCents = 100
	require.NoError(t, s.SaveOrder(ctx, a))
	assert.Equal(t, 2, a.Version)

	b.ShippingCents = 200
	err = s.SaveOrder(ctx, b)
	assert.ErrorIs(t, err, domain.ErrOrderVersion)
	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))

	got, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.ShippingCents)
}

func TestGetOrder_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	o := newOrder(time.Now(), "hash-1")
	require.NoError(t, s.CreateOrder(ctx, o))

	got, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	got.Items[0].Status = domain.ItemCancelled

	again, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ItemPending, again.Items[0].Status)
}

func TestInventory(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	p := domain.Product{ID: uuid.New(), Name: "Shackle", StockQuantity: 3}
	s.PutProduct(p)

	removed, err := s.Decrement(ctx, p.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	qty, err := s.Quantity(ctx, p.ID)
	require.NoError(t, err)
	assert.Zero(t, qty, "stock floors at zero")

	require.NoError(t, s.Increment(ctx, p.ID, 2))
	qty, err = s.Quantity(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, qty)

	_, err = s.Decrement(ctx, uuid.New(), 1)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestTransitionInvoice(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	s := NewStore()
	inv := &domain.Invoice{
		ID:               uuid.New(),
		OrderID:          uuid.New(),
		Kind:             domain.InvoiceOrder,
		Status:           domain.InvoicePending,
		AmountCents:      5000,
		GatewayInvoiceID: "in_1",
		CreatedAt:        now,
	}
	require.NoError(t, s.CreateInvoice(ctx, inv))

	dup := *inv
	dup.ID = uuid.New()
	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(s.CreateInvoice(ctx, &dup)))

	pending := []domain.InvoiceStatus{domain.InvoicePending, domain.InvoiceFailed}
	moved, err := s.TransitionInvoice(ctx, inv.ID, pending, domain.InvoicePaid, &now, "pi_1", "paid")
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = s.TransitionInvoice(ctx, inv.ID, pending, domain.InvoicePaid, &now, "pi_1", "paid")
	require.NoError(t, err)
	assert.False(t, moved, "a replay leaves the row alone")

	got, err := s.GetInvoiceByGatewayID(ctx, "in_1")
	require.NoError(t, err)
	assert.Equal(t, domain.InvoicePaid, got.Status)
	assert.Equal(t, "pi_1", got.PaymentIntentID)
	require.NotNil(t, got.PaidAt)

	events, err := s.ListInvoiceEvents(ctx, inv.ID)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestCreateShipment_OnePerOrderAndBusiness(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	orderID, businessID := uuid.New(), uuid.New()

	first, created, err := s.CreateShipment(ctx, &domain.Shipment{ID: uuid.New(), OrderID: orderID, BusinessID: businessID})
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := s.CreateShipment(ctx, &domain.Shipment{ID: uuid.New(), OrderID: orderID, BusinessID: businessID})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}
