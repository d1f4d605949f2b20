package service

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/chandlery/internal/billing"
	"github.com/dukerupert/chandlery/internal/currency"
	"github.com/dukerupert/chandlery/internal/domain"
	"github.com/dukerupert/chandlery/internal/memory"
	"github.com/dukerupert/chandlery/internal/shipping"
)

// harness wires the real workflow engines to the memory store and the
// provider mocks. Tokens are predictable: tok-1, tok-2, ... in the order
// they are issued.
type harness struct {
	store    *memory.Store
	billing  *billing.MockProvider
	shipping *shipping.MockProvider
	svc      *Services
	clients  *Clients

	now      time.Time
	tokens   []string
	customer domain.User
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:    memory.NewStore(),
		billing:  billing.NewMockProvider(),
		shipping: shipping.NewMockProvider(),
		now:      time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		customer: domain.User{
			ID:        uuid.New(),
			Email:     "ada@example.com",
			FirstName: "Ada",
			LastName:  "Lovelace",
		},
	}
	h.store.PutUser(h.customer)

	h.clients = &Clients{
		Catalog:   h.store,
		Users:     h.store,
		Orders:    h.store,
		Bookings:  h.store,
		Invoices:  h.store,
		Shipments: h.store,
		Inventory: h.store,
		Billing:   h.billing,
		Shipping:  h.shipping,
		Rates:     currency.NewConverter(nil),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config: WorkflowConfig{
			BaseURL:  "https://chandlery.test",
			OpsEmail: "ops@chandlery.test",
		},
		Now: func() time.Time { return h.now },
		NewToken: func() (string, error) {
			tok := fmt.Sprintf("tok-%d", len(h.tokens)+1)
			h.tokens = append(h.tokens, tok)
			return tok, nil
		},
	}
	h.rewire(t, nil)
	return h
}

// rewire rebuilds the services after edit swaps collaborators, such as a
// repository that interleaves a concurrent writer.
func (h *harness) rewire(t *testing.T, edit func(c *Clients)) {
	t.Helper()
	c := *h.clients
	if edit != nil {
		edit(&c)
	}
	svc, err := New(&c)
	require.NoError(t, err)
	h.svc = svc
}

func (h *harness) customerActor() domain.Actor {
	return domain.Customer(h.customer.ID)
}

// addBusiness stores a distributor. Manual shipping keeps the carrier out
// of order tests that only care about money.
func (h *harness) addBusiness(name string, manualShipping bool) domain.Business {
	b := domain.Business{
		ID:              uuid.New(),
		Kind:            domain.BusinessDistributor,
		Name:            name,
		Email:           fmt.Sprintf("orders@%s.test", name),
		StripeAccountID: "acct_" + name,
		ShipFrom:        testAddress(name + " Warehouse"),
		ManualShipping:  manualShipping,
	}
	h.store.PutBusiness(b)
	return b
}

func (h *harness) addProduct(biz domain.Business, name string, cents int64, stock int) domain.Product {
	p := domain.Product{
		ID:             uuid.New(),
		BusinessID:     biz.ID,
		Name:           name,
		SKU:            "SKU-" + name,
		UnitPriceCents: cents,
		Currency:       "USD",
		StockQuantity:  stock,
		WeightGrams:    500,
		LengthCm:       20,
		WidthCm:        15,
		HeightCm:       10,
	}
	h.store.PutProduct(p)
	return p
}

func (h *harness) order(t *testing.T, id uuid.UUID) *domain.Order {
	t.Helper()
	o, err := h.store.GetOrder(t.Context(), id)
	require.NoError(t, err)
	return o
}

func (h *harness) booking(t *testing.T, id uuid.UUID) *domain.Booking {
	t.Helper()
	b, err := h.store.GetBooking(t.Context(), id)
	require.NoError(t, err)
	return b
}

// pay delivers a verified paid event for a gateway invoice.
func (h *harness) pay(t *testing.T, gatewayInvoiceID, eventID string) *domain.ReconcileResult {
	t.Helper()
	res, err := h.svc.Payments.Reconcile(t.Context(), domain.PaymentEvent{
		Kind:             domain.PaymentEventPaid,
		EventID:          eventID,
		GatewayInvoiceID: gatewayInvoiceID,
		PaymentIntentID:  "pi_" + eventID,
		AmountPaidCents:  h.billing.InvoiceTotal(gatewayInvoiceID),
		PaidAt:           h.now,
	})
	require.NoError(t, err)
	return res
}

func testAddress(name string) domain.Address {
	return domain.Address{
		Name:       name,
		Line1:      "1 Harbour Road",
		City:       "Portsmouth",
		State:      "NH",
		PostalCode: "03801",
		Country:    "US",
		Email:      "dock@example.com",
		Phone:      "6035550100",
	}
}
