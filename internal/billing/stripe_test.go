package billing

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83"
)

// TestInvoiceLifecycle walks a draft through lines, finalize and void
func TestInvoiceLifecycle(t *testing.T) {
	ctx := context.Background()
	mock := NewMockProvider()

	cust, err := mock.CreateCustomer(ctx, CreateCustomerParams{Email: "crew@example.com", Name: "Crew"})
	require.NoError(t, err)

	inv, err := mock.CreateInvoice(ctx, CreateInvoiceParams{
		CustomerID:     cust.ID,
		Currency:       "usd",
		Metadata:       map[string]string{"kind": "booking", "booking_id": "b1"},
		IdempotencyKey: "booking-b1-deposit",
	})
	require.NoError(t, err)
	assert.Equal(t, InvoiceStatusDraft, inv.Status)

	_, err = mock.AddInvoiceItem(ctx, InvoiceItemParams{CustomerID: cust.ID, InvoiceID: inv.ID, AmountCents: 27500, Currency: "usd", Description: "Hull cleaning"})
	require.NoError(t, err)
	_, err = mock.AddInvoiceItem(ctx, InvoiceItemParams{CustomerID: cust.ID, InvoiceID: inv.ID, AmountCents: -13750, Currency: "usd", Description: "50% deposit discount"})
	require.NoError(t, err)
	assert.Equal(t, int64(13750), mock.InvoiceTotal(inv.ID))

	finalized, err := mock.FinalizeInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, InvoiceStatusOpen, finalized.Status)
	assert.NotEmpty(t, finalized.HostedURL)

	_, err = mock.AddInvoiceItem(ctx, InvoiceItemParams{InvoiceID: inv.ID, AmountCents: 100})
	assert.Error(t, err, "lines cannot be added once finalized")

	voided, err := mock.VoidInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, InvoiceStatusVoid, voided.Status)
	assert.False(t, voided.Collectible())
}

func TestMockProvider_CreateInvoiceIdempotent(t *testing.T) {
	ctx := context.Background()
	mock := NewMockProvider()

	first, err := mock.CreateInvoice(ctx, CreateInvoiceParams{CustomerID: "cus_1", Currency: "usd", IdempotencyKey: "order-1"})
	require.NoError(t, err)
	second, err := mock.CreateInvoice(ctx, CreateInvoiceParams{CustomerID: "cus_1", Currency: "usd", IdempotencyKey: "order-1"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, mock.Invoices, 1)
	assert.Equal(t, 2, mock.Calls("CreateInvoice"))
}

func TestMockProvider_TransfersAndRefunds(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		run     func(m *MockProvider) error
		wantErr error
	}{
		{
			name: "transfer to connected account",
			run: func(m *MockProvider) error {
				_, err := m.CreateTransfer(ctx, TransferParams{AmountCents: 2750, Currency: "usd", DestinationAccountID: "acct_1"})
				return err
			},
		},
		{
			name: "transfer without destination",
			run: func(m *MockProvider) error {
				_, err := m.CreateTransfer(ctx, TransferParams{AmountCents: 2750, Currency: "usd"})
				return err
			},
			wantErr: ErrMissingDestination,
		},
		{
			name: "refund by amount",
			run: func(m *MockProvider) error {
				_, err := m.RefundPayment(ctx, RefundParams{PaymentIntentID: "pi_1", AmountCents: 8250})
				return err
			},
		},
		{
			name: "refund without payment",
			run: func(m *MockProvider) error {
				_, err := m.RefundPayment(ctx, RefundParams{AmountCents: 8250})
				return err
			},
			wantErr: ErrMissingPayment,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run(NewMockProvider())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestMockProvider_ParseWebhook(t *testing.T) {
	payload := []byte(`{"ID":"evt_1","Type":"invoice.paid","Invoice":{"ID":"in_1","Status":"paid","AmountPaidCents":8800}}`)

	t.Run("accepts valid signature", func(t *testing.T) {
		ev, err := NewMockProvider().ParseWebhook(payload, MockWebhookSignature)
		require.NoError(t, err)
		assert.Equal(t, EventInvoicePaid, ev.Type)
		require.NotNil(t, ev.Invoice)
		assert.Equal(t, int64(8800), ev.Invoice.AmountPaidCents)
	})

	t.Run("rejects invalid signature", func(t *testing.T) {
		_, err := NewMockProvider().ParseWebhook(payload, "forged")
		assert.ErrorIs(t, err, ErrInvalidWebhookSignature)
	})

	t.Run("rejects empty payload", func(t *testing.T) {
		_, err := NewMockProvider().ParseWebhook(nil, MockWebhookSignature)
		assert.ErrorIs(t, err, ErrInvalidWebhookSignature)
	})
}

func TestStripeProvider_ParseWebhookRejectsBadSignature(t *testing.T) {
	p := &StripeProvider{config: StripeConfig{APIKey: "sk_test_123", WebhookSecret: "whsec_test"}}

	_, err := p.ParseWebhook([]byte(`{"id":"evt_1","type":"invoice.paid"}`), "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, ErrInvalidWebhookSignature)
}

func TestToInvoice(t *testing.T) {
	inv := &stripe.Invoice{
		ID:               "in_123",
		Status:           stripe.InvoiceStatusPaid,
		HostedInvoiceURL: "https://invoice.stripe.com/i/123",
		AmountDue:        8800,
		AmountPaid:       8800,
		Currency:         stripe.CurrencyUSD,
		Customer:         &stripe.Customer{ID: "cus_1"},
		Metadata:         map[string]string{"kind": "order"},
		StatusTransitions: &stripe.InvoiceStatusTransitions{
			PaidAt: 1700000000,
		},
	}

	out := toInvoice(inv)
	assert.Equal(t, "in_123", out.ID)
	assert.Equal(t, InvoiceStatusPaid, out.Status)
	assert.Equal(t, "cus_1", out.CustomerID)
	assert.Equal(t, "usd", out.Currency)
	require.NotNil(t, out.PaidAt)
	assert.Equal(t, int64(1700000000), out.PaidAt.Unix())
	assert.Equal(t, "order", out.Metadata["kind"])
}

func TestStripeConfig_Validation(t *testing.T) {
	t.Run("validates required API key", func(t *testing.T) {
		config := StripeConfig{
			APIKey:        "",
			WebhookSecret: "whsec_test",
		}
		err := config.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "API key is required")
	})

	t.Run("validates required webhook secret", func(t *testing.T) {
		config := StripeConfig{
			APIKey:        "sk_test_123",
			WebhookSecret: "",
		}
		err := config.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "webhook secret is required")
	})

	t.Run("detects test mode correctly", func(t *testing.T) {
		testConfig := StripeConfig{APIKey: "sk_test_123456"}
		assert.True(t, testConfig.IsTestMode())

		liveConfig := StripeConfig{APIKey: "sk_live_123456"}
		assert.False(t, liveConfig.IsTestMode())
	})

	t.Run("provider refuses incomplete config", func(t *testing.T) {
		_, err := NewStripeProvider(StripeConfig{})
		assert.ErrorIs(t, err, ErrInvalidAPIKey)
	})
}

// TestStripeError tests the StripeError type
func TestStripeError(t *testing.T) {
	t.Run("formats error message correctly", func(t *testing.T) {
		err := &StripeError{
			Message: "Payment failed",
			Code:    "card_declined",
		}
		assert.Contains(t, err.Error(), "Payment failed")
		assert.Contains(t, err.Error(), "card_declined")
	})

	t.Run("identifies declined cards", func(t *testing.T) {
		err := &StripeError{
			Code:        "card_declined",
			DeclineCode: "insufficient_funds",
		}
		assert.True(t, err.IsDeclined())
		assert.False(t, (&StripeError{Code: "api_error"}).IsDeclined())
	})

	t.Run("identifies temporary errors", func(t *testing.T) {
		assert.True(t, (&StripeError{Code: "rate_limit"}).IsTemporary())
		assert.True(t, (&StripeError{Code: "api_connection_error"}).IsTemporary())
		assert.False(t, (&StripeError{Code: "invalid_request"}).IsTemporary())
	})

	t.Run("wraps sdk errors", func(t *testing.T) {
		sdkErr := &stripe.Error{
			Code:           stripe.ErrorCodeResourceMissing,
			Msg:            "No such invoice",
			HTTPStatusCode: 404,
			RequestID:      "req_1",
		}
		err := wrapStripeError(fmt.Errorf("call: %w", sdkErr))

		var se *StripeError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, "resource_missing", se.Code)
		assert.Equal(t, "404", se.StripeCode)
		assert.ErrorIs(t, err, ErrInvoiceNotFound)
	})

	t.Run("wraps transport errors as temporary", func(t *testing.T) {
		err := wrapStripeError(errors.New("dial tcp: timeout"))

		var se *StripeError
		require.True(t, errors.As(err, &se))
		assert.True(t, se.IsTemporary())
	})

	t.Run("nil passes through", func(t *testing.T) {
		assert.NoError(t, wrapStripeError(nil))
	})
}
