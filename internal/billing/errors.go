package billing

import (
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v83"
)

var (
	// ErrInvalidAPIKey is returned when Stripe API key is invalid or missing.
	ErrInvalidAPIKey = errors.New("billing: invalid or missing API key")

	// ErrInvoiceNotFound is returned when the gateway has no such invoice.
	ErrInvoiceNotFound = errors.New("billing: invoice not found")

	// ErrInvalidWebhookSignature is returned when webhook signature verification fails.
	ErrInvalidWebhookSignature = errors.New("billing: invalid webhook signature")

	// ErrIdempotencyConflict is returned when idempotency key matches a different request.
	ErrIdempotencyConflict = errors.New("billing: idempotency key conflict")

	// ErrMissingDestination is returned when a transfer has no connected account.
	ErrMissingDestination = errors.New("billing: transfer destination account is required")

	// ErrMissingPayment is returned when a refund has no payment reference.
	ErrMissingPayment = errors.New("billing: refund requires a payment intent")
)

// StripeError wraps a Stripe API error with additional context.
type StripeError struct {
	Message       string // Human-readable error message
	Code          string // Stripe error code (e.g., "card_declined")
	DeclineCode   string // Card decline reason (if applicable)
	StripeCode    string // HTTP status code from Stripe
	RequestID     string // Stripe request ID for debugging
	OriginalError error  // Original error from Stripe SDK
}

func (e *StripeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("stripe: %s (code: %s)", e.Message, e.Code)
	}
	return fmt.Sprintf("stripe: %s", e.Message)
}

func (e *StripeError) Unwrap() error {
	return e.OriginalError
}

// IsDeclined returns true if error is due to card decline.
func (e *StripeError) IsDeclined() bool {
	return e.Code == "card_declined" || e.DeclineCode != ""
}

// IsTemporary returns true if error is likely transient and retryable.
func (e *StripeError) IsTemporary() bool {
	return e.Code == "rate_limit" || e.Code == "api_connection_error" || e.StripeCode == "500" || e.StripeCode == "503"
}

// wrapStripeError converts SDK errors into StripeError and maps the
// well-known codes onto package sentinels.
func wrapStripeError(err error) error {
	if err == nil {
		return nil
	}

	var se *stripe.Error
	if !errors.As(err, &se) {
		return &StripeError{Message: err.Error(), Code: "api_connection_error", OriginalError: err}
	}

	wrapped := &StripeError{
		Message:       se.Msg,
		Code:          string(se.Code),
		DeclineCode:   string(se.DeclineCode),
		StripeCode:    fmt.Sprintf("%d", se.HTTPStatusCode),
		RequestID:     se.RequestID,
		OriginalError: err,
	}
	switch {
	case se.Code == stripe.ErrorCodeResourceMissing:
		wrapped.OriginalError = fmt.Errorf("%w: %v", ErrInvoiceNotFound, err)
	case se.Type == stripe.ErrorTypeIdempotency:
		wrapped.OriginalError = fmt.Errorf("%w: %v", ErrIdempotencyConflict, err)
	case se.HTTPStatusCode == 429:
		wrapped.Code = "rate_limit"
	}
	return wrapped
}
