package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hiddenInternal = "An internal error occurred. Please try again later."

func TestError_Format(t *testing.T) {
	cause := errors.New("connection reset")

	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"message only", &Error{Code: EINVALID, Message: "quantity must be positive"}, "quantity must be positive"},
		{"with op", &Error{Code: ENOTFOUND, Op: "order.get", Message: "order not found"}, "order.get: order not found"},
		{"with cause", &Error{Code: EINTERNAL, Message: "save failed", Err: cause}, "save failed: connection reset"},
		{"op and cause", &Error{Code: EINTERNAL, Op: "booking.save", Message: "save failed", Err: cause}, "booking.save: save failed: connection reset"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestErrorAccessors(t *testing.T) {
	cause := errors.New("pq: deadlock detected")
	wrapped := fmt.Errorf("retrying: %w", Conflict("order.status", "order changed underneath"))

	tests := []struct {
		name    string
		err     error
		code    string
		message string
		op      string
	}{
		{"nil", nil, "", "", ""},
		{"plain error", cause, EINTERNAL, hiddenInternal, ""},
		{"not found", NotFound("order.get", "order", "abc-123"), ENOTFOUND, "order not found: abc-123", "order.get"},
		{"through fmt wrapping", wrapped, ECONFLICT, "order changed underneath", "order.status"},
		{"internal hides detail", Internal(cause, "invoice.save", "insert failed"), EINTERNAL, hiddenInternal, "invoice.save"},
		{"validation", NewValidationError("order.create", "delivery_address", "required"), EINVALID, "Validation failed", ""},
		{"unauthorized", Unauthorized("booking.create", "actor required"), EUNAUTHORIZED, "actor required", "booking.create"},
		{"forbidden", Forbidden("order.status", "only the supplier can ship"), EFORBIDDEN, "only the supplier can ship", "order.status"},
		{"invalid", Invalid("quote.add", "price must be positive"), EINVALID, "price must be positive", "quote.add"},
		{"already processed", AlreadyProcessed("order.confirm", "link already used"), EPROCESSED, "link already used", "order.confirm"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, ErrorCode(tt.err))
			assert.Equal(t, tt.message, ErrorMessage(tt.err))
			assert.Equal(t, tt.op, ErrorOp(tt.err))
		})
	}
}

func TestErrorfAndWrapError(t *testing.T) {
	err := Errorf(ENOTFOUND, "shipment.get", "shipment %s not found", "shp_1")
	assert.Equal(t, "shipment shp_1 not found", ErrorMessage(err))
	assert.True(t, IsCode(err, ENOTFOUND))
	assert.False(t, IsCode(err, EINVALID))

	assert.NoError(t, WrapError(nil, EINTERNAL, "order.save", "ignored"))

	cause := errors.New("timeout")
	err = WrapError(cause, EEXTERNAL, "label.buy", "carrier unavailable")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, EEXTERNAL, ErrorCode(err))
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("order.create", "delivery_address", "required")
	assert.Equal(t, "order.create: delivery_address: required", err.Error())
	assert.True(t, IsValidationError(err))

	err = AddFieldError(err, "currency", "unsupported")
	assert.Equal(t, "order.create: validation failed for 2 fields", err.Error())
	assert.Equal(t, map[string]string{
		"delivery_address": "required",
		"currency":         "unsupported",
	}, GetValidationFields(err))

	fresh := AddFieldError(errors.New("unrelated"), "quantity", "must be positive")
	assert.Equal(t, "quantity: must be positive", fresh.Error())

	assert.False(t, IsValidationError(Invalid("order.create", "bad")))
	assert.Nil(t, GetValidationFields(errors.New("plain")))
}

func TestSentinelCodes(t *testing.T) {
	tests := []struct {
		err  *Error
		code string
	}{
		{ErrTokenInvalid, EGONE},
		{ErrTokenUsed, EPROCESSED},
		{ErrInvoiceAlreadyPaid, EPROCESSED},
		{ErrLabelAlreadyBought, EPROCESSED},
		{ErrRateNotFound, EINVALID},
		{ErrShipmentNotFound, ENOTFOUND},
		{ErrInvoiceNotFound, ENOTFOUND},
		{ErrOrderVersion, ECONFLICT},
		{ErrNoItemsForActor, EFORBIDDEN},
	}
	for _, tt := range tests {
		t.Run(tt.err.Message, func(t *testing.T) {
			assert.Equal(t, tt.code, ErrorCode(tt.err))
		})
	}
}

func TestWithOp(t *testing.T) {
	err := WithOp(ErrTokenUsed, "order.confirm")

	assert.ErrorIs(t, err, ErrTokenUsed, "copy should still match its sentinel")
	assert.Equal(t, "order.confirm", ErrorOp(err))
	assert.Empty(t, ErrTokenUsed.Op, "sentinel must stay untouched")
}

func TestIllegalTransitionError(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", IllegalTransitionf("order.status", "order_item", "shipped", "confirmed", "item %d", 2))

	require.True(t, IsIllegalTransition(err))
	assert.Equal(t, EILLEGAL, ErrorCode(err))
	assert.Equal(t, `order.status: illegal order_item transition from "shipped" to "confirmed": item 2`, ErrorMessage(err))

	bare := IllegalTransition("", "booking", "declined", "confirmed")
	assert.Equal(t, `illegal booking transition from "declined" to "confirmed"`, bare.Error())
}

func TestExternalMessageHidden(t *testing.T) {
	cause := errors.New("stripe: card_declined req_123")
	err := External(cause, "invoice.create", "stripe failed")

	assert.Equal(t, EEXTERNAL, ErrorCode(err))
	assert.Equal(t, "A downstream service is unavailable. Please try again.", ErrorMessage(err))
	assert.ErrorIs(t, err, cause)
}
