package shipping

import "fmt"

// ============================================================================
// SHIPPING ERROR CODES
// ============================================================================
// These constants mirror domain error codes. The service layer wraps
// carrier failures as external-service errors; the codes here classify
// input problems detected before any carrier call.

const (
	codeConflict    = "conflict"
	codeInternal    = "internal"
	codeInvalid     = "invalid"
	codeNotFound    = "not_found"
	codeUnavailable = "unavailable" // For service-level errors like no rates
)

// ============================================================================
// SHIPPING ERROR TYPE
// ============================================================================

// ShippingError represents a shipping-specific error with a code and message.
type ShippingError struct {
	Code    string
	Message string
}

func (e *ShippingError) Error() string {
	return e.Message
}

// ErrorCode returns the error code for HTTP status mapping.
func (e *ShippingError) ErrorCode() string {
	return e.Code
}

// ErrorMessage returns the user-facing message.
func (e *ShippingError) ErrorMessage() string {
	return e.Message
}

// IsInvalid reports whether the error is caused by the caller's input.
func (e *ShippingError) IsInvalid() bool {
	return e.Code == codeInvalid
}

// newShippingError creates a new shipping error.
func newShippingError(code, message string) *ShippingError {
	return &ShippingError{Code: code, Message: message}
}

// ============================================================================
// SHIPPING DOMAIN ERRORS
// ============================================================================

var (
	// ErrNoPackage is returned when the parcel has no weight.
	ErrNoPackage = newShippingError(codeInvalid, "Parcel weight is required")

	// ErrOriginRequired is returned when origin address is missing.
	ErrOriginRequired = newShippingError(codeInvalid, "Origin address is required")

	// ErrDestinationRequired is returned when destination address is missing.
	ErrDestinationRequired = newShippingError(codeInvalid, "Destination address is required")

	// ErrNoRates is returned when no shipping rates are available.
	ErrNoRates = newShippingError(codeUnavailable, "No shipping rates available")

	// ErrInvalidRate is returned when a rate ID is invalid or expired.
	ErrInvalidRate = newShippingError(codeInvalid, "Invalid or expired rate")

	// ErrShipmentNotFound is returned when the carrier has no such shipment.
	ErrShipmentNotFound = newShippingError(codeNotFound, "Carrier shipment not found")

	// ErrLabelAlreadyPurchased is returned when a different rate was bought already.
	ErrLabelAlreadyPurchased = newShippingError(codeConflict, "Label already purchased for this shipment")

	// ErrMissingAPIKey is returned when the shipping provider API key is missing.
	ErrMissingAPIKey = newShippingError(codeInternal, "Shipping provider API key is required")

	// ErrInvalidSignature is returned when a tracking webhook fails verification.
	ErrInvalidSignature = newShippingError(codeInvalid, "Invalid webhook signature")

	// ErrNotTracker is returned for webhook events that carry no tracker.
	ErrNotTracker = newShippingError(codeInvalid, "Webhook event is not a tracker update")
)

// ErrInvalidAmount creates an error for invalid amount parsing.
func ErrInvalidAmount(amount string, err error) error {
	return &ShippingError{
		Code:    codeInvalid,
		Message: fmt.Sprintf("Invalid dollar amount %q: %v", amount, err),
	}
}
