package domain

import (
	"net/url"
	"strings"
)

// Token action paths. The router registers these under APIPrefix and the
// confirmation emails link to them, so both sides agree on one spelling.
const (
	APIPrefix = "/api"

	OrderTokenConfirmPath   = "/orders/tokens/{token}/confirm"
	OrderTokenDeclinePath   = "/orders/tokens/{token}/decline"
	BookingTokenConfirmPath = "/bookings/tokens/{token}/confirm"
	BookingTokenDeclinePath = "/bookings/tokens/{token}/decline"
)

// TokenLink fills the {token} segment of a token path and prefixes it with
// APIPrefix.
func TokenLink(path, token string) string {
	return APIPrefix + strings.Replace(path, "{token}", url.PathEscape(token), 1)
}
