package routes

import (
	"net/http"

	"github.com/dukerupert/chandlery/internal/domain"
	"github.com/dukerupert/chandlery/internal/handler/api"
	"github.com/dukerupert/chandlery/internal/middleware"
	"github.com/dukerupert/chandlery/internal/router"
)

// RegisterAPIRoutes registers the order, booking and shipment endpoints.
//
// Actor identity is read from gateway headers on every route. Token links
// accept anonymous callers; everything else requires an actor.
func RegisterAPIRoutes(r *router.Router, deps APIDeps) {
	v := r.Route(domain.APIPrefix, middleware.MaxBodySize(), middleware.Timeout(), middleware.WithActor)

	// Emailed links arrive as GET. The page only offers the form, so a
	// mail scanner prefetching the link cannot spend the token.
	tokens := v.Group(limit(deps.TokenRateLimiter))
	for _, path := range []string{
		domain.OrderTokenConfirmPath, domain.OrderTokenDeclinePath,
		domain.BookingTokenConfirmPath, domain.BookingTokenDeclinePath,
	} {
		tokens.Get(path, api.TokenPage)
	}
	tokens.Post(domain.OrderTokenConfirmPath, deps.OrderHandler.Confirm)
	tokens.Post(domain.OrderTokenDeclinePath, deps.OrderHandler.Decline)
	tokens.Post(domain.BookingTokenConfirmPath, deps.BookingHandler.Confirm)
	tokens.Post(domain.BookingTokenDeclinePath, deps.BookingHandler.Decline)

	authed := v.Group(middleware.RequireActor, limit(deps.RateLimiter))

	// Orders
	authed.Post("/orders", deps.OrderHandler.Create)
	authed.Get("/orders/{id}", deps.OrderHandler.Get)
	authed.Post("/orders/{id}/status", deps.OrderHandler.UpdateStatus)

	// Bookings
	authed.Post("/bookings", deps.BookingHandler.Create)
	authed.Get("/bookings/{id}", deps.BookingHandler.Get)
	authed.Post("/bookings/{id}/status", deps.BookingHandler.UpdateStatus)
	authed.Post("/bookings/{id}/quote", deps.BookingHandler.AddQuote)
	authed.Post("/bookings/{id}/quote/accept", deps.BookingHandler.AcceptQuote)
	authed.Post("/bookings/{id}/quote/reject", deps.BookingHandler.RejectQuote)
	authed.Post("/bookings/{id}/quote/items/{itemID}", deps.BookingHandler.QuoteItem)
	authed.Post("/bookings/{id}/payments/deposit", deps.BookingHandler.DepositPayment)
	authed.Post("/bookings/{id}/payments/balance", deps.BookingHandler.BalancePayment)
	authed.Post("/bookings/{id}/completion", deps.BookingHandler.Completion)

	// Shipments
	authed.Post("/shipments/{id}/rates/select", deps.ShipmentHandler.SelectRate)
	authed.Post("/shipments/{id}/rates/refresh", deps.ShipmentHandler.RefreshRates)
	authed.Post("/shipments/{id}/label", deps.ShipmentHandler.BuyLabel)
}

// RegisterOpsRoutes registers /metrics and /healthz.
func RegisterOpsRoutes(r *router.Router, deps OpsDeps) {
	if deps.Metrics != nil {
		r.Handle(http.MethodGet, "/metrics", deps.Metrics)
	}
	if deps.Health != nil {
		r.Get("/healthz", deps.Health)
	}
}

func limit(rl *middleware.RateLimiter) router.Middleware {
	if rl == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return rl.Middleware
}
