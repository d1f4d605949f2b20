package routes

import (
	"net/http"

	"github.com/dukerupert/chandlery/internal/handler/api"
	"github.com/dukerupert/chandlery/internal/handler/webhook"
	"github.com/dukerupert/chandlery/internal/middleware"
)

// APIDeps contains dependencies for the JSON API routes
type APIDeps struct {
	OrderHandler    *api.OrderHandler
	BookingHandler  *api.BookingHandler
	ShipmentHandler *api.ShipmentHandler

	// RateLimiter guards authenticated routes. Nil disables limiting.
	RateLimiter *middleware.RateLimiter

	// TokenRateLimiter guards the confirm/decline token links, which are
	// reachable without an actor and keyed by client IP.
	TokenRateLimiter *middleware.RateLimiter
}

// WebhookDeps contains dependencies for webhook routes
type WebhookDeps struct {
	StripeHandler   *webhook.StripeHandler
	EasyPostHandler *webhook.EasyPostHandler
}

// OpsDeps contains dependencies for operational endpoints
type OpsDeps struct {
	Metrics http.Handler
	Health  http.HandlerFunc
}
