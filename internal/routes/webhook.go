package routes

import (
	"github.com/dukerupert/chandlery/internal/middleware"
	"github.com/dukerupert/chandlery/internal/router"
)

// RegisterWebhookRoutes registers the payment and carrier webhooks.
//
// Webhook routes carry no actor. Each handler verifies the provider
// signature before touching any state.
func RegisterWebhookRoutes(r *router.Router, deps WebhookDeps) {
	hooks := r.Route("/webhooks",
		middleware.MaxBodySize(middleware.WebhookMaxBodySize),
		middleware.Timeout(middleware.WebhookTimeout),
	)
	if deps.StripeHandler != nil {
		hooks.Post("/stripe", deps.StripeHandler.HandleWebhook)
	}
	if deps.EasyPostHandler != nil {
		hooks.Post("/easypost", deps.EasyPostHandler.HandleWebhook)
	}
}
