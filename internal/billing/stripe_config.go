package billing

import (
	"errors"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"
)

// StripeConfig contains configuration for Stripe provider.
type StripeConfig struct {
	// APIKey is the Stripe secret key (sk_test_... or sk_live_...)
	APIKey string

	// WebhookSecret is the webhook signing secret (whsec_...)
	// Used to verify webhook signatures from Stripe
	WebhookSecret string

	// MaxRetries is the maximum number of retries for transient failures
	// Default: 3
	MaxRetries int

	// TimeoutSeconds is the HTTP timeout for Stripe API calls in seconds
	// Default: 30
	TimeoutSeconds int
}

// Validate checks that required configuration is present.
func (c *StripeConfig) Validate() error {
	if c.APIKey == "" {
		return errors.New("stripe: API key is required")
	}
	if c.WebhookSecret == "" {
		return errors.New("stripe: webhook secret is required")
	}
	return nil
}

// IsTestMode returns true if using test mode API keys.
func (c *StripeConfig) IsTestMode() bool {
	return len(c.APIKey) > 7 && c.APIKey[:8] == "sk_test_"
}

// apply installs the key and a retrying backend for the package-level
// Stripe resource clients.
func (c *StripeConfig) apply() {
	retries := c.MaxRetries
	if retries == 0 {
		retries = 3
	}
	timeout := c.TimeoutSeconds
	if timeout == 0 {
		timeout = 30
	}

	stripe.Key = c.APIKey
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: time.Duration(timeout) * time.Second},
		MaxNetworkRetries: stripe.Int64(int64(retries)),
	}))
}
