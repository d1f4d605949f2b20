// Package webhook receives signed callbacks from the payment gateway and the
// carrier. Every handler verifies the signature before touching state and
// acknowledges with 200 once the signature is good, whatever the outcome of
// processing, so that the sender stops retrying events we have logged.
package webhook

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/dukerupert/chandlery/internal/domain"
	"github.com/dukerupert/chandlery/internal/handler"
	"github.com/dukerupert/chandlery/internal/telemetry"
)

// Dispatcher delivers the outbox produced by a webhook.
type Dispatcher interface {
	Dispatch(ctx context.Context, evs domain.Events)
}

const (
	providerStripe   = "stripe"
	providerEasyPost = "easypost"
)

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		handler.ErrorResponse(w, r, domain.Invalid("webhook.read", "Error reading request body"))
		return nil, false
	}
	return payload, true
}

func acknowledge(w http.ResponseWriter) {
	handler.JSON(w, http.StatusOK, map[string]bool{"received": true})
}

func observeReceived(provider, eventType string) {
	if telemetry.Business != nil {
		telemetry.Business.WebhookReceived.WithLabelValues(provider, eventType).Inc()
	}
}

func observeDone(provider, eventType string, start time.Time, err error) {
	if telemetry.Business == nil {
		return
	}
	telemetry.Business.WebhookLatency.WithLabelValues(provider, eventType).Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.Business.WebhookFailed.WithLabelValues(provider, eventType, domain.ErrorCode(err)).Inc()
		return
	}
	telemetry.Business.WebhookProcessed.WithLabelValues(provider, eventType).Inc()
}
