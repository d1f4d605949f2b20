package webhook

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/chandlery/internal/domain"
	"github.com/dukerupert/chandlery/internal/handler"
	"github.com/dukerupert/chandlery/internal/middleware"
	"github.com/dukerupert/chandlery/internal/shipping"
	"github.com/dukerupert/chandlery/internal/telemetry"
)

// EasyPostHandler applies carrier tracker callbacks to shipments.
type EasyPostHandler struct {
	shipments  domain.ShipmentService
	dispatcher Dispatcher
	secret     string
	logger     *slog.Logger
}

// NewEasyPostHandler creates the tracking webhook handler. An empty secret
// disables signature checks and is only meant for local development.
func NewEasyPostHandler(shipments domain.ShipmentService, dispatcher Dispatcher, secret string, logger *slog.Logger) *EasyPostHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if secret == "" {
		logger.Warn("easypost webhook secret not set: tracking callbacks are not verified")
	}
	return &EasyPostHandler{
		shipments:  shipments,
		dispatcher: dispatcher,
		secret:     secret,
		logger:     logger,
	}
}

// HandleWebhook handles POST /webhooks/easypost
func (h *EasyPostHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger := middleware.GetLogger(r.Context(), h.logger).With("provider", providerEasyPost)

	body, ok := readBody(w, r)
	if !ok {
		return
	}

	if err := shipping.VerifySignature(body, r.Header.Get(shipping.SignatureHeader), h.secret); err != nil {
		logger.Warn("webhook rejected: invalid signature")
		handler.ErrorResponse(w, r, domain.Invalid("webhook.easypost", "Invalid signature"))
		return
	}

	event, err := shipping.ParseTrackerEvent(body)
	if err != nil {
		if errors.Is(err, shipping.ErrNotTracker) {
			logger.Debug("webhook ignored: not a tracker event")
		} else {
			logger.Warn("webhook ignored: unreadable event", "error", err)
		}
		acknowledge(w)
		return
	}

	const eventType = "tracker.updated"
	logger = logger.With(
		"event_id", event.EventID,
		"tracking_code", event.TrackingCode,
		"carrier_status", event.CarrierStatus,
	)
	observeReceived(providerEasyPost, eventType)

	err = h.process(r.Context(), logger, event, body)
	observeDone(providerEasyPost, eventType, start, err)
	if err != nil {
		logger.Error("tracking update failed", "error", err)
		telemetry.CaptureErrorFromContext(r.Context(), err, map[string]interface{}{
			"tracking_code": event.TrackingCode,
			"status":        event.CarrierStatus,
		})
	}

	acknowledge(w)
}

func (h *EasyPostHandler) process(ctx context.Context, logger *slog.Logger, event *shipping.TrackingEvent, raw []byte) error {
	res, err := h.shipments.HandleTracking(ctx, domain.TrackingUpdate{
		TrackingCode:  event.TrackingCode,
		CarrierStatus: event.CarrierStatus,
		Raw:           raw,
	})
	if err != nil {
		if errors.Is(err, domain.ErrShipmentNotFound) {
			logger.Info("webhook ignored: unknown tracking code")
			return nil
		}
		return err
	}

	if res.Noop {
		logger.Debug("tracking update ignored: status unchanged")
		return nil
	}

	logger.Info("shipment status updated", "shipment_id", res.Shipment.ID, "status", res.Shipment.Status)
	if h.dispatcher != nil {
		h.dispatcher.Dispatch(context.WithoutCancel(ctx), res.Events)
	}
	return nil
}
