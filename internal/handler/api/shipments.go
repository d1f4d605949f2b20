package api

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/chandlery/internal/domain"
	"github.com/dukerupert/chandlery/internal/handler"
)

// ShipmentHandler serves the carrier side of fulfilment.
type ShipmentHandler struct {
	base
	shipments domain.ShipmentService
}

// NewShipmentHandler creates a new shipment handler
func NewShipmentHandler(shipments domain.ShipmentService, dispatcher Dispatcher, logger *slog.Logger) *ShipmentHandler {
	return &ShipmentHandler{base: newBase(dispatcher, logger), shipments: shipments}
}

func (h *ShipmentHandler) respond(w http.ResponseWriter, r *http.Request, res *domain.ShipmentResult, err error) {
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	h.dispatch(r, res.Events)
	handler.JSON(w, http.StatusOK, newShipmentView(res.Shipment))
}

type selectRateRequest struct {
	RateID string `json:"rate_id"`
}

// SelectRate handles POST /api/shipments/{id}/rates/select
func (h *ShipmentHandler) SelectRate(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req selectRateRequest
	if !decode(w, r, &req) {
		return
	}
	if req.RateID == "" {
		handler.ErrorResponse(w, r, domain.NewValidationError("shipment.select_rate", "rate_id", "rate_id is required"))
		return
	}

	res, err := h.shipments.SelectRate(r.Context(), a, id, req.RateID)
	h.respond(w, r, res, err)
}

// RefreshRates handles POST /api/shipments/{id}/rates/refresh
func (h *ShipmentHandler) RefreshRates(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	res, err := h.shipments.RefreshRates(r.Context(), a, id)
	h.respond(w, r, res, err)
}

// BuyLabel handles POST /api/shipments/{id}/label
func (h *ShipmentHandler) BuyLabel(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	res, err := h.shipments.BuyLabel(r.Context(), a, id)
	h.respond(w, r, res, err)
}
