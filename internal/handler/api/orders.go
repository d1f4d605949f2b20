package api

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/chandlery/internal/domain"
	"github.com/dukerupert/chandlery/internal/handler"
	"github.com/dukerupert/chandlery/internal/middleware"
)

// OrderHandler serves the order workflow.
type OrderHandler struct {
	base
	orders domain.OrderService
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(orders domain.OrderService, dispatcher Dispatcher, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{base: newBase(dispatcher, logger), orders: orders}
}

func (h *OrderHandler) respond(w http.ResponseWriter, r *http.Request, status int, res *domain.OrderResult) {
	h.dispatch(r, res.Events)
	handler.JSON(w, status, newOrderView(res.Order))
}

// Create handles POST /api/orders
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	customer, ok := actor(w, r)
	if !ok {
		return
	}
	var params domain.CreateOrderParams
	if !decode(w, r, &params) {
		return
	}

	res, err := h.orders.CreateOrder(r.Context(), customer, params)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	middleware.GetLogger(r.Context(), h.logger).Info("order created",
		"order_id", res.Order.ID,
		"items", len(res.Order.Items),
	)
	h.respond(w, r, http.StatusCreated, res)
}

// Get handles GET /api/orders/{id}
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(r.Context(), a, id)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.JSON(w, http.StatusOK, newOrderView(order))
}

// Confirm handles POST /api/orders/tokens/{token}/confirm. The token is the
// credential; no actor is required.
func (h *OrderHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	res, err := h.orders.ConfirmOrder(r.Context(), r.PathValue("token"))
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, res)
}

// Decline handles POST /api/orders/tokens/{token}/decline
func (h *OrderHandler) Decline(w http.ResponseWriter, r *http.Request) {
	reason, ok := decodeReason(w, r)
	if !ok {
		return
	}

	res, err := h.orders.DeclineOrder(r.Context(), r.PathValue("token"), reason)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, res)
}

// UpdateStatus handles POST /api/orders/{id}/status
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var params domain.UpdateOrderStatusParams
	if !decode(w, r, &params) {
		return
	}

	res, err := h.orders.UpdateOrderStatus(r.Context(), a, id, params)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, res)
}
