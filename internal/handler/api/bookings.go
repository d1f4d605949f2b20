package api

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/chandlery/internal/domain"
	"github.com/dukerupert/chandlery/internal/handler"
	"github.com/dukerupert/chandlery/internal/middleware"
)

// BookingHandler serves bookings, their quote and their payments.
type BookingHandler struct {
	base
	bookings domain.BookingService
}

// NewBookingHandler creates a new booking handler
func NewBookingHandler(bookings domain.BookingService, dispatcher Dispatcher, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{base: newBase(dispatcher, logger), bookings: bookings}
}

func (h *BookingHandler) respond(w http.ResponseWriter, r *http.Request, status int, res *domain.BookingResult, err error) {
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	h.dispatch(r, res.Events)
	handler.JSON(w, status, newBookingView(res))
}

// Create handles POST /api/bookings
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	customer, ok := actor(w, r)
	if !ok {
		return
	}
	var params domain.CreateBookingParams
	if !decode(w, r, &params) {
		return
	}

	res, err := h.bookings.CreateBooking(r.Context(), customer, params)
	if err == nil {
		middleware.GetLogger(r.Context(), h.logger).Info("booking requested",
			"booking_id", res.Booking.ID,
			"business_id", res.Booking.BusinessID,
		)
	}
	h.respond(w, r, http.StatusCreated, res, err)
}

// Get handles GET /api/bookings/{id}
func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	res, err := h.bookings.GetBooking(r.Context(), a, id)
	h.respond(w, r, http.StatusOK, res, err)
}

// Confirm handles POST /api/bookings/tokens/{token}/confirm
func (h *BookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	res, err := h.bookings.ConfirmBooking(r.Context(), r.PathValue("token"))
	h.respond(w, r, http.StatusOK, res, err)
}

// Decline handles POST /api/bookings/tokens/{token}/decline
func (h *BookingHandler) Decline(w http.ResponseWriter, r *http.Request) {
	reason, ok := decodeReason(w, r)
	if !ok {
		return
	}
	res, err := h.bookings.DeclineBooking(r.Context(), r.PathValue("token"), reason)
	h.respond(w, r, http.StatusOK, res, err)
}

type bookingStatusRequest struct {
	Status domain.BookingStatus `json:"status"`
	Reason string               `json:"reason"`
}

// UpdateStatus handles POST /api/bookings/{id}/status
func (h *BookingHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req bookingStatusRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.bookings.UpdateBookingStatus(r.Context(), a, id, req.Status, req.Reason)
	h.respond(w, r, http.StatusOK, res, err)
}

// AddQuote handles POST /api/bookings/{id}/quote
func (h *BookingHandler) AddQuote(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var params domain.AddQuoteParams
	if !decode(w, r, &params) {
		return
	}

	res, err := h.bookings.AddQuote(r.Context(), a, id, params)
	h.respond(w, r, http.StatusCreated, res, err)
}

// AcceptQuote handles POST /api/bookings/{id}/quote/accept
func (h *BookingHandler) AcceptQuote(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	res, err := h.bookings.AcceptQuote(r.Context(), a, id)
	h.respond(w, r, http.StatusOK, res, err)
}

// RejectQuote handles POST /api/bookings/{id}/quote/reject
func (h *BookingHandler) RejectQuote(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req reasonRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	res, err := h.bookings.RejectQuote(r.Context(), a, id, req.Reason)
	h.respond(w, r, http.StatusOK, res, err)
}

// quoteItemRequest carries either a customer response (action) or a
// business edit (quantity and price).
type quoteItemRequest struct {
	Action         domain.QuoteItemAction `json:"action,omitempty"`
	Note           string                 `json:"note,omitempty"`
	Quantity       int                    `json:"quantity,omitempty"`
	UnitPriceCents int64                  `json:"unit_price_cents,omitempty"`
}

// QuoteItem handles POST /api/bookings/{id}/quote/items/{itemID}. Customers
// respond to a line; businesses edit one.
func (h *BookingHandler) QuoteItem(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	itemID, ok := pathUUID(w, r, "itemID")
	if !ok {
		return
	}
	var req quoteItemRequest
	if !decode(w, r, &req) {
		return
	}

	var (
		res *domain.BookingResult
		err error
	)
	if a.IsBusiness() {
		res, err = h.bookings.EditQuoteItem(r.Context(), a, id, itemID, domain.EditQuoteItemParams{
			Quantity:       req.Quantity,
			UnitPriceCents: req.UnitPriceCents,
			Note:           req.Note,
		})
	} else {
		res, err = h.bookings.RespondToQuoteItem(r.Context(), a, id, itemID, domain.RespondQuoteItemParams{
			Action: req.Action,
			Note:   req.Note,
		})
	}
	h.respond(w, r, http.StatusOK, res, err)
}

// DepositPayment handles POST /api/bookings/{id}/payments/deposit
func (h *BookingHandler) DepositPayment(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	res, err := h.bookings.CreateBookingPayment(r.Context(), a, id)
	h.respond(w, r, http.StatusOK, res, err)
}

// BalancePayment handles POST /api/bookings/{id}/payments/balance
func (h *BookingHandler) BalancePayment(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	res, err := h.bookings.CreateBalancePayment(r.Context(), a, id)
	h.respond(w, r, http.StatusOK, res, err)
}

type completionRequest struct {
	Status domain.CompletedStatus `json:"status"`
	Reason string                 `json:"reason"`
}

// Completion handles POST /api/bookings/{id}/completion
func (h *BookingHandler) Completion(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req completionRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.bookings.UpdateCompletionStatus(r.Context(), a, id, req.Status, req.Reason)
	h.respond(w, r, http.StatusOK, res, err)
}
