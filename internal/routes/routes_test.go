package routes

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/dukerupert/chandlery/internal/domain"
	"github.com/dukerupert/chandlery/internal/handler/api"
	"github.com/dukerupert/chandlery/internal/handler/webhook"
	"github.com/dukerupert/chandlery/internal/router"
)

type stubOrders struct {
	domain.OrderService
}

func (stubOrders) ConfirmOrder(ctx context.Context, token string) (*domain.OrderResult, error) {
	return &domain.OrderResult{Order: &domain.Order{ID: uuid.New(), Status: domain.ItemConfirmed}}, nil
}

func (stubOrders) DeclineOrder(ctx context.Context, token, reason string) (*domain.OrderResult, error) {
	return &domain.OrderResult{Order: &domain.Order{
		ID:     uuid.New(),
		Status: domain.ItemDeclined,
		Items:  []domain.OrderItem{{Status: domain.ItemDeclined, DeclineReason: reason}},
	}}, nil
}

func newTestRouter() *router.Router {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := router.New()
	RegisterAPIRoutes(r, APIDeps{
		OrderHandler:    api.NewOrderHandler(stubOrders{}, nil, logger),
		BookingHandler:  api.NewBookingHandler(nil, nil, logger),
		ShipmentHandler: api.NewShipmentHandler(nil, nil, logger),
	})
	RegisterWebhookRoutes(r, WebhookDeps{
		EasyPostHandler: webhook.NewEasyPostHandler(nil, nil, "whsec", logger),
	})
	RegisterOpsRoutes(r, OpsDeps{
		Health: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) },
	})
	return r
}

func TestRoutes(t *testing.T) {
	r := newTestRouter()

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"token link needs no actor", http.MethodPost, "/api/orders/tokens/abc/confirm", http.StatusOK},
		{"emailed link opens a page", http.MethodGet, "/api/orders/tokens/abc/confirm", http.StatusOK},
		{"emailed booking link opens a page", http.MethodGet, "/api/bookings/tokens/abc/decline", http.StatusOK},
		{"create requires actor", http.MethodPost, "/api/orders", http.StatusUnauthorized},
		{"status requires actor", http.MethodPost, "/api/orders/" + uuid.NewString() + "/status", http.StatusUnauthorized},
		{"quote item requires actor", http.MethodPost, "/api/bookings/" + uuid.NewString() + "/quote/items/" + uuid.NewString(), http.StatusUnauthorized},
		{"label requires actor", http.MethodPost, "/api/shipments/" + uuid.NewString() + "/label", http.StatusUnauthorized},
		{"unsigned tracker callback", http.MethodPost, "/webhooks/easypost", http.StatusBadRequest},
		{"stripe not configured", http.MethodPost, "/webhooks/stripe", http.StatusNotFound},
		{"health", http.MethodGet, "/healthz", http.StatusOK},
		{"wrong method", http.MethodGet, "/api/orders", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Header.Set("Accept", "application/json")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestTokenLinks_MatchRegisteredRoutes(t *testing.T) {
	r := newTestRouter()

	for _, path := range []string{
		domain.OrderTokenConfirmPath,
		domain.OrderTokenDeclinePath,
		domain.BookingTokenConfirmPath,
		domain.BookingTokenDeclinePath,
	} {
		t.Run(path, func(t *testing.T) {
			link := domain.TokenLink(path, "tok-1")
			assert.True(t, strings.HasPrefix(link, "/api/"), link)

			req := httptest.NewRequest(http.MethodGet, link, nil)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
			assert.Contains(t, w.Body.String(), `<form method="post" action="`+link+`">`)
		})
	}
}

func TestTokenPage_FormDecline(t *testing.T) {
	r := newTestRouter()
	link := domain.TokenLink(domain.OrderTokenDeclinePath, "tok-1")

	page := httptest.NewRecorder()
	r.ServeHTTP(page, httptest.NewRequest(http.MethodGet, link, nil))
	assert.Contains(t, page.Body.String(), `name="reason"`)

	form := url.Values{"reason": {"out of stock"}}
	req := httptest.NewRequest(http.MethodPost, link, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "out of stock")
}
