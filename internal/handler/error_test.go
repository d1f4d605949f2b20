package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/chandlery/internal/domain"
)

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env.Error
}

func TestErrorCodeToHTTPStatus(t *testing.T) {
	for code, want := range map[string]int{
		domain.EINVALID:      http.StatusBadRequest,
		domain.EUNAUTHORIZED: http.StatusUnauthorized,
		domain.EFORBIDDEN:    http.StatusForbidden,
		domain.ENOTFOUND:     http.StatusNotFound,
		domain.ECONFLICT:     http.StatusConflict,
		domain.EILLEGAL:      http.StatusConflict,
		domain.EPROCESSED:    http.StatusConflict,
		domain.EGONE:         http.StatusGone,
		domain.EEXTERNAL:     http.StatusBadGateway,
		domain.EINTERNAL:     http.StatusInternalServerError,
		"unknown_code":       http.StatusInternalServerError,
	} {
		assert.Equal(t, want, ErrorCodeToHTTPStatus(code), code)
	}
}

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{"not found", domain.NotFound("order.get", "order", "abc-123"), http.StatusNotFound, domain.ENOTFOUND, "order not found: abc-123"},
		{"token reused", domain.WithOp(domain.ErrTokenUsed, "order.confirm"), http.StatusConflict, domain.EPROCESSED, domain.ErrTokenUsed.Message},
		{"token expired", domain.ErrTokenInvalid, http.StatusGone, domain.EGONE, domain.ErrTokenInvalid.Message},
		{"carrier down", domain.External(errors.New("easypost: 503"), "label.buy", "carrier failed"), http.StatusBadGateway, domain.EEXTERNAL, "A downstream service is unavailable. Please try again."},
		{"internal hides address", domain.Internal(nil, "db.query", "dial 10.0.0.7:5432 refused"), http.StatusInternalServerError, domain.EINTERNAL, internalMessage},
		{"plain error", errors.New("nil pointer"), http.StatusInternalServerError, domain.EINTERNAL, internalMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/orders/abc", nil)
			rec := httptest.NewRecorder()

			ErrorResponse(rec, req, tt.err)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			body := decodeError(t, rec)
			assert.Equal(t, tt.code, body.Code)
			assert.Equal(t, tt.message, body.Message)
		})
	}
}

func TestErrorResponse_ValidationFields(t *testing.T) {
	err := domain.NewValidationError("booking.create", "service_name", "required")
	err = domain.AddFieldError(err, "currency", "must be 3 letters")

	rec := httptest.NewRecorder()
	ErrorResponse(rec, httptest.NewRequest(http.MethodPost, "/api/bookings", nil), err)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, domain.EINVALID, body.Code)
	assert.Equal(t, map[string]string{"service_name": "required", "currency": "must be 3 letters"}, body.Fields)
}

func TestErrorResponse_IllegalTransition(t *testing.T) {
	rec := httptest.NewRecorder()
	ErrorResponse(rec, httptest.NewRequest(http.MethodPost, "/api/orders/x/status", nil),
		domain.IllegalTransition("order.status", "order_item", "delivered", "pending"))

	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, domain.EILLEGAL, body.Code)
	assert.Equal(t, "delivered", body.From)
	assert.Equal(t, "pending", body.To)
}

func TestErrorResponse_PlainText(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/orders/abc", nil)
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()

	ErrorResponse(rec, req, domain.NotFound("order.get", "order", "abc"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Body.String(), "order not found")
}

func TestShortcutResponses(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter, *http.Request)
		status int
	}{
		{"not found", NotFoundResponse, http.StatusNotFound},
		{"unauthorized", UnauthorizedResponse, http.StatusUnauthorized},
		{"forbidden", ForbiddenResponse, http.StatusForbidden},
		{"internal", func(w http.ResponseWriter, r *http.Request) { InternalErrorResponse(w, r, nil) }, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec, httptest.NewRequest(http.MethodGet, "/api/shipments/1", nil))
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func jsonBody(s string) *strings.Reader { return strings.NewReader(s) }

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Quantity int `json:"quantity"`
	}

	req := httptest.NewRequest(http.MethodPost, "/api/orders", jsonBody(`{"quantity":3}`))
	require.NoError(t, DecodeJSON(req, &dst))
	assert.Equal(t, 3, dst.Quantity)

	req = httptest.NewRequest(http.MethodPost, "/api/orders", jsonBody(`{"qty":3}`))
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(DecodeJSON(req, &dst)), "unknown fields are rejected")
}

func TestAcceptsJSON(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		accept      string
		contentType string
		want        bool
	}{
		{"accept header", "/x", "application/json; charset=utf-8", "", true},
		{"json request body", "/x", "", "application/json", true},
		{".json suffix", "/exports/orders.json", "", "", true},
		{"api path", "/api/orders", "", "", true},
		{"webhook path", "/webhooks/stripe", "", "", true},
		{"browser", "/orders", "text/html", "", false},
		{"no hints", "/orders", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			assert.Equal(t, tt.want, acceptsJSON(req))
		})
	}
}
