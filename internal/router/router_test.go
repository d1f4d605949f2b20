package router

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trace records the order in which middleware and handlers run.
func trace(log *[]string, name string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*log = append(*log, name+">")
			next.ServeHTTP(w, r)
			*log = append(*log, "<"+name)
		})
	}
}

func TestRouter_ChainOrder(t *testing.T) {
	var log []string

	r := New(trace(&log, "recovery"), trace(&log, "request-id"))
	authed := r.Route("/api", trace(&log, "actor"))
	authed.Get("/shipments/{id}", func(w http.ResponseWriter, r *http.Request) {
		log = append(log, "shipment:"+r.PathValue("id"))
	}, trace(&log, "limit"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/shipments/shp_9", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{
		"recovery>", "request-id>", "actor>", "limit>",
		"shipment:shp_9",
		"<limit", "<actor", "<request-id", "<recovery",
	}, log)
}

func TestRouter_Route(t *testing.T) {
	r := New()
	api := r.Route("/api/")

	var got string
	api.Post("/orders/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		got = r.PathValue("id")
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/orders/abc/status", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "abc", got)

	req = httptest.NewRequest(http.MethodGet, "/api/orders/abc/status", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRouter_GroupDoesNotLeakMiddleware(t *testing.T) {
	var calls int
	counting := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			next.ServeHTTP(w, r)
		})
	}

	r := New()
	r.Group(counting).Get("/guarded", func(w http.ResponseWriter, r *http.Request) {})
	r.Get("/open", func(w http.ResponseWriter, r *http.Request) {})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/open", nil))
	assert.Equal(t, 0, calls)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/guarded", nil))
	assert.Equal(t, 1, calls)
}

func TestRecovery(t *testing.T) {
	r := New(Recovery(slog.New(slog.NewTextHandler(io.Discard, nil))))
	r.Get("/api/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/boom", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"internal"`)
	assert.NotContains(t, w.Body.String(), "boom")
}

func TestLogger_CapturesStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	r := New(Logger(logger))
	r.Get("/api/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/missing", nil))

	assert.Contains(t, buf.String(), `"level":"WARN"`)
	assert.Contains(t, buf.String(), `"status":404`)
}
