// Package api exposes the order, booking and shipment workflows as JSON
// endpoints. Handlers are thin: they read the actor and input, call one
// workflow operation and hand the returned outbox to the dispatcher.
package api

import (
	"context"
	"log/slog"
	"mime"
	"net/http"

	"github.com/google/uuid"

	"github.com/dukerupert/chandlery/internal/domain"
	"github.com/dukerupert/chandlery/internal/handler"
	"github.com/dukerupert/chandlery/internal/middleware"
)

// Dispatcher delivers the outbox of a committed operation. jobs.Dispatcher
// satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, evs domain.Events)
}

// base holds what every API handler shares.
type base struct {
	dispatcher Dispatcher
	logger     *slog.Logger
}

func newBase(dispatcher Dispatcher, logger *slog.Logger) base {
	if logger == nil {
		logger = slog.Default()
	}
	return base{dispatcher: dispatcher, logger: logger}
}

// dispatch runs after the state change is persisted. Delivery is detached
// from the request context so a client hanging up cannot drop emails.
func (b base) dispatch(r *http.Request, evs domain.Events) {
	if b.dispatcher == nil || len(evs) == 0 {
		return
	}
	b.dispatcher.Dispatch(context.WithoutCancel(r.Context()), evs)
}

// actor returns the gateway-identified caller or writes 401.
func actor(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	a, ok := middleware.GetActor(r.Context())
	if !ok {
		handler.UnauthorizedResponse(w, r)
		return domain.Actor{}, false
	}
	return a, true
}

// pathUUID parses a uuid path value or writes 400.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		handler.ErrorResponse(w, r, domain.NewValidationError("api.path", name, "must be a uuid"))
		return uuid.Nil, false
	}
	return id, true
}

// decode reads a required JSON body.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := handler.DecodeJSON(r, v); err != nil {
		handler.ErrorResponse(w, r, err)
		return false
	}
	return true
}

// decodeOptional reads a JSON body when the request announces one.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	return decode(w, r, v)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// decodeReason reads an optional reason from JSON or from the form posted
// by the token page.
func decodeReason(w http.ResponseWriter, r *http.Request) (string, bool) {
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "application/x-www-form-urlencoded" {
		return r.PostFormValue("reason"), true
	}
	var req reasonRequest
	if !decodeOptional(w, r, &req) {
		return "", false
	}
	return req.Reason, true
}
