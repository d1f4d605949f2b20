package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/chandlery/internal/domain"
	"github.com/dukerupert/chandlery/internal/middleware"
)

const internalMessage = "An internal error occurred. Please try again later."

// ErrorCodeToHTTPStatus maps an application error code to its HTTP status.
func ErrorCodeToHTTPStatus(code string) int {
	switch code {
	case domain.EINVALID:
		return http.StatusBadRequest
	case domain.EUNAUTHORIZED:
		return http.StatusUnauthorized
	case domain.EFORBIDDEN:
		return http.StatusForbidden
	case domain.ENOTFOUND:
		return http.StatusNotFound
	case domain.ECONFLICT, domain.EILLEGAL, domain.EPROCESSED:
		return http.StatusConflict
	case domain.EGONE:
		return http.StatusGone
	case domain.EEXTERNAL:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	From    string            `json:"from,omitempty"`
	To      string            `json:"to,omitempty"`
}

// ErrorResponse writes err with the status its code maps to. Internal
// details are logged, never sent.
func ErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.ErrorCode(err)
	status := ErrorCodeToHTTPStatus(code)

	logger := middleware.GetLogger(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			"op", domain.ErrorOp(err),
			"code", code,
			"error", err,
		)
	} else {
		logger.Debug("request rejected", "code", code, "error", err)
	}

	message := domain.ErrorMessage(err)
	if status == http.StatusInternalServerError {
		message = internalMessage
	}

	if !acceptsJSON(r) {
		http.Error(w, message, status)
		return
	}

	body := errorBody{Code: code, Message: message}
	if fields := domain.GetValidationFields(err); len(fields) > 0 {
		body.Fields = fields
	}
	var ite *domain.IllegalTransitionError
	if errors.As(err, &ite) {
		body.From = ite.From
		body.To = ite.To
	}
	writeJSON(w, status, map[string]errorBody{"error": body})
}

func NotFoundResponse(w http.ResponseWriter, r *http.Request) {
	ErrorResponse(w, r, domain.Errorf(domain.ENOTFOUND, "", "Not found"))
}

func UnauthorizedResponse(w http.ResponseWriter, r *http.Request) {
	ErrorResponse(w, r, domain.Errorf(domain.EUNAUTHORIZED, "", "Authentication required"))
}

func ForbiddenResponse(w http.ResponseWriter, r *http.Request) {
	ErrorResponse(w, r, domain.Errorf(domain.EFORBIDDEN, "", "Forbidden"))
}

func InternalErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	ErrorResponse(w, r, domain.Internal(err, "", "internal error"))
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("failed to encode response", "error", err)
	}
}

// DecodeJSON reads a JSON request body into v. Unknown fields are
// rejected so typos surface as validation errors.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.Invalid("request.decode", "Request body is not valid JSON: "+err.Error())
	}
	return nil
}

// acceptsJSON reports whether the client wants a JSON error body. The API
// answers in JSON unless the client explicitly asks for HTML.
func acceptsJSON(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return true
	}
	return strings.HasSuffix(r.URL.Path, ".json") ||
		strings.HasPrefix(r.URL.Path, "/api/") ||
		strings.HasPrefix(r.URL.Path, "/webhooks/")
}
