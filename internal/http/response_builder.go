package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"fundledger/internal/auth"
	"fundledger/internal/core"
	applog "fundledger/internal/log"
)

// errMalformed marks request bodies and parameters that could not be decoded.
var errMalformed = errors.New("malformed request")

// JSONResponseBuilder provides a fluent API for JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	body       any
	headers    map[string]string
}

func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

// Write sends the response. A nil body writes only the status line.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.body == nil {
		w.WriteHeader(b.statusCode)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	if err := json.NewEncoder(w).Encode(b.body); err != nil {
		slog.Error("Failed to encode response", applog.FieldError, err, applog.FieldComponent, applog.ComponentHTTP)
	}
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, errMalformed):
		return http.StatusBadRequest, "malformed_request"
	case errors.Is(err, core.ErrValidation):
		return http.StatusUnprocessableEntity, "validation_failed"
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, core.ErrInsufficientFunds):
		return http.StatusConflict, "insufficient_funds"
	case errors.Is(err, core.ErrAlreadyFinalized), errors.Is(err, core.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, core.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, core.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// ErrorResponse builds the JSON error for err. Server-side failures are
// logged and their detail is withheld from the client.
func ErrorResponse(r *http.Request, err error) *JSONResponseBuilder {
	status, code := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		applog.NewStructuredLogger(applog.FromContext(r.Context())).
			LogError(r.Context(), "Request failed", err, applog.ComponentHTTP, r.Method+" "+r.URL.Path, nil)
		msg = http.StatusText(status)
	}
	return NewJSONResponse().Status(status).Body(errorBody{Error: msg, Code: code})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ErrorResponse(r, err).Write(w)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	NewJSONResponse().Status(status).Body(v).Write(w)
}

func writeTooManyRequests(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().
		Status(http.StatusTooManyRequests).
		Body(errorBody{Error: "rate limit exceeded, try again later", Code: "rate_limited"}).
		Write(w)
}
