package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"ems.org/internal/auth"
	"ems.org/internal/obs"
)

// DefaultMaxBody caps JSON request bodies.
const DefaultMaxBody = 1 << 20

// statusClientClosedRequest is logged when the caller went away mid-request.
const statusClientClosedRequest = 499

// ErrorBody is the JSON error envelope shared by every service.
type ErrorBody struct {
	Timestamp  time.Time `json:"timestamp"`
	StatusCode int       `json:"statusCode"`
	Message    string    `json:"message"`
	RequestID  string    `json:"requestId,omitempty"`
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes the error envelope.
func WriteError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	WriteJSON(w, code, ErrorBody{
		Timestamp:  time.Now().UTC(),
		StatusCode: code,
		Message:    msg,
		RequestID:  RequestIDFromContext(r.Context()),
	})
}

// StatusFor maps the error taxonomy onto HTTP status codes.
func StatusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, auth.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrAccountNotActive),
		errors.Is(err, auth.ErrUnauthorized),
		errors.Is(err, auth.ErrTokenMissing),
		errors.Is(err, auth.ErrTokenMalformed),
		errors.Is(err, auth.ErrTokenExpired),
		errors.Is(err, auth.ErrTokenSignatureInvalid),
		errors.Is(err, auth.ErrTokenRevoked):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, auth.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, auth.ErrNotImplemented):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// messageFor returns the client-facing text for err. Detail is only exposed
// for input and conflict errors, which describe the caller's own request.
func messageFor(err error, code int) string {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return "Invalid email or password"
	case errors.Is(err, auth.ErrAccountNotActive):
		return "Account is not active"
	case errors.Is(err, auth.ErrUpstreamUnavailable):
		return "Identity service is temporarily unavailable, please retry"
	case code == http.StatusBadRequest, code == http.StatusConflict:
		return strings.TrimPrefix(err.Error(), "auth: ")
	case code == http.StatusRequestEntityTooLarge:
		return "Request body too large"
	case code == http.StatusUnauthorized:
		return "Unauthorized"
	case code == http.StatusForbidden:
		return "Access denied"
	case code == http.StatusNotFound:
		return "Resource not found"
	case code == http.StatusNotImplemented:
		return "Not implemented"
	default:
		return "Internal server error"
	}
}

// WriteErrorFor writes the envelope for err using StatusFor. Server errors
// are logged with their full chain; the client sees a generic message.
func WriteErrorFor(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusFor(err)
	if code >= http.StatusInternalServerError {
		obs.Logger().ErrorContext(r.Context(), "request failed",
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("path", r.URL.Path),
			slog.Int("status", code),
			slog.String("error", err.Error()))
	}
	WriteError(w, r, code, messageFor(err, code))
}

// DecodeJSON reads exactly one JSON object into dst.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, DefaultMaxBody)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxBytes *http.MaxBytesError
		switch {
		case errors.As(err, &maxBytes):
			return err
		case errors.Is(err, io.EOF):
			return fmt.Errorf("%w: request body is required", auth.ErrInvalidInput)
		default:
			return fmt.Errorf("%w: %v", auth.ErrInvalidInput, err)
		}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: unexpected data after JSON body", auth.ErrInvalidInput)
	}
	return nil
}
