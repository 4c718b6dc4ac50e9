package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ems.org/internal/auth"
	"ems.org/internal/resilience"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{auth.ErrInvalidInput, http.StatusBadRequest},
		{auth.ErrInvalidCredentials, http.StatusUnauthorized},
		{auth.ErrAccountNotActive, http.StatusUnauthorized},
		{auth.ErrTokenExpired, http.StatusUnauthorized},
		{auth.ErrForbidden, http.StatusForbidden},
		{auth.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", auth.ErrNotFound), http.StatusNotFound},
		{auth.ErrConflict, http.StatusConflict},
		{fmt.Errorf("%w: %w", auth.ErrUpstreamUnavailable, resilience.ErrCircuitOpen), http.StatusServiceUnavailable},
		{auth.ErrInconsistent, http.StatusInternalServerError},
		{auth.ErrNotImplemented, http.StatusNotImplemented},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{&http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		if got := StatusFor(tc.err); got != tc.want {
			t.Fatalf("StatusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestWriteErrorForHidesInternalDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/employees", nil)
	WriteErrorFor(rr, req, fmt.Errorf("%w: employee 42 missing from table", auth.ErrInconsistent))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "42") {
		t.Fatalf("internal detail leaked: %s", rr.Body.String())
	}
	var body ErrorBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.StatusCode != http.StatusInternalServerError || body.Timestamp.IsZero() {
		t.Fatalf("unexpected envelope: %+v", body)
	}
}

func TestLoginFailureMessagesDiffer(t *testing.T) {
	msgs := map[string]bool{}
	for _, err := range []error{auth.ErrInvalidCredentials, auth.ErrAccountNotActive, auth.ErrUpstreamUnavailable} {
		rr := httptest.NewRecorder()
		WriteErrorFor(rr, httptest.NewRequest(http.MethodPost, "/api/auth/login", nil), err)
		var body ErrorBody
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		msgs[body.Message] = true
	}
	if len(msgs) != 3 {
		t.Fatalf("expected three distinct messages, got %v", msgs)
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Email string `json:"email"`
	}
	cases := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "ok", body: `{"email":"a@x.com"}`},
		{name: "empty", body: ``, wantErr: true},
		{name: "unknown field", body: `{"email":"a@x.com","admin":true}`, wantErr: true},
		{name: "trailing data", body: `{"email":"a@x.com"} {}`, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			var p payload
			err := DecodeJSON(httptest.NewRecorder(), req, &p)
			if (err != nil) != tc.wantErr {
				t.Fatalf("DecodeJSON() error = %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil && StatusFor(err) != http.StatusBadRequest {
				t.Fatalf("decode errors should map to 400, got %d", StatusFor(err))
			}
		})
	}
}
