package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"ems.org/internal/obs"
)

// Checker reports readiness of a dependency.
type Checker interface {
	Check(ctx context.Context) error
}

// ReadyProbe pings the database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// CheckFunc adapts a function to Checker.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Health serves liveness, readiness and info for one service.
type Health struct {
	Service string
	Version string
	Ready   Checker
}

// Mount registers /healthz, /readyz, /actuator/health, /v1/info and
// /metrics on mux.
func (h Health) Mount(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /actuator/health", h.Readyz)
	mux.HandleFunc("GET /v1/info", h.Info)
	mux.Handle("GET /metrics", obs.Handler())
}

func (h Health) Healthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": h.Service,
		"version": h.Version,
	})
}

func (h Health) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Ready.Check(ctx); err != nil {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (h Health) Info(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"name":    h.Service,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": h.Version,
	})
}

// Standard wraps an internal service handler with the shared middleware
// stack. TrustedIdentity runs after RequestID so audit entries carry both.
func Standard(h http.Handler) http.Handler {
	return Chain(h,
		RequestID,
		LoggingJSON,
		Recover,
		obs.Instrument,
		SecurityHeaders,
		TrustedIdentity,
	)
}
