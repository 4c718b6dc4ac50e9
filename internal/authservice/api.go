// Package authservice serves login, password change and logout.
package authservice

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"ems.org/internal/audit"
	"ems.org/internal/auth"
	"ems.org/internal/httpapi"
	"ems.org/internal/obs"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	EmployeeID  string `json:"employeeId"`
	Email       string `json:"email"`
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// API is the auth-service HTTP surface.
type API struct {
	mux      *http.ServeMux
	issuer   *auth.Issuer
	denylist auth.Denylist
}

// Option configures the API.
type Option func(*API)

// WithRevocation enables POST /api/auth/logout. The token id and expiry
// come from the identity headers the gateway sets.
func WithRevocation(denylist auth.Denylist) Option {
	return func(a *API) { a.denylist = denylist }
}

// New mounts the auth routes and the shared health endpoints.
func New(issuer *auth.Issuer, health httpapi.Health, opts ...Option) (*API, error) {
	if issuer == nil {
		return nil, errors.New("authservice: issuer is required")
	}
	a := &API{mux: http.NewServeMux(), issuer: issuer}
	for _, opt := range opts {
		opt(a)
	}
	health.Mount(a.mux)
	a.mux.HandleFunc("POST /api/auth/login", a.handleLogin)
	a.mux.HandleFunc("POST /api/auth/change-password", a.handleChangePassword)
	if a.denylist != nil {
		a.mux.HandleFunc("POST /api/auth/logout", a.handleLogout)
	}
	return a, nil
}

// Handler returns the routes wrapped in the shared middleware.
func (a *API) Handler() http.Handler {
	return httpapi.Standard(a.mux)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpapi.DecodeJSON(w, r, &req); err != nil {
		httpapi.WriteErrorFor(w, r, err)
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		httpapi.WriteError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	issued, err := a.issuer.Issue(r.Context(), req.Email, req.Password)
	if err != nil {
		reason := loginFailureReason(err)
		obs.LoginFailed(reason)
		_ = audit.LogEvent(r.Context(), "auth.login.failed", map[string]any{
			"email":  strings.ToLower(strings.TrimSpace(req.Email)),
			"reason": reason,
		})
		httpapi.WriteErrorFor(w, r, err)
		return
	}

	obs.TokenIssued()
	_ = audit.LogEvent(r.Context(), "auth.login.succeeded", map[string]any{
		"employee_id": issued.EmployeeID,
		"expires_at":  issued.ExpiresAt.UTC().Format(time.RFC3339),
	})
	httpapi.WriteJSON(w, http.StatusOK, loginResponse{
		EmployeeID:  issued.EmployeeID,
		Email:       issued.Email,
		AccessToken: issued.Token,
		ExpiresIn:   int64(issued.ExpiresIn / time.Second),
	})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	p, ok := httpapi.RequirePrincipal(w, r)
	if !ok {
		return
	}
	var req changePasswordRequest
	if err := httpapi.DecodeJSON(w, r, &req); err != nil {
		httpapi.WriteErrorFor(w, r, err)
		return
	}
	if err := a.issuer.ChangePassword(r.Context(), p, req.CurrentPassword, req.NewPassword); err != nil {
		_ = audit.LogEvent(r.Context(), "auth.password.change_failed", map[string]any{
			"reason": loginFailureReason(err),
		})
		httpapi.WriteErrorFor(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.password.changed", nil)
	httpapi.WriteJSON(w, http.StatusOK, messageResponse{Message: "Password changed successfully"})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	p, ok := httpapi.RequirePrincipal(w, r)
	if !ok {
		return
	}
	if p.TokenID == "" || p.TokenExpiresAt.IsZero() {
		httpapi.WriteErrorFor(w, r, auth.ErrUnauthorized)
		return
	}
	if err := a.denylist.Revoke(r.Context(), p.TokenID, p.TokenExpiresAt); err != nil {
		httpapi.WriteErrorFor(w, r, errors.Join(auth.ErrUpstreamUnavailable, err))
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.logout", map[string]any{"employee_id": p.EmployeeID, "token_id": p.TokenID})
	w.WriteHeader(http.StatusNoContent)
}

func loginFailureReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, auth.ErrAccountNotActive):
		return "inactive"
	case errors.Is(err, auth.ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, auth.ErrInvalidInput):
		return "invalid_input"
	default:
		return "error"
	}
}
