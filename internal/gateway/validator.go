// Package gateway is the trust boundary in front of the internal services.
// It verifies bearer tokens, replaces the trusted identity headers with
// values derived from verified claims and proxies to the services.
package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"ems.org/internal/auth"
	"ems.org/internal/obs"
)

const authHeader = "Authorization"

// LoginPath is the only auth-service route reachable without a token.
const LoginPath = "/auth-service/api/auth/login"

// DefaultExemptPaths are forwarded without a token. Each entry matches
// itself and anything below it.
var DefaultExemptPaths = []string{
	LoginPath,
	"/actuator",
	"/healthz",
	"/readyz",
	"/metrics",
}

// Decision is the validator's verdict for one request.
type Decision struct {
	Exempt bool
	Claims *auth.Claims
}

// Validator is the boundary filter. It holds no per-request state.
type Validator struct {
	signer   *auth.Signer
	exempt   []string
	denylist auth.Denylist
	logger   *slog.Logger
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithExemptPaths replaces the exemption list.
func WithExemptPaths(paths ...string) ValidatorOption {
	return func(v *Validator) {
		v.exempt = v.exempt[:0]
		for _, p := range paths {
			if p = strings.TrimSpace(p); p != "" {
				v.exempt = append(v.exempt, strings.TrimSuffix(p, "/"))
			}
		}
	}
}

// WithDenylist enables revocation checks.
func WithDenylist(d auth.Denylist) ValidatorOption {
	return func(v *Validator) { v.denylist = d }
}

// WithValidatorLogger overrides the logger used for rejection reasons.
func WithValidatorLogger(l *slog.Logger) ValidatorOption {
	return func(v *Validator) {
		if l != nil {
			v.logger = l
		}
	}
}

// NewValidator builds a Validator around the shared-key signer.
func NewValidator(signer *auth.Signer, opts ...ValidatorOption) (*Validator, error) {
	if signer == nil {
		return nil, errors.New("gateway: signer is required")
	}
	v := &Validator{signer: signer, exempt: append([]string(nil), DefaultExemptPaths...)}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Authorize strips inbound identity headers and, unless the path is exempt,
// verifies the bearer token and injects headers derived from its claims.
// Errors wrap one of the auth token sentinels.
func (v *Validator) Authorize(r *http.Request) (Decision, error) {
	auth.StripIdentityHeaders(r.Header)

	if r.Method == http.MethodOptions || v.isExempt(r.URL.Path) {
		return Decision{Exempt: true}, nil
	}

	token, err := auth.BearerToken(r.Header.Get(authHeader))
	if err != nil {
		return Decision{}, err
	}
	claims, err := v.signer.Parse(token)
	if err != nil {
		return Decision{}, err
	}
	if v.denylist != nil {
		revoked, err := v.denylist.Revoked(r.Context(), claims.ID)
		if err != nil {
			return Decision{}, fmt.Errorf("%w: denylist: %v", auth.ErrUpstreamUnavailable, err)
		}
		if revoked {
			return Decision{}, auth.ErrTokenRevoked
		}
	}

	auth.SetIdentityHeaders(r.Header, claims)
	return Decision{Claims: claims}, nil
}

// Middleware rejects unauthenticated requests with a uniform 401. The
// classified reason is logged and counted but never returned to the client.
func (v *Validator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, err := v.Authorize(r)
		if err != nil {
			reason := rejectionReason(err)
			obs.GatewayRejected(reason)
			v.log().Warn("gateway rejected request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("reason", reason),
				slog.String("error", err.Error()))
			writeUnauthorized(w)
			return
		}
		if d.Claims != nil {
			ctx := auth.ContextWithClaims(r.Context(), d.Claims)
			r = r.WithContext(auth.ContextWithPrincipal(ctx, auth.PrincipalFromClaims(d.Claims)))
		}
		next.ServeHTTP(w, r)
	})
}

func (v *Validator) log() *slog.Logger {
	if v.logger != nil {
		return v.logger
	}
	return obs.Logger()
}

func (v *Validator) isExempt(p string) bool {
	if p == "" {
		p = "/"
	}
	p = path.Clean(p)
	for _, e := range v.exempt {
		if p == e || strings.HasPrefix(p, e+"/") {
			return true
		}
	}
	return false
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrTokenMissing):
		return "missing"
	case errors.Is(err, auth.ErrTokenExpired):
		return "expired"
	case errors.Is(err, auth.ErrTokenSignatureInvalid):
		return "signature"
	case errors.Is(err, auth.ErrTokenRevoked):
		return "revoked"
	case errors.Is(err, auth.ErrUpstreamUnavailable):
		return "denylist_unavailable"
	default:
		return "malformed"
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("WWW-Authenticate", `Bearer realm="ems"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"Unauthorized","message":"Invalid or missing token"}` + "\n"))
}
