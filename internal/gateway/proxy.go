package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"ems.org/internal/auth"
	"ems.org/internal/httpapi"
	"ems.org/internal/obs"
)

// Route forwards everything under Prefix to Target with the prefix removed.
type Route struct {
	Prefix string
	Target *url.URL
}

// ParseRoute builds a Route from a prefix such as "/auth-service" and a base
// URL.
func ParseRoute(prefix, target string) (Route, error) {
	prefix = "/" + strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "/" {
		return Route{}, errors.New("gateway: route prefix is required")
	}
	u, err := url.Parse(strings.TrimSpace(target))
	if err != nil {
		return Route{}, fmt.Errorf("gateway: route %s: %w", prefix, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Route{}, fmt.Errorf("gateway: route %s: target %q must be an absolute URL", prefix, target)
	}
	return Route{Prefix: prefix, Target: u}, nil
}

func (rt Route) proxy() *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		// Rewrite drops inbound Forwarded and X-Forwarded-* before it runs.
		// The bearer token stops here; services see only the identity headers.
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.Header.Del(authHeader)
			pr.Out.URL.Path = stripPrefix(pr.In.URL.Path, rt.Prefix)
			pr.Out.URL.RawPath = ""
			pr.SetURL(rt.Target)
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			attrs := []any{
				slog.String("request_id", httpapi.RequestIDFromContext(r.Context())),
				slog.String("route", rt.Prefix),
				slog.String("error", err.Error()),
			}
			if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
				attrs = append(attrs, slog.String("employee_id", claims.Subject), slog.String("token_id", claims.ID))
			}
			obs.Logger().Error("proxy upstream failed", attrs...)
			httpapi.WriteError(w, r, http.StatusBadGateway, "Upstream service unavailable")
		},
	}
}

func stripPrefix(p, prefix string) string {
	rest := strings.TrimPrefix(p, prefix)
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	return rest
}
