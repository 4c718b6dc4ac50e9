package gateway

import (
	"errors"
	"net/http"

	"ems.org/internal/httpapi"
	"ems.org/internal/obs"
)

// Options shape the gateway handler.
type Options struct {
	Routes         []Route
	AllowedOrigins []string
	// LoginLimiter throttles LoginPath per client when set.
	LoginLimiter *httpapi.RateLimiter
	Health       httpapi.Health
}

// NewHandler assembles the gateway: the validator runs first on every
// request, then the shared middleware, the login limiter and the routes.
func NewHandler(v *Validator, opts Options) (http.Handler, error) {
	if v == nil {
		return nil, errors.New("gateway: validator is required")
	}
	if len(opts.Routes) == 0 {
		return nil, errors.New("gateway: at least one route is required")
	}

	mux := http.NewServeMux()
	opts.Health.Mount(mux)
	for _, rt := range opts.Routes {
		mux.Handle(rt.Prefix+"/", rt.proxy())
	}

	var routed http.Handler = mux
	if opts.LoginLimiter != nil {
		routed = limitLogin(opts.LoginLimiter, routed)
	}

	return httpapi.Chain(routed,
		v.Middleware,
		httpapi.RequestID,
		httpapi.LoggingJSON,
		httpapi.Recover,
		obs.Instrument,
		httpapi.CORS(opts.AllowedOrigins),
	), nil
}

func limitLogin(l *httpapi.RateLimiter, next http.Handler) http.Handler {
	limited := l.Middleware(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == LoginPath {
			limited.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
