package httpapi

import (
	"net/http"

	"ems.org/internal/auth"
)

// TrustedIdentity is the single place an internal service turns the
// gateway's identity headers into a Principal. It never sees a token. A
// principal already on the context wins; malformed headers yield none.
func TrustedIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.PrincipalFromContext(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}
		if p, ok := auth.PrincipalFromHeaders(r.Header); ok {
			r = r.WithContext(auth.ContextWithPrincipal(r.Context(), p))
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePrincipal returns the request principal or writes a 401.
func RequirePrincipal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		WriteErrorFor(w, r, auth.ErrUnauthorized)
		return auth.Principal{}, false
	}
	return p, true
}
