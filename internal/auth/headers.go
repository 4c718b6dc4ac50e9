package auth

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const bearerPrefix = "Bearer "

// Trusted identity headers. Only the gateway sets them. The token itself
// never travels past the gateway; its id and expiry (unix seconds) do, so
// internal services can revoke it.
const (
	HeaderEmployeeID   = "X-Employee-Id"
	HeaderEmail        = "X-Email"
	HeaderEmployeeRole = "X-Employee-Role"
	HeaderTokenID      = "X-Token-Id"
	HeaderTokenExpires = "X-Token-Expires"
)

var identityHeaders = [...]string{HeaderEmployeeID, HeaderEmail, HeaderEmployeeRole, HeaderTokenID, HeaderTokenExpires}

// IsIdentityHeader reports whether name is one of the trusted identity
// headers, compared case-insensitively.
func IsIdentityHeader(name string) bool {
	for _, h := range identityHeaders {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}

// StripIdentityHeaders removes every value of every identity header,
// including keys that were stored without canonicalization.
func StripIdentityHeaders(h http.Header) {
	for key := range h {
		if IsIdentityHeader(key) {
			delete(h, key)
		}
	}
}

// SetIdentityHeaders replaces any identity headers with values derived from
// verified claims.
func SetIdentityHeaders(h http.Header, claims *Claims) {
	StripIdentityHeaders(h)
	h.Set(HeaderEmployeeID, claims.Subject)
	h.Set(HeaderEmail, claims.Email)
	h.Set(HeaderEmployeeRole, claims.Role.String())
	if claims.ID != "" {
		h.Set(HeaderTokenID, claims.ID)
	}
	if claims.ExpiresAt != nil {
		h.Set(HeaderTokenExpires, strconv.FormatInt(claims.ExpiresAt.Unix(), 10))
	}
}

// PrincipalFromHeaders reads the trusted identity headers. It reports false
// when the id is absent or no known role is present.
func PrincipalFromHeaders(h http.Header) (Principal, bool) {
	id := strings.TrimSpace(h.Get(HeaderEmployeeID))
	if id == "" {
		return Principal{}, false
	}
	roles := ParseRoles(h.Get(HeaderEmployeeRole))
	if len(roles) == 0 {
		return Principal{}, false
	}
	p := Principal{
		EmployeeID: id,
		Email:      strings.TrimSpace(h.Get(HeaderEmail)),
		Roles:      roles,
		TokenID:    strings.TrimSpace(h.Get(HeaderTokenID)),
	}
	if sec, err := strconv.ParseInt(strings.TrimSpace(h.Get(HeaderTokenExpires)), 10, 64); err == nil && sec > 0 {
		p.TokenExpiresAt = time.Unix(sec, 0).UTC()
	}
	return p, true
}

// BearerToken extracts the token from an Authorization header value. The
// scheme is matched case-insensitively.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrTokenMissing
	}
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", fmt.Errorf("%w: invalid authorization scheme", ErrTokenMissing)
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", ErrTokenMissing
	}
	return token, nil
}
