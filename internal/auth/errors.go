package auth

import "errors"

// Credential and token failures. Token failures are for server-side
// diagnostics only; clients of the boundary see a generic 401.
var (
	ErrInvalidCredentials    = errors.New("auth: invalid credentials")
	ErrAccountNotActive      = errors.New("auth: account is not active")
	ErrTokenMissing          = errors.New("auth: missing bearer token")
	ErrTokenMalformed        = errors.New("auth: malformed token")
	ErrTokenExpired          = errors.New("auth: token expired")
	ErrTokenSignatureInvalid = errors.New("auth: token signature invalid")
	ErrTokenRevoked          = errors.New("auth: token revoked")
	ErrUpstreamUnavailable   = errors.New("auth: identity service unavailable")
)

// Authorization outcomes.
var (
	ErrNotFound     = errors.New("auth: not found")
	ErrForbidden    = errors.New("auth: forbidden")
	ErrInconsistent = errors.New("auth: trusted identity cannot be resolved")
	ErrUnauthorized = errors.New("auth: unauthorized")
)

var (
	ErrInvalidInput   = errors.New("auth: invalid input")
	ErrConflict       = errors.New("auth: conflict")
	ErrNotImplemented = errors.New("auth: not implemented")
)
