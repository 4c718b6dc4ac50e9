package auth

import "context"

// CredentialLookup resolves stored credential material by email. A missing
// record is reported as ErrNotFound; an unreachable store as
// ErrUpstreamUnavailable.
type CredentialLookup interface {
	Lookup(ctx context.Context, email string) (Credential, error)
}

// CredentialWriter persists a new password hash for an account.
type CredentialWriter interface {
	UpdatePassword(ctx context.Context, email, passwordHash string) error
}
