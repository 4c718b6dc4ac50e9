package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultTokenTTL   = 24 * time.Hour
	minPasswordLength = 8
)

// Issuer verifies presented credentials and mints tokens. It keeps no
// session state.
type Issuer struct {
	lookup CredentialLookup
	writer CredentialWriter
	signer *Signer
	ttl    time.Duration
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithTokenTTL sets the validity window of minted tokens.
func WithTokenTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithCredentialWriter enables ChangePassword.
func WithCredentialWriter(w CredentialWriter) IssuerOption {
	return func(i *Issuer) { i.writer = w }
}

// NewIssuer constructs an Issuer.
func NewIssuer(lookup CredentialLookup, signer *Signer, opts ...IssuerOption) (*Issuer, error) {
	if lookup == nil {
		return nil, errors.New("auth: credential lookup is required")
	}
	if signer == nil {
		return nil, errors.New("auth: signer is required")
	}
	i := &Issuer{lookup: lookup, signer: signer, ttl: defaultTokenTTL}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Issue authenticates email/secret and mints a token. It fails with
// ErrInvalidCredentials, ErrAccountNotActive or ErrUpstreamUnavailable.
func (i *Issuer) Issue(ctx context.Context, email, secret string) (IssuedToken, error) {
	email = normalizeEmail(email)
	if email == "" || secret == "" {
		return IssuedToken{}, ErrInvalidCredentials
	}
	cred, err := i.credential(ctx, email, secret)
	if err != nil {
		return IssuedToken{}, err
	}
	if !cred.Active() {
		return IssuedToken{}, ErrAccountNotActive
	}
	if !cred.Role.Valid() {
		return IssuedToken{}, fmt.Errorf("%w: stored role %q is unknown", ErrInvalidCredentials, cred.Role)
	}
	claims, token, err := i.signer.Mint(cred.ID, cred.Email, Roles{cred.Role}, i.ttl)
	if err != nil {
		return IssuedToken{}, err
	}
	return IssuedToken{
		EmployeeID: cred.ID,
		Email:      cred.Email,
		Token:      token,
		ExpiresIn:  i.ttl,
		ExpiresAt:  claims.ExpiresAt.Time,
	}, nil
}

// ChangePassword checks current against the principal's stored hash before
// handing a hash of next to the credential writer.
func (i *Issuer) ChangePassword(ctx context.Context, p Principal, current, next string) error {
	if i.writer == nil {
		return ErrNotImplemented
	}
	email := normalizeEmail(p.Email)
	if email == "" {
		return ErrUnauthorized
	}
	if current == "" {
		return ErrInvalidCredentials
	}
	if len(next) < minPasswordLength {
		return fmt.Errorf("%w: new password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	cred, err := i.credential(ctx, email, current)
	if err != nil {
		return err
	}
	if cred.ID != p.EmployeeID {
		return ErrInconsistent
	}
	hash, err := HashPassword(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return i.writer.UpdatePassword(ctx, email, hash)
}

// credential loads the record for email and verifies secret against it.
func (i *Issuer) credential(ctx context.Context, email, secret string) (Credential, error) {
	cred, err := i.lookup.Lookup(ctx, email)
	switch {
	case errors.Is(err, ErrNotFound):
		burnComparison(secret)
		return Credential{}, ErrInvalidCredentials
	case errors.Is(err, ErrUpstreamUnavailable), errors.Is(err, context.Canceled):
		return Credential{}, err
	case err != nil:
		return Credential{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if err := VerifyPassword(cred.PasswordHash, secret); err != nil {
		return Credential{}, ErrInvalidCredentials
	}
	return cred, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
