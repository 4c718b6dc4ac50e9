package employee

import (
	"context"
	"errors"

	"ems.org/internal/auth"
)

// CredentialSource serves credential lookups straight from a Store. The
// employee service uses it behind its internal endpoints.
type CredentialSource struct {
	Store Store
}

var (
	_ auth.CredentialLookup = CredentialSource{}
	_ auth.CredentialWriter = CredentialSource{}
)

func (c CredentialSource) Lookup(ctx context.Context, email string) (auth.Credential, error) {
	e, err := c.Store.GetByEmail(ctx, email)
	if err != nil {
		return auth.Credential{}, err
	}
	return e.Credential(), nil
}

// UpdatePassword reports auth.ErrInconsistent when the account vanished
// between verification and write.
func (c CredentialSource) UpdatePassword(ctx context.Context, email, passwordHash string) error {
	err := c.Store.UpdatePassword(ctx, email, passwordHash)
	if errors.Is(err, auth.ErrNotFound) {
		return auth.ErrInconsistent
	}
	return err
}
