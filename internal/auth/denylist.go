package auth

import (
	"context"
	"time"
)

// Denylist records token ids revoked before their natural expiry. Entries
// only need to outlive the token they name.
type Denylist interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	Revoked(ctx context.Context, tokenID string) (bool, error)
}
