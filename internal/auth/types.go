package auth

import (
	"strings"
	"time"
)

// StatusActive is the only credential status allowed to log in.
const StatusActive = "ACTIVE"

// Credential is the material the credential store returns for an identifier.
type Credential struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	PasswordHash string `json:"password"`
	Status       string `json:"status"`
	Role         Role   `json:"role"`
}

// Active reports whether the account may authenticate.
func (c Credential) Active() bool {
	return strings.EqualFold(strings.TrimSpace(c.Status), StatusActive)
}

// IssuedToken is returned to a client after a successful login.
type IssuedToken struct {
	EmployeeID string
	Email      string
	Token      string
	ExpiresIn  time.Duration
	ExpiresAt  time.Time
}

// Principal is the authenticated identity an internal service acts on. It is
// built only from the trusted identity headers or from verified claims.
type Principal struct {
	EmployeeID string
	Email      string
	Roles      Roles

	// TokenID and TokenExpiresAt identify the token the gateway verified.
	// Both are empty for callers that did not come through the gateway.
	TokenID        string
	TokenExpiresAt time.Time
}

// Role returns the role decisions branch on.
func (p Principal) Role() (Role, bool) { return p.Roles.Primary() }

// PrincipalFromClaims converts verified claims into a principal.
func PrincipalFromClaims(c *Claims) Principal {
	p := Principal{EmployeeID: c.Subject, Email: c.Email, Roles: c.Role, TokenID: c.ID}
	if c.ExpiresAt != nil {
		p.TokenExpiresAt = c.ExpiresAt.Time.UTC()
	}
	return p
}
