package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultIssuer = "ems-auth"

	// MinSecretLength is the shortest HS256 key accepted (256 bits).
	MinSecretLength = 32
)

var errShortSecret = fmt.Errorf("auth: signing secret must be at least %d bytes", MinSecretLength)

// Claims are the identity claims carried inside a token. They never change
// after issuance; a new login mints a new token.
type Claims struct {
	Email string `json:"email"`
	Role  Roles  `json:"role"`
	jwt.RegisteredClaims
}

// Signer mints and verifies HS256 tokens with a key shared only between the
// auth service and the gateway.
type Signer struct {
	key    []byte
	issuer string
	now    func() time.Time
}

// SignerOption configures a Signer.
type SignerOption func(*Signer)

// WithIssuer overrides the iss claim written and required by the signer.
func WithIssuer(issuer string) SignerOption {
	return func(s *Signer) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.issuer = issuer
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) SignerOption {
	return func(s *Signer) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewSigner validates the secret and builds a Signer.
func NewSigner(secret string, opts ...SignerOption) (*Signer, error) {
	secret = strings.TrimSpace(secret)
	if len(secret) < MinSecretLength {
		return nil, errShortSecret
	}
	s := &Signer{key: []byte(secret), issuer: defaultIssuer, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Mint builds claims for the given identity valid for ttl from now.
func (s *Signer) Mint(subject, email string, roles Roles, ttl time.Duration) (Claims, string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return Claims{}, "", errors.New("auth: subject is required")
	}
	if ttl <= 0 {
		return Claims{}, "", errors.New("auth: ttl must be greater than zero")
	}
	now := s.now().UTC()
	claims := Claims{
		Email: email,
		Role:  roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := s.Sign(claims)
	if err != nil {
		return Claims{}, "", err
	}
	return claims, signed, nil
}

// Sign encodes and signs claims as they are.
func (s *Signer) Sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies signature, issuer and expiry and returns the claims.
// Errors wrap one of ErrTokenMalformed, ErrTokenExpired or
// ErrTokenSignatureInvalid.
func (s *Signer) Parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenMalformed
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, classify(err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenMalformed
	}
	// Enforced here as well as inside the library.
	if claims.ExpiresAt == nil || !s.now().Before(claims.ExpiresAt.Time) {
		return nil, ErrTokenExpired
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: subject missing", ErrTokenMalformed)
	}
	if len(claims.Role) == 0 {
		return nil, fmt.Errorf("%w: no known role", ErrTokenMalformed)
	}
	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrTokenSignatureInvalid, err)
	default:
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
}
