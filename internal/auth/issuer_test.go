package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type lookupFunc func(ctx context.Context, email string) (Credential, error)

func (f lookupFunc) Lookup(ctx context.Context, email string) (Credential, error) {
	return f(ctx, email)
}

type recordingWriter struct {
	email string
	hash  string
	err   error
}

func (w *recordingWriter) UpdatePassword(_ context.Context, email, hash string) error {
	w.email, w.hash = email, hash
	return w.err
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func directory(t *testing.T) lookupFunc {
	t.Helper()
	records := map[string]Credential{
		"a@x.com": {ID: "emp-a", Email: "a@x.com", PasswordHash: mustHash(t, "password-a"), Status: "ACTIVE", Role: RoleManager},
		"z@x.com": {ID: "emp-z", Email: "z@x.com", PasswordHash: mustHash(t, "password-z"), Status: "INACTIVE", Role: RoleEmployee},
	}
	return func(_ context.Context, email string) (Credential, error) {
		if email == "down@x.com" {
			return Credential{}, errors.New("connection refused")
		}
		rec, ok := records[email]
		if !ok {
			return Credential{}, ErrNotFound
		}
		return rec, nil
	}
}

func newTestIssuer(t *testing.T, lookup CredentialLookup, now time.Time, opts ...IssuerOption) (*Issuer, *Signer) {
	t.Helper()
	signer := newTestSigner(t, now)
	iss, err := NewIssuer(lookup, signer, append([]IssuerOption{WithTokenTTL(30 * time.Minute)}, opts...)...)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	return iss, signer
}

func TestIssuerIssueRoundTrip(t *testing.T) {
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	iss, signer := newTestIssuer(t, directory(t), now)

	tok, err := iss.Issue(context.Background(), "  A@X.com ", "password-a")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if tok.EmployeeID != "emp-a" || tok.Email != "a@x.com" {
		t.Fatalf("unexpected token identity: %+v", tok)
	}
	if tok.ExpiresIn != 30*time.Minute || !tok.ExpiresAt.Equal(now.Add(30*time.Minute)) {
		t.Fatalf("unexpected expiry: %v / %v", tok.ExpiresIn, tok.ExpiresAt)
	}

	claims, err := signer.Parse(tok.Token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Subject != "emp-a" || claims.Email != "a@x.com" || claims.Role.String() != "MANAGER" {
		t.Fatalf("claims did not round-trip: %+v", claims)
	}
}

func TestIssuerIssueFailures(t *testing.T) {
	iss, _ := newTestIssuer(t, directory(t), time.Now())

	cases := []struct {
		name     string
		email    string
		password string
		want     error
	}{
		{name: "unknown email", email: "nobody@x.com", password: "password-a", want: ErrInvalidCredentials},
		{name: "wrong password", email: "a@x.com", password: "nope", want: ErrInvalidCredentials},
		{name: "empty password", email: "a@x.com", password: "", want: ErrInvalidCredentials},
		{name: "inactive correct password", email: "z@x.com", password: "password-z", want: ErrAccountNotActive},
		{name: "inactive wrong password", email: "z@x.com", password: "nope", want: ErrInvalidCredentials},
		{name: "upstream down", email: "down@x.com", password: "whatever", want: ErrUpstreamUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := iss.Issue(context.Background(), tc.email, tc.password)
			if !errors.Is(err, tc.want) {
				t.Fatalf("Issue() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestIssuerDistinguishesInactiveFromWrongSecret(t *testing.T) {
	iss, _ := newTestIssuer(t, directory(t), time.Now())
	_, inactive := iss.Issue(context.Background(), "z@x.com", "password-z")
	_, wrong := iss.Issue(context.Background(), "a@x.com", "password-z")
	if errors.Is(inactive, ErrInvalidCredentials) || errors.Is(wrong, ErrAccountNotActive) {
		t.Fatalf("failure kinds overlap: inactive=%v wrong=%v", inactive, wrong)
	}
}

func TestIssuerChangePassword(t *testing.T) {
	w := &recordingWriter{}
	iss, _ := newTestIssuer(t, directory(t), time.Now(), WithCredentialWriter(w))
	p := Principal{EmployeeID: "emp-a", Email: "a@x.com", Roles: Roles{RoleManager}}

	if err := iss.ChangePassword(context.Background(), p, "wrong", "new-password-1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if w.hash != "" {
		t.Fatal("writer called before current password was verified")
	}
	if err := iss.ChangePassword(context.Background(), p, "password-a", "short"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := iss.ChangePassword(context.Background(), p, "password-a", "new-password-1"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if w.email != "a@x.com" {
		t.Fatalf("unexpected email %q", w.email)
	}
	if err := VerifyPassword(w.hash, "new-password-1"); err != nil {
		t.Fatalf("stored hash does not verify: %v", err)
	}

	mismatch := Principal{EmployeeID: "emp-other", Email: "a@x.com", Roles: Roles{RoleManager}}
	if err := iss.ChangePassword(context.Background(), mismatch, "password-a", "new-password-1"); !errors.Is(err, ErrInconsistent) {
		t.Fatalf("expected ErrInconsistent, got %v", err)
	}
}

func TestIssuerChangePasswordWithoutWriter(t *testing.T) {
	iss, _ := newTestIssuer(t, directory(t), time.Now())
	p := Principal{EmployeeID: "emp-a", Email: "a@x.com", Roles: Roles{RoleManager}}
	if err := iss.ChangePassword(context.Background(), p, "password-a", "new-password-1"); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented, got %v", err)
	}
}
