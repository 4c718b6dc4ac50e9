package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ems.org/internal/auth"
)

const defaultMaxRetries = 2

var _ auth.CredentialLookup = (*Lookup)(nil)

// Lookup wraps a credential store with retry, circuit breaker and fallback.
// It never caches results.
type Lookup struct {
	next       auth.CredentialLookup
	breaker    *Breaker
	maxRetries int
	logger     *slog.Logger
}

// LookupOption configures a Lookup.
type LookupOption func(*Lookup)

// WithMaxRetries sets the number of immediate retries after the first
// attempt. Retries only happen while the circuit is closed.
func WithMaxRetries(n int) LookupOption {
	return func(l *Lookup) {
		if n >= 0 {
			l.maxRetries = n
		}
	}
}

// WithLogger sets the logger used for fallback diagnostics.
func WithLogger(logger *slog.Logger) LookupOption {
	return func(l *Lookup) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLookup builds a resilient lookup around next.
func NewLookup(next auth.CredentialLookup, breaker *Breaker, opts ...LookupOption) *Lookup {
	l := &Lookup{
		next:       next,
		breaker:    breaker,
		maxRetries: defaultMaxRetries,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lookup returns the record, auth.ErrNotFound, the caller's context error,
// or an error wrapping auth.ErrUpstreamUnavailable (and ErrCircuitOpen when
// the call was rejected without reaching upstream).
func (l *Lookup) Lookup(ctx context.Context, email string) (auth.Credential, error) {
	state, done, err := l.breaker.Allow()
	if err != nil {
		l.logger.WarnContext(ctx, "credential lookup short-circuited",
			slog.String("link", l.breaker.Name()), slog.String("state", state.String()))
		return auth.Credential{}, fmt.Errorf("%w: %w", auth.ErrUpstreamUnavailable, err)
	}

	attempts := 1
	if state == StateClosed {
		attempts += l.maxRetries
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		cred, err := l.next.Lookup(ctx, email)
		switch {
		case err == nil:
			done(Success)
			return cred, nil
		case errors.Is(err, auth.ErrNotFound):
			done(Success)
			return auth.Credential{}, auth.ErrNotFound
		case ctx.Err() != nil:
			done(Abandoned)
			return auth.Credential{}, ctx.Err()
		}
		lastErr = err
	}

	done(Failure)
	l.logger.WarnContext(ctx, "credential lookup failed",
		slog.String("link", l.breaker.Name()),
		slog.Int("attempts", attempts),
		slog.String("error", lastErr.Error()))
	return auth.Credential{}, fmt.Errorf("%w: %v", auth.ErrUpstreamUnavailable, lastErr)
}
