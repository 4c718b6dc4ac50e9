package resilience

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"ems.org/internal/auth"
)

type scriptedStore struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) (auth.Credential, error)
}

func (s *scriptedStore) Lookup(_ context.Context, _ string) (auth.Credential, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	return s.fn(call)
}

func (s *scriptedStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var errDown = errors.New("dial tcp: connection refused")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestLookup(store auth.CredentialLookup, b *Breaker, retries int) *Lookup {
	return NewLookup(store, b, WithMaxRetries(retries), WithLogger(quietLogger()))
}

func TestLookupRetriesTransientFailures(t *testing.T) {
	store := &scriptedStore{fn: func(call int) (auth.Credential, error) {
		if call < 3 {
			return auth.Credential{}, errDown
		}
		return auth.Credential{ID: "emp-1", Email: "a@x.com"}, nil
	}}
	b := newTestBreaker(newFakeClock(), Settings{})
	l := newTestLookup(store, b, 2)

	cred, err := l.Lookup(context.Background(), "a@x.com")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if cred.ID != "emp-1" || store.Calls() != 3 {
		t.Fatalf("cred=%+v calls=%d", cred, store.Calls())
	}
	if b.failureCount() != 0 {
		t.Fatalf("recovered call should not count as failure")
	}
}

func TestLookupExhaustedRetriesFallBack(t *testing.T) {
	store := &scriptedStore{fn: func(int) (auth.Credential, error) { return auth.Credential{}, errDown }}
	b := newTestBreaker(newFakeClock(), Settings{})
	l := newTestLookup(store, b, 2)

	_, err := l.Lookup(context.Background(), "a@x.com")
	if !errors.Is(err, auth.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
	if errors.Is(err, auth.ErrNotFound) || errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("fallback must not look like a missing identity: %v", err)
	}
	if store.Calls() != 3 {
		t.Fatalf("calls = %d, want 3", store.Calls())
	}
	if b.failureCount() != 1 {
		t.Fatalf("exhausted call should count once, got %d", b.failureCount())
	}
}

func TestLookupNotFoundIsHealthy(t *testing.T) {
	store := &scriptedStore{fn: func(int) (auth.Credential, error) { return auth.Credential{}, auth.ErrNotFound }}
	b := newTestBreaker(newFakeClock(), Settings{FailureThreshold: 1})
	l := newTestLookup(store, b, 2)

	for i := 0; i < 5; i++ {
		if _, err := l.Lookup(context.Background(), "nobody@x.com"); !errors.Is(err, auth.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	}
	if store.Calls() != 5 {
		t.Fatalf("not found must not be retried, calls = %d", store.Calls())
	}
	if b.State() != StateClosed {
		t.Fatalf("not found must not trip the breaker, got %s", b.State())
	}
}

func TestLookupOpenCircuitSkipsUpstream(t *testing.T) {
	clock := newFakeClock()
	store := &scriptedStore{fn: func(int) (auth.Credential, error) { return auth.Credential{}, errDown }}
	b := newTestBreaker(clock, Settings{FailureThreshold: 3, OpenTimeout: 10 * time.Second})
	l := newTestLookup(store, b, 0)

	for i := 0; i < 3; i++ {
		_, _ = l.Lookup(context.Background(), "a@x.com")
	}
	if b.State() != StateOpen {
		t.Fatalf("expected OPEN, got %s", b.State())
	}
	before := store.Calls()

	_, err := l.Lookup(context.Background(), "a@x.com")
	if !errors.Is(err, auth.ErrUpstreamUnavailable) || !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected open-circuit fallback, got %v", err)
	}
	if store.Calls() != before {
		t.Fatalf("open circuit reached upstream")
	}
}

func TestLookupHalfOpenSingleAttempt(t *testing.T) {
	clock := newFakeClock()
	healthy := false
	var mu sync.Mutex
	store := &scriptedStore{fn: func(int) (auth.Credential, error) {
		mu.Lock()
		defer mu.Unlock()
		if healthy {
			return auth.Credential{ID: "emp-1"}, nil
		}
		return auth.Credential{}, errDown
	}}
	b := newTestBreaker(clock, Settings{FailureThreshold: 1, OpenTimeout: 10 * time.Second})
	l := newTestLookup(store, b, 2)

	_, _ = l.Lookup(context.Background(), "a@x.com")
	if b.State() != StateOpen {
		t.Fatalf("expected OPEN, got %s", b.State())
	}

	clock.Advance(10 * time.Second)
	before := store.Calls()
	if _, err := l.Lookup(context.Background(), "a@x.com"); !errors.Is(err, auth.ErrUpstreamUnavailable) {
		t.Fatalf("expected failure in trial, got %v", err)
	}
	if got := store.Calls() - before; got != 1 {
		t.Fatalf("half-open trial retried: %d attempts", got)
	}

	mu.Lock()
	healthy = true
	mu.Unlock()
	clock.Advance(10 * time.Second)
	if _, err := l.Lookup(context.Background(), "a@x.com"); err != nil {
		t.Fatalf("trial should succeed: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected CLOSED after recovery, got %s", b.State())
	}
}

func TestLookupCanceledContextRecordsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := &scriptedStore{fn: func(int) (auth.Credential, error) {
		cancel()
		return auth.Credential{}, context.Canceled
	}}
	b := newTestBreaker(newFakeClock(), Settings{FailureThreshold: 1})
	l := newTestLookup(store, b, 2)

	_, err := l.Lookup(ctx, "a@x.com")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if store.Calls() != 1 {
		t.Fatalf("canceled lookup retried: %d", store.Calls())
	}
	if b.State() != StateClosed || b.failureCount() != 0 {
		t.Fatalf("canceled lookup counted as failure")
	}
}

func TestLookupDoesNotCache(t *testing.T) {
	store := &scriptedStore{fn: func(call int) (auth.Credential, error) {
		if call == 1 {
			return auth.Credential{ID: "emp-1", Status: "ACTIVE"}, nil
		}
		return auth.Credential{}, errDown
	}}
	l := newTestLookup(store, newTestBreaker(newFakeClock(), Settings{}), 0)

	if _, err := l.Lookup(context.Background(), "a@x.com"); err != nil {
		t.Fatalf("first Lookup: %v", err)
	}
	if _, err := l.Lookup(context.Background(), "a@x.com"); !errors.Is(err, auth.ErrUpstreamUnavailable) {
		t.Fatalf("second lookup should reach upstream and fail, got %v", err)
	}
}

func TestIssuerOverOpenCircuitReportsUnavailable(t *testing.T) {
	store := &scriptedStore{fn: func(int) (auth.Credential, error) { return auth.Credential{}, errDown }}
	b := newTestBreaker(newFakeClock(), Settings{FailureThreshold: 1})
	l := newTestLookup(store, b, 0)

	signer, err := auth.NewSigner("resilience-test-secret-0123456789abcdef")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	iss, err := auth.NewIssuer(l, signer)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	for i := 0; i < 3; i++ {
		_, err := iss.Issue(context.Background(), "a@x.com", "secret")
		if !errors.Is(err, auth.ErrUpstreamUnavailable) {
			t.Fatalf("attempt %d: expected ErrUpstreamUnavailable, got %v", i, err)
		}
		if errors.Is(err, auth.ErrInvalidCredentials) {
			t.Fatalf("attempt %d: outage reported as bad credentials", i)
		}
	}
}
