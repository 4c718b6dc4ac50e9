// Package resilience guards calls to the remote credential store with a
// circuit breaker and bounded retries.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling upstream while the circuit is
// open or its half-open trial slots are taken.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State of a circuit.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Outcome of a call admitted by the breaker.
type Outcome int

const (
	Success Outcome = iota
	Failure
	// Abandoned calls (caller canceled) count neither way.
	Abandoned
)

// Settings configure a Breaker. Zero values take defaults.
type Settings struct {
	Name             string
	FailureThreshold int
	Window           time.Duration
	OpenTimeout      time.Duration
	HalfOpenMaxCalls int

	// OnStateChange is called after the breaker lock is released.
	OnStateChange func(name string, from, to State)
}

const (
	defaultFailureThreshold = 5
	defaultWindow           = 30 * time.Second
	defaultOpenTimeout      = 10 * time.Second
	defaultHalfOpenMaxCalls = 1
)

func (s Settings) withDefaults() Settings {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = defaultFailureThreshold
	}
	if s.Window <= 0 {
		s.Window = defaultWindow
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = defaultOpenTimeout
	}
	if s.HalfOpenMaxCalls <= 0 {
		s.HalfOpenMaxCalls = defaultHalfOpenMaxCalls
	}
	return s
}

type transition struct {
	from, to State
}

// Breaker is a process-wide state machine for one upstream link. It is safe
// for concurrent use; transitions are evaluated against the clock on every
// call, so an open circuit moves to half-open once the cool-down has passed
// regardless of which caller observes it.
type Breaker struct {
	settings Settings
	now      func() time.Time

	mu          sync.Mutex
	state       State
	generation  uint64
	failures    int
	windowStart time.Time
	openedAt    time.Time
	trials      int
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithBreakerClock overrides the time source (useful for tests).
func WithBreakerClock(fn func() time.Time) BreakerOption {
	return func(b *Breaker) {
		if fn != nil {
			b.now = fn
		}
	}
}

// NewBreaker builds a closed breaker.
func NewBreaker(settings Settings, opts ...BreakerOption) *Breaker {
	b := &Breaker{settings: settings.withDefaults(), now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the configured link name.
func (b *Breaker) Name() string { return b.settings.Name }

// State returns the current state after applying any due timeout.
func (b *Breaker) State() State {
	b.mu.Lock()
	tr := b.advance(b.now())
	state := b.state
	b.mu.Unlock()
	b.notify(tr)
	return state
}

// Allow admits a call or fails fast with ErrCircuitOpen. The returned state
// is the one the call was admitted under; done must be called exactly once
// with the call's outcome.
func (b *Breaker) Allow() (State, func(Outcome), error) {
	b.mu.Lock()
	tr := b.advance(b.now())
	state, gen := b.state, b.generation
	var err error
	switch state {
	case StateOpen:
		err = ErrCircuitOpen
	case StateHalfOpen:
		if b.trials >= b.settings.HalfOpenMaxCalls {
			err = ErrCircuitOpen
		} else {
			b.trials++
		}
	}
	b.mu.Unlock()
	b.notify(tr)
	if err != nil {
		return state, nil, err
	}

	var once sync.Once
	return state, func(o Outcome) {
		once.Do(func() { b.record(gen, state, o) })
	}, nil
}

func (b *Breaker) record(gen uint64, admitted State, o Outcome) {
	b.mu.Lock()
	var tr *transition
	// Results from an earlier generation do not affect the current one.
	if gen == b.generation {
		now := b.now()
		switch admitted {
		case StateHalfOpen:
			switch o {
			case Success:
				tr = b.setState(StateClosed, now)
			case Failure:
				tr = b.setState(StateOpen, now)
			default:
				b.trials--
			}
		case StateClosed:
			if o == Failure {
				if b.windowStart.IsZero() || now.Sub(b.windowStart) > b.settings.Window {
					b.windowStart = now
					b.failures = 0
				}
				b.failures++
				if b.failures >= b.settings.FailureThreshold {
					tr = b.setState(StateOpen, now)
				}
			}
		}
	}
	b.mu.Unlock()
	b.notify(tr)
}

// advance moves OPEN to HALF_OPEN once the cool-down elapsed. Caller holds mu.
func (b *Breaker) advance(now time.Time) *transition {
	if b.state == StateOpen && now.Sub(b.openedAt) >= b.settings.OpenTimeout {
		return b.setState(StateHalfOpen, now)
	}
	return nil
}

// setState resets all counters for the new generation. Caller holds mu.
func (b *Breaker) setState(to State, now time.Time) *transition {
	if b.state == to {
		return nil
	}
	from := b.state
	b.state = to
	b.generation++
	b.failures = 0
	b.windowStart = time.Time{}
	b.trials = 0
	if to == StateOpen {
		b.openedAt = now
	}
	return &transition{from: from, to: to}
}

func (b *Breaker) notify(tr *transition) {
	if tr == nil || b.settings.OnStateChange == nil {
		return
	}
	b.settings.OnStateChange(b.settings.Name, tr.from, tr.to)
}

// failureCount is exposed to tests in this package only.
func (b *Breaker) failureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
