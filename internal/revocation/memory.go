// Package revocation stores revoked token ids for the gateway to consult.
package revocation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var errEmptyTokenID = errors.New("revocation: token id is required")

// Memory is a process-local denylist. It suits a single gateway replica and
// tests; multi-replica deployments use Redis.
type Memory struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemory builds an empty denylist. A nil clock means time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{entries: make(map[string]time.Time), now: now}
}

func (m *Memory) Revoke(_ context.Context, tokenID string, until time.Time) error {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return errEmptyTokenID
	}
	if !until.After(m.now()) {
		return nil
	}
	m.mu.Lock()
	m.entries[tokenID] = until
	m.mu.Unlock()
	return nil
}

func (m *Memory) Revoked(_ context.Context, tokenID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.entries[tokenID]
	if !ok {
		return false, nil
	}
	if !m.now().Before(until) {
		delete(m.entries, tokenID)
		return false, nil
	}
	return true, nil
}

// Sweep drops entries whose token has expired anyway.
func (m *Memory) Sweep() {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, until := range m.entries {
		if !now.Before(until) {
			delete(m.entries, id)
		}
	}
}

// Run sweeps every interval until ctx is done.
func (m *Memory) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *Memory) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
