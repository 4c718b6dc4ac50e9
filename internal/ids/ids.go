// Package ids mints request correlation identifiers.
package ids

import (
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable ULID.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Accept returns raw when it is a well-formed ULID, else a fresh one. The
// gateway uses it so clients cannot inject arbitrary correlation values.
func Accept(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw != "" {
		if id, err := ulid.ParseStrict(raw); err == nil {
			return id.String()
		}
	}
	return New()
}
