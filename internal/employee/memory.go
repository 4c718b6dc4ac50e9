package employee

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ems.org/internal/auth"
)

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu      sync.RWMutex
	byID    map[string]Employee
	byEmail map[string]string // email -> id
	now     func() time.Time
}

// NewInMemory creates an empty directory.
func NewInMemory() *InMemory {
	return &InMemory{
		byID:    make(map[string]Employee),
		byEmail: make(map[string]string),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

var _ Store = (*InMemory)(nil)

func (s *InMemory) Get(_ context.Context, id string) (Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	if !ok {
		return Employee{}, auth.ErrNotFound
	}
	return e, nil
}

func (s *InMemory) GetByEmail(_ context.Context, email string) (Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return Employee{}, auth.ErrNotFound
	}
	return s.byID[id], nil
}

func (s *InMemory) List(_ context.Context, f Filter) ([]Employee, error) {
	s.mu.RLock()
	out := make([]Employee, 0, len(s.byID))
	for _, e := range s.byID {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()
	sortEmployees(out)
	return out, nil
}

func (s *InMemory) Create(_ context.Context, e Employee) (Employee, error) {
	e.Normalize()
	if err := e.Validate(); err != nil {
		return Employee{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byEmail[e.Email]; taken {
		return Employee{}, auth.ErrConflict
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	} else if _, taken := s.byID[e.ID]; taken {
		return Employee{}, auth.ErrConflict
	}
	now := s.now()
	e.CreatedAt, e.UpdatedAt = now, now
	s.byID[e.ID] = e
	s.byEmail[e.Email] = e.ID
	return e, nil
}

// Update replaces profile fields. The stored password hash is kept when e
// carries none.
func (s *InMemory) Update(_ context.Context, e Employee) (Employee, error) {
	e.Normalize()
	if err := e.Validate(); err != nil {
		return Employee{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[e.ID]
	if !ok {
		return Employee{}, auth.ErrNotFound
	}
	if id, taken := s.byEmail[e.Email]; taken && id != e.ID {
		return Employee{}, auth.ErrConflict
	}
	if e.PasswordHash == "" {
		e.PasswordHash = cur.PasswordHash
	}
	e.CreatedAt = cur.CreatedAt
	e.UpdatedAt = s.now()
	delete(s.byEmail, cur.Email)
	s.byID[e.ID] = e
	s.byEmail[e.Email] = e.ID
	return e, nil
}

func (s *InMemory) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return auth.ErrNotFound
	}
	delete(s.byID, id)
	delete(s.byEmail, e.Email)
	return nil
}

func (s *InMemory) UpdatePassword(_ context.Context, email, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return auth.ErrNotFound
	}
	e := s.byID[id]
	e.PasswordHash = passwordHash
	e.UpdatedAt = s.now()
	s.byID[id] = e
	return nil
}

func sortEmployees(list []Employee) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].LastName != list[j].LastName {
			return list[i].LastName < list[j].LastName
		}
		if list[i].FirstName != list[j].FirstName {
			return list[i].FirstName < list[j].FirstName
		}
		return list[i].ID < list[j].ID
	})
}
