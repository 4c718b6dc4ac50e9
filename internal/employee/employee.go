// Package employee holds directory records and their stores.
package employee

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"ems.org/internal/auth"
)

const (
	StatusActive   = auth.StatusActive
	StatusInactive = "INACTIVE"
)

// Employee is a directory record. PasswordHash never leaves the service in
// ordinary responses.
type Employee struct {
	ID           string    `json:"id"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Status       string    `json:"status"`
	Role         auth.Role `json:"role"`
	DepartmentID string    `json:"departmentId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Credential projects the record into the material the auth service needs.
func (e Employee) Credential() auth.Credential {
	return auth.Credential{
		ID:           e.ID,
		Email:        e.Email,
		PasswordHash: e.PasswordHash,
		Status:       e.Status,
		Role:         e.Role,
	}
}

// Normalize trims fields and canonicalizes email, status and role.
func (e *Employee) Normalize() {
	e.FirstName = strings.TrimSpace(e.FirstName)
	e.LastName = strings.TrimSpace(e.LastName)
	e.Email = normalizeEmail(e.Email)
	e.Status = strings.ToUpper(strings.TrimSpace(e.Status))
	if e.Status == "" {
		e.Status = StatusActive
	}
	if role, ok := auth.ParseRole(string(e.Role)); ok {
		e.Role = role
	}
	e.DepartmentID = strings.TrimSpace(e.DepartmentID)
}

// Validate reports the first invalid field wrapped in auth.ErrInvalidInput.
func (e Employee) Validate() error {
	switch {
	case e.FirstName == "":
		return fmt.Errorf("%w: first name is required", auth.ErrInvalidInput)
	case e.LastName == "":
		return fmt.Errorf("%w: last name is required", auth.ErrInvalidInput)
	case e.Email == "":
		return fmt.Errorf("%w: email is required", auth.ErrInvalidInput)
	case !validEmail(e.Email):
		return fmt.Errorf("%w: email %q is not valid", auth.ErrInvalidInput, e.Email)
	case !e.Role.Valid():
		return fmt.Errorf("%w: role %q is not valid", auth.ErrInvalidInput, e.Role)
	case e.Status != StatusActive && e.Status != StatusInactive:
		return fmt.Errorf("%w: status %q is not valid", auth.ErrInvalidInput, e.Status)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

// Filter narrows a listing. Empty fields do not filter.
type Filter struct {
	DepartmentID string
	ExcludeID    string
}

// Match reports whether e passes the filter.
func (f Filter) Match(e Employee) bool {
	if f.DepartmentID != "" && e.DepartmentID != f.DepartmentID {
		return false
	}
	if f.ExcludeID != "" && e.ID == f.ExcludeID {
		return false
	}
	return true
}

// Store persists employee records. Missing records are auth.ErrNotFound and
// duplicate emails auth.ErrConflict.
type Store interface {
	Get(ctx context.Context, id string) (Employee, error)
	GetByEmail(ctx context.Context, email string) (Employee, error)
	List(ctx context.Context, f Filter) ([]Employee, error)
	Create(ctx context.Context, e Employee) (Employee, error)
	Update(ctx context.Context, e Employee) (Employee, error)
	Delete(ctx context.Context, id string) error
	UpdatePassword(ctx context.Context, email, passwordHash string) error
}
