// Package authz decides what an authenticated principal may do with
// employee records.
package authz

import "ems.org/internal/auth"

// Action is the kind of operation requested.
type Action int

const (
	ActionRead Action = iota + 1
	ActionList
	ActionMutate
)

func (a Action) String() string {
	switch a {
	case ActionRead:
		return "read"
	case ActionList:
		return "list"
	case ActionMutate:
		return "mutate"
	default:
		return "unknown"
	}
}

// Scope is the subset of records an allowed decision covers.
type Scope int

const (
	ScopeNone Scope = iota
	ScopeSelf
	ScopeDepartment
	ScopeAll
)

func (s Scope) String() string {
	switch s {
	case ScopeSelf:
		return "self"
	case ScopeDepartment:
		return "department"
	case ScopeAll:
		return "all"
	default:
		return "none"
	}
}

// Denial distinguishes concealed absence from an outright refusal.
type Denial int

const (
	DenyNone Denial = iota
	DenyNotFound
	DenyForbidden
)

// Target identifies the record acted upon. Unused for ActionList.
type Target struct {
	ID           string
	DepartmentID string
}

// Request carries every input a decision depends on.
type Request struct {
	Role                auth.Role
	RequesterID         string
	RequesterDepartment string
	Action              Action
	Target              Target
}

// Decision is the outcome of Decide.
type Decision struct {
	Allowed     bool
	Scope       Scope
	ExcludeSelf bool
	Denial      Denial
}

// Err returns nil for allowed decisions and auth.ErrNotFound or
// auth.ErrForbidden otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	if d.Denial == DenyNotFound {
		return auth.ErrNotFound
	}
	return auth.ErrForbidden
}

func allow(scope Scope) Decision { return Decision{Allowed: true, Scope: scope} }

func allowOthers(scope Scope) Decision {
	return Decision{Allowed: true, Scope: scope, ExcludeSelf: true}
}

var (
	notFound  = Decision{Denial: DenyNotFound}
	forbidden = Decision{Denial: DenyForbidden}
)

// Decide evaluates the role table. It is pure: no IO, no shared state.
func Decide(r Request) Decision {
	switch r.Action {
	case ActionRead:
		switch r.Role {
		case auth.RoleAdmin:
			return allow(ScopeAll)
		case auth.RoleManager:
			if r.RequesterDepartment != "" && r.Target.DepartmentID == r.RequesterDepartment {
				return allow(ScopeDepartment)
			}
			if r.Target.ID != "" && r.Target.ID == r.RequesterID {
				return allow(ScopeSelf)
			}
			return notFound
		case auth.RoleEmployee:
			if r.Target.ID != "" && r.Target.ID == r.RequesterID {
				return allow(ScopeSelf)
			}
			return forbidden
		}
	case ActionList:
		switch r.Role {
		case auth.RoleAdmin:
			return allowOthers(ScopeAll)
		case auth.RoleManager:
			return allowOthers(ScopeDepartment)
		case auth.RoleEmployee:
			return forbidden
		}
	case ActionMutate:
		if r.Role == auth.RoleAdmin {
			return allow(ScopeAll)
		}
	}
	return forbidden
}
