package authz

import (
	"context"
	"errors"
	"fmt"

	"ems.org/internal/auth"
	"ems.org/internal/employee"
)

// Authorizer applies Decide to directory operations, loading whatever
// records the decision depends on.
type Authorizer struct {
	store employee.Store
}

// NewAuthorizer constructs an Authorizer over store.
func NewAuthorizer(store employee.Store) (*Authorizer, error) {
	if store == nil {
		return nil, errors.New("authz: employee store is required")
	}
	return &Authorizer{store: store}, nil
}

// ReadOne returns the record id if p may see it. Records outside a
// manager's department are reported as auth.ErrNotFound.
func (a *Authorizer) ReadOne(ctx context.Context, p auth.Principal, id string) (employee.Employee, error) {
	req, err := a.request(ctx, p, ActionRead)
	if err != nil {
		return employee.Employee{}, err
	}
	req.Target.ID = id
	// Refusals never depend on the target's department.
	if d := Decide(req); d.Denial == DenyForbidden {
		return employee.Employee{}, d.Err()
	}

	target, err := a.store.Get(ctx, id)
	if err != nil {
		return employee.Employee{}, err
	}
	req.Target.DepartmentID = target.DepartmentID
	if d := Decide(req); !d.Allowed {
		return employee.Employee{}, d.Err()
	}
	return target, nil
}

// List returns the records p may list. The requester is never part of the
// result.
func (a *Authorizer) List(ctx context.Context, p auth.Principal) ([]employee.Employee, error) {
	req, err := a.request(ctx, p, ActionList)
	if err != nil {
		return nil, err
	}
	d := Decide(req)
	if !d.Allowed {
		return nil, d.Err()
	}
	f := employee.Filter{}
	if d.ExcludeSelf {
		f.ExcludeID = p.EmployeeID
	}
	if d.Scope == ScopeDepartment {
		if req.RequesterDepartment == "" {
			return []employee.Employee{}, nil
		}
		f.DepartmentID = req.RequesterDepartment
	}
	return a.store.List(ctx, f)
}

// Mutate reports whether p may create, update or delete records.
func (a *Authorizer) Mutate(ctx context.Context, p auth.Principal) error {
	req, err := a.request(ctx, p, ActionMutate)
	if err != nil {
		return err
	}
	return Decide(req).Err()
}

// request resolves the requester side of a decision. Managers need their
// own department, so their record is loaded.
func (a *Authorizer) request(ctx context.Context, p auth.Principal, action Action) (Request, error) {
	role, ok := p.Role()
	if !ok || p.EmployeeID == "" {
		return Request{}, auth.ErrUnauthorized
	}
	req := Request{Role: role, RequesterID: p.EmployeeID, Action: action}
	if role != auth.RoleManager || action == ActionMutate {
		return req, nil
	}
	self, err := a.store.Get(ctx, p.EmployeeID)
	if errors.Is(err, auth.ErrNotFound) {
		return Request{}, fmt.Errorf("%w: employee %s", auth.ErrInconsistent, p.EmployeeID)
	}
	if err != nil {
		return Request{}, err
	}
	req.RequesterDepartment = self.DepartmentID
	return req, nil
}
