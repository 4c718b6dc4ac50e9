package authz

import (
	"context"
	"errors"
	"testing"

	"ems.org/internal/auth"
	"ems.org/internal/employee"
)

type directory struct {
	store *employee.InMemory
	a     employee.Employee // MANAGER in D
	b     employee.Employee // EMPLOYEE in D
	c     employee.Employee // EMPLOYEE in E
	admin employee.Employee
}

func newDirectory(t *testing.T) directory {
	t.Helper()
	store := employee.NewInMemory()
	create := func(first, email string, role auth.Role, dept string) employee.Employee {
		e, err := store.Create(context.Background(), employee.Employee{
			FirstName: first, LastName: "Test", Email: email, Role: role, DepartmentID: dept,
		})
		if err != nil {
			t.Fatalf("Create(%s): %v", email, err)
		}
		return e
	}
	return directory{
		store: store,
		a:     create("Ann", "a@x.com", auth.RoleManager, "D"),
		b:     create("Ben", "b@x.com", auth.RoleEmployee, "D"),
		c:     create("Cy", "c@x.com", auth.RoleEmployee, "E"),
		admin: create("Ada", "admin@x.com", auth.RoleAdmin, ""),
	}
}

func principalOf(e employee.Employee) auth.Principal {
	return auth.Principal{EmployeeID: e.ID, Email: e.Email, Roles: auth.Roles{e.Role}}
}

func newTestAuthorizer(t *testing.T, store employee.Store) *Authorizer {
	t.Helper()
	a, err := NewAuthorizer(store)
	if err != nil {
		t.Fatalf("NewAuthorizer: %v", err)
	}
	return a
}

func emails(list []employee.Employee) map[string]bool {
	out := make(map[string]bool, len(list))
	for _, e := range list {
		out[e.Email] = true
	}
	return out
}

func TestManagerListsOnlyOthersInDepartment(t *testing.T) {
	dir := newDirectory(t)
	az := newTestAuthorizer(t, dir.store)

	list, err := az.List(context.Background(), principalOf(dir.a))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	got := emails(list)
	if len(got) != 1 || !got["b@x.com"] {
		t.Fatalf("manager listing = %v, want exactly {b@x.com}", got)
	}
}

func TestManagerWithoutDepartmentListsNothing(t *testing.T) {
	dir := newDirectory(t)
	m, err := dir.store.Create(context.Background(), employee.Employee{
		FirstName: "Max", LastName: "Test", Email: "m@x.com", Role: auth.RoleManager,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	az := newTestAuthorizer(t, dir.store)

	list, err := az.List(context.Background(), principalOf(m))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if list == nil || len(list) != 0 {
		t.Fatalf("listing = %#v, want empty", list)
	}
}

func TestAdminListsEveryoneButSelf(t *testing.T) {
	dir := newDirectory(t)
	az := newTestAuthorizer(t, dir.store)

	list, err := az.List(context.Background(), principalOf(dir.admin))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	got := emails(list)
	if len(got) != 3 || got["admin@x.com"] {
		t.Fatalf("admin listing = %v", got)
	}
}

func TestEmployeeCannotList(t *testing.T) {
	dir := newDirectory(t)
	az := newTestAuthorizer(t, dir.store)
	if _, err := az.List(context.Background(), principalOf(dir.b)); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestReadOneScoping(t *testing.T) {
	dir := newDirectory(t)
	az := newTestAuthorizer(t, dir.store)

	cases := []struct {
		name      string
		requester employee.Employee
		target    string
		want      error
	}{
		{name: "manager reads department member", requester: dir.a, target: dir.b.ID},
		{name: "manager reads self", requester: dir.a, target: dir.a.ID},
		{name: "manager reads other department", requester: dir.a, target: dir.c.ID, want: auth.ErrNotFound},
		{name: "manager reads missing", requester: dir.a, target: "missing", want: auth.ErrNotFound},
		{name: "employee reads self", requester: dir.b, target: dir.b.ID},
		{name: "employee reads colleague", requester: dir.b, target: dir.a.ID, want: auth.ErrForbidden},
		{name: "employee reads missing", requester: dir.b, target: "missing", want: auth.ErrForbidden},
		{name: "admin reads anyone", requester: dir.admin, target: dir.c.ID},
		{name: "admin reads missing", requester: dir.admin, target: "missing", want: auth.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := az.ReadOne(context.Background(), principalOf(tc.requester), tc.target)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("ReadOne: %v", err)
				}
				if got.ID != tc.target {
					t.Fatalf("ReadOne returned %s, want %s", got.ID, tc.target)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("ReadOne() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestMutateAdminOnly(t *testing.T) {
	dir := newDirectory(t)
	az := newTestAuthorizer(t, dir.store)
	if err := az.Mutate(context.Background(), principalOf(dir.admin)); err != nil {
		t.Fatalf("admin Mutate: %v", err)
	}
	for _, e := range []employee.Employee{dir.a, dir.b} {
		if err := az.Mutate(context.Background(), principalOf(e)); !errors.Is(err, auth.ErrForbidden) {
			t.Fatalf("%s Mutate: expected ErrForbidden, got %v", e.Role, err)
		}
	}
}

func TestManagerMissingRecordIsInconsistent(t *testing.T) {
	dir := newDirectory(t)
	az := newTestAuthorizer(t, dir.store)
	ghost := auth.Principal{EmployeeID: "ghost", Email: "ghost@x.com", Roles: auth.Roles{auth.RoleManager}}

	if _, err := az.List(context.Background(), ghost); !errors.Is(err, auth.ErrInconsistent) {
		t.Fatalf("List: expected ErrInconsistent, got %v", err)
	}
	if _, err := az.ReadOne(context.Background(), ghost, dir.b.ID); !errors.Is(err, auth.ErrInconsistent) {
		t.Fatalf("ReadOne: expected ErrInconsistent, got %v", err)
	}
}

func TestMultiRolePrincipalUsesStrongestRole(t *testing.T) {
	dir := newDirectory(t)
	az := newTestAuthorizer(t, dir.store)
	p := principalOf(dir.admin)
	p.Roles = auth.NormalizeRoles("EMPLOYEE", "ADMIN")

	if err := az.Mutate(context.Background(), p); err != nil {
		t.Fatalf("expected admin capability, got %v", err)
	}
}

func TestPrincipalWithoutRoleIsUnauthorized(t *testing.T) {
	dir := newDirectory(t)
	az := newTestAuthorizer(t, dir.store)
	if err := az.Mutate(context.Background(), auth.Principal{EmployeeID: dir.a.ID}); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}
