package auth

import (
	"encoding/json"
	"testing"
)

func TestNormalizeRoles(t *testing.T) {
	cases := []struct {
		in   []string
		want string
	}{
		{in: []string{"ROLE_MANAGER"}, want: "MANAGER"},
		{in: []string{"employee", "ADMIN", "admin"}, want: "ADMIN,EMPLOYEE"},
		{in: []string{"EMPLOYEE,MANAGER"}, want: "MANAGER,EMPLOYEE"},
		{in: []string{" ROLE_admin ", "", "auditor"}, want: "ADMIN"},
		{in: nil, want: ""},
	}
	for _, tc := range cases {
		if got := NormalizeRoles(tc.in...).String(); got != tc.want {
			t.Fatalf("NormalizeRoles(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRolesPrimary(t *testing.T) {
	if r, ok := ParseRoles("EMPLOYEE,MANAGER").Primary(); !ok || r != RoleManager {
		t.Fatalf("unexpected primary role %q", r)
	}
	if _, ok := ParseRoles("auditor").Primary(); ok {
		t.Fatal("expected no primary role")
	}
}

func TestRolesJSONAcceptsStringOrArray(t *testing.T) {
	var single, many Roles
	if err := json.Unmarshal([]byte(`"ROLE_ADMIN"`), &single); err != nil {
		t.Fatalf("unmarshal string: %v", err)
	}
	if err := json.Unmarshal([]byte(`["EMPLOYEE","ADMIN","EMPLOYEE"]`), &many); err != nil {
		t.Fatalf("unmarshal array: %v", err)
	}
	if single.String() != "ADMIN" || many.String() != "ADMIN,EMPLOYEE" {
		t.Fatalf("unexpected roles: %q, %q", single, many)
	}

	var bad Roles
	if err := json.Unmarshal([]byte(`42`), &bad); err == nil {
		t.Fatal("expected error for numeric role claim")
	}

	out, err := json.Marshal(Roles{RoleManager})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `["MANAGER"]` {
		t.Fatalf("unexpected encoding %s", out)
	}
}

func TestRoleValid(t *testing.T) {
	if !RoleEmployee.Valid() || Role("employee").Valid() || Role("ROOT").Valid() {
		t.Fatal("unexpected Valid result")
	}
}
