package auth

import (
	"encoding/json"
	"errors"
	"strings"
)

// Role is one of the closed set of employee roles.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleManager  Role = "MANAGER"
	RoleEmployee Role = "EMPLOYEE"
)

const rolePrefix = "ROLE_"

// canonicalOrder fixes the wire ordering of a role set. It is not a rank.
var canonicalOrder = [...]Role{RoleAdmin, RoleManager, RoleEmployee}

// ParseRole accepts "MANAGER", "manager" or "ROLE_MANAGER".
func ParseRole(raw string) (Role, bool) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	raw = strings.TrimPrefix(raw, rolePrefix)
	for _, r := range canonicalOrder {
		if string(r) == raw {
			return r, true
		}
	}
	return "", false
}

// Valid reports whether r is a member of the enumeration.
func (r Role) Valid() bool {
	for _, c := range canonicalOrder {
		if r == c {
			return true
		}
	}
	return false
}

func (r Role) String() string { return string(r) }

// Roles is a normalized role set: de-duplicated, unknown names dropped and
// kept in canonical order. Its String form is the X-Employee-Role wire value.
type Roles []Role

// NormalizeRoles builds a role set from raw names. Each name may itself be a
// comma-joined list.
func NormalizeRoles(names ...string) Roles {
	seen := make(map[Role]struct{}, len(canonicalOrder))
	for _, name := range names {
		for _, part := range strings.Split(name, ",") {
			if r, ok := ParseRole(part); ok {
				seen[r] = struct{}{}
			}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make(Roles, 0, len(seen))
	for _, r := range canonicalOrder {
		if _, ok := seen[r]; ok {
			out = append(out, r)
		}
	}
	return out
}

// ParseRoles parses the comma-joined wire form.
func ParseRoles(header string) Roles {
	return NormalizeRoles(header)
}

// Has reports whether the set contains role.
func (rs Roles) Has(role Role) bool {
	for _, r := range rs {
		if r == role {
			return true
		}
	}
	return false
}

// Primary picks the role authorization decisions branch on when a principal
// carries several: ADMIN, then MANAGER, then EMPLOYEE.
func (rs Roles) Primary() (Role, bool) {
	for _, r := range canonicalOrder {
		if rs.Has(r) {
			return r, true
		}
	}
	return "", false
}

func (rs Roles) String() string {
	names := make([]string, len(rs))
	for i, r := range rs {
		names[i] = string(r)
	}
	return strings.Join(names, ",")
}

// MarshalJSON always encodes the set form.
func (rs Roles) MarshalJSON() ([]byte, error) {
	names := make([]string, len(rs))
	for i, r := range rs {
		names[i] = string(r)
	}
	return json.Marshal(names)
}

// UnmarshalJSON accepts either a single string ("ROLE_ADMIN", "ADMIN,MANAGER")
// or an array of strings.
func (rs *Roles) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*rs = NormalizeRoles(single)
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return errors.New("auth: role claim must be a string or an array of strings")
	}
	*rs = NormalizeRoles(many...)
	return nil
}
