package auth

import (
	"fmt"
	"strings"
)

// Role is a profile's privilege level.
type Role string

const (
	RoleUser   Role = "user"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

// Roles lists every role from least to most privileged.
var Roles = []Role{RoleUser, RoleEditor, RoleAdmin}

// ParseRole accepts the stored spelling of a role, case-insensitively.
func ParseRole(raw string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	if RoleLevel(r) == 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, raw)
	}
	return r, nil
}

// Valid reports whether r is one of the enumerated roles.
func (r Role) Valid() bool { return RoleLevel(r) > 0 }

// RoleLevel maps user/editor/admin to 1/2/3. Unknown roles are 0.
func RoleLevel(r Role) int {
	switch r {
	case RoleUser:
		return 1
	case RoleEditor:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}

// HasHigherOrEqualRole reports whether a is at least as privileged as b.
func HasHigherOrEqualRole(a, b Role) bool {
	return RoleLevel(a) >= RoleLevel(b)
}
