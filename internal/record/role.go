package record

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Role is an employee's role. Only the known set is accepted.
type Role string

const (
	RoleAdmin          Role = "ADMIN"
	RoleUser           Role = "USER"
	RoleDeveloper      Role = "Developer"
	RoleProjectManager Role = "Project Manager"
	RoleDesigner       Role = "Designer"
	RoleQAEngineer     Role = "QA Engineer"
	RoleDevOpsEngineer Role = "DevOps Engineer"
)

var knownRoles = []Role{
	RoleAdmin,
	RoleUser,
	RoleDeveloper,
	RoleProjectManager,
	RoleDesigner,
	RoleQAEngineer,
	RoleDevOpsEngineer,
}

// KnownRoles returns the accepted roles in display order.
func KnownRoles() []Role {
	return append([]Role(nil), knownRoles...)
}

// ParseRole maps a wire or user-typed role onto the known set.
// Matching ignores case, width and the separator style, so
// "PROJECT_MANAGER", "project-manager" and "Project Manager" are equal.
func ParseRole(s string) (Role, error) {
	key := roleKey(s)
	if key == "" {
		return "", fmt.Errorf("empty role")
	}
	for _, r := range knownRoles {
		if roleKey(string(r)) == key {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Valid reports whether r is in the known set.
func (r Role) Valid() bool {
	for _, k := range knownRoles {
		if k == r {
			return true
		}
	}
	return false
}

func roleKey(s string) string {
	s = norm.NFKC.String(strings.TrimSpace(s))
	s = cases.Fold().String(s)
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-':
			return -1
		}
		return r
	}, s)
}
