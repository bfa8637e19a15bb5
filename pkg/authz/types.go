// Package authz resolves the caller's identity and role for the passport
// registry and enforces the role hierarchy user < curator < admin.
package authz

import (
	"errors"
	"strings"
)

// Role represents a caller's access level.
type Role string

const (
	// RoleUser may read passports, status models, versions and history.
	RoleUser Role = "user"

	// RoleCurator may additionally create and edit passports, status models
	// and versions.
	RoleCurator Role = "curator"

	// RoleAdmin may additionally delete passports and read the full audit log.
	RoleAdmin Role = "admin"
)

var (
	// ErrUnauthenticated means no identity was attached to the request.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden means the caller's role is below the required role.
	ErrForbidden = errors.New("forbidden")
)

// ParseRole maps a free-form role string onto a Role. Unknown values map to
// RoleUser so that a misconfigured identity provider never grants mutations.
func ParseRole(s string) Role {
	switch Role(strings.TrimSpace(strings.ToLower(s))) {
	case RoleAdmin:
		return RoleAdmin
	case RoleCurator:
		return RoleCurator
	default:
		return RoleUser
	}
}

func (r Role) rank() int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleCurator:
		return 2
	case RoleUser:
		return 1
	default:
		return 0
	}
}

// Satisfies reports whether r is at least the required role.
func (r Role) Satisfies(required Role) bool {
	return r.rank() >= required.rank() && r.rank() > 0
}
