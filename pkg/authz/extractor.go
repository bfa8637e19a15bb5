package authz

import (
	"net/http"
	"strings"
)

// Headers read by HeaderIdentityExtractor. They are meant for development and
// for deployments behind a proxy that authenticates users and sets them.
const (
	UserHeader = "X-User-Id"
	NameHeader = "X-User-Name"
	RoleHeader = "X-User-Role"
)

// IdentityExtractor resolves the caller of an HTTP request. It returns false
// when the request carries no usable credentials.
type IdentityExtractor func(r *http.Request) (Identity, bool)

// HeaderIdentityExtractor reads the identity from X-User-Id / X-User-Role.
// A missing or unrecognized role maps to RoleUser.
func HeaderIdentityExtractor(r *http.Request) (Identity, bool) {
	user := strings.TrimSpace(r.Header.Get(UserHeader))
	if user == "" {
		return Identity{}, false
	}
	return Identity{
		User: user,
		Name: strings.TrimSpace(r.Header.Get(NameHeader)),
		Role: ParseRole(r.Header.Get(RoleHeader)),
	}, true
}
