package audit

import (
	"strconv"
	"strings"

	"github.com/socialpassport/passport-registry/pkg/passport"
)

// requestTarget is what a request path under /api/v1 refers to.
type requestTarget struct {
	EntityType string
	EntityID   int64
	PassportID int64
}

// parseTarget extracts the entity addressed by an API path. Typical
// patterns:
//
//	/api/v1/passports
//	/api/v1/passports/{id}
//	/api/v1/passports/{id}/status
//	/api/v1/passports/{id}/statuses
//	/api/v1/passports/{id}/versions/{version}
//	/api/v1/statuses/{id}
//	/api/v1/transitions/{id}
func parseTarget(path string) requestTarget {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	var t requestTarget

	for i := 0; i < len(parts); i++ {
		var next int64
		if i+1 < len(parts) {
			next, _ = strconv.ParseInt(parts[i+1], 10, 64)
		}
		switch parts[i] {
		case "passports":
			t.EntityType = passport.EntityPassport
			t.PassportID = next
			t.EntityID = next
		case "status":
			t.EntityType = passport.EntityPassport
		case "statuses":
			t.EntityType = passport.EntityStatus
			t.EntityID = next
		case "transitions":
			t.EntityType = passport.EntityTransition
			t.EntityID = next
		case "versions":
			t.EntityType = passport.EntityVersion
			t.EntityID = next
		}
	}
	return t
}

// extractActionVerb returns a human-readable action name from the HTTP method and path.
func extractActionVerb(method, path string) string {
	if strings.HasSuffix(strings.TrimSuffix(path, "/"), "/status") && method == "POST" {
		return "change-status"
	}
	switch method {
	case "POST":
		return "create"
	case "PUT":
		return "update"
	case "PATCH":
		return "patch"
	case "DELETE":
		return "delete"
	default:
		return strings.ToLower(method)
	}
}

// isAuditedRequest returns true if the request should be audited. Mutating
// methods are audited; reads are not.
func isAuditedRequest(method, path string) bool {
	if isHealthEndpoint(path) {
		return false
	}
	switch method {
	case "POST", "PUT", "PATCH", "DELETE":
		return true
	}
	return false
}

// isHealthEndpoint returns true for health-check paths.
func isHealthEndpoint(path string) bool {
	switch path {
	case "/livez", "/readyz", "/healthz", "/metrics":
		return true
	}
	return false
}
