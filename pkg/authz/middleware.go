package authz

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Authenticate returns middleware that resolves the caller with extractor and
// stores the Identity in the request context. Requests without credentials
// are rejected with 401 before reaching any handler.
func Authenticate(extractor IdentityExtractor) func(http.Handler) http.Handler {
	if extractor == nil {
		extractor = HeaderIdentityExtractor
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := extractor(r)
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "unauthenticated", "missing or invalid credentials")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireRole returns middleware that enforces a minimum role. It must run
// after Authenticate.
func RequireRole(required Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "unauthenticated", "missing or invalid credentials")
				return
			}
			if !id.Role.Satisfies(required) {
				writeAuthError(w, http.StatusForbidden, "forbidden",
					fmt.Sprintf("%s access required", required))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
