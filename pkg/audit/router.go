package audit

import (
	"github.com/go-chi/chi/v5"

	"github.com/socialpassport/passport-registry/pkg/authz"
	"github.com/socialpassport/passport-registry/pkg/passport"
)

// Router creates a chi.Router for the audit API. Every endpoint requires the
// admin role; the service repeats the check.
func Router(svc *passport.Service) chi.Router {
	r := chi.NewRouter()
	r.Use(authz.RequireRole(authz.RoleAdmin))

	r.Get("/events", ListEventsHandler(svc))
	r.Get("/events/{eventId}", GetEventHandler(svc))

	return r
}
