package passport

import (
	"github.com/go-chi/chi/v5"

	"github.com/socialpassport/passport-registry/pkg/authz"
)

// NewRouter creates a chi router with the passport, status model and
// version routes. The caller must install authz.Authenticate in front of it;
// role checks are applied per route and again inside Service.
func NewRouter(svc *Service) chi.Router {
	r := chi.NewRouter()
	r.Use(requestInfoMiddleware)

	curator := authz.RequireRole(authz.RoleCurator)
	admin := authz.RequireRole(authz.RoleAdmin)

	r.Route("/passports", func(r chi.Router) {
		r.Get("/", listPassportsHandler(svc))
		r.With(curator).Post("/", createPassportHandler(svc))

		r.Route("/{passportId}", func(r chi.Router) {
			r.Get("/", getPassportHandler(svc))
			r.With(curator).Patch("/", updatePassportHandler(svc))
			r.With(curator).Post("/status", changePassportStatusHandler(svc))
			r.With(admin).Delete("/", deletePassportHandler(svc))

			r.Get("/statuses", listStatusesHandler(svc))
			r.With(curator).Post("/statuses", defineStatusHandler(svc))
			r.Get("/transitions", listTransitionsHandler(svc))
			r.With(curator).Post("/transitions", defineTransitionHandler(svc))
			r.Get("/status-model/diagnostics", diagnosticsHandler(svc))

			r.Get("/versions", listVersionsHandler(svc))
			r.With(curator).Post("/versions", createVersionHandler(svc))
			r.Get("/versions/{version}", getVersionHandler(svc))

			r.Get("/history", historyHandler(svc))
		})
	})

	r.With(curator).Patch("/statuses/{statusId}", updateStatusHandler(svc))
	r.With(curator).Delete("/statuses/{statusId}", deleteStatusHandler(svc))
	r.With(curator).Delete("/transitions/{transitionId}", deleteTransitionHandler(svc))

	return r
}
