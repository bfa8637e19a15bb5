// Package server assembles the passport registry HTTP server: storage
// migration, the versioned API, audit capture, health and metrics endpoints.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/socialpassport/passport-registry/pkg/audit"
	"github.com/socialpassport/passport-registry/pkg/authz"
	"github.com/socialpassport/passport-registry/pkg/ha"
	"github.com/socialpassport/passport-registry/pkg/metrics"
	"github.com/socialpassport/passport-registry/pkg/passport"
)

// APIBasePath is where the passport API is mounted.
const APIBasePath = "/api/v1"

// Server owns the HTTP router and the components behind it.
type Server struct {
	router          chi.Router
	db              *gorm.DB
	logger          *slog.Logger
	service         *passport.Service
	auditStore      *passport.AuditStore
	auditConfig     *audit.AuditConfig
	extractor       authz.IdentityExtractor
	migrationLocker ha.MigrationLocker
	autoMigrate     bool
	registry        *prometheus.Registry
	metrics         *metrics.Metrics
	corsOrigins     []string
	requestTimeout  time.Duration
	startedAt       time.Time
	ready           bool
	mu              sync.RWMutex
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithIdentityExtractor sets how callers are identified. Defaults to the
// trusted X-User-* headers.
func WithIdentityExtractor(extractor authz.IdentityExtractor) ServerOption {
	return func(s *Server) {
		s.extractor = extractor
	}
}

// WithAuditConfig enables request-level audit capture and retention.
func WithAuditConfig(cfg *audit.AuditConfig) ServerOption {
	return func(s *Server) {
		s.auditConfig = cfg
	}
}

// WithMigrationLocker serialises schema migration across replicas.
func WithMigrationLocker(locker ha.MigrationLocker) ServerOption {
	return func(s *Server) {
		s.migrationLocker = locker
	}
}

// WithAutoMigrate controls whether Init migrates the schema. Default true.
func WithAutoMigrate(enabled bool) ServerOption {
	return func(s *Server) {
		s.autoMigrate = enabled
	}
}

// WithMetricsRegistry enables Prometheus metrics, served on /metrics.
func WithMetricsRegistry(reg *prometheus.Registry) ServerOption {
	return func(s *Server) {
		s.registry = reg
	}
}

// WithCORSOrigins sets the allowed CORS origins.
func WithCORSOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.corsOrigins = origins
	}
}

// WithRequestTimeout bounds each request's context.
func WithRequestTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.requestTimeout = d
	}
}

// NewServer creates a Server over db. A nil db is allowed: every storage
// operation then reports the store as unavailable.
func NewServer(db *gorm.DB, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		db:          db,
		logger:      logger,
		extractor:   authz.HeaderIdentityExtractor,
		autoMigrate: true,
		corsOrigins: []string{"https://*", "http://*"},
		startedAt:   time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.extractor == nil {
		s.extractor = authz.HeaderIdentityExtractor
	}
	return s
}

// Migrate creates or updates the schema, under the migration lock when one
// is configured.
func (s *Server) Migrate(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("migrate: %w", passport.ErrUnavailable)
	}
	migrateFn := func() error {
		return passport.NewPassportStore(s.db).AutoMigrate()
	}
	if s.migrationLocker == nil {
		return migrateFn()
	}
	s.logger.Info("running migrations with lock")
	if err := s.migrationLocker.WithLock(ctx, migrateFn); err != nil {
		return fmt.Errorf("migration lock error: %w", err)
	}
	return nil
}

// Init migrates the schema (unless disabled) and builds the service layer.
func (s *Server) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil && s.autoMigrate {
		if err := s.Migrate(ctx); err != nil {
			return err
		}
	}

	if s.registry != nil {
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		s.metrics = metrics.New(s.registry)
	}

	s.auditStore = passport.NewAuditStore(s.db)
	s.service = passport.NewService(s.db,
		passport.WithLogger(s.logger.With("component", "passport")),
		passport.WithMetrics(s.metrics),
	)
	s.ready = true
	return nil
}

// MountRoutes creates the HTTP router. Init must have been called.
func (s *Server) MountRoutes() chi.Router {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.router = chi.NewRouter()

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-Id", "X-User-Name", "X-User-Role"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if s.requestTimeout > 0 {
		s.router.Use(middleware.Timeout(s.requestTimeout))
	}

	api := passport.NewRouter(s.service)
	api.Mount("/audit", audit.Router(s.service))

	s.router.Route(APIBasePath, func(r chi.Router) {
		// Identity first so the audit middleware can see the caller.
		r.Use(authz.Authenticate(s.extractor))
		if s.auditConfig != nil && s.auditConfig.Enabled {
			r.Use(audit.AuditMiddleware(s.auditStore, s.auditConfig, s.logger))
			s.logger.Info("audit middleware enabled",
				"logDenied", s.auditConfig.LogDenied,
				"retentionDays", s.auditConfig.RetentionDays)
		}
		r.Mount("/", api)
	})

	s.router.Get("/healthz", s.healthHandler)
	s.router.Get("/livez", s.healthHandler)
	s.router.Get("/readyz", s.readyHandler)

	if s.registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	return s.router
}

// Router returns the router built by MountRoutes.
func (s *Server) Router() chi.Router {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.router
}

// Service returns the passport service built by Init.
func (s *Server) Service() *passport.Service {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.service
}

// AuditRetentionLoop deletes expired audit events until ctx is cancelled.
func (s *Server) AuditRetentionLoop(ctx context.Context) {
	days := 0
	if s.auditConfig != nil {
		days = s.auditConfig.RetentionDays
	}
	audit.NewRetentionWorker(s.auditStore, days, s.logger).Run(ctx)
}

// healthHandler returns the liveness status of the server.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// readyHandler reports ready once Init completed and the database answers
// a ping.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	ready := s.ready
	s.mu.RUnlock()

	allReady := ready
	dbStatus := map[string]string{"status": "up"}
	if s.db == nil {
		dbStatus["status"] = "not_configured"
		allReady = false
	} else if sqlDB, err := s.db.DB(); err != nil {
		dbStatus["status"] = "down"
		dbStatus["error"] = err.Error()
		allReady = false
	} else if err := sqlDB.PingContext(r.Context()); err != nil {
		dbStatus["status"] = "down"
		dbStatus["error"] = err.Error()
		allReady = false
	}

	initStatus := "complete"
	if !ready {
		initStatus = "pending"
	}

	status, code := "ready", http.StatusOK
	if !allReady {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status": status,
		"checks": map[string]any{
			"database": dbStatus,
			"init":     map[string]string{"status": initStatus},
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
