package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/socialpassport/passport-registry/pkg/authz"
	"github.com/socialpassport/passport-registry/pkg/config"
	"github.com/socialpassport/passport-registry/pkg/db"
	"github.com/socialpassport/passport-registry/pkg/ha"
	"github.com/socialpassport/passport-registry/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("listen", "", "Address to listen on (default :8080)")
	f.String("auth-mode", "", "Caller identification: header or jwt")
	f.Bool("auto-migrate", true, "Create or update the schema on startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, settings)
	if err != nil {
		return err
	}

	logger, level := config.NewLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	if configPath != "" {
		config.Watch(settings, func(next *config.Config) {
			if l, err := config.ParseLevel(next.Log.Level); err == nil && l != level.Level() {
				level.Set(l)
				logger.Info("log level changed", "level", l.String())
			}
		}, func(err error) {
			logger.Warn("ignoring invalid config change", "error", err)
		})
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zl, err := config.NewZapLogger(cfg.Log)
	if err != nil {
		glog.Fatalf("Failed to build query logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	gormDB := openDatabase(cfg, zl, logger)

	opts := []server.ServerOption{
		server.WithAuditConfig(cfg.AuditSettings()),
		server.WithAutoMigrate(cfg.Database.AutoMigrate),
		server.WithMigrationLocker(ha.NewMigrationLocker(gormDB, cfg.Lock())),
		server.WithRequestTimeout(cfg.Server.RequestTimeout),
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		opts = append(opts, server.WithCORSOrigins(cfg.Server.CORSOrigins))
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, server.WithMetricsRegistry(prometheus.NewRegistry()))
	}

	switch cfg.Auth.Mode {
	case "jwt":
		jwtCfg := cfg.JWT()
		jwtCfg.Logger = logger
		extractor, err := authz.NewJWTIdentityExtractor(jwtCfg)
		if err != nil {
			glog.Fatalf("Failed to configure JWT auth: %v", err)
		}
		opts = append(opts, server.WithIdentityExtractor(extractor))
		logger.Info("using JWT auth",
			"roleClaim", jwtCfg.RoleClaim,
			"hasPublicKey", jwtCfg.PublicKeyPath != "")
	default:
		logger.Info("using header-based auth (X-User-Id, X-User-Role)")
	}

	srv := server.NewServer(gormDB, logger, opts...)
	if err := srv.Init(ctx); err != nil {
		glog.Fatalf("Failed to initialize server: %v", err)
	}
	router := srv.MountRoutes()

	go srv.AuditRetentionLoop(ctx)

	httpServer := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: router,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			glog.Fatalf("HTTP server error: %v", err)
		}
	}()

	logger.Info("passport registry ready",
		"listen", cfg.Server.Listen,
		"version", version,
		"database", cfg.Database.Type)

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	closeDatabase(gormDB, logger)

	logger.Info("passport registry stopped")
	return nil
}

// openDatabase connects to the configured database. Without a DSN the
// server still starts, reads return empty results and writes fail with 503.
func openDatabase(cfg *config.Config, zl *zap.Logger, logger *slog.Logger) *gorm.DB {
	gormDB, err := db.Open(cfg.DB(), zl)
	if errors.Is(err, db.ErrMissingDSN) {
		logger.Warn("no database configured, running without storage")
		return nil
	}
	if err != nil {
		glog.Fatalf("Failed to connect to database: %v", err)
	}
	return gormDB
}

func closeDatabase(gormDB *gorm.DB, logger *slog.Logger) {
	if gormDB == nil {
		return
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		logger.Error("database close error", "error", err)
	}
}
