package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/socialpassport/passport-registry/pkg/config"
	"github.com/socialpassport/passport-registry/pkg/db"
	"github.com/socialpassport/passport-registry/pkg/ha"
	"github.com/socialpassport/passport-registry/pkg/server"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema and exit",
	Long: `migrate applies the schema under the migration lock, so it is safe to run
from several replicas or init containers at once.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, settings)
	if err != nil {
		return err
	}
	logger, _ := config.NewLogger(cfg.Log, os.Stderr)

	zl, err := config.NewZapLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()

	gormDB, err := db.Open(cfg.DB(), zl)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	srv := server.NewServer(gormDB, logger,
		server.WithMigrationLocker(ha.NewMigrationLocker(gormDB, cfg.Lock())))
	if err := srv.Migrate(cmd.Context()); err != nil {
		return err
	}
	logger.Info("schema is up to date", "database", cfg.Database.Type)
	return nil
}
