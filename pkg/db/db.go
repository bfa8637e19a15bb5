// Package db opens the relational database backing the passport registry.
// MySQL, PostgreSQL and SQLite are supported through their gorm dialects.
package db

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	gomysql "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Supported database types.
const (
	TypeMySQL    = "mysql"
	TypePostgres = "postgres"
	TypeSQLite   = "sqlite"
)

// ErrMissingDSN is returned when no connection string is configured.
var ErrMissingDSN = errors.New("database DSN is required")

// Config describes how to reach the database.
type Config struct {
	Type               string
	DSN                string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetime    time.Duration
	SlowQueryThreshold time.Duration
	LogLevel           string
}

// DefaultConfig returns pool settings suitable for a single replica.
func DefaultConfig() Config {
	return Config{
		Type:               TypeMySQL,
		MaxOpenConns:       25,
		MaxIdleConns:       5,
		ConnMaxLifetime:    30 * time.Minute,
		SlowQueryThreshold: 200 * time.Millisecond,
		LogLevel:           "warn",
	}
}

// Open connects to the configured database, applies pool settings and
// routes gorm's query log through zl. A nil zl discards query logs.
func Open(cfg Config, zl *zap.Logger) (*gorm.DB, error) {
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger:         NewGormLogger(zl, cfg.SlowQueryThreshold).LogMode(ParseLogLevel(cfg.LogLevel)),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.Type, err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	maxOpen := cfg.MaxOpenConns
	if normalizeType(cfg.Type) == TypeSQLite && isMemoryDSN(cfg.DSN) {
		// Every connection to :memory: is a separate database.
		maxOpen = 1
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return gormDB, nil
}

// Dialector builds the gorm dialector for cfg without connecting.
func Dialector(cfg Config) (gorm.Dialector, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, ErrMissingDSN
	}

	switch normalizeType(cfg.Type) {
	case TypeMySQL:
		dsn, err := NormalizeMySQLDSN(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return mysql.Open(dsn), nil
	case TypePostgres:
		if _, err := pgx.ParseConfig(cfg.DSN); err != nil {
			return nil, fmt.Errorf("invalid postgres DSN: %w", err)
		}
		return postgres.New(postgres.Config{DSN: cfg.DSN}), nil
	case TypeSQLite:
		return sqlite.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database type %q (expected mysql, postgres or sqlite)", cfg.Type)
	}
}

// NormalizeMySQLDSN forces parseTime so DATETIME columns scan into
// time.Time, and defaults the collation-safe charset.
func NormalizeMySQLDSN(dsn string) (string, error) {
	c, err := gomysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid mysql DSN: %w", err)
	}
	c.ParseTime = true
	if c.Params == nil {
		c.Params = map[string]string{}
	}
	// ParseDSN moves charset out of Params, so look at the raw query.
	if !hasDSNParam(dsn, "charset") {
		c.Params["charset"] = "utf8mb4"
	}
	return c.FormatDSN(), nil
}

func hasDSNParam(dsn, name string) bool {
	_, query, ok := strings.Cut(dsn, "?")
	if !ok {
		return false
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return false
	}
	return values.Has(name)
}

func normalizeType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "mysql", "mariadb":
		return TypeMySQL
	case "postgres", "postgresql", "pg":
		return TypePostgres
	case "sqlite", "sqlite3":
		return TypeSQLite
	}
	return t
}

func isMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}
