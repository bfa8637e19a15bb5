// Package config loads passportd settings from a YAML file, PASSPORT_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/socialpassport/passport-registry/pkg/audit"
	"github.com/socialpassport/passport-registry/pkg/authz"
	"github.com/socialpassport/passport-registry/pkg/db"
	"github.com/socialpassport/passport-registry/pkg/ha"
)

// EnvPrefix is prepended to every environment variable, e.g.
// PASSPORT_DATABASE_DSN for database.dsn.
const EnvPrefix = "PASSPORT"

// Config is the complete passportd configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type ServerConfig struct {
	Listen          string        `mapstructure:"listen"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
	RequestTimeout  time.Duration `mapstructure:"requestTimeout"`
	CORSOrigins     []string      `mapstructure:"corsOrigins"`
}

type DatabaseConfig struct {
	Type               string        `mapstructure:"type"`
	DSN                string        `mapstructure:"dsn"`
	MaxOpenConns       int           `mapstructure:"maxOpenConns"`
	MaxIdleConns       int           `mapstructure:"maxIdleConns"`
	ConnMaxLifetime    time.Duration `mapstructure:"connMaxLifetime"`
	SlowQueryThreshold time.Duration `mapstructure:"slowQueryThreshold"`
	LogLevel           string        `mapstructure:"logLevel"`
	MigrationLock      bool          `mapstructure:"migrationLock"`
	MigrationTimeout   time.Duration `mapstructure:"migrationTimeout"`
	AutoMigrate        bool          `mapstructure:"autoMigrate"`
}

type AuthConfig struct {
	// Mode is "header" (trusted X-User-* headers) or "jwt".
	Mode string    `mapstructure:"mode"`
	JWT  JWTConfig `mapstructure:"jwt"`
}

type JWTConfig struct {
	UserClaim     string `mapstructure:"userClaim"`
	NameClaim     string `mapstructure:"nameClaim"`
	RoleClaim     string `mapstructure:"roleClaim"`
	CuratorValue  string `mapstructure:"curatorValue"`
	AdminValue    string `mapstructure:"adminValue"`
	PublicKeyPath string `mapstructure:"publicKeyPath"`
	Issuer        string `mapstructure:"issuer"`
	Audience      string `mapstructure:"audience"`
}

type AuditConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	RetentionDays int  `mapstructure:"retentionDays"`
	LogDenied     bool `mapstructure:"logDenied"`
}

type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`
	// Format is "text" or "json".
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// flagKeys maps command-line flag names onto config keys.
var flagKeys = map[string]string{
	"listen":       "server.listen",
	"db-type":      "database.type",
	"db-dsn":       "database.dsn",
	"auth-mode":    "auth.mode",
	"log-level":    "log.level",
	"log-format":   "log.format",
	"auto-migrate": "database.autoMigrate",
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	dbDefaults := db.DefaultConfig()
	auditDefaults := audit.DefaultAuditConfig()
	lockDefaults := ha.DefaultLockConfig()

	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.shutdownTimeout", 30*time.Second)
	v.SetDefault("server.requestTimeout", 60*time.Second)
	v.SetDefault("server.corsOrigins", []string{})

	v.SetDefault("database.type", dbDefaults.Type)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.maxOpenConns", dbDefaults.MaxOpenConns)
	v.SetDefault("database.maxIdleConns", dbDefaults.MaxIdleConns)
	v.SetDefault("database.connMaxLifetime", dbDefaults.ConnMaxLifetime)
	v.SetDefault("database.slowQueryThreshold", dbDefaults.SlowQueryThreshold)
	v.SetDefault("database.logLevel", dbDefaults.LogLevel)
	v.SetDefault("database.migrationLock", lockDefaults.Enabled)
	v.SetDefault("database.migrationTimeout", lockDefaults.Timeout)
	v.SetDefault("database.autoMigrate", true)

	v.SetDefault("auth.mode", "header")
	v.SetDefault("auth.jwt.userClaim", "sub")
	v.SetDefault("auth.jwt.nameClaim", "name")
	v.SetDefault("auth.jwt.roleClaim", "role")
	v.SetDefault("auth.jwt.curatorValue", string(authz.RoleCurator))
	v.SetDefault("auth.jwt.adminValue", string(authz.RoleAdmin))
	v.SetDefault("auth.jwt.publicKeyPath", "")
	v.SetDefault("auth.jwt.issuer", "")
	v.SetDefault("auth.jwt.audience", "")

	v.SetDefault("audit.enabled", auditDefaults.Enabled)
	v.SetDefault("audit.retentionDays", auditDefaults.RetentionDays)
	v.SetDefault("audit.logDenied", auditDefaults.LogDenied)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("metrics.enabled", true)
}

// BindFlags binds the known flags present in fs to their config keys.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// Load reads path (if non-empty) into v and decodes the merged settings.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch reloads the config file whenever it changes and passes the decoded
// result to onChange. Invalid intermediate edits are reported to onError and
// otherwise ignored.
func Watch(v *viper.Viper, onChange func(*Config), onError func(error)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	switch c.Auth.Mode {
	case "header", "jwt":
	default:
		errs = append(errs, fmt.Errorf("auth.mode must be header or jwt, got %q", c.Auth.Mode))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Audit.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("audit.retentionDays must be >= 0, got %d", c.Audit.RetentionDays))
	}
	return errors.Join(errs...)
}

// DB converts the database section for db.Open.
func (c *Config) DB() db.Config {
	return db.Config{
		Type:               c.Database.Type,
		DSN:                c.Database.DSN,
		MaxOpenConns:       c.Database.MaxOpenConns,
		MaxIdleConns:       c.Database.MaxIdleConns,
		ConnMaxLifetime:    c.Database.ConnMaxLifetime,
		SlowQueryThreshold: c.Database.SlowQueryThreshold,
		LogLevel:           c.Database.LogLevel,
	}
}

// Lock converts the database section for ha.NewMigrationLocker.
func (c *Config) Lock() ha.LockConfig {
	lock := ha.DefaultLockConfig()
	lock.Enabled = c.Database.MigrationLock
	if c.Database.MigrationTimeout > 0 {
		lock.Timeout = c.Database.MigrationTimeout
	}
	return lock
}

// JWT converts the auth.jwt section for authz.NewJWTIdentityExtractor.
func (c *Config) JWT() authz.JWTConfig {
	j := c.Auth.JWT
	return authz.JWTConfig{
		UserClaim:     j.UserClaim,
		NameClaim:     j.NameClaim,
		RoleClaim:     j.RoleClaim,
		CuratorValue:  j.CuratorValue,
		AdminValue:    j.AdminValue,
		PublicKeyPath: j.PublicKeyPath,
		Issuer:        j.Issuer,
		Audience:      j.Audience,
	}
}

// AuditSettings converts the audit section for the audit middleware.
func (c *Config) AuditSettings() *audit.AuditConfig {
	return &audit.AuditConfig{
		Enabled:       c.Audit.Enabled,
		RetentionDays: c.Audit.RetentionDays,
		LogDenied:     c.Audit.LogDenied,
	}
}
