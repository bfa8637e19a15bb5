package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "passportd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "mysql", cfg.Database.Type)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.True(t, cfg.Database.MigrationLock)
	assert.Equal(t, "header", cfg.Auth.Mode)
	assert.Equal(t, "sub", cfg.Auth.JWT.UserClaim)
	assert.True(t, cfg.Audit.Enabled)
	assert.Equal(t, 90, cfg.Audit.RetentionDays)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_FileEnvAndFlags(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
server:
  listen: ":9090"
  shutdownTimeout: 10s
database:
  type: postgres
  dsn: "host=db user=passport dbname=passports"
  slowQueryThreshold: 500ms
auth:
  mode: jwt
  jwt:
    roleClaim: realm_access.roles
audit:
  retentionDays: 30
log:
  level: debug
  format: json
`)
	t.Setenv("PASSPORT_DATABASE_MAXOPENCONNS", "7")
	t.Setenv("PASSPORT_AUDIT_LOGDENIED", "false")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("listen", ":8080", "")
	fs.String("log-level", "info", "")
	require.NoError(t, fs.Parse([]string{"--listen=:7070"}))

	v := New()
	require.NoError(t, BindFlags(v, fs))
	cfg, err := Load(v, path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Listen, "explicit flag wins over file")
	assert.Equal(t, "debug", cfg.Log.Level, "unset flag does not override file")
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "postgres", cfg.Database.Type)
	assert.Equal(t, 500*time.Millisecond, cfg.Database.SlowQueryThreshold)
	assert.Equal(t, 7, cfg.Database.MaxOpenConns)
	assert.Equal(t, "realm_access.roles", cfg.JWT().RoleClaim)
	assert.Equal(t, "sub", cfg.JWT().UserClaim)
	assert.Equal(t, 30, cfg.AuditSettings().RetentionDays)
	assert.False(t, cfg.AuditSettings().LogDenied)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad auth mode", func(c *Config) { c.Auth.Mode = "ldap" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"negative retention", func(c *Config) { c.Audit.RetentionDays = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(New(), "")
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConversions(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)
	cfg.Database.DSN = "u:p@tcp(db)/passports"
	cfg.Database.MigrationTimeout = 5 * time.Second

	assert.Equal(t, "u:p@tcp(db)/passports", cfg.DB().DSN)
	assert.Equal(t, cfg.Database.MaxIdleConns, cfg.DB().MaxIdleConns)
	assert.True(t, cfg.Lock().Enabled)
	assert.Equal(t, 5*time.Second, cfg.Lock().Timeout)
}

func TestWatch_ReloadsLogLevel(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "log:\n  level: info\n")

	v := New()
	_, err := Load(v, path)
	require.NoError(t, err)

	changed := make(chan string, 4)
	Watch(v, func(c *Config) { changed <- c.Log.Level }, nil)

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: warn\n"), 0o600))

	timeout := time.After(5 * time.Second)
	for {
		select {
		case level := <-changed:
			if level == "warn" {
				return
			}
		case <-timeout:
			t.Fatal("config change was not observed")
		}
	}
}
