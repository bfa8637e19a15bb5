// Package ha provides the primitives that let several passportd replicas
// share one database: a migration lock that serialises schema changes.
package ha

import (
	"os"
	"time"
)

// LockConfig holds configuration for the migration lock.
type LockConfig struct {
	// Enabled controls whether migrations are serialised at all. When false
	// every replica migrates without coordination.
	Enabled bool

	// Name identifies the lock. Replicas sharing a database must agree on it.
	Name string

	// Timeout bounds how long a replica waits for the lock.
	Timeout time.Duration

	// RetryInterval is the delay between attempts of the table-based lock.
	RetryInterval time.Duration

	// StaleAfter is the age after which a table-based lock row left behind by
	// a crashed holder is removed.
	StaleAfter time.Duration

	// Identity is recorded as the holder of a table-based lock.
	Identity string
}

// DefaultLockConfig returns a LockConfig with sensible defaults.
func DefaultLockConfig() LockConfig {
	return LockConfig{
		Enabled:       true,
		Name:          "passport-registry-migration",
		Timeout:       30 * time.Second,
		RetryInterval: time.Second,
		StaleAfter:    5 * time.Minute,
		Identity:      defaultIdentity(),
	}
}

func (c LockConfig) withDefaults() LockConfig {
	d := DefaultLockConfig()
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = d.RetryInterval
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = d.StaleAfter
	}
	if c.Identity == "" {
		c.Identity = d.Identity
	}
	return c
}

func defaultIdentity() string {
	if v := os.Getenv("POD_NAME"); v != "" {
		return v
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "unknown"
	}
	return hostname
}
