package audit

import (
	"fmt"
	"time"
)

// AuditConfig controls audit behavior.
type AuditConfig struct {
	RetentionDays int  // Default 90; 0 keeps events forever
	LogDenied     bool // Whether to log 403 responses; 401s are rejected before auditing
	Enabled       bool // Whether audit middleware is active
}

// DefaultAuditConfig returns the default configuration.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		RetentionDays: 90,
		LogDenied:     true,
		Enabled:       true,
	}
}

// Validate rejects negative retention.
func (c *AuditConfig) Validate() error {
	if c.RetentionDays < 0 {
		return fmt.Errorf("audit.retentionDays must be >= 0, got %d", c.RetentionDays)
	}
	return nil
}

// Retention returns the retention window, or 0 when retention is disabled.
func (c *AuditConfig) Retention() time.Duration {
	if c == nil || c.RetentionDays <= 0 {
		return 0
	}
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
