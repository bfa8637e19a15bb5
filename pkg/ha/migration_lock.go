package ha

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/crc32"
	"time"

	"gorm.io/gorm"
)

// ErrLockTimeout is returned when the migration lock could not be acquired
// within the configured timeout.
var ErrLockTimeout = errors.New("migration lock timeout")

// MigrationLocker is the interface for acquiring a lock around database
// migrations to prevent concurrent AutoMigrate calls from multiple replicas.
type MigrationLocker interface {
	// WithLock executes fn while holding the migration lock.
	// It blocks until the lock is acquired, then releases it after fn returns.
	WithLock(ctx context.Context, fn func() error) error
}

// NewMigrationLocker creates a MigrationLocker appropriate for the database
// dialect. PostgreSQL uses advisory locks, MySQL uses GET_LOCK, anything else
// uses a table-based fallback. A nil db or a disabled config yields a no-op.
func NewMigrationLocker(db *gorm.DB, cfg LockConfig) MigrationLocker {
	if db == nil || !cfg.Enabled {
		return &noopMigrationLock{}
	}
	cfg = cfg.withDefaults()

	switch db.Dialector.Name() {
	case "postgres":
		return &pgAdvisoryLock{
			db:     db,
			lockID: int64(crc32.ChecksumIEEE([]byte(cfg.Name))),
		}
	case "mysql":
		return &mysqlNamedLock{db: db, name: cfg.Name, timeout: cfg.Timeout}
	}

	// Create the lock table immediately so that concurrent callers never
	// hit "no such table" errors on their first WithLock call.
	_ = db.AutoMigrate(&migrationLockRecord{})
	return &fallbackMigrationLock{db: db, cfg: cfg}
}

// noopMigrationLock is used when no database is configured.
type noopMigrationLock struct{}

func (n *noopMigrationLock) WithLock(_ context.Context, fn func() error) error {
	return fn()
}

// pgAdvisoryLock uses PostgreSQL session advisory locks. Lock and unlock run
// on one pinned connection since advisory locks belong to the session.
type pgAdvisoryLock struct {
	db     *gorm.DB
	lockID int64
}

func (l *pgAdvisoryLock) WithLock(ctx context.Context, fn func() error) error {
	return l.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := conn.Exec("SELECT pg_advisory_lock(?)", l.lockID).Error; err != nil {
			return fmt.Errorf("failed to acquire migration advisory lock: %w", err)
		}
		defer func() {
			_ = conn.Exec("SELECT pg_advisory_unlock(?)", l.lockID).Error
		}()
		return fn()
	})
}

// mysqlNamedLock uses MySQL GET_LOCK/RELEASE_LOCK, which are also
// connection-scoped.
type mysqlNamedLock struct {
	db      *gorm.DB
	name    string
	timeout time.Duration
}

func (l *mysqlNamedLock) WithLock(ctx context.Context, fn func() error) error {
	return l.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		var got sql.NullInt64
		secs := int(l.timeout / time.Second)
		if err := conn.Raw("SELECT GET_LOCK(?, ?)", l.name, secs).Row().Scan(&got); err != nil {
			return fmt.Errorf("failed to acquire migration lock %q: %w", l.name, err)
		}
		if !got.Valid || got.Int64 != 1 {
			return fmt.Errorf("%w: %q after %s", ErrLockTimeout, l.name, l.timeout)
		}
		defer func() {
			_ = conn.Exec("SELECT RELEASE_LOCK(?)", l.name).Error
		}()
		return fn()
	})
}

// migrationLockRecord is the table-based lock row for databases without a
// native named lock.
type migrationLockRecord struct {
	ID       string    `gorm:"primaryKey;column:id"`
	LockedAt time.Time `gorm:"column:locked_at"`
	LockedBy string    `gorm:"column:locked_by"`
}

func (migrationLockRecord) TableName() string { return "migration_lock" }

// fallbackMigrationLock uses INSERT-or-fail on a lock table to ensure only
// one holder at a time, with stale lock cleanup for crash recovery.
type fallbackMigrationLock struct {
	db  *gorm.DB
	cfg LockConfig
}

func (l *fallbackMigrationLock) WithLock(ctx context.Context, fn func() error) error {
	lockRow := migrationLockRecord{
		ID:       l.cfg.Name,
		LockedBy: l.cfg.Identity,
	}
	deadline := time.Now().Add(l.cfg.Timeout)

	for {
		l.db.WithContext(ctx).
			Where("id = ? AND locked_at < ?", l.cfg.Name, time.Now().Add(-l.cfg.StaleAfter)).
			Delete(&migrationLockRecord{})

		lockRow.LockedAt = time.Now()
		err := l.db.WithContext(ctx).Create(&lockRow).Error
		if err == nil {
			break
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w: %q held by another replica: %v", ErrLockTimeout, l.cfg.Name, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.cfg.RetryInterval):
		}
	}

	defer func() {
		l.db.Where("id = ?", l.cfg.Name).Delete(&migrationLockRecord{})
	}()

	return fn()
}
