package ha

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// A file database so that every pooled connection sees the same lock table.
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "lock.db")+"?_pragma=busy_timeout(5000)"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test DB: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func testLockConfig() LockConfig {
	cfg := DefaultLockConfig()
	cfg.RetryInterval = 5 * time.Millisecond
	cfg.Timeout = 5 * time.Second
	return cfg
}

func countLocks(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&migrationLockRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("count lock rows: %v", err)
	}
	return count
}

func TestNewMigrationLocker_Noop(t *testing.T) {
	tests := []struct {
		name string
		db   *gorm.DB
		cfg  LockConfig
	}{
		{"nil db", nil, DefaultLockConfig()},
		{"disabled", setupTestDB(t), LockConfig{Enabled: false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			locker := NewMigrationLocker(tt.db, tt.cfg)
			if _, ok := locker.(*noopMigrationLock); !ok {
				t.Fatalf("expected noop locker, got %T", locker)
			}
			called := false
			if err := locker.WithLock(context.Background(), func() error {
				called = true
				return nil
			}); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !called {
				t.Error("function was not called")
			}
		})
	}
}

func TestFallbackMigrationLock_WithLock(t *testing.T) {
	db := setupTestDB(t)
	locker := NewMigrationLocker(db, testLockConfig())

	called := false
	err := locker.WithLock(context.Background(), func() error {
		called = true
		if n := countLocks(t, db); n != 1 {
			t.Errorf("expected 1 lock row while held, got %d", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("function was not called")
	}
	if n := countLocks(t, db); n != 0 {
		t.Errorf("expected lock table to be empty after WithLock, got %d rows", n)
	}
}

func TestFallbackMigrationLock_ErrorPropagation(t *testing.T) {
	db := setupTestDB(t)
	locker := NewMigrationLocker(db, testLockConfig())

	wantErr := errors.New("migration failed")
	err := locker.WithLock(context.Background(), func() error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("error = %v, want %v", err, wantErr)
	}
	if n := countLocks(t, db); n != 0 {
		t.Errorf("expected lock table to be empty after error, got %d rows", n)
	}
}

func TestFallbackMigrationLock_Serialization(t *testing.T) {
	db := setupTestDB(t)
	locker := NewMigrationLocker(db, testLockConfig())

	var concurrent, maxConcurrent atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = locker.WithLock(context.Background(), func() error {
				cur := concurrent.Add(1)
				for {
					prev := maxConcurrent.Load()
					if cur <= prev || maxConcurrent.CompareAndSwap(prev, cur) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				concurrent.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	if maxConcurrent.Load() > 1 {
		t.Errorf("expected max concurrency of 1, got %d", maxConcurrent.Load())
	}
}

func TestFallbackMigrationLock_StaleLockRecovered(t *testing.T) {
	db := setupTestDB(t)
	cfg := testLockConfig()
	locker := NewMigrationLocker(db, cfg)

	stale := migrationLockRecord{ID: cfg.Name, LockedBy: "crashed", LockedAt: time.Now().Add(-time.Hour)}
	if err := db.Create(&stale).Error; err != nil {
		t.Fatalf("seed stale lock: %v", err)
	}

	called := false
	if err := locker.WithLock(context.Background(), func() error {
		called = true
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("function was not called")
	}
}

func TestFallbackMigrationLock_Timeout(t *testing.T) {
	db := setupTestDB(t)
	cfg := testLockConfig()
	cfg.Timeout = 30 * time.Millisecond
	locker := NewMigrationLocker(db, cfg)

	held := migrationLockRecord{ID: cfg.Name, LockedBy: "other", LockedAt: time.Now()}
	if err := db.Create(&held).Error; err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	err := locker.WithLock(context.Background(), func() error {
		t.Error("should not have acquired the lock")
		return nil
	})
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
}

func TestFallbackMigrationLock_ContextCancellation(t *testing.T) {
	db := setupTestDB(t)
	locker := NewMigrationLocker(db, testLockConfig())

	err := locker.WithLock(context.Background(), func() error {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if err := locker.WithLock(ctx, func() error {
			t.Error("should not have acquired the lock")
			return nil
		}); err == nil {
			t.Error("expected context cancellation error")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("outer WithLock error: %v", err)
	}
}

func newMySQLMock(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open gorm: %v", err)
	}
	return db, mock
}

func TestMySQLNamedLock(t *testing.T) {
	db, mock := newMySQLMock(t)
	locker := NewMigrationLocker(db, testLockConfig())
	if _, ok := locker.(*mysqlNamedLock); !ok {
		t.Fatalf("expected mysql locker, got %T", locker)
	}

	mock.ExpectQuery(`SELECT GET_LOCK\(\?, \?\)`).
		WithArgs("passport-registry-migration", 5).
		WillReturnRows(sqlmock.NewRows([]string{"GET_LOCK"}).AddRow(1))
	mock.ExpectExec(`SELECT RELEASE_LOCK\(\?\)`).
		WithArgs("passport-registry-migration").
		WillReturnResult(sqlmock.NewResult(0, 0))

	called := false
	if err := locker.WithLock(context.Background(), func() error {
		called = true
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("function was not called")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestMySQLNamedLock_Timeout(t *testing.T) {
	db, mock := newMySQLMock(t)
	locker := NewMigrationLocker(db, testLockConfig())

	mock.ExpectQuery(`SELECT GET_LOCK\(\?, \?\)`).
		WillReturnRows(sqlmock.NewRows([]string{"GET_LOCK"}).AddRow(0))

	err := locker.WithLock(context.Background(), func() error {
		t.Error("should not have acquired the lock")
		return nil
	})
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
