package audit

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/socialpassport/passport-registry/pkg/passport"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := passport.NewPassportStore(db).AutoMigrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func listAll(t *testing.T, store *passport.AuditStore) []passport.AuditEventRecord {
	t.Helper()
	records, _, _, err := store.List(context.Background(), passport.AuditFilter{}, 100, "")
	if err != nil {
		t.Fatalf("list audit events: %v", err)
	}
	return records
}
