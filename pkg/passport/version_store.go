package passport

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VersionStore provides append-only access to the passport version ledger.
type VersionStore struct {
	db *gorm.DB
}

// NewVersionStore creates a new VersionStore.
func NewVersionStore(db *gorm.DB) *VersionStore {
	return &VersionStore{db: db}
}

func (s *VersionStore) conn(ctx context.Context) (*gorm.DB, error) {
	if s.db == nil {
		return nil, fmt.Errorf("%w: no database configured", ErrUnavailable)
	}
	return s.db.WithContext(ctx), nil
}

// CreateVersion appends record as the next version of record.PassportID and
// moves the passport's version counter to match, in one transaction.
//
// The passport row is locked for update, so concurrent callers on the same
// passport serialise and each receive a distinct version number. The counter
// update is additionally guarded by the version that was read; a zero-row
// update rolls the insert back with ErrReferentialIntegrity.
func (s *VersionStore) CreateVersion(ctx context.Context, record *PassportVersionRecord) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		var passport PassportRecord
		if err := tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
			Select("id", "version").
			Where("id = ?", record.PassportID).
			First(&passport).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: passport %d", ErrNotFound, record.PassportID)
			}
			return classifyError(err)
		}

		current := passport.Version
		record.ID = 0
		record.Version = current + 1
		if record.Data == nil {
			record.Data = JSONAny{}
		}
		if err := tx.Create(record).Error; err != nil {
			return classifyError(err)
		}

		result := tx.Model(&PassportRecord{}).
			Where("id = ? AND version = ?", record.PassportID, current).
			Update("version", record.Version)
		if result.Error != nil {
			return classifyError(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: passport %d version changed concurrently", ErrReferentialIntegrity, record.PassportID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create version: %w", classifyError(err))
	}
	return nil
}

// ListVersions returns a passport's versions newest first. pageToken is the
// last version number of the previous page; an empty token starts at the
// newest version.
func (s *VersionStore) ListVersions(ctx context.Context, passportID int64, pageSize int, pageToken string) ([]PassportVersionRecord, string, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, "", err
	}
	pageSize = clampPageSize(pageSize)

	query := db.Where("passport_id = ?", passportID).Order("version DESC").Limit(pageSize + 1)
	if pageToken != "" {
		before, err := strconv.Atoi(pageToken)
		if err != nil {
			return nil, "", fmt.Errorf("%w: invalid page token", ErrInvalidInput)
		}
		query = query.Where("version < ?", before)
	}

	var records []PassportVersionRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, "", fmt.Errorf("list versions: %w", classifyError(err))
	}

	var nextToken string
	if len(records) > pageSize {
		nextToken = strconv.Itoa(records[pageSize-1].Version)
		records = records[:pageSize]
	}
	return records, nextToken, nil
}

// GetVersion retrieves one version of a passport. Returns nil, nil if missing.
func (s *VersionStore) GetVersion(ctx context.Context, passportID int64, version int) (*PassportVersionRecord, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var record PassportVersionRecord
	if err := db.Where("passport_id = ? AND version = ?", passportID, version).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get version: %w", classifyError(err))
	}
	return &record, nil
}
