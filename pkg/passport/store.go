package passport

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"gorm.io/gorm"
)

// PassportStore provides CRUD operations for passport records.
type PassportStore struct {
	db *gorm.DB
}

// NewPassportStore creates a new PassportStore. A nil db yields a store whose
// every call fails with ErrUnavailable.
func NewPassportStore(db *gorm.DB) *PassportStore {
	return &PassportStore{db: db}
}

// AutoMigrate creates or updates all passport registry tables.
func (s *PassportStore) AutoMigrate() error {
	if s.db == nil {
		return ErrUnavailable
	}
	if err := s.db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto-migrate passport tables: %w", err)
	}
	return nil
}

func (s *PassportStore) conn(ctx context.Context) (*gorm.DB, error) {
	if s.db == nil {
		return nil, fmt.Errorf("%w: no database configured", ErrUnavailable)
	}
	return s.db.WithContext(ctx), nil
}

// PassportListFilter narrows List results.
type PassportListFilter struct {
	Status string
}

// Create inserts a new passport. Status defaults to draft and version to 1.
func (s *PassportStore) Create(ctx context.Context, record *PassportRecord) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if record.Status == "" {
		record.Status = string(StateDraft)
	}
	if record.Version == 0 {
		record.Version = 1
	}
	if err := db.Create(record).Error; err != nil {
		return fmt.Errorf("create passport: %w", classifyError(err))
	}
	return nil
}

// Get retrieves a passport by ID. Returns nil, nil if no record exists.
func (s *PassportStore) Get(ctx context.Context, id int64) (*PassportRecord, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var record PassportRecord
	if err := db.Where("id = ?", id).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get passport: %w", classifyError(err))
	}
	return &record, nil
}

// List returns passports ordered by ID, paginated by ID cursor.
// pageToken is the last ID of the previous page.
func (s *PassportStore) List(ctx context.Context, filter PassportListFilter, pageSize int, pageToken string) ([]PassportRecord, string, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, "", err
	}
	pageSize = clampPageSize(pageSize)

	query := db.Order("id ASC").Limit(pageSize + 1)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if pageToken != "" {
		after, err := strconv.ParseInt(pageToken, 10, 64)
		if err != nil {
			return nil, "", fmt.Errorf("%w: invalid page token", ErrInvalidInput)
		}
		query = query.Where("id > ?", after)
	}

	var records []PassportRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, "", fmt.Errorf("list passports: %w", classifyError(err))
	}

	var nextToken string
	if len(records) > pageSize {
		nextToken = strconv.FormatInt(records[pageSize-1].ID, 10)
		records = records[:pageSize]
	}
	return records, nextToken, nil
}

// Update applies the given column updates to a passport and returns the
// updated record. The version column is never written here.
func (s *PassportStore) Update(ctx context.Context, id int64, updates map[string]any) (*PassportRecord, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	delete(updates, "version")

	var updated PassportRecord
	err = db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&PassportRecord{}).Where("id = ?", id).Updates(updates)
		if result.Error != nil {
			return classifyError(result.Error)
		}
		if err := tx.Where("id = ?", id).First(&updated).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return classifyError(err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update passport %d: %w", id, classifyError(err))
	}
	return &updated, nil
}

// Delete removes a passport together with its status model and version
// ledger. Children are deleted explicitly so the cascade holds on engines
// that do not enforce foreign keys.
func (s *PassportStore) Delete(ctx context.Context, id int64) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		for _, child := range []any{&StatusTransitionRecord{}, &StatusDefinitionRecord{}, &PassportVersionRecord{}} {
			if err := tx.Where("passport_id = ?", id).Delete(child).Error; err != nil {
				return classifyError(err)
			}
		}
		result := tx.Where("id = ?", id).Delete(&PassportRecord{})
		if result.Error != nil {
			return classifyError(result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete passport %d: %w", id, classifyError(err))
	}
	return nil
}

func clampPageSize(pageSize int) int {
	if pageSize <= 0 {
		return 20
	}
	if pageSize > 100 {
		return 100
	}
	return pageSize
}
