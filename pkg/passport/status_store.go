package passport

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StatusModelStore persists the per-passport status graph: status
// definitions (nodes) and transitions (edges).
type StatusModelStore struct {
	db *gorm.DB
}

// NewStatusModelStore creates a new StatusModelStore.
func NewStatusModelStore(db *gorm.DB) *StatusModelStore {
	return &StatusModelStore{db: db}
}

func (s *StatusModelStore) conn(ctx context.Context) (*gorm.DB, error) {
	if s.db == nil {
		return nil, fmt.Errorf("%w: no database configured", ErrUnavailable)
	}
	return s.db.WithContext(ctx), nil
}

// passportExists must run on the transaction handle it is given.
func passportExists(tx *gorm.DB, passportID int64) error {
	var count int64
	if err := tx.Model(&PassportRecord{}).Where("id = ?", passportID).Count(&count).Error; err != nil {
		return classifyError(err)
	}
	if count == 0 {
		return fmt.Errorf("%w: passport %d", ErrNotFound, passportID)
	}
	return nil
}

// DefineStatus inserts a status definition for record.PassportID. Duplicate
// codes within a passport fail with ErrReferentialIntegrity.
func (s *StatusModelStore) DefineStatus(ctx context.Context, record *StatusDefinitionRecord) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := passportExists(tx, record.PassportID); err != nil {
			return err
		}
		if err := tx.Create(record).Error; err != nil {
			return classifyError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("define status: %w", classifyError(err))
	}
	return nil
}

// GetStatus retrieves a status definition by ID. Returns nil, nil if missing.
func (s *StatusModelStore) GetStatus(ctx context.Context, id int64) (*StatusDefinitionRecord, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var record StatusDefinitionRecord
	if err := db.Where("id = ?", id).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get status: %w", classifyError(err))
	}
	return &record, nil
}

// ListStatuses returns a passport's status definitions in insertion order.
func (s *StatusModelStore) ListStatuses(ctx context.Context, passportID int64) ([]StatusDefinitionRecord, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var records []StatusDefinitionRecord
	if err := db.Where("passport_id = ?", passportID).Order("id ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list statuses: %w", classifyError(err))
	}
	return records, nil
}

// UpdateStatus applies a partial update to a status definition. The initial
// and final flags may be changed freely; no count of initial statuses is
// enforced.
func (s *StatusModelStore) UpdateStatus(ctx context.Context, id int64, updates map[string]any) (*StatusDefinitionRecord, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	delete(updates, "passport_id")

	var updated StatusDefinitionRecord
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&updated).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: status %d", ErrNotFound, id)
			}
			return classifyError(err)
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&StatusDefinitionRecord{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return classifyError(err)
		}
		return classifyError(tx.Where("id = ?", id).First(&updated).Error)
	})
	if err != nil {
		return nil, fmt.Errorf("update status: %w", classifyError(err))
	}
	return &updated, nil
}

// DeleteStatus removes a status definition. A status still referenced by a
// transition, as source or target, is kept and ErrReferentialIntegrity is
// returned.
func (s *StatusModelStore) DeleteStatus(ctx context.Context, id int64) (*StatusDefinitionRecord, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var deleted StatusDefinitionRecord
	err = db.Transaction(func(tx *gorm.DB) error {
		// The row lock waits out DefineTransition calls holding a share lock
		// on this status, so the reference count below sees their rows.
		if err := tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
			Where("id = ?", id).First(&deleted).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: status %d", ErrNotFound, id)
			}
			return classifyError(err)
		}
		var refs int64
		if err := tx.Model(&StatusTransitionRecord{}).
			Where("to_status_id = ? OR from_status_id = ?", id, id).
			Count(&refs).Error; err != nil {
			return classifyError(err)
		}
		if refs > 0 {
			return fmt.Errorf("%w: status %d is referenced by %d transition(s)", ErrReferentialIntegrity, id, refs)
		}
		return classifyError(tx.Where("id = ?", id).Delete(&StatusDefinitionRecord{}).Error)
	})
	if err != nil {
		return nil, fmt.Errorf("delete status: %w", classifyError(err))
	}
	return &deleted, nil
}

// DefineTransition inserts a transition after checking, in the same
// transaction, that both endpoints belong to record.PassportID.
func (s *StatusModelStore) DefineTransition(ctx context.Context, record *StatusTransitionRecord) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := passportExists(tx, record.PassportID); err != nil {
			return err
		}
		if err := statusInPassport(tx, record.ToStatusID, record.PassportID); err != nil {
			return err
		}
		if record.FromStatusID != nil {
			if err := statusInPassport(tx, *record.FromStatusID, record.PassportID); err != nil {
				return err
			}
		}
		if err := tx.Create(record).Error; err != nil {
			return classifyError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("define transition: %w", classifyError(err))
	}
	return nil
}

// statusInPassport share-locks the status until the caller's transaction
// ends, so a concurrent DeleteStatus cannot remove it underneath a new edge.
func statusInPassport(tx *gorm.DB, statusID, passportID int64) error {
	var status StatusDefinitionRecord
	if err := tx.Clauses(clause.Locking{Strength: clause.LockingStrengthShare}).
		Select("id", "passport_id").Where("id = ?", statusID).First(&status).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: status %d does not exist", ErrReferentialIntegrity, statusID)
		}
		return classifyError(err)
	}
	if status.PassportID != passportID {
		return fmt.Errorf("%w: status %d belongs to passport %d, not %d",
			ErrReferentialIntegrity, statusID, status.PassportID, passportID)
	}
	return nil
}

// ListTransitions returns a passport's transitions ordered by ID.
func (s *StatusModelStore) ListTransitions(ctx context.Context, passportID int64) ([]StatusTransitionRecord, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var records []StatusTransitionRecord
	if err := db.Where("passport_id = ?", passportID).Order("id ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list transitions: %w", classifyError(err))
	}
	return records, nil
}

// DeleteTransition removes a transition and returns the deleted row.
func (s *StatusModelStore) DeleteTransition(ctx context.Context, id int64) (*StatusTransitionRecord, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var deleted StatusTransitionRecord
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&deleted).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: transition %d", ErrNotFound, id)
			}
			return classifyError(err)
		}
		return classifyError(tx.Where("id = ?", id).Delete(&StatusTransitionRecord{}).Error)
	})
	if err != nil {
		return nil, fmt.Errorf("delete transition: %w", classifyError(err))
	}
	return &deleted, nil
}
