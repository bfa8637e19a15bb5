package passport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Audit event types.
const (
	EventTypeEntity  = "entity"
	EventTypeRequest = "request"
)

// Audit outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDenied  = "denied"
)

// AuditStore provides append-only operations for audit event records.
type AuditStore struct {
	db *gorm.DB
}

// NewAuditStore creates a new AuditStore.
func NewAuditStore(db *gorm.DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) conn(ctx context.Context) (*gorm.DB, error) {
	if s.db == nil {
		return nil, fmt.Errorf("%w: no database configured", ErrUnavailable)
	}
	return s.db.WithContext(ctx), nil
}

// AuditFilter narrows audit listings. Zero fields match everything.
type AuditFilter struct {
	PassportID int64
	EntityType string
	EntityID   int64
	Actor      string
	Action     string
	EventType  string
}

// Append creates a new immutable audit event record. An empty ID is filled
// with a random UUID.
func (s *AuditStore) Append(ctx context.Context, event *AuditEventRecord) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Outcome == "" {
		event.Outcome = OutcomeSuccess
	}
	if err := db.Create(event).Error; err != nil {
		return fmt.Errorf("append audit event: %w", classifyError(err))
	}
	return nil
}

// Get retrieves one audit event. Returns nil, nil if missing.
func (s *AuditStore) Get(ctx context.Context, id string) (*AuditEventRecord, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var records []AuditEventRecord
	if err := db.Where("id = ?", id).Limit(1).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("get audit event: %w", classifyError(err))
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// List returns paginated audit events ordered by created_at DESC, id DESC
// (newest first). pageToken is the (created_at, id) position of the last
// event of the previous page, so events sharing a timestamp are not skipped.
func (s *AuditStore) List(ctx context.Context, filter AuditFilter, pageSize int, pageToken string) ([]AuditEventRecord, string, int, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, "", 0, err
	}
	pageSize = clampPageSize(pageSize)

	var totalSize int64
	if err := applyAuditFilter(db.Model(&AuditEventRecord{}), filter).Count(&totalSize).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count audit events: %w", classifyError(err))
	}

	query := applyAuditFilter(db, filter).Order("created_at DESC").Order("id DESC").Limit(pageSize + 1)
	if pageToken != "" {
		at, id, err := parseAuditCursor(pageToken)
		if err != nil {
			return nil, "", 0, err
		}
		query = query.Where("created_at < ? OR (created_at = ? AND id < ?)", at, at, id)
	}

	var records []AuditEventRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list audit events: %w", classifyError(err))
	}

	var nextToken string
	if len(records) > pageSize {
		last := records[pageSize-1]
		nextToken = last.CreatedAt.Format(time.RFC3339Nano) + auditCursorSep + last.ID
		records = records[:pageSize]
	}
	return records, nextToken, int(totalSize), nil
}

const auditCursorSep = "|"

func parseAuditCursor(token string) (time.Time, string, error) {
	ts, id, ok := strings.Cut(token, auditCursorSep)
	if !ok || id == "" {
		return time.Time{}, "", fmt.Errorf("%w: invalid page token", ErrInvalidInput)
	}
	at, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: invalid page token", ErrInvalidInput)
	}
	return at, id, nil
}

func applyAuditFilter(query *gorm.DB, f AuditFilter) *gorm.DB {
	if f.PassportID != 0 {
		query = query.Where("passport_id = ?", f.PassportID)
	}
	if f.EntityType != "" {
		query = query.Where("entity_type = ?", f.EntityType)
	}
	if f.EntityID != 0 {
		query = query.Where("entity_id = ?", f.EntityID)
	}
	if f.Actor != "" {
		query = query.Where("actor = ?", f.Actor)
	}
	if f.Action != "" {
		query = query.Where("action = ?", f.Action)
	}
	if f.EventType != "" {
		query = query.Where("event_type = ?", f.EventType)
	}
	return query
}

// DeleteOlderThan deletes audit events created before the given cutoff time.
// Returns the number of deleted records.
func (s *AuditStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	result := db.Where("created_at < ?", cutoff).Delete(&AuditEventRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old audit events: %w", classifyError(result.Error))
	}
	return result.RowsAffected, nil
}
