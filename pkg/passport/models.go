package passport

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// JSONAny is a custom GORM type for map[string]any stored as JSON.
type JSONAny map[string]any

// Scan implements the sql.Scanner interface for JSONAny.
func (m *JSONAny) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for JSONAny: %T", value)
	}
	return json.Unmarshal(bytes, m)
}

// GormDBDataType picks a native JSON column where the engine has one. MySQL
// TEXT would cap snapshots at 64KB.
func (JSONAny) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	switch db.Dialector.Name() {
	case "mysql":
		return "JSON"
	case "postgres":
		return "JSONB"
	}
	return "TEXT"
}

// Value implements the driver.Valuer interface for JSONAny.
func (m JSONAny) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// PassportRecord is the mutable top-level passport row. Version mirrors the
// latest PassportVersionRecord and only moves forward through VersionStore.
type PassportRecord struct {
	ID          int64      `gorm:"primaryKey;autoIncrement;column:id"`
	ServiceName string     `gorm:"column:service_name;type:varchar(500);not null"`
	ServiceCode string     `gorm:"column:service_code;type:varchar(50)"`
	Description string     `gorm:"column:description;type:text"`
	Status      string     `gorm:"column:status;type:varchar(20);index:idx_passport_status;default:draft;not null"`
	Version     int        `gorm:"column:version;default:1;not null"`
	CreatedBy   string     `gorm:"column:created_by;type:varchar(64)"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
	PublishedAt *time.Time `gorm:"column:published_at"`

	// Declared so AutoMigrate emits ON DELETE CASCADE foreign keys on engines
	// that enforce them. Never preloaded.
	Statuses    []StatusDefinitionRecord `gorm:"foreignKey:PassportID;constraint:OnDelete:CASCADE"`
	Transitions []StatusTransitionRecord `gorm:"foreignKey:PassportID;constraint:OnDelete:CASCADE"`
	Versions    []PassportVersionRecord  `gorm:"foreignKey:PassportID;constraint:OnDelete:CASCADE"`
}

// TableName returns the GORM table name.
func (PassportRecord) TableName() string { return "passports" }

// StatusDefinitionRecord is a named state of a passport's applicant lifecycle.
type StatusDefinitionRecord struct {
	ID          int64     `gorm:"primaryKey;autoIncrement;column:id"`
	PassportID  int64     `gorm:"column:passport_id;uniqueIndex:idx_status_passport_code,priority:1;not null"`
	Code        string    `gorm:"column:status_code;type:varchar(50);uniqueIndex:idx_status_passport_code,priority:2;not null"`
	Name        string    `gorm:"column:status_name;type:varchar(255);not null"`
	Description string    `gorm:"column:description;type:text"`
	IsInitial   bool      `gorm:"column:is_initial;default:false;not null"`
	IsFinal     bool      `gorm:"column:is_final;default:false;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (StatusDefinitionRecord) TableName() string { return "status_models" }

// StatusTransitionRecord is a directed edge between two status definitions of
// the same passport. A nil FromStatusID means the edge applies from any status.
type StatusTransitionRecord struct {
	ID           int64     `gorm:"primaryKey;autoIncrement;column:id"`
	PassportID   int64     `gorm:"column:passport_id;index:idx_transition_passport;not null"`
	FromStatusID *int64    `gorm:"column:from_status_id;index"`
	ToStatusID   int64     `gorm:"column:to_status_id;index;not null"`
	Condition    string    `gorm:"column:condition_text;type:text"`
	IsAutomatic  bool      `gorm:"column:is_automatic;default:false;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`

	// Endpoint foreign keys. A referenced status cannot be deleted on engines
	// that enforce them. Never preloaded.
	From *StatusDefinitionRecord `gorm:"foreignKey:FromStatusID;constraint:OnDelete:RESTRICT" json:"-"`
	To   *StatusDefinitionRecord `gorm:"foreignKey:ToStatusID;constraint:OnDelete:RESTRICT" json:"-"`
}

// TableName returns the GORM table name.
func (StatusTransitionRecord) TableName() string { return "status_transitions" }

// PassportVersionRecord is an immutable snapshot of a passport's content.
type PassportVersionRecord struct {
	ID         int64     `gorm:"primaryKey;autoIncrement;column:id"`
	PassportID int64     `gorm:"column:passport_id;uniqueIndex:idx_passport_version,priority:1;not null"`
	Version    int       `gorm:"column:version;uniqueIndex:idx_passport_version,priority:2;not null"`
	Data       JSONAny   `gorm:"column:data;not null"`
	Comment    string    `gorm:"column:comment;type:text"`
	CreatedBy  string    `gorm:"column:created_by;type:varchar(64)"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (PassportVersionRecord) TableName() string { return "passport_versions" }

// AuditEventRecord is an immutable audit log entry. Entity-level events carry
// EntityType/EntityID and old/new values; request-level events written by the
// HTTP middleware carry the status code and outcome instead.
type AuditEventRecord struct {
	ID         string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	RequestID  string    `gorm:"column:request_id;type:varchar(64);index"`
	EventType  string    `gorm:"column:event_type;type:varchar(32);index:idx_audit_type_time,priority:1;not null"`
	Actor      string    `gorm:"column:actor;type:varchar(64);index:idx_audit_actor_time,priority:1;not null"`
	ActorRole  string    `gorm:"column:actor_role;type:varchar(16)"`
	Action     string    `gorm:"column:action;type:varchar(100);not null"`
	EntityType string    `gorm:"column:entity_type;type:varchar(100);index:idx_audit_entity_time,priority:1"`
	EntityID   int64     `gorm:"column:entity_id;index:idx_audit_entity_time,priority:2"`
	PassportID int64     `gorm:"column:passport_id;index:idx_audit_passport_time,priority:1"`
	Outcome    string    `gorm:"column:outcome;type:varchar(16);not null"` // success, failure, denied
	StatusCode int       `gorm:"column:status_code"`
	OldValue   JSONAny   `gorm:"column:old_value"`
	NewValue   JSONAny   `gorm:"column:new_value"`
	Metadata   JSONAny   `gorm:"column:metadata"`
	IPAddress  string    `gorm:"column:ip_address;type:varchar(50)"`
	UserAgent  string    `gorm:"column:user_agent;type:text"`
	CreatedAt  time.Time `gorm:"column:created_at;index:idx_audit_type_time,priority:2;index:idx_audit_actor_time,priority:2;index:idx_audit_entity_time,priority:3;index:idx_audit_passport_time,priority:2;autoCreateTime"`
}

// TableName returns the GORM table name.
func (AuditEventRecord) TableName() string { return "audit_events" }

// Models lists every table owned by this package in migration order.
func Models() []any {
	return []any{
		&PassportRecord{},
		&StatusDefinitionRecord{},
		&StatusTransitionRecord{},
		&PassportVersionRecord{},
		&AuditEventRecord{},
	}
}
