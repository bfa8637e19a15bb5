package passport

import (
	"encoding/json"
	"time"
)

// Passport is the API representation of a passport.
type Passport struct {
	ID          int64          `json:"id"`
	ServiceName string         `json:"serviceName"`
	ServiceCode string         `json:"serviceCode,omitempty"`
	Description string         `json:"description,omitempty"`
	Status      LifecycleState `json:"status"`
	Version     int            `json:"version"`
	CreatedBy   string         `json:"createdBy,omitempty"`
	CreatedAt   string         `json:"createdAt"`
	UpdatedAt   string         `json:"updatedAt"`
	PublishedAt string         `json:"publishedAt,omitempty"`
	// NextStatuses lists the lifecycle states reachable in one step.
	NextStatuses []LifecycleState `json:"nextStatuses"`
}

// PassportList is a paginated list of passports.
type PassportList struct {
	Items         []Passport `json:"items"`
	NextPageToken string     `json:"nextPageToken,omitempty"`
}

// CreatePassportRequest is the body of POST /passports.
type CreatePassportRequest struct {
	ServiceName string `json:"serviceName"`
	ServiceCode string `json:"serviceCode,omitempty"`
	Description string `json:"description,omitempty"`
}

// UpdatePassportRequest is the body of PATCH /passports/{id}. Nil fields are
// left unchanged.
type UpdatePassportRequest struct {
	ServiceName *string `json:"serviceName,omitempty"`
	ServiceCode *string `json:"serviceCode,omitempty"`
	Description *string `json:"description,omitempty"`
}

// ChangeStatusRequest is the body of POST /passports/{id}/status.
type ChangeStatusRequest struct {
	Status LifecycleState `json:"status"`
}

// StatusDefinition is the API representation of a status definition.
type StatusDefinition struct {
	ID          int64  `json:"id"`
	PassportID  int64  `json:"passportId"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsInitial   bool   `json:"isInitial"`
	IsFinal     bool   `json:"isFinal"`
	CreatedAt   string `json:"createdAt"`
}

// DefineStatusRequest is the body of POST /passports/{id}/statuses.
type DefineStatusRequest struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsInitial   bool   `json:"isInitial"`
	IsFinal     bool   `json:"isFinal"`
}

// UpdateStatusRequest is the body of PATCH /statuses/{id}. Nil fields are
// left unchanged.
type UpdateStatusRequest struct {
	Code        *string `json:"code,omitempty"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	IsInitial   *bool   `json:"isInitial,omitempty"`
	IsFinal     *bool   `json:"isFinal,omitempty"`
}

// StatusTransition is the API representation of a transition.
type StatusTransition struct {
	ID           int64  `json:"id"`
	PassportID   int64  `json:"passportId"`
	FromStatusID *int64 `json:"fromStatusId"`
	ToStatusID   int64  `json:"toStatusId"`
	Condition    string `json:"condition,omitempty"`
	IsAutomatic  bool   `json:"isAutomatic"`
	CreatedAt    string `json:"createdAt"`
	// ConditionVariables are the identifiers the condition reads. Empty when
	// the condition is absent or does not parse.
	ConditionVariables []string `json:"conditionVariables,omitempty"`
}

// DefineTransitionRequest is the body of POST /passports/{id}/transitions.
// A missing fromStatusId defines a wildcard transition.
type DefineTransitionRequest struct {
	FromStatusID *int64 `json:"fromStatusId,omitempty"`
	ToStatusID   int64  `json:"toStatusId"`
	Condition    string `json:"condition,omitempty"`
	IsAutomatic  bool   `json:"isAutomatic"`
}

// PassportVersion is the API representation of a ledger entry.
type PassportVersion struct {
	ID         int64          `json:"id"`
	PassportID int64          `json:"passportId"`
	Version    int            `json:"version"`
	Data       map[string]any `json:"data"`
	Comment    string         `json:"comment,omitempty"`
	CreatedBy  string         `json:"createdBy,omitempty"`
	CreatedAt  string         `json:"createdAt"`
}

// PassportVersionList is a paginated list of versions, newest first.
type PassportVersionList struct {
	Items         []PassportVersion `json:"items"`
	NextPageToken string            `json:"nextPageToken,omitempty"`
}

// CreateVersionRequest is the body of POST /passports/{id}/versions.
type CreateVersionRequest struct {
	Data    map[string]any `json:"data"`
	Comment string         `json:"comment,omitempty"`
}

// AuditEvent is the API representation of an audit event.
type AuditEvent struct {
	ID         string         `json:"id"`
	RequestID  string         `json:"requestId,omitempty"`
	EventType  string         `json:"eventType"`
	Actor      string         `json:"actor"`
	ActorRole  string         `json:"actorRole,omitempty"`
	Action     string         `json:"action"`
	EntityType string         `json:"entityType,omitempty"`
	EntityID   int64          `json:"entityId,omitempty"`
	PassportID int64          `json:"passportId,omitempty"`
	Outcome    string         `json:"outcome"`
	StatusCode int            `json:"statusCode,omitempty"`
	OldValue   map[string]any `json:"oldValue,omitempty"`
	NewValue   map[string]any `json:"newValue,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	IPAddress  string         `json:"ipAddress,omitempty"`
	UserAgent  string         `json:"userAgent,omitempty"`
	CreatedAt  string         `json:"createdAt"`
}

// AuditEventList is a paginated list of audit events.
type AuditEventList struct {
	Events        []AuditEvent `json:"events"`
	NextPageToken string       `json:"nextPageToken,omitempty"`
	TotalSize     int          `json:"totalSize"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

var documentLifecycle = NewLifecycleMachine()

func recordToPassport(r *PassportRecord) Passport {
	p := Passport{
		ID:          r.ID,
		ServiceName: r.ServiceName,
		ServiceCode: r.ServiceCode,
		Description: r.Description,
		Status:      LifecycleState(r.Status),
		Version:     r.Version,
		CreatedBy:   r.CreatedBy,
		CreatedAt:   formatTime(r.CreatedAt),
		UpdatedAt:   formatTime(r.UpdatedAt),
	}
	p.NextStatuses = documentLifecycle.AllowedTransitions(p.Status)
	if p.NextStatuses == nil {
		p.NextStatuses = []LifecycleState{}
	}
	if r.PublishedAt != nil {
		p.PublishedAt = formatTime(*r.PublishedAt)
	}
	return p
}

func recordToStatus(r *StatusDefinitionRecord) StatusDefinition {
	return StatusDefinition{
		ID:          r.ID,
		PassportID:  r.PassportID,
		Code:        r.Code,
		Name:        r.Name,
		Description: r.Description,
		IsInitial:   r.IsInitial,
		IsFinal:     r.IsFinal,
		CreatedAt:   formatTime(r.CreatedAt),
	}
}

func recordToTransition(r *StatusTransitionRecord) StatusTransition {
	t := StatusTransition{
		ID:           r.ID,
		PassportID:   r.PassportID,
		FromStatusID: r.FromStatusID,
		ToStatusID:   r.ToStatusID,
		Condition:    r.Condition,
		IsAutomatic:  r.IsAutomatic,
		CreatedAt:    formatTime(r.CreatedAt),
	}
	if r.Condition != "" {
		if c, err := ParseCondition(r.Condition); err == nil {
			t.ConditionVariables = c.Identifiers()
		}
	}
	return t
}

func recordToVersion(r *PassportVersionRecord) PassportVersion {
	data := map[string]any(r.Data)
	if data == nil {
		data = map[string]any{}
	}
	return PassportVersion{
		ID:         r.ID,
		PassportID: r.PassportID,
		Version:    r.Version,
		Data:       data,
		Comment:    r.Comment,
		CreatedBy:  r.CreatedBy,
		CreatedAt:  formatTime(r.CreatedAt),
	}
}

func recordToAuditEvent(r *AuditEventRecord) AuditEvent {
	return AuditEvent{
		ID:         r.ID,
		RequestID:  r.RequestID,
		EventType:  r.EventType,
		Actor:      r.Actor,
		ActorRole:  r.ActorRole,
		Action:     r.Action,
		EntityType: r.EntityType,
		EntityID:   r.EntityID,
		PassportID: r.PassportID,
		Outcome:    r.Outcome,
		StatusCode: r.StatusCode,
		OldValue:   map[string]any(r.OldValue),
		NewValue:   map[string]any(r.NewValue),
		Metadata:   map[string]any(r.Metadata),
		IPAddress:  r.IPAddress,
		UserAgent:  r.UserAgent,
		CreatedAt:  r.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// toJSONAny converts an API value to a map for audit event storage.
func toJSONAny(v any) JSONAny {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return JSONAny(m)
}
