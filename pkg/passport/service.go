package passport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/socialpassport/passport-registry/pkg/authz"
	"github.com/socialpassport/passport-registry/pkg/metrics"
)

// Entity types recorded in audit events.
const (
	EntityPassport   = "passport"
	EntityStatus     = "status"
	EntityTransition = "transition"
	EntityVersion    = "version"
)

// RequestInfo carries HTTP request details into audit events.
type RequestInfo struct {
	RequestID string
	IPAddress string
	UserAgent string
}

type requestInfoCtxKey struct{}

// WithRequestInfo returns a context carrying info.
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoCtxKey{}, info)
}

func requestInfoFromContext(ctx context.Context) RequestInfo {
	info, _ := ctx.Value(requestInfoCtxKey{}).(RequestInfo)
	return info
}

// Service is the entry point for status model, version ledger and passport
// operations. Every call checks the caller's role, carried in ctx by
// authz.WithIdentity, before touching storage.
//
// Reads degrade to empty results when storage is unavailable. Writes return
// ErrUnavailable instead.
type Service struct {
	passports *PassportStore
	statuses  *StatusModelStore
	versions  *VersionStore
	audit     *AuditStore
	lifecycle *LifecycleMachine
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithMetrics sets the metrics sink. Without it nothing is recorded.
func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService wires all stores to db. db may be nil, in which case reads are
// empty and writes fail with ErrUnavailable.
func NewService(db *gorm.DB, opts ...ServiceOption) *Service {
	s := &Service{
		passports: NewPassportStore(db),
		statuses:  NewStatusModelStore(db),
		versions:  NewVersionStore(db),
		audit:     NewAuditStore(db),
		lifecycle: NewLifecycleMachine(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// degraded reports whether err is a storage outage that a read should
// swallow. It logs and counts the degradation.
func (s *Service) degraded(ctx context.Context, op string, err error) bool {
	if !IsUnavailable(err) {
		return false
	}
	s.logger.WarnContext(ctx, "storage unavailable, returning empty result", "op", op, "error", err)
	s.metrics.IncDegradedRead(op)
	return true
}

// recordEntity appends an entity-level audit event. Failures are logged and
// never fail the calling operation.
func (s *Service) recordEntity(ctx context.Context, id authz.Identity, action, entityType string, entityID, passportID int64, oldValue, newValue any) {
	info := requestInfoFromContext(ctx)
	event := &AuditEventRecord{
		RequestID:  info.RequestID,
		EventType:  EventTypeEntity,
		Actor:      id.User,
		ActorRole:  string(id.Role),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		PassportID: passportID,
		Outcome:    OutcomeSuccess,
		OldValue:   toJSONAny(oldValue),
		NewValue:   toJSONAny(newValue),
		IPAddress:  info.IPAddress,
		UserAgent:  info.UserAgent,
	}
	if err := s.audit.Append(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit append failed", "action", action, "entityType", entityType, "entityId", entityID, "error", err)
	}
}

func requireText(field, value string, maxLen int) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidInput, field)
	}
	if utf8.RuneCountInString(value) > maxLen {
		return fmt.Errorf("%w: %s exceeds %d characters", ErrInvalidInput, field, maxLen)
	}
	return nil
}

func optionalText(field, value string, maxLen int) error {
	if utf8.RuneCountInString(value) > maxLen {
		return fmt.Errorf("%w: %s exceeds %d characters", ErrInvalidInput, field, maxLen)
	}
	return nil
}

// ---- Passports ----

// CreatePassport creates a draft passport at version 1.
func (s *Service) CreatePassport(ctx context.Context, req CreatePassportRequest) (*PassportRecord, error) {
	id, err := authz.Require(ctx, authz.RoleCurator)
	if err != nil {
		return nil, err
	}
	if err := requireText("serviceName", req.ServiceName, 500); err != nil {
		return nil, err
	}
	if err := optionalText("serviceCode", req.ServiceCode, 50); err != nil {
		return nil, err
	}
	record := &PassportRecord{
		ServiceName: req.ServiceName,
		ServiceCode: req.ServiceCode,
		Description: req.Description,
		Status:      string(StateDraft),
		Version:     1,
		CreatedBy:   id.User,
	}
	if err := s.passports.Create(ctx, record); err != nil {
		return nil, err
	}
	s.recordEntity(ctx, id, "passport.create", EntityPassport, record.ID, record.ID, nil, recordToPassport(record))
	return record, nil
}

// GetPassport returns one passport. A storage outage reads as ErrNotFound.
func (s *Service) GetPassport(ctx context.Context, passportID int64) (*PassportRecord, error) {
	if _, err := authz.Require(ctx, authz.RoleUser); err != nil {
		return nil, err
	}
	record, err := s.passports.Get(ctx, passportID)
	if err != nil {
		if s.degraded(ctx, "getPassport", err) {
			return nil, fmt.Errorf("%w: passport %d", ErrNotFound, passportID)
		}
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("%w: passport %d", ErrNotFound, passportID)
	}
	return record, nil
}

// ListPassports returns passports ordered by ID, optionally filtered by
// lifecycle state.
func (s *Service) ListPassports(ctx context.Context, filter PassportListFilter, pageSize int, pageToken string) ([]PassportRecord, string, error) {
	if _, err := authz.Require(ctx, authz.RoleUser); err != nil {
		return nil, "", err
	}
	if filter.Status != "" {
		if _, err := ParseLifecycleState(filter.Status); err != nil {
			return nil, "", err
		}
	}
	records, next, err := s.passports.List(ctx, filter, pageSize, pageToken)
	if err != nil {
		if s.degraded(ctx, "listPassports", err) {
			return []PassportRecord{}, "", nil
		}
		return nil, "", err
	}
	return records, next, nil
}

// UpdatePassport applies a partial update to a passport's descriptive fields.
func (s *Service) UpdatePassport(ctx context.Context, passportID int64, req UpdatePassportRequest) (*PassportRecord, error) {
	id, err := authz.Require(ctx, authz.RoleCurator)
	if err != nil {
		return nil, err
	}
	updates := map[string]any{}
	if req.ServiceName != nil {
		if err := requireText("serviceName", *req.ServiceName, 500); err != nil {
			return nil, err
		}
		updates["service_name"] = *req.ServiceName
	}
	if req.ServiceCode != nil {
		if err := optionalText("serviceCode", *req.ServiceCode, 50); err != nil {
			return nil, err
		}
		updates["service_code"] = *req.ServiceCode
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}

	before, err := s.passports.Get(ctx, passportID)
	if err != nil {
		return nil, err
	}
	if before == nil {
		return nil, fmt.Errorf("%w: passport %d", ErrNotFound, passportID)
	}
	after, err := s.passports.Update(ctx, passportID, updates)
	if err != nil {
		return nil, err
	}
	s.recordEntity(ctx, id, "passport.update", EntityPassport, passportID, passportID, recordToPassport(before), recordToPassport(after))
	return after, nil
}

// ChangePassportStatus moves a passport through its document lifecycle.
// Publishing stamps publishedAt.
func (s *Service) ChangePassportStatus(ctx context.Context, passportID int64, to LifecycleState) (*PassportRecord, error) {
	id, err := authz.Require(ctx, authz.RoleCurator)
	if err != nil {
		return nil, err
	}
	if _, err := ParseLifecycleState(string(to)); err != nil {
		return nil, err
	}
	before, err := s.passports.Get(ctx, passportID)
	if err != nil {
		return nil, err
	}
	if before == nil {
		return nil, fmt.Errorf("%w: passport %d", ErrNotFound, passportID)
	}
	from := LifecycleState(before.Status)
	if err := s.lifecycle.ValidateTransition(from, to); err != nil {
		return nil, err
	}
	if from == to {
		return before, nil
	}

	updates := map[string]any{"status": string(to)}
	if to == StatePublished {
		updates["published_at"] = s.now().UTC()
	}
	after, err := s.passports.Update(ctx, passportID, updates)
	if err != nil {
		return nil, err
	}
	s.recordEntity(ctx, id, "passport.status."+string(to), EntityPassport, passportID, passportID,
		map[string]any{"status": from}, map[string]any{"status": to})
	return after, nil
}

// DeletePassport removes a passport with its status model and versions.
// Admin only.
func (s *Service) DeletePassport(ctx context.Context, passportID int64) error {
	id, err := authz.Require(ctx, authz.RoleAdmin)
	if err != nil {
		return err
	}
	before, err := s.passports.Get(ctx, passportID)
	if err != nil {
		return err
	}
	if before == nil {
		return fmt.Errorf("%w: passport %d", ErrNotFound, passportID)
	}
	if err := s.passports.Delete(ctx, passportID); err != nil {
		return err
	}
	s.recordEntity(ctx, id, "passport.delete", EntityPassport, passportID, passportID, recordToPassport(before), nil)
	return nil
}

// ---- Status model ----

// DefineStatus adds a status definition to a passport.
func (s *Service) DefineStatus(ctx context.Context, passportID int64, req DefineStatusRequest) (*StatusDefinitionRecord, error) {
	id, err := authz.Require(ctx, authz.RoleCurator)
	if err != nil {
		return nil, err
	}
	if err := requireText("code", req.Code, 50); err != nil {
		return nil, err
	}
	if err := requireText("name", req.Name, 255); err != nil {
		return nil, err
	}
	record := &StatusDefinitionRecord{
		PassportID:  passportID,
		Code:        req.Code,
		Name:        req.Name,
		Description: req.Description,
		IsInitial:   req.IsInitial,
		IsFinal:     req.IsFinal,
	}
	if err := s.statuses.DefineStatus(ctx, record); err != nil {
		return nil, err
	}
	s.metrics.IncStatusModelMutation(EntityStatus, "create")
	s.recordEntity(ctx, id, "status.create", EntityStatus, record.ID, passportID, nil, recordToStatus(record))
	return record, nil
}

// ListStatuses returns a passport's statuses in insertion order. Unknown
// passports yield an empty list.
func (s *Service) ListStatuses(ctx context.Context, passportID int64) ([]StatusDefinitionRecord, error) {
	if _, err := authz.Require(ctx, authz.RoleUser); err != nil {
		return nil, err
	}
	records, err := s.statuses.ListStatuses(ctx, passportID)
	if err != nil {
		if s.degraded(ctx, "listStatuses", err) {
			return []StatusDefinitionRecord{}, nil
		}
		return nil, err
	}
	return records, nil
}

// UpdateStatus applies a partial update to a status definition.
func (s *Service) UpdateStatus(ctx context.Context, statusID int64, req UpdateStatusRequest) (*StatusDefinitionRecord, error) {
	id, err := authz.Require(ctx, authz.RoleCurator)
	if err != nil {
		return nil, err
	}
	updates := map[string]any{}
	if req.Code != nil {
		if err := requireText("code", *req.Code, 50); err != nil {
			return nil, err
		}
		updates["status_code"] = *req.Code
	}
	if req.Name != nil {
		if err := requireText("name", *req.Name, 255); err != nil {
			return nil, err
		}
		updates["status_name"] = *req.Name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.IsInitial != nil {
		updates["is_initial"] = *req.IsInitial
	}
	if req.IsFinal != nil {
		updates["is_final"] = *req.IsFinal
	}

	before, err := s.statuses.GetStatus(ctx, statusID)
	if err != nil {
		return nil, err
	}
	if before == nil {
		return nil, fmt.Errorf("%w: status %d", ErrNotFound, statusID)
	}
	after, err := s.statuses.UpdateStatus(ctx, statusID, updates)
	if err != nil {
		return nil, err
	}
	s.metrics.IncStatusModelMutation(EntityStatus, "update")
	s.recordEntity(ctx, id, "status.update", EntityStatus, statusID, after.PassportID, recordToStatus(before), recordToStatus(after))
	return after, nil
}

// DeleteStatus removes a status definition. Statuses referenced by a
// transition are kept and ErrReferentialIntegrity is returned.
func (s *Service) DeleteStatus(ctx context.Context, statusID int64) error {
	id, err := authz.Require(ctx, authz.RoleCurator)
	if err != nil {
		return err
	}
	deleted, err := s.statuses.DeleteStatus(ctx, statusID)
	if err != nil {
		return err
	}
	s.metrics.IncStatusModelMutation(EntityStatus, "delete")
	s.recordEntity(ctx, id, "status.delete", EntityStatus, statusID, deleted.PassportID, recordToStatus(deleted), nil)
	return nil
}

// DefineTransition adds a transition. Both endpoints must be statuses of
// the same passport; a nil FromStatusID is a wildcard source.
func (s *Service) DefineTransition(ctx context.Context, passportID int64, req DefineTransitionRequest) (*StatusTransitionRecord, error) {
	id, err := authz.Require(ctx, authz.RoleCurator)
	if err != nil {
		return nil, err
	}
	if req.ToStatusID == 0 {
		return nil, fmt.Errorf("%w: toStatusId is required", ErrInvalidInput)
	}
	record := &StatusTransitionRecord{
		PassportID:   passportID,
		FromStatusID: req.FromStatusID,
		ToStatusID:   req.ToStatusID,
		Condition:    req.Condition,
		IsAutomatic:  req.IsAutomatic,
	}
	if err := s.statuses.DefineTransition(ctx, record); err != nil {
		return nil, err
	}
	s.metrics.IncStatusModelMutation(EntityTransition, "create")
	s.recordEntity(ctx, id, "transition.create", EntityTransition, record.ID, passportID, nil, recordToTransition(record))
	return record, nil
}

// ListTransitions returns a passport's transitions. Unknown passports yield
// an empty list.
func (s *Service) ListTransitions(ctx context.Context, passportID int64) ([]StatusTransitionRecord, error) {
	if _, err := authz.Require(ctx, authz.RoleUser); err != nil {
		return nil, err
	}
	records, err := s.statuses.ListTransitions(ctx, passportID)
	if err != nil {
		if s.degraded(ctx, "listTransitions", err) {
			return []StatusTransitionRecord{}, nil
		}
		return nil, err
	}
	return records, nil
}

// DeleteTransition removes a transition.
func (s *Service) DeleteTransition(ctx context.Context, transitionID int64) error {
	id, err := authz.Require(ctx, authz.RoleCurator)
	if err != nil {
		return err
	}
	deleted, err := s.statuses.DeleteTransition(ctx, transitionID)
	if err != nil {
		return err
	}
	s.metrics.IncStatusModelMutation(EntityTransition, "delete")
	s.recordEntity(ctx, id, "transition.delete", EntityTransition, transitionID, deleted.PassportID, recordToTransition(deleted), nil)
	return nil
}

// DiagnoseStatusModel reports structural findings about a passport's status
// graph without modifying it.
func (s *Service) DiagnoseStatusModel(ctx context.Context, passportID int64) (*Diagnostics, error) {
	if _, err := authz.Require(ctx, authz.RoleUser); err != nil {
		return nil, err
	}
	statuses, err := s.statuses.ListStatuses(ctx, passportID)
	if err != nil {
		if s.degraded(ctx, "diagnoseStatusModel", err) {
			return Diagnose(passportID, nil, nil), nil
		}
		return nil, err
	}
	transitions, err := s.statuses.ListTransitions(ctx, passportID)
	if err != nil {
		if s.degraded(ctx, "diagnoseStatusModel", err) {
			return Diagnose(passportID, nil, nil), nil
		}
		return nil, err
	}
	return Diagnose(passportID, statuses, transitions), nil
}

// ---- Version ledger ----

// CreateVersion appends a snapshot of data as the passport's next version.
// The caller becomes the version's author.
func (s *Service) CreateVersion(ctx context.Context, passportID int64, req CreateVersionRequest) (*PassportVersionRecord, error) {
	id, err := authz.Require(ctx, authz.RoleCurator)
	if err != nil {
		return nil, err
	}
	record := &PassportVersionRecord{
		PassportID: passportID,
		Data:       JSONAny(req.Data),
		Comment:    req.Comment,
		CreatedBy:  id.User,
	}

	start := s.now()
	err = s.versions.CreateVersion(ctx, record)
	s.metrics.ObserveCreateVersion(time.Since(start))
	if err != nil {
		if errors.Is(err, ErrReferentialIntegrity) {
			s.metrics.IncVersionConflict()
		}
		return nil, err
	}
	s.metrics.IncVersionCreated()
	s.recordEntity(ctx, id, "version.create", EntityVersion, record.ID, passportID,
		map[string]any{"version": record.Version - 1},
		map[string]any{"version": record.Version, "comment": record.Comment})
	return record, nil
}

// ListVersions returns a passport's versions newest first.
func (s *Service) ListVersions(ctx context.Context, passportID int64, pageSize int, pageToken string) ([]PassportVersionRecord, string, error) {
	if _, err := authz.Require(ctx, authz.RoleUser); err != nil {
		return nil, "", err
	}
	records, next, err := s.versions.ListVersions(ctx, passportID, pageSize, pageToken)
	if err != nil {
		if s.degraded(ctx, "listVersions", err) {
			return []PassportVersionRecord{}, "", nil
		}
		return nil, "", err
	}
	return records, next, nil
}

// GetVersion returns one version of a passport.
func (s *Service) GetVersion(ctx context.Context, passportID int64, version int) (*PassportVersionRecord, error) {
	if _, err := authz.Require(ctx, authz.RoleUser); err != nil {
		return nil, err
	}
	record, err := s.versions.GetVersion(ctx, passportID, version)
	if err != nil {
		if s.degraded(ctx, "getVersion", err) {
			return nil, fmt.Errorf("%w: passport %d version %d", ErrNotFound, passportID, version)
		}
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("%w: passport %d version %d", ErrNotFound, passportID, version)
	}
	return record, nil
}

// ---- Audit ----

// PassportHistory returns the audit events recorded against a passport and
// its status model, newest first.
func (s *Service) PassportHistory(ctx context.Context, passportID int64, pageSize int, pageToken string) ([]AuditEventRecord, string, int, error) {
	if _, err := authz.Require(ctx, authz.RoleUser); err != nil {
		return nil, "", 0, err
	}
	return s.listAudit(ctx, "passportHistory", AuditFilter{PassportID: passportID, EventType: EventTypeEntity}, pageSize, pageToken)
}

// ListAuditEvents returns audit events across all passports. Admin only.
func (s *Service) ListAuditEvents(ctx context.Context, filter AuditFilter, pageSize int, pageToken string) ([]AuditEventRecord, string, int, error) {
	if _, err := authz.Require(ctx, authz.RoleAdmin); err != nil {
		return nil, "", 0, err
	}
	return s.listAudit(ctx, "listAuditEvents", filter, pageSize, pageToken)
}

func (s *Service) listAudit(ctx context.Context, op string, filter AuditFilter, pageSize int, pageToken string) ([]AuditEventRecord, string, int, error) {
	records, next, total, err := s.audit.List(ctx, filter, pageSize, pageToken)
	if err != nil {
		if s.degraded(ctx, op, err) {
			return []AuditEventRecord{}, "", 0, nil
		}
		return nil, "", 0, err
	}
	return records, next, total, nil
}

// GetAuditEvent returns one audit event. Admin only.
func (s *Service) GetAuditEvent(ctx context.Context, eventID string) (*AuditEventRecord, error) {
	if _, err := authz.Require(ctx, authz.RoleAdmin); err != nil {
		return nil, err
	}
	record, err := s.audit.Get(ctx, eventID)
	if err != nil {
		if s.degraded(ctx, "getAuditEvent", err) {
			return nil, fmt.Errorf("%w: audit event %s", ErrNotFound, eventID)
		}
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("%w: audit event %s", ErrNotFound, eventID)
	}
	return record, nil
}
