package passport

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/socialpassport/passport-registry/pkg/authz"
	"github.com/socialpassport/passport-registry/pkg/metrics"
)

func asUser(role authz.Role) context.Context {
	return authz.WithIdentity(context.Background(), authz.Identity{User: string(role) + "-1", Role: role})
}

func newTestService(t *testing.T) (*Service, *gorm.DB, *metrics.Metrics) {
	t.Helper()
	db := newTestDB(t)
	m := metrics.New(prometheus.NewRegistry())
	return NewService(db, WithMetrics(m)), db, m
}

// newUnavailableService returns a service whose MySQL connection is a
// sqlmock that fails every statement it is told to expect.
func newUnavailableService(t *testing.T) (*Service, sqlmock.Sqlmock, *metrics.Metrics) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	m := metrics.New(prometheus.NewRegistry())
	return NewService(db, WithMetrics(m)), mock, m
}

func connRefused() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
}

func TestService_EndToEndScenario(t *testing.T) {
	svc, _, m := newTestService(t)
	curator := asUser(authz.RoleCurator)
	reader := asUser(authz.RoleUser)

	p, err := svc.CreatePassport(curator, CreatePassportRequest{ServiceName: "A"})
	require.NoError(t, err)
	assert.Equal(t, 1, p.Version)
	assert.Equal(t, string(StateDraft), p.Status)

	newStatus, err := svc.DefineStatus(curator, p.ID, DefineStatusRequest{Code: "NEW", Name: "New", IsInitial: true})
	require.NoError(t, err)
	done, err := svc.DefineStatus(curator, p.ID, DefineStatusRequest{Code: "DONE", Name: "Done", IsFinal: true})
	require.NoError(t, err)
	_, err = svc.DefineTransition(curator, p.ID, DefineTransitionRequest{FromStatusID: &newStatus.ID, ToStatusID: done.ID})
	require.NoError(t, err)

	v, err := svc.CreateVersion(curator, p.ID, CreateVersionRequest{Data: map[string]any{"section1": "text"}})
	require.NoError(t, err)
	assert.Equal(t, 2, v.Version)
	assert.Equal(t, "curator-1", v.CreatedBy)

	got, err := svc.GetPassport(reader, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)

	versions, _, err := svc.ListVersions(reader, p.ID, 0, "")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, 2, versions[0].Version)
	assert.Equal(t, JSONAny{"section1": "text"}, versions[0].Data)

	diag, err := svc.DiagnoseStatusModel(reader, p.ID)
	require.NoError(t, err)
	assert.Empty(t, diag.Findings)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.VersionsCreated))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.StatusModelMutations.WithLabelValues(EntityStatus, "create")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StatusModelMutations.WithLabelValues(EntityTransition, "create")))
}

func TestService_RoleChecks(t *testing.T) {
	svc, db, _ := newTestService(t)
	p := createTestPassport(t, db, "A")
	user := asUser(authz.RoleUser)
	curator := asUser(authz.RoleCurator)

	_, err := svc.DefineStatus(user, p.ID, DefineStatusRequest{Code: "NEW", Name: "New"})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.DefineTransition(user, p.ID, DefineTransitionRequest{ToStatusID: 1})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.CreateVersion(user, p.ID, CreateVersionRequest{Data: map[string]any{}})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.ErrorIs(t, svc.DeletePassport(curator, p.ID), ErrForbidden)
	_, _, _, err = svc.ListAuditEvents(curator, AuditFilter{}, 0, "")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.ListStatuses(context.Background(), p.ID)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	assert.NoError(t, svc.DeletePassport(asUser(authz.RoleAdmin), p.ID))
}

func TestService_ForbiddenNeverTouchesStorage(t *testing.T) {
	svc, mock, _ := newUnavailableService(t)
	user := asUser(authz.RoleUser)

	_, err := svc.CreateVersion(user, 1, CreateVersionRequest{Data: map[string]any{"a": 1}})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.DefineStatus(user, 1, DefineStatusRequest{Code: "NEW", Name: "New"})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.ErrorIs(t, svc.DeleteTransition(user, 1), ErrForbidden)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_ReadsDegradeWhenUnavailable(t *testing.T) {
	svc, mock, m := newUnavailableService(t)
	user := asUser(authz.RoleUser)

	mock.ExpectQuery("SELECT (.+) FROM `status_models`").WillReturnError(connRefused())
	statuses, err := svc.ListStatuses(user, 1)
	require.NoError(t, err)
	assert.Empty(t, statuses)

	mock.ExpectQuery("SELECT (.+) FROM `status_transitions`").WillReturnError(connRefused())
	transitions, err := svc.ListTransitions(user, 1)
	require.NoError(t, err)
	assert.Empty(t, transitions)

	mock.ExpectQuery("SELECT (.+) FROM `passport_versions`").WillReturnError(connRefused())
	versions, next, err := svc.ListVersions(user, 1, 0, "")
	require.NoError(t, err)
	assert.Empty(t, versions)
	assert.Empty(t, next)

	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DegradedReads.WithLabelValues("listStatuses")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DegradedReads.WithLabelValues("listVersions")))
}

func TestService_WritesFailWhenUnavailable(t *testing.T) {
	svc, mock, m := newUnavailableService(t)
	curator := asUser(authz.RoleCurator)

	mock.ExpectBegin().WillReturnError(connRefused())
	_, err := svc.CreateVersion(curator, 1, CreateVersionRequest{Data: map[string]any{"a": 1}})
	assert.ErrorIs(t, err, ErrUnavailable)

	mock.ExpectBegin().WillReturnError(connRefused())
	_, err = svc.DefineStatus(curator, 1, DefineStatusRequest{Code: "NEW", Name: "New"})
	assert.ErrorIs(t, err, ErrUnavailable)

	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Zero(t, testutil.ToFloat64(m.VersionsCreated))
}

func TestService_NilDatabase(t *testing.T) {
	svc := NewService(nil)
	user := asUser(authz.RoleUser)

	statuses, err := svc.ListStatuses(user, 1)
	require.NoError(t, err)
	assert.Empty(t, statuses)

	_, err = svc.GetPassport(user, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.CreateVersion(asUser(authz.RoleCurator), 1, CreateVersionRequest{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestService_CreateVersionNotFound(t *testing.T) {
	svc, db, m := newTestService(t)

	_, err := svc.CreateVersion(asUser(authz.RoleCurator), 404, CreateVersionRequest{Data: map[string]any{"a": 1}})
	assert.ErrorIs(t, err, ErrNotFound)

	var count int64
	require.NoError(t, db.Model(&PassportVersionRecord{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.Zero(t, testutil.ToFloat64(m.VersionConflicts))
}

func TestService_ValidatesInput(t *testing.T) {
	svc, db, _ := newTestService(t)
	p := createTestPassport(t, db, "A")
	curator := asUser(authz.RoleCurator)

	_, err := svc.CreatePassport(curator, CreatePassportRequest{ServiceName: "  "})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.DefineStatus(curator, p.ID, DefineStatusRequest{Code: "", Name: "x"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.DefineStatus(curator, p.ID, DefineStatusRequest{Code: "toolongcode-toolongcode-toolongcode-toolongcode-xyz", Name: "x"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.DefineTransition(curator, p.ID, DefineTransitionRequest{})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, _, err = svc.ListPassports(curator, PassportListFilter{Status: "approved"}, 0, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestService_ChangePassportStatus(t *testing.T) {
	svc, db, _ := newTestService(t)
	p := createTestPassport(t, db, "A")
	curator := asUser(authz.RoleCurator)

	_, err := svc.ChangePassportStatus(curator, p.ID, StatePublished)
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "LIFECYCLE_TRANSITION_DENIED", te.Code)

	got, err := svc.ChangePassportStatus(curator, p.ID, StateInReview)
	require.NoError(t, err)
	assert.Equal(t, string(StateInReview), got.Status)
	assert.Nil(t, got.PublishedAt)

	got, err = svc.ChangePassportStatus(curator, p.ID, StatePublished)
	require.NoError(t, err)
	assert.Equal(t, string(StatePublished), got.Status)
	assert.NotNil(t, got.PublishedAt)

	_, err = svc.ChangePassportStatus(curator, p.ID, "approved")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.ChangePassportStatus(curator, 999, StateInReview)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_AuditTrail(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := WithRequestInfo(asUser(authz.RoleCurator), RequestInfo{RequestID: "req-1", IPAddress: "10.0.0.1", UserAgent: "test"})

	p, err := svc.CreatePassport(ctx, CreatePassportRequest{ServiceName: "A"})
	require.NoError(t, err)
	s, err := svc.DefineStatus(ctx, p.ID, DefineStatusRequest{Code: "NEW", Name: "New"})
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, s.ID, UpdateStatusRequest{IsInitial: ptr(true)})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteStatus(ctx, s.ID))

	events, _, total, err := svc.PassportHistory(asUser(authz.RoleUser), p.ID, 0, "")
	require.NoError(t, err)
	require.Equal(t, 4, total)

	actions := map[string]AuditEventRecord{}
	for _, e := range events {
		actions[e.Action] = e
	}
	require.Contains(t, actions, "status.update")
	update := actions["status.update"]
	assert.Equal(t, false, update.OldValue["isInitial"])
	assert.Equal(t, true, update.NewValue["isInitial"])
	assert.Equal(t, "curator-1", update.Actor)
	assert.Equal(t, "req-1", update.RequestID)
	assert.Equal(t, "10.0.0.1", update.IPAddress)
	assert.Contains(t, actions, "passport.create")
	assert.Contains(t, actions, "status.delete")

	all, _, _, err := svc.ListAuditEvents(asUser(authz.RoleAdmin), AuditFilter{Action: "status.create"}, 0, "")
	require.NoError(t, err)
	require.Len(t, all, 1)

	got, err := svc.GetAuditEvent(asUser(authz.RoleAdmin), all[0].ID)
	require.NoError(t, err)
	assert.Equal(t, EntityStatus, got.EntityType)
	assert.Equal(t, s.ID, got.EntityID)

	_, err = svc.GetAuditEvent(asUser(authz.RoleAdmin), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
