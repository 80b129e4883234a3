package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/fieldclock/internal/actor"
	approvalservice "github.com/smallbiznis/fieldclock/internal/approval/service"
	"github.com/smallbiznis/fieldclock/internal/authorization"
	"github.com/smallbiznis/fieldclock/internal/config"
	invoicerepository "github.com/smallbiznis/fieldclock/internal/invoice/repository"
	invoiceservice "github.com/smallbiznis/fieldclock/internal/invoice/service"
	"github.com/smallbiznis/fieldclock/internal/testkit"
	timeentrydomain "github.com/smallbiznis/fieldclock/internal/timeentry/domain"
	timeentryrepository "github.com/smallbiznis/fieldclock/internal/timeentry/repository"
	timeentryservice "github.com/smallbiznis/fieldclock/internal/timeentry/service"
	"github.com/smallbiznis/fieldclock/pkg/apperr"
	"github.com/smallbiznis/fieldclock/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const worker = snowflake.ID(42)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, snowflake.ID, snowflake.ID) (bool, error) {
	return false, nil
}

type fixture struct {
	env    *testkit.Env
	engine *gin.Engine
	jobID  snowflake.ID
}

func setup(t *testing.T, limiter timeentrydomain.ClockEventLimiter) fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := testkit.New(t, now)
	enforcer, err := authorization.NewEnforcer(env.DB)
	require.NoError(t, err)

	entries := timeentryrepository.Provide()
	timeEntries := timeentryservice.NewService(timeentryservice.Params{
		DB:          env.DB,
		Log:         env.Log,
		GenID:       env.Node,
		Clock:       env.Clock,
		Policy:      env.Policy,
		Repo:        entries,
		Jobs:        env.Jobs,
		Idempotency: env.Idempotency,
		AuditSvc:    env.Audit,
		Limiter:     limiter,
	})
	approvals := approvalservice.NewService(approvalservice.Params{
		DB:       env.DB,
		Log:      env.Log,
		Clock:    env.Clock,
		Config:   env.Config,
		Entries:  entries,
		Jobs:     env.Jobs,
		AuditSvc: env.Audit,
	})
	invoices := invoiceservice.NewService(invoiceservice.ServiceParam{
		DB:          env.DB,
		Log:         env.Log,
		GenID:       env.Node,
		Clock:       env.Clock,
		Config:      env.Config,
		Repo:        invoicerepository.Provide(),
		Entries:     entries,
		Idempotency: env.Idempotency,
		AuditSvc:    env.Audit,
	})

	engine := NewEngine(zap.NewNop(), config.Config{Environment: "test"}, nil)
	NewServer(ServerParams{
		Gin:          engine,
		AuthzSvc:     authorization.NewService(authorization.Params{Log: env.Log, Enforcer: enforcer, AuditSvc: env.Audit}),
		AuditSvc:     env.Audit,
		JobSvc:       env.Jobs,
		TimeEntrySvc: timeEntries,
		ApprovalSvc:  approvals,
		InvoiceSvc:   invoices,
	})

	job := env.CreateJob(t, testkit.CompanyID, 100)
	env.Assign(t, testkit.CompanyID, worker, job.ID)
	return fixture{env: env, engine: engine, jobID: job.ID}
}

func (f fixture) do(t *testing.T, method, path string, userID snowflake.ID, role actor.Role, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != 0 {
		req.Header.Set(HeaderActorID, userID.String())
		req.Header.Set(HeaderCompanyID, testkit.CompanyID.String())
		req.Header.Set(HeaderActorRole, string(role))
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func clockInBody(jobID snowflake.ID, eventID string) gin.H {
	return gin.H{
		"job_id":          jobID.String(),
		"client_event_id": eventID,
		"position":        gin.H{"lat": testkit.Site.Lat, "lng": testkit.Site.Lng, "accuracy": 10},
	}
}

func TestHealth(t *testing.T) {
	f := setup(t, nil)

	rec := f.do(t, http.MethodGet, "/health", 0, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestUnknownRoute(t *testing.T) {
	f := setup(t, nil)

	rec := f.do(t, http.MethodGet, "/v2/nothing", 0, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ErrRouteNotFound.Code, decodeError(t, rec).Code)
}

func TestMissingActorHeaders(t *testing.T) {
	f := setup(t, nil)

	rec := f.do(t, http.MethodGet, "/v1/time-entries", 0, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, string(apperr.KindUnauthenticated), decodeError(t, rec).Type)

	req := httptest.NewRequest(http.MethodGet, "/v1/time-entries", nil)
	req.Header.Set(HeaderActorID, worker.String())
	req.Header.Set(HeaderCompanyID, testkit.CompanyID.String())
	req.Header.Set(HeaderActorRole, "supervisor")
	rec = httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCrewCannotApprove(t *testing.T) {
	f := setup(t, nil)
	entry := f.env.SeedEntry(t, testkit.CompanyID, worker, f.jobID, now.Add(-5*time.Hour), 4*time.Hour, timeentrydomain.StatusPending)

	rec := f.do(t, http.MethodPost, "/v1/time-entries/"+entry.ID.String()+"/approve", worker, actor.RoleCrew, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/time-entries/"+entry.ID.String()+"/approve", testkit.ManagerID, actor.RoleManager, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, timeentrydomain.StatusApproved, f.env.Entry(t, entry.ID).Status)
}

func TestRejectProcessedEntryIsPreconditionFailed(t *testing.T) {
	f := setup(t, nil)
	entry := f.env.SeedEntry(t, testkit.CompanyID, worker, f.jobID, now.Add(-5*time.Hour), 4*time.Hour, timeentrydomain.StatusApproved)

	rec := f.do(t, http.MethodPost, "/v1/time-entries/"+entry.ID.String()+"/reject", testkit.ManagerID, actor.RoleManager, gin.H{"reason": "late"})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, "entry_already_processed", decodeError(t, rec).Code)
}

func TestInvalidPathID(t *testing.T) {
	f := setup(t, nil)

	rec := f.do(t, http.MethodGet, "/v1/time-entries/abc", worker, actor.RoleStaff, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrInvalidID.Code, decodeError(t, rec).Code)
}

func TestClockInThenOut(t *testing.T) {
	f := setup(t, nil)

	rec := f.do(t, http.MethodPost, "/v1/time-entries/clock-in", worker, actor.RoleStaff, clockInBody(f.jobID, "evt-1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var in struct {
		Data timeentrydomain.ClockInResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &in))
	require.NotZero(t, in.Data.EntryID)
	require.NotNil(t, in.Data.GeofenceValid)
	assert.True(t, *in.Data.GeofenceValid)
	assert.NotEmpty(t, rec.Header().Get(correlation.HeaderCorrelationID))

	// A retried event returns the original entry.
	rec = f.do(t, http.MethodPost, "/v1/time-entries/clock-in", worker, actor.RoleStaff, clockInBody(f.jobID, "evt-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	var replay struct {
		Data timeentrydomain.ClockInResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &replay))
	assert.Equal(t, in.Data.EntryID, replay.Data.EntryID)

	f.env.Clock.Advance(2 * time.Hour)
	rec = f.do(t, http.MethodPost, "/v1/time-entries/"+in.Data.EntryID.String()+"/clock-out", worker, actor.RoleStaff, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out struct {
		Data timeentrydomain.ClockOutResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, in.Data.EntryID, out.Data.EntryID)
	assert.InDelta(t, 2.0, out.Data.DurationHours, 0.001)
	assert.NotEqual(t, timeentrydomain.StatusActive, out.Data.Status)

	// Clocking out twice replays the first result.
	rec = f.do(t, http.MethodPost, "/v1/time-entries/"+in.Data.EntryID.String()+"/clock-out", worker, actor.RoleStaff, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var again struct {
		Data timeentrydomain.ClockOutResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &again))
	assert.Equal(t, out.Data, again.Data)
}

func TestClockInThrottled(t *testing.T) {
	f := setup(t, denyLimiter{})

	rec := f.do(t, http.MethodPost, "/v1/time-entries/clock-in", worker, actor.RoleStaff, clockInBody(f.jobID, "evt-1"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, timeentrydomain.ErrClockEventThrottle.Code, decodeError(t, rec).Code)
}

func TestSettingsRequireAdminToUpdate(t *testing.T) {
	f := setup(t, nil)

	rec := f.do(t, http.MethodGet, "/v1/company/settings", testkit.ManagerID, actor.RoleManager, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	body := gin.H{"max_shift_hours": 12, "auto_approve_days": 3, "timezone": "UTC"}
	rec = f.do(t, http.MethodPut, "/v1/company/settings", testkit.ManagerID, actor.RoleManager, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPut, "/v1/company/settings", testkit.AdminID, actor.RoleAdmin, body)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestListAuditLogsForManager(t *testing.T) {
	f := setup(t, nil)

	rec := f.do(t, http.MethodGet, "/v1/audit-logs?page_size=10", testkit.ManagerID, actor.RoleManager, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Data []json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Data)

	rec = f.do(t, http.MethodGet, "/v1/audit-logs?start_at=yesterday", testkit.ManagerID, actor.RoleManager, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
