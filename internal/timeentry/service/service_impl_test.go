package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldclock/internal/actor"
	auditdomain "github.com/smallbiznis/fieldclock/internal/audit/domain"
	"github.com/smallbiznis/fieldclock/internal/conflict"
	"github.com/smallbiznis/fieldclock/internal/geofence"
	idempotencydomain "github.com/smallbiznis/fieldclock/internal/idempotency/domain"
	jobsitedomain "github.com/smallbiznis/fieldclock/internal/jobsite/domain"
	"github.com/smallbiznis/fieldclock/internal/testkit"
	"github.com/smallbiznis/fieldclock/internal/timeentry/domain"
	"github.com/smallbiznis/fieldclock/internal/timeentry/repository"
	"github.com/smallbiznis/fieldclock/pkg/apperr"
	"github.com/smallbiznis/fieldclock/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const worker = snowflake.ID(42)

var start = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type fixture struct {
	env *testkit.Env
	svc domain.Service
	job *jobsitedomain.Job
}

func setup(t *testing.T) fixture {
	t.Helper()
	env := testkit.New(t, start)
	svc := NewService(Params{
		DB:          env.DB,
		Log:         env.Log,
		GenID:       env.Node,
		Clock:       env.Clock,
		Policy:      env.Policy,
		Repo:        repository.Provide(),
		Jobs:        env.Jobs,
		Idempotency: env.Idempotency,
		AuditSvc:    env.Audit,
	})
	job := env.CreateJob(t, testkit.CompanyID, 100)
	env.Assign(t, testkit.CompanyID, worker, job.ID)
	return fixture{env: env, svc: svc, job: job}
}

func (f fixture) crew() context.Context {
	return f.env.As(worker, actor.RoleCrew)
}

func onSite() *geofence.Position {
	return &geofence.Position{Lat: testkit.Site.Lat, Lng: testkit.Site.Lng, Accuracy: 10}
}

func farAway() *geofence.Position {
	return &geofence.Position{Lat: testkit.Site.Lat + 0.01, Lng: testkit.Site.Lng, Accuracy: 10}
}

func (f fixture) clockIn(t *testing.T, eventID string) domain.ClockInResponse {
	t.Helper()
	resp, err := f.svc.ClockIn(f.crew(), domain.ClockInRequest{JobID: f.job.ID, Position: onSite(), ClientEventID: eventID})
	require.NoError(t, err)
	return resp
}

func countEntries(t *testing.T, f fixture) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.env.DB.Model(&domain.TimeEntry{}).Count(&n).Error)
	return n
}

func TestClockInReplayCreatesOneEntry(t *testing.T) {
	f := setup(t)

	first := f.clockIn(t, "evt-1")
	require.NotNil(t, first.GeofenceValid)
	assert.True(t, *first.GeofenceValid)
	assert.False(t, first.NeedsReview)

	second := f.clockIn(t, "evt-1")
	assert.Equal(t, first.EntryID, second.EntryID)
	assert.EqualValues(t, 1, countEntries(t, f))
	assert.EqualValues(t, 1, f.env.CountAudit(t, auditdomain.ActionClockIn))

	entry := f.env.Entry(t, first.EntryID)
	assert.Equal(t, domain.StatusActive, entry.Status)
	assert.Equal(t, domain.OriginOnline, entry.Origin)
	assert.Nil(t, entry.ClockOutAt)
}

func TestClockInReplayWithoutIdempotencyRecord(t *testing.T) {
	f := setup(t)

	first := f.clockIn(t, "evt-1")
	require.NoError(t, f.env.DB.Where("1 = 1").Delete(&idempotencydomain.Record{}).Error)

	second := f.clockIn(t, "evt-1")
	assert.Equal(t, first.EntryID, second.EntryID)
	assert.EqualValues(t, 1, countEntries(t, f))
}

func TestClockInRejectsSecondActiveEntry(t *testing.T) {
	f := setup(t)
	f.clockIn(t, "evt-1")

	_, err := f.svc.ClockIn(f.crew(), domain.ClockInRequest{JobID: f.job.ID, Position: onSite(), ClientEventID: "evt-2"})
	assert.ErrorIs(t, err, domain.ErrActiveEntryExists)
	assert.EqualValues(t, 1, countEntries(t, f))
}

func TestConcurrentClockInsLeaveOneActiveEntry(t *testing.T) {
	f := setup(t)
	const workers = 8

	var succeeded, rejected atomic.Int32
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		eventID := fmt.Sprintf("evt-%d", i)
		g.Go(func() error {
			_, err := f.svc.ClockIn(f.crew(), domain.ClockInRequest{JobID: f.job.ID, Position: onSite(), ClientEventID: eventID})
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, domain.ErrActiveEntryExists):
				rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, 1, succeeded.Load())
	assert.EqualValues(t, workers-1, rejected.Load())

	var active int64
	require.NoError(t, f.env.DB.Model(&domain.TimeEntry{}).
		Where("company_id = ? AND user_id = ? AND status = ?", testkit.CompanyID, worker, domain.StatusActive).
		Count(&active).Error)
	assert.EqualValues(t, 1, active)
	assert.EqualValues(t, 1, f.env.CountAudit(t, auditdomain.ActionClockIn))
}

func TestClockInValidatesClientEventID(t *testing.T) {
	f := setup(t)

	_, err := f.svc.ClockIn(f.crew(), domain.ClockInRequest{JobID: f.job.ID, Position: onSite(), ClientEventID: "bad key!"})
	assert.ErrorIs(t, err, idempotencydomain.ErrInvalidKey)

	_, err = f.svc.ClockIn(f.crew(), domain.ClockInRequest{JobID: f.job.ID, Position: &geofence.Position{Lat: 91, Lng: 0}, ClientEventID: "evt-1"})
	assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))
}

func TestClockInHardGeofence(t *testing.T) {
	f := setup(t)
	f.env.UpdateSettings(t, testkit.CompanyID, jobsitedomain.UpdateSettingsRequest{RequireGeofence: true, MaxShiftHours: 12, Timezone: "UTC"})

	_, err := f.svc.ClockIn(f.crew(), domain.ClockInRequest{JobID: f.job.ID, Position: farAway(), ClientEventID: "evt-1"})
	assert.ErrorIs(t, err, domain.ErrGeofenceViolation)
	assert.EqualValues(t, 0, countEntries(t, f))

	appErr, ok := apperr.As(err)
	require.True(t, ok)
	result, ok := appErr.Details.(geofence.Result)
	require.True(t, ok)
	assert.False(t, result.Valid)
}

func TestClockInSoftGeofence(t *testing.T) {
	f := setup(t)

	resp, err := f.svc.ClockIn(f.crew(), domain.ClockInRequest{JobID: f.job.ID, Position: farAway(), ClientEventID: "evt-1"})
	require.NoError(t, err)
	require.NotNil(t, resp.GeofenceValid)
	assert.False(t, *resp.GeofenceValid)
	assert.True(t, resp.NeedsReview)
	assert.Equal(t, domain.WarningOutsideGeofence, resp.Warning)

	entry := f.env.Entry(t, resp.EntryID)
	assert.True(t, entry.ExceptionTags.Has(domain.TagGeofenceOut))
	assert.True(t, entry.NeedsReview)
}

func TestClockInWithoutPositionIsOffline(t *testing.T) {
	f := setup(t)
	f.env.UpdateSettings(t, testkit.CompanyID, jobsitedomain.UpdateSettingsRequest{RequireGeofence: true, MaxShiftHours: 12, Timezone: "UTC"})

	resp, err := f.svc.ClockIn(f.crew(), domain.ClockInRequest{JobID: f.job.ID, ClientEventID: "evt-1"})
	require.NoError(t, err)
	assert.Nil(t, resp.GeofenceValid)
	assert.True(t, resp.NeedsReview)

	entry := f.env.Entry(t, resp.EntryID)
	assert.Equal(t, domain.OriginOffline, entry.Origin)
	assert.Nil(t, entry.ClockInGeofenceValid)
}

func TestClockInRoleRules(t *testing.T) {
	f := setup(t)
	other := snowflake.ID(77)
	f.env.Assign(t, testkit.CompanyID, other, f.job.ID)

	_, err := f.svc.ClockIn(f.crew(), domain.ClockInRequest{UserID: other, JobID: f.job.ID, Position: onSite(), ClientEventID: "evt-1"})
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	resp, err := f.svc.ClockIn(f.env.Manager(), domain.ClockInRequest{UserID: other, JobID: f.job.ID, Position: onSite(), ClientEventID: "evt-1"})
	require.NoError(t, err)
	assert.Equal(t, other, f.env.Entry(t, resp.EntryID).UserID)

	_, err = f.svc.ClockIn(context.Background(), domain.ClockInRequest{JobID: f.job.ID, ClientEventID: "evt-2"})
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
}

func TestClockInRequiresAssignmentAndJob(t *testing.T) {
	f := setup(t)
	stranger := f.env.As(snowflake.ID(500), actor.RoleStaff)

	_, err := f.svc.ClockIn(stranger, domain.ClockInRequest{JobID: f.job.ID, Position: onSite(), ClientEventID: "evt-1"})
	assert.ErrorIs(t, err, jobsitedomain.ErrAssignmentNotFound)

	_, err = f.svc.ClockIn(f.crew(), domain.ClockInRequest{JobID: snowflake.ID(123456), Position: onSite(), ClientEventID: "evt-1"})
	assert.ErrorIs(t, err, jobsitedomain.ErrJobNotFound)

	foreign := f.env.AsIn(testkit.OtherCompanyID, worker, actor.RoleCrew)
	_, err = f.svc.ClockIn(foreign, domain.ClockInRequest{JobID: f.job.ID, Position: onSite(), ClientEventID: "evt-1"})
	assert.ErrorIs(t, err, jobsitedomain.ErrJobNotFound)
}

func TestClockOutLongShiftIsFlagged(t *testing.T) {
	f := setup(t)
	in := f.clockIn(t, "evt-1")

	f.env.Clock.Advance(12*time.Hour + 30*time.Minute)
	out, err := f.svc.ClockOut(f.crew(), domain.ClockOutRequest{EntryID: in.EntryID, Position: onSite()})
	require.NoError(t, err)
	assert.Equal(t, 12.5, out.DurationHours)
	assert.Equal(t, domain.StatusFlagged, out.Status)
	assert.True(t, out.ExceptionTags.Has(domain.TagExceeds12h))

	entry := f.env.Entry(t, in.EntryID)
	require.NotNil(t, entry.ClockOutAt)
	assert.Equal(t, start.Add(12*time.Hour+30*time.Minute), entry.ClockOutAt.UTC())
	assert.Equal(t, domain.StatusFlagged, entry.Status)
	assert.EqualValues(t, 1, f.env.CountAudit(t, auditdomain.ActionClockOut))
}

func TestClockOutRegularShiftIsPending(t *testing.T) {
	f := setup(t)
	in := f.clockIn(t, "evt-1")

	f.env.Clock.Advance(8 * time.Hour)
	out, err := f.svc.ClockOut(f.crew(), domain.ClockOutRequest{EntryID: in.EntryID, Position: onSite()})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, out.Status)
	assert.Empty(t, out.ExceptionTags)
	assert.Equal(t, 8.0, out.DurationHours)
}

func TestClockOutRefusesAfter24Hours(t *testing.T) {
	f := setup(t)
	in := f.clockIn(t, "evt-1")

	f.env.Clock.Advance(24 * time.Hour)
	_, err := f.svc.ClockOut(f.crew(), domain.ClockOutRequest{EntryID: in.EntryID})
	assert.ErrorIs(t, err, domain.ErrShiftExceeds24h)

	entry := f.env.Entry(t, in.EntryID)
	assert.Equal(t, domain.StatusActive, entry.Status)
	assert.Nil(t, entry.ClockOutAt)
}

func TestClockOutOwnership(t *testing.T) {
	f := setup(t)
	in := f.clockIn(t, "evt-1")
	f.env.Clock.Advance(time.Hour)

	_, err := f.svc.ClockOut(f.env.As(snowflake.ID(77), actor.RoleCrew), domain.ClockOutRequest{EntryID: in.EntryID})
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	_, err = f.svc.ClockOut(f.env.AsIn(testkit.OtherCompanyID, worker, actor.RoleCrew), domain.ClockOutRequest{EntryID: in.EntryID})
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	_, err = f.svc.ClockOut(f.crew(), domain.ClockOutRequest{EntryID: snowflake.ID(999)})
	assert.ErrorIs(t, err, domain.ErrEntryNotFound)
}

func TestClockOutReplayStaysScopedToOwner(t *testing.T) {
	f := setup(t)
	in := f.clockIn(t, "evt-1")
	f.env.Clock.Advance(4 * time.Hour)

	_, err := f.svc.ClockOut(f.crew(), domain.ClockOutRequest{EntryID: in.EntryID})
	require.NoError(t, err)

	resp, err := f.svc.ClockOut(f.env.AsIn(testkit.OtherCompanyID, snowflake.ID(555), actor.RoleCrew), domain.ClockOutRequest{EntryID: in.EntryID})
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
	assert.Zero(t, resp)

	resp, err = f.svc.ClockOut(f.env.As(snowflake.ID(77), actor.RoleCrew), domain.ClockOutRequest{EntryID: in.EntryID})
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
	assert.Zero(t, resp)

	replayed, err := f.svc.ClockOut(f.crew(), domain.ClockOutRequest{EntryID: in.EntryID})
	require.NoError(t, err)
	assert.Equal(t, in.EntryID, replayed.EntryID)
	assert.Equal(t, 4.0, replayed.DurationHours)
}

func TestClockOutReplayAndNotActive(t *testing.T) {
	f := setup(t)
	in := f.clockIn(t, "evt-1")
	f.env.Clock.Advance(4 * time.Hour)

	first, err := f.svc.ClockOut(f.crew(), domain.ClockOutRequest{EntryID: in.EntryID})
	require.NoError(t, err)

	f.env.Clock.Advance(time.Hour)
	second, err := f.svc.ClockOut(f.crew(), domain.ClockOutRequest{EntryID: in.EntryID})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, f.env.CountAudit(t, auditdomain.ActionClockOut))

	require.NoError(t, f.env.DB.Where("1 = 1").Delete(&idempotencydomain.Record{}).Error)
	_, err = f.svc.ClockOut(f.crew(), domain.ClockOutRequest{EntryID: in.EntryID})
	assert.ErrorIs(t, err, domain.ErrEntryNotActive)
}

func TestClockOutTagsOverlap(t *testing.T) {
	f := setup(t)
	f.env.SeedEntry(t, testkit.CompanyID, worker, f.job.ID, start.Add(-3*time.Hour), 4*time.Hour, domain.StatusPending)

	in := f.clockIn(t, "evt-1")
	f.env.Clock.Advance(2 * time.Hour)
	out, err := f.svc.ClockOut(f.crew(), domain.ClockOutRequest{EntryID: in.EntryID, Position: onSite()})
	require.NoError(t, err)
	assert.True(t, out.ExceptionTags.Has(domain.TagOverlap))
	assert.True(t, out.NeedsReview)
	assert.Equal(t, domain.StatusFlagged, out.Status)
}

func TestAutoClockOut(t *testing.T) {
	f := setup(t)
	in := f.clockIn(t, "evt-1")

	f.env.Clock.Advance(13 * time.Hour)
	closed, err := f.svc.AutoClockOut(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	entry := f.env.Entry(t, in.EntryID)
	require.NotNil(t, entry.ClockOutAt)
	assert.Equal(t, start.Add(12*time.Hour), entry.ClockOutAt.UTC())
	assert.Equal(t, domain.StatusFlagged, entry.Status)
	assert.True(t, entry.NeedsReview)
	assert.True(t, entry.ExceptionTags.Has(domain.TagAutoClockOut))
	assert.True(t, entry.ExceptionTags.Has(domain.TagExceeds12h))
	assert.EqualValues(t, 1, f.env.CountAudit(t, auditdomain.ActionAutoClockOut))

	closed, err = f.svc.AutoClockOut(context.Background(), 100)
	require.NoError(t, err)
	assert.Zero(t, closed)
}

func TestAutoClockOutUsesCompanyMaximum(t *testing.T) {
	f := setup(t)
	f.env.UpdateSettings(t, testkit.CompanyID, jobsitedomain.UpdateSettingsRequest{MaxShiftHours: 10, Timezone: "UTC"})
	in := f.clockIn(t, "evt-1")

	f.env.Clock.Advance(9 * time.Hour)
	closed, err := f.svc.AutoClockOut(context.Background(), 100)
	require.NoError(t, err)
	assert.Zero(t, closed)

	f.env.Clock.Advance(2 * time.Hour)
	closed, err = f.svc.AutoClockOut(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	entry := f.env.Entry(t, in.EntryID)
	assert.Equal(t, start.Add(10*time.Hour), entry.ClockOutAt.UTC())
	assert.Equal(t, domain.Tags{domain.TagAutoClockOut}, entry.ExceptionTags)
}

func TestAutoClockOutReachesOverdueEntriesBehindLongerShifts(t *testing.T) {
	f := setup(t)
	f.env.UpdateSettings(t, testkit.OtherCompanyID, jobsitedomain.UpdateSettingsRequest{MaxShiftHours: 24, Timezone: "UTC"})
	otherJob := f.env.CreateJob(t, testkit.OtherCompanyID, 100)
	for i := 0; i < 3; i++ {
		f.env.SeedEntry(t, testkit.OtherCompanyID, snowflake.ID(500+i), otherJob.ID, start, 0, domain.StatusActive)
	}

	f.env.Clock.Advance(time.Hour)
	in := f.clockIn(t, "evt-1")

	f.env.Clock.Advance(13 * time.Hour)
	closed, err := f.svc.AutoClockOut(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	entry := f.env.Entry(t, in.EntryID)
	require.NotNil(t, entry.ClockOutAt)
	assert.Equal(t, start.Add(13*time.Hour), entry.ClockOutAt.UTC())
	assert.True(t, entry.ExceptionTags.Has(domain.TagAutoClockOut))

	var stillActive int64
	require.NoError(t, f.env.DB.Model(&domain.TimeEntry{}).
		Where("company_id = ? AND status = ?", testkit.OtherCompanyID, domain.StatusActive).
		Count(&stillActive).Error)
	assert.EqualValues(t, 3, stillActive)
}

func TestDisputeEntry(t *testing.T) {
	f := setup(t)
	active := f.clockIn(t, "evt-1")

	_, err := f.svc.DisputeEntry(f.crew(), domain.DisputeRequest{EntryID: active.EntryID, Reason: "wrong job"})
	assert.ErrorIs(t, err, domain.ErrNotDisputable)

	f.env.Clock.Advance(8 * time.Hour)
	_, err = f.svc.ClockOut(f.crew(), domain.ClockOutRequest{EntryID: active.EntryID, Position: onSite()})
	require.NoError(t, err)

	disputed, err := f.svc.DisputeEntry(f.crew(), domain.DisputeRequest{EntryID: active.EntryID, Reason: "wrong job"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDisputed, disputed.Status)

	stored := f.env.Entry(t, active.EntryID)
	assert.Equal(t, domain.StatusDisputed, stored.Status)
	assert.True(t, stored.ExceptionTags.Has(domain.TagDisputed))
	require.NotNil(t, stored.DisputeReason)
	assert.Equal(t, "wrong job", *stored.DisputeReason)

	_, err = f.svc.DisputeEntry(f.env.As(snowflake.ID(77), actor.RoleCrew), domain.DisputeRequest{EntryID: active.EntryID, Reason: "x"})
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
}

func TestEditEntryBlocksCriticalConflicts(t *testing.T) {
	f := setup(t)
	day := start.Add(-24 * time.Hour)
	f.env.SeedEntry(t, testkit.CompanyID, worker, f.job.ID, day, 8*time.Hour, domain.StatusPending)
	later := f.env.SeedEntry(t, testkit.CompanyID, worker, f.job.ID, day.Add(9*time.Hour), 3*time.Hour, domain.StatusApproved)

	overlapIn := day.Add(7*time.Hour + 30*time.Minute)
	_, err := f.svc.EditEntry(f.env.Manager(), domain.EditEntryRequest{EntryID: later.ID, ClockInAt: &overlapIn, Reason: "forgot to clock in"})
	require.ErrorIs(t, err, domain.ErrConflictDetected)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	conflicts, ok := appErr.Details.([]conflict.Conflict)
	require.True(t, ok)
	assert.Equal(t, conflict.KindOverlap, conflicts[0].Kind)
	assert.Equal(t, 30*time.Minute, conflicts[0].Window.Duration())

	backwards := day.Add(8 * time.Hour)
	_, err = f.svc.EditEntry(f.env.Manager(), domain.EditEntryRequest{EntryID: later.ID, ClockOutAt: &backwards, Reason: "typo"})
	assert.ErrorIs(t, err, domain.ErrConflictDetected)

	earlier := day.Add(8 * time.Hour)
	edited, err := f.svc.EditEntry(f.env.Manager(), domain.EditEntryRequest{EntryID: later.ID, ClockInAt: &earlier, Reason: "started after lunch"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFlagged, edited.Status)
	assert.True(t, edited.NeedsReview)
	assert.Nil(t, edited.ApprovedBy)

	stored := f.env.Entry(t, later.ID)
	assert.Equal(t, earlier, stored.ClockInAt.UTC())
	assert.Equal(t, domain.StatusFlagged, stored.Status)
	assert.EqualValues(t, 1, f.env.CountAudit(t, auditdomain.ActionEdit))
}

func TestEditEntryRules(t *testing.T) {
	f := setup(t)
	entry := f.env.SeedEntry(t, testkit.CompanyID, worker, f.job.ID, start.Add(-24*time.Hour), 4*time.Hour, domain.StatusApproved)

	_, err := f.svc.EditEntry(f.crew(), domain.EditEntryRequest{EntryID: entry.ID, Reason: "x"})
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	require.NoError(t, f.env.DB.Model(&domain.TimeEntry{}).Where("id = ?", entry.ID).Update("invoice_id", snowflake.ID(5)).Error)
	_, err = f.svc.EditEntry(f.env.Manager(), domain.EditEntryRequest{EntryID: entry.ID, Reason: "x"})
	assert.ErrorIs(t, err, domain.ErrEntryLocked)

	active := f.clockIn(t, "evt-1")
	_, err = f.svc.EditEntry(f.env.Manager(), domain.EditEntryRequest{EntryID: active.EntryID, Reason: "x"})
	assert.ErrorIs(t, err, domain.ErrEntryNotClosed)
}

func TestListEntriesFiltersAndScopes(t *testing.T) {
	f := setup(t)
	other := snowflake.ID(77)
	f.env.SeedEntry(t, testkit.CompanyID, other, f.job.ID, start.Add(-48*time.Hour), 4*time.Hour, domain.StatusPending)
	f.env.SeedEntry(t, testkit.OtherCompanyID, worker, f.job.ID, start.Add(-48*time.Hour), 4*time.Hour, domain.StatusPending)

	_, err := f.svc.ClockIn(f.crew(), domain.ClockInRequest{JobID: f.job.ID, Position: farAway(), ClientEventID: "evt-1"})
	require.NoError(t, err)

	all, err := f.svc.ListEntries(f.env.Manager(), domain.ListEntriesRequest{})
	require.NoError(t, err)
	assert.Len(t, all.Entries, 2)

	tagged, err := f.svc.ListEntries(f.env.Manager(), domain.ListEntriesRequest{Tag: string(domain.TagGeofenceOut)})
	require.NoError(t, err)
	require.Len(t, tagged.Entries, 1)
	assert.Equal(t, worker, tagged.Entries[0].UserID)

	own, err := f.svc.ListEntries(f.crew(), domain.ListEntriesRequest{})
	require.NoError(t, err)
	require.Len(t, own.Entries, 1)
	assert.Equal(t, worker, own.Entries[0].UserID)

	_, err = f.svc.ListEntries(f.crew(), domain.ListEntriesRequest{UserID: other.String()})
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	_, err = f.svc.ListEntries(f.env.Manager(), domain.ListEntriesRequest{Tag: "sleepy"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestListEntriesPaginates(t *testing.T) {
	f := setup(t)
	for i := 0; i < 3; i++ {
		f.env.SeedEntry(t, testkit.CompanyID, worker, f.job.ID, start.Add(-time.Duration(i+1)*24*time.Hour), 4*time.Hour, domain.StatusPending)
	}

	page, err := f.svc.ListEntries(f.env.Manager(), domain.ListEntriesRequest{Pagination: paginationOf("", 2)})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	require.True(t, page.HasMore)

	next, err := f.svc.ListEntries(f.env.Manager(), domain.ListEntriesRequest{Pagination: paginationOf(page.NextPageToken, 2)})
	require.NoError(t, err)
	require.Len(t, next.Entries, 1)
	assert.False(t, next.HasMore)
	assert.True(t, next.Entries[0].ClockInAt.Before(page.Entries[1].ClockInAt))
}

func TestDetectConflictsReport(t *testing.T) {
	f := setup(t)
	day := start.Add(-24 * time.Hour)
	f.env.SeedEntry(t, testkit.CompanyID, worker, f.job.ID, day, 8*time.Hour, domain.StatusPending)
	b := f.env.SeedEntry(t, testkit.CompanyID, worker, f.job.ID, day.Add(7*time.Hour+30*time.Minute), 7*time.Hour+30*time.Minute, domain.StatusPending)

	report, err := f.svc.DetectConflicts(f.env.Manager(), b.ID)
	require.NoError(t, err)
	assert.True(t, report.Blocking)
	require.NotEmpty(t, report.Conflicts)
	assert.Equal(t, conflict.KindOverlap, report.Conflicts[0].Kind)
	assert.Equal(t, day.Add(7*time.Hour+30*time.Minute), report.Conflicts[0].Window.Start.UTC())
	assert.Equal(t, day.Add(8*time.Hour), report.Conflicts[0].Window.End.UTC())

	_, err = f.svc.DetectConflicts(f.env.AsIn(testkit.OtherCompanyID, testkit.ManagerID, actor.RoleManager), b.ID)
	assert.ErrorIs(t, err, domain.ErrEntryNotFound)
}

func paginationOf(token string, size int) pagination.Pagination {
	return pagination.Pagination{PageToken: token, PageSize: size}
}
