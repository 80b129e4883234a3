// Package testkit wires the engine's shared collaborators over an in-memory
// SQLite database for package tests.
package testkit

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/fieldclock/internal/actor"
	auditdomain "github.com/smallbiznis/fieldclock/internal/audit/domain"
	auditrepository "github.com/smallbiznis/fieldclock/internal/audit/repository"
	auditservice "github.com/smallbiznis/fieldclock/internal/audit/service"
	"github.com/smallbiznis/fieldclock/internal/clock"
	"github.com/smallbiznis/fieldclock/internal/config"
	idempotencydomain "github.com/smallbiznis/fieldclock/internal/idempotency/domain"
	idempotencyrepository "github.com/smallbiznis/fieldclock/internal/idempotency/repository"
	idempotencyservice "github.com/smallbiznis/fieldclock/internal/idempotency/service"
	jobsitedomain "github.com/smallbiznis/fieldclock/internal/jobsite/domain"
	jobsiterepository "github.com/smallbiznis/fieldclock/internal/jobsite/repository"
	jobsiteservice "github.com/smallbiznis/fieldclock/internal/jobsite/service"
	"github.com/smallbiznis/fieldclock/internal/migration"
	timeentrydomain "github.com/smallbiznis/fieldclock/internal/timeentry/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	CompanyID      = snowflake.ID(1001)
	OtherCompanyID = snowflake.ID(2002)
	ManagerID      = snowflake.ID(9)
	AdminID        = snowflake.ID(10)
)

// Site is the default job location used by fixtures (Ferry Building, SF).
var Site = struct{ Lat, Lng float64 }{Lat: 37.7955, Lng: -122.3937}

var dbSeq atomic.Int64

type Env struct {
	DB     *gorm.DB
	Clock  *clock.FakeClock
	Node   *snowflake.Node
	Log    *zap.Logger
	Policy *config.PolicyHolder
	Config config.Config

	IdemStore   idempotencydomain.Store
	Idempotency idempotencydomain.Service
	Audit       auditdomain.Service
	Jobs        jobsitedomain.Service
}

// New opens a fresh database at start time.
func New(t testing.TB, start time.Time) *Env {
	t.Helper()

	dsn := fmt.Sprintf("file:testkit_%d?mode=memory&cache=shared", dbSeq.Add(1))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	// One connection serialises writers the way a row lock would.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, migration.AutoMigrate(conn))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	env := &Env{
		DB:     conn,
		Clock:  clock.NewFakeClock(start.UTC()),
		Node:   node,
		Log:    zap.NewNop(),
		Policy: config.NewStaticPolicyHolder(config.DefaultAttendancePolicy()),
		Config: config.Config{BulkParallelism: 4, SchedulerBatch: 100},
	}
	env.IdemStore = idempotencyrepository.NewGormStore(conn)
	env.Idempotency = idempotencyservice.NewService(idempotencyservice.Params{
		Store: env.IdemStore,
		Log:   env.Log,
		Clock: env.Clock,
	})
	env.Audit = auditservice.NewService(auditservice.Params{
		DB:    conn,
		Log:   env.Log,
		GenID: node,
		Clock: env.Clock,
		Repo:  auditrepository.Provide(),
	})
	env.Jobs = jobsiteservice.NewService(jobsiteservice.Params{
		DB:       conn,
		Log:      env.Log,
		GenID:    node,
		Clock:    env.Clock,
		Policy:   env.Policy,
		Repo:     jobsiterepository.Provide(),
		AuditSvc: env.Audit,
	})
	return env
}

func (e *Env) As(userID snowflake.ID, role actor.Role) context.Context {
	return e.AsIn(CompanyID, userID, role)
}

func (e *Env) AsIn(companyID, userID snowflake.ID, role actor.Role) context.Context {
	return actor.WithClaims(context.Background(), actor.Claims{UserID: userID, CompanyID: companyID, Role: role})
}

func (e *Env) Manager() context.Context {
	return e.As(ManagerID, actor.RoleManager)
}

// CreateJob adds an active job at Site with the given radius.
func (e *Env) CreateJob(t testing.TB, companyID snowflake.ID, radius float64) *jobsitedomain.Job {
	t.Helper()
	job, err := e.Jobs.CreateJob(e.AsIn(companyID, ManagerID, actor.RoleManager), jobsitedomain.CreateJobRequest{
		Name:            "Ferry Building",
		GeofenceLat:     Site.Lat,
		GeofenceLng:     Site.Lng,
		GeofenceRadiusM: radius,
	})
	require.NoError(t, err)
	return job
}

// Assign gives userID an open-ended assignment starting yesterday.
func (e *Env) Assign(t testing.TB, companyID, userID, jobID snowflake.ID) {
	t.Helper()
	start := e.Clock.Now().AddDate(0, 0, -1).Format(time.DateOnly)
	_, err := e.Jobs.CreateAssignment(e.AsIn(companyID, ManagerID, actor.RoleManager), jobsitedomain.CreateAssignmentRequest{
		UserID:    userID,
		JobID:     jobID,
		StartDate: start,
	})
	require.NoError(t, err)
}

func (e *Env) UpdateSettings(t testing.TB, companyID snowflake.ID, req jobsitedomain.UpdateSettingsRequest) {
	t.Helper()
	_, err := e.Jobs.UpdateSettings(e.AsIn(companyID, AdminID, actor.RoleAdmin), req)
	require.NoError(t, err)
}

// SeedEntry inserts a closed entry directly, bypassing the state machine.
func (e *Env) SeedEntry(t testing.TB, companyID, userID, jobID snowflake.ID, clockIn time.Time, d time.Duration, status timeentrydomain.Status) *timeentrydomain.TimeEntry {
	t.Helper()
	clockIn = clockIn.UTC()
	entry := &timeentrydomain.TimeEntry{
		ID:            e.Node.Generate(),
		CompanyID:     companyID,
		UserID:        userID,
		JobID:         jobID,
		ClockInAt:     clockIn,
		Status:        status,
		ExceptionTags: timeentrydomain.Tags{},
		Origin:        timeentrydomain.OriginOnline,
		CreatedAt:     clockIn,
		UpdatedAt:     clockIn,
	}
	if status != timeentrydomain.StatusActive {
		out := clockIn.Add(d)
		entry.ClockOutAt = &out
		entry.UpdatedAt = out
	}
	if status == timeentrydomain.StatusApproved {
		approver := ManagerID
		at := entry.UpdatedAt
		entry.ApprovedBy, entry.ApprovedAt = &approver, &at
	}
	require.NoError(t, e.DB.Create(entry).Error)
	return entry
}

func (e *Env) Entry(t testing.TB, id snowflake.ID) *timeentrydomain.TimeEntry {
	t.Helper()
	var entry timeentrydomain.TimeEntry
	require.NoError(t, e.DB.First(&entry, "id = ?", id).Error)
	return &entry
}

// CountAudit counts audit entries for action.
func (e *Env) CountAudit(t testing.TB, action string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.DB.Model(&auditdomain.AuditLog{}).Where("action = ?", action).Count(&n).Error)
	return n
}
