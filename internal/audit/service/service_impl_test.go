package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/fieldclock/internal/actor"
	auditdomain "github.com/smallbiznis/fieldclock/internal/audit/domain"
	"github.com/smallbiznis/fieldclock/internal/audit/repository"
	"github.com/smallbiznis/fieldclock/internal/clock"
	"github.com/smallbiznis/fieldclock/pkg/apperr"
	"github.com/smallbiznis/fieldclock/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupAudit(t *testing.T) (auditdomain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&auditdomain.AuditLog{}))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2024, 4, 2, 10, 0, 0, 0, time.UTC))
	svc := NewService(Params{DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: repository.Provide()})
	return svc, db, clk
}

func TestWriteStoresSnapshots(t *testing.T) {
	svc, db, _ := setupAudit(t)
	ctx := context.Background()

	err := svc.Write(ctx, db, auditdomain.Entry{
		CompanyID:  10,
		ActorID:    20,
		Action:     auditdomain.ActionApprove,
		TargetType: auditdomain.TargetTimeEntry,
		TargetID:   30,
		Before:     map[string]any{"status": "pending"},
		After:      map[string]any{"status": "approved"},
	})
	require.NoError(t, err)

	var stored auditdomain.AuditLog
	require.NoError(t, db.First(&stored).Error)
	assert.Equal(t, string(auditdomain.ActorTypeUser), stored.ActorType)
	require.NotNil(t, stored.ActorID)
	assert.EqualValues(t, 20, *stored.ActorID)
	assert.JSONEq(t, `{"status":"pending"}`, string(stored.Before))
	assert.JSONEq(t, `{"status":"approved"}`, string(stored.After))
}

func TestWriteSystemActor(t *testing.T) {
	svc, db, _ := setupAudit(t)

	require.NoError(t, svc.Write(context.Background(), nil, auditdomain.Entry{
		CompanyID:  10,
		Action:     auditdomain.ActionAutoClockOut,
		TargetType: auditdomain.TargetTimeEntry,
		TargetID:   30,
	}))

	var stored auditdomain.AuditLog
	require.NoError(t, db.First(&stored).Error)
	assert.Equal(t, string(auditdomain.ActorTypeSystem), stored.ActorType)
	assert.Nil(t, stored.ActorID)
	assert.JSONEq(t, `null`, string(stored.Before))
}

func TestWriteRollsBackWithTransaction(t *testing.T) {
	svc, db, _ := setupAudit(t)
	ctx := context.Background()

	_ = db.Transaction(func(tx *gorm.DB) error {
		require.NoError(t, svc.Write(ctx, tx, auditdomain.Entry{CompanyID: 1, Action: auditdomain.ActionReject, TargetType: auditdomain.TargetTimeEntry, TargetID: 2}))
		return assert.AnError
	})

	var count int64
	require.NoError(t, db.Model(&auditdomain.AuditLog{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestWriteRequiresAction(t *testing.T) {
	svc, db, _ := setupAudit(t)
	err := svc.Write(context.Background(), db, auditdomain.Entry{CompanyID: 1})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestListPaginatesWithinCompany(t *testing.T) {
	svc, db, clk := setupAudit(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Write(ctx, db, auditdomain.Entry{CompanyID: 1, ActorID: 5, Action: auditdomain.ActionApprove, TargetType: auditdomain.TargetTimeEntry, TargetID: snowflake.ID(100 + i)}))
		clk.Advance(time.Minute)
	}
	require.NoError(t, svc.Write(ctx, db, auditdomain.Entry{CompanyID: 2, ActorID: 6, Action: auditdomain.ActionApprove, TargetType: auditdomain.TargetTimeEntry, TargetID: 999}))

	ctx = actor.WithClaims(ctx, actor.Claims{UserID: 5, CompanyID: 1, Role: actor.RoleAdmin})

	first, err := svc.List(ctx, auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	require.Len(t, first.AuditLogs, 2)
	assert.True(t, first.HasMore)
	assert.EqualValues(t, 102, first.AuditLogs[0].TargetID)

	second, err := svc.List(ctx, auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageSize: 2, PageToken: first.NextPageToken}})
	require.NoError(t, err)
	require.Len(t, second.AuditLogs, 1)
	assert.False(t, second.HasMore)
	assert.EqualValues(t, 100, second.AuditLogs[0].TargetID)
}

func TestListRejectsBadInput(t *testing.T) {
	svc, _, _ := setupAudit(t)
	ctx := actor.WithClaims(context.Background(), actor.Claims{UserID: 5, CompanyID: 1, Role: actor.RoleAdmin})

	_, err := svc.List(ctx, auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageToken: "%%%"}})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)

	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)
	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{StartAt: &start, EndAt: &end})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTimeRange)

	_, err = svc.List(context.Background(), auditdomain.ListAuditLogRequest{})
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
}
