package authorization

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldclock/internal/actor"
	auditdomain "github.com/smallbiznis/fieldclock/internal/audit/domain"
	"github.com/smallbiznis/fieldclock/internal/testkit"
	"github.com/smallbiznis/fieldclock/pkg/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (Service, *testkit.Env) {
	t.Helper()
	env := testkit.New(t, time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	enforcer, err := NewEnforcer(env.DB)
	require.NoError(t, err)
	return NewService(Params{Log: env.Log, Enforcer: enforcer, AuditSvc: env.Audit}), env
}

func claims(userID snowflake.ID, role actor.Role) actor.Claims {
	return actor.Claims{UserID: userID, CompanyID: testkit.CompanyID, Role: role}
}

func TestAuthorizeByRole(t *testing.T) {
	svc, env := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		role    actor.Role
		object  string
		action  string
		allowed bool
	}{
		{name: "crew clocks", role: actor.RoleCrew, object: ObjectTimeEntry, action: ActionTimeEntryClock, allowed: true},
		{name: "staff disputes", role: actor.RoleStaff, object: ObjectTimeEntry, action: ActionTimeEntryDispute, allowed: true},
		{name: "crew reviews", role: actor.RoleCrew, object: ObjectTimeEntry, action: ActionTimeEntryReview},
		{name: "staff invoices", role: actor.RoleStaff, object: ObjectInvoice, action: ActionInvoiceCreate},
		{name: "manager reviews", role: actor.RoleManager, object: ObjectTimeEntry, action: ActionTimeEntryReview, allowed: true},
		{name: "manager clocks", role: actor.RoleManager, object: ObjectTimeEntry, action: ActionTimeEntryClock, allowed: true},
		{name: "manager updates settings", role: actor.RoleManager, object: ObjectCompanySettings, action: ActionSettingsUpdate},
		{name: "admin updates settings", role: actor.RoleAdmin, object: ObjectCompanySettings, action: ActionSettingsUpdate, allowed: true},
		{name: "admin reads audit", role: actor.RoleAdmin, object: ObjectAuditLog, action: ActionAuditLogView, allowed: true},
	}
	denied := 0
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.Authorize(ctx, claims(snowflake.ID(100+i), tc.role), tc.object, tc.action)
			if tc.allowed {
				assert.NoError(t, err)
				return
			}
			denied++
			assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
		})
	}
	assert.EqualValues(t, denied, env.CountAudit(t, auditdomain.ActionAccessDenied))
}

func TestAuthorizeFollowsRoleChanges(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user := snowflake.ID(7)

	require.NoError(t, svc.Authorize(ctx, claims(user, actor.RoleManager), ObjectTimeEntry, ActionTimeEntryReview))
	err := svc.Authorize(ctx, claims(user, actor.RoleCrew), ObjectTimeEntry, ActionTimeEntryReview)
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
}

func TestAuthorizeRejectsInvalidInput(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	err := svc.Authorize(ctx, actor.Claims{UserID: 1, CompanyID: testkit.CompanyID, Role: "owner"}, ObjectJob, ActionJobView)
	assert.ErrorIs(t, err, ErrInvalidActor)

	err = svc.Authorize(ctx, claims(1, actor.RoleAdmin), " ", ActionJobView)
	assert.ErrorIs(t, err, ErrInvalidObject)

	err = svc.Authorize(ctx, claims(1, actor.RoleAdmin), ObjectJob, "")
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestEnforcerReloadsPersistedPolicies(t *testing.T) {
	_, env := newTestService(t)

	var rules int64
	require.NoError(t, env.DB.Table("casbin_rule").Count(&rules).Error)
	assert.NotZero(t, rules)

	again, err := NewEnforcer(env.DB)
	require.NoError(t, err)
	ok, err := again.Enforce("user:1", "company:1", ObjectJob, ActionJobView)
	require.NoError(t, err)
	assert.False(t, ok)

	var reloaded int64
	require.NoError(t, env.DB.Table("casbin_rule").Count(&reloaded).Error)
	assert.Equal(t, rules, reloaded)
}
