package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/persist"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/smallbiznis/fieldclock/internal/actor"
	auditdomain "github.com/smallbiznis/fieldclock/internal/audit/domain"
	"github.com/smallbiznis/fieldclock/pkg/apperr"
	"github.com/smallbiznis/fieldclock/pkg/log/ctxlogger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectTimeEntry       = "time_entry"
	ObjectInvoice         = "invoice"
	ObjectJob             = "job"
	ObjectAssignment      = "assignment"
	ObjectCompanySettings = "company_settings"
	ObjectAuditLog        = "audit_log"
)

const (
	ActionTimeEntryClock   = "time_entry.clock"
	ActionTimeEntryView    = "time_entry.view"
	ActionTimeEntryDispute = "time_entry.dispute"
	ActionTimeEntryEdit    = "time_entry.edit"
	ActionTimeEntryReview  = "time_entry.review"

	ActionInvoiceView   = "invoice.view"
	ActionInvoiceCreate = "invoice.create"

	ActionJobView   = "job.view"
	ActionJobCreate = "job.create"

	ActionAssignmentCreate = "assignment.create"

	ActionSettingsView   = "company_settings.view"
	ActionSettingsUpdate = "company_settings.update"

	ActionAuditLogView = "audit_log.view"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

// NewEnforcer persists policies and role links in the casbin_rule table.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	return NewEnforcerWithAdapter(adapter)
}

func NewEnforcerWithAdapter(adapter persist.Adapter) (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, claims actor.Claims, object string, action string) error {
	if !claims.Valid() {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject := fmt.Sprintf("user:%s", claims.UserID)
	roleName := fmt.Sprintf("role:%s", claims.Role)
	domain := fmt.Sprintf("company:%s", claims.CompanyID)
	if err := s.ensureGrouping(subject, roleName, domain); err != nil {
		return apperr.Internal(err)
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return apperr.Internal(err)
	}
	if !allowed {
		s.auditDenied(ctx, claims, object, action)
		return apperr.ErrPermissionDenied.WithMessage("role %s may not %s", claims.Role, action)
	}
	return nil
}

// ensureGrouping keeps exactly one role link per subject and company; the
// gateway is authoritative for the role.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}

	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(params...); err != nil {
			return err
		}
	}

	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, claims actor.Claims, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	err := s.auditSvc.Write(ctx, nil, auditdomain.Entry{
		CompanyID:  claims.CompanyID,
		ActorID:    claims.UserID,
		Action:     auditdomain.ActionAccessDenied,
		TargetType: auditdomain.TargetAuthorization,
		After: map[string]any{
			"object": object,
			"action": action,
			"role":   string(claims.Role),
		},
	})
	if err != nil {
		ctxlogger.WithContext(ctx, s.log).Warn("failed to audit denied access", zap.Error(err))
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	worker := [][]string{
		{ObjectTimeEntry, ActionTimeEntryClock},
		{ObjectTimeEntry, ActionTimeEntryView},
		{ObjectTimeEntry, ActionTimeEntryDispute},
		{ObjectJob, ActionJobView},
	}
	manager := append([][]string{
		{ObjectTimeEntry, ActionTimeEntryEdit},
		{ObjectTimeEntry, ActionTimeEntryReview},
		{ObjectInvoice, ActionInvoiceView},
		{ObjectInvoice, ActionInvoiceCreate},
		{ObjectJob, ActionJobCreate},
		{ObjectAssignment, ActionAssignmentCreate},
		{ObjectCompanySettings, ActionSettingsView},
		{ObjectAuditLog, ActionAuditLogView},
	}, worker...)
	admin := append([][]string{
		{ObjectCompanySettings, ActionSettingsUpdate},
	}, manager...)

	grants := map[actor.Role][][]string{
		actor.RoleCrew:    worker,
		actor.RoleStaff:   worker,
		actor.RoleManager: manager,
		actor.RoleAdmin:   admin,
	}
	for role, rules := range grants {
		subject := fmt.Sprintf("role:%s", role)
		for _, rule := range rules {
			if _, err := enforcer.AddPolicy(subject, rule[0], rule[1]); err != nil {
				return err
			}
		}
	}
	return nil
}
