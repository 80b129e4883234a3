package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldclock/internal/actor"
	"github.com/smallbiznis/fieldclock/internal/approval/domain"
	auditdomain "github.com/smallbiznis/fieldclock/internal/audit/domain"
	"github.com/smallbiznis/fieldclock/internal/clock"
	"github.com/smallbiznis/fieldclock/internal/config"
	jobsitedomain "github.com/smallbiznis/fieldclock/internal/jobsite/domain"
	"github.com/smallbiznis/fieldclock/internal/observability/metrics"
	timeentrydomain "github.com/smallbiznis/fieldclock/internal/timeentry/domain"
	"github.com/smallbiznis/fieldclock/pkg/apperr"
	"github.com/smallbiznis/fieldclock/pkg/log/ctxlogger"
	"github.com/smallbiznis/fieldclock/pkg/validation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Config   config.Config
	Entries  timeentrydomain.Repository
	Jobs     jobsitedomain.Service
	AuditSvc auditdomain.Service
	Metrics  *metrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	parallelism int
	entries     timeentrydomain.Repository
	jobs        jobsitedomain.Service
	auditSvc    auditdomain.Service
	metrics     *metrics.Metrics
}

func NewService(p Params) domain.Service {
	parallelism := p.Config.BulkParallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("approval.service"),
		clock:       p.Clock,
		parallelism: parallelism,
		entries:     p.Entries,
		jobs:        p.Jobs,
		auditSvc:    p.AuditSvc,
		metrics:     p.Metrics,
	}
}

// decision describes one review transition.
type decision struct {
	name        string
	target      timeentrydomain.Status
	auditAction string
	reason      string
}

func approveDecision() decision {
	return decision{name: "approve", target: timeentrydomain.StatusApproved, auditAction: auditdomain.ActionApprove}
}

func rejectDecision(reason string) decision {
	return decision{name: "reject", target: timeentrydomain.StatusRejected, auditAction: auditdomain.ActionReject, reason: reason}
}

func (s *Service) ApproveEntry(ctx context.Context, req domain.ApproveRequest) (domain.Result, error) {
	if err := validation.Struct(req, domain.ErrInvalidRequest); err != nil {
		return domain.Result{}, err
	}
	return s.single(ctx, req.EntryID, approveDecision())
}

func (s *Service) RejectEntry(ctx context.Context, req domain.RejectRequest) (domain.Result, error) {
	req.Reason = strings.TrimSpace(req.Reason)
	if err := validation.Struct(req, domain.ErrInvalidRequest); err != nil {
		return domain.Result{}, err
	}
	return s.single(ctx, req.EntryID, rejectDecision(req.Reason))
}

func (s *Service) single(ctx context.Context, entryID snowflake.ID, d decision) (result domain.Result, err error) {
	claims, ok := actor.FromContext(ctx)
	if !ok {
		return domain.Result{}, apperr.ErrUnauthenticated
	}
	if !claims.Role.CanApprove() {
		return domain.Result{}, apperr.ErrPermissionDenied
	}
	defer func() {
		s.metrics.RecordApproval(d.name, resultOf(err), 1)
	}()

	now := s.clock.Now()
	noop := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry, err := s.entries.FindByIDForUpdate(ctx, tx, entryID)
		if err != nil {
			return err
		}
		noop, err = check(claims.CompanyID, entry, d)
		if err != nil || noop {
			return err
		}
		return s.apply(ctx, tx, claims.UserID, entry, d, d.auditAction, now)
	})
	if err != nil {
		if _, ok := apperr.As(err); ok {
			return domain.Result{}, err
		}
		return domain.Result{}, apperr.Internal(err)
	}

	ctxlogger.WithContext(ctx, s.log).Info("time entry reviewed",
		zap.String("entry_id", entryID.String()),
		zap.String("decision", d.name),
		zap.Bool("noop", noop),
	)
	return domain.Result{Success: true}, nil
}

// check validates the transition. A true noop means the entry is already in
// the target state, which holds even once it is locked to an invoice.
func check(companyID snowflake.ID, entry *timeentrydomain.TimeEntry, d decision) (bool, error) {
	if entry == nil {
		return false, timeentrydomain.ErrEntryNotFound
	}
	if entry.CompanyID != companyID {
		return false, apperr.ErrPermissionDenied.WithMessage("entry belongs to another company")
	}
	if entry.Status == d.target {
		return true, nil
	}
	if entry.Locked() {
		return false, timeentrydomain.ErrEntryLocked
	}
	switch entry.Status {
	case timeentrydomain.StatusActive:
		return false, timeentrydomain.ErrEntryNotClosed
	case timeentrydomain.StatusPending, timeentrydomain.StatusFlagged, timeentrydomain.StatusDisputed:
		if entry.ClockOutAt == nil {
			return false, timeentrydomain.ErrEntryNotClosed
		}
		return false, nil
	default:
		return false, domain.ErrEntryAlreadyProcessed.WithMessage("entry is %s", entry.Status)
	}
}

// apply writes the transition and its audit record on tx. A zero actorID
// records the system as the actor.
func (s *Service) apply(ctx context.Context, tx *gorm.DB, actorID snowflake.ID, entry *timeentrydomain.TimeEntry, d decision, auditAction string, now time.Time) error {
	after := *entry
	after.Status = d.target
	after.UpdatedAt = now

	var by *snowflake.ID
	if actorID != 0 {
		id := actorID
		by = &id
	}

	fields := timeentrydomain.Fields{
		"status":     d.target,
		"updated_at": now,
	}
	switch d.target {
	case timeentrydomain.StatusApproved:
		after.ApprovedBy, after.ApprovedAt = by, &now
		after.NeedsReview = false
		fields["approved_by"] = by
		fields["approved_at"] = now
		fields["needs_review"] = false
	case timeentrydomain.StatusRejected:
		var reason *string
		if d.reason != "" {
			r := d.reason
			reason = &r
		}
		after.RejectedBy, after.RejectedAt, after.RejectionReason = by, &now, reason
		fields["rejected_by"] = by
		fields["rejected_at"] = now
		fields["rejection_reason"] = reason
	}

	rows, err := s.entries.UpdateIfStatus(ctx, tx, entry.ID, []timeentrydomain.Status{entry.Status}, fields)
	if err != nil {
		return err
	}
	if rows == 0 {
		return timeentrydomain.ErrEntryModified
	}

	return s.auditSvc.Write(ctx, tx, auditdomain.Entry{
		CompanyID:  entry.CompanyID,
		ActorID:    actorID,
		Action:     auditAction,
		TargetType: auditdomain.TargetTimeEntry,
		TargetID:   entry.ID,
		Before:     entry,
		After:      &after,
	})
}

// AutoApprove runs per company so each company's window applies.
func (s *Service) AutoApprove(ctx context.Context, limit int) (int, error) {
	settings, err := s.jobs.AutoApproveSettings(ctx)
	if err != nil {
		return 0, err
	}

	now := s.clock.Now()
	var (
		approved int
		errs     []error
	)
	for _, cs := range settings {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		cutoff := now.AddDate(0, 0, -*cs.AutoApproveDays)
		candidates, err := s.entries.ListPendingClosedBefore(ctx, s.db, cs.CompanyID, cutoff, limit)
		if err != nil {
			errs = append(errs, fmt.Errorf("list pending for company %s: %w", cs.CompanyID, err))
			continue
		}

		for _, candidate := range candidates {
			done := false
			err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				entry, err := s.entries.FindByIDForUpdate(ctx, tx, candidate.ID)
				if err != nil {
					return err
				}
				if entry == nil || entry.Status != timeentrydomain.StatusPending || entry.NeedsReview || entry.Locked() {
					return nil
				}
				done = true
				return s.apply(ctx, tx, 0, entry, approveDecision(), auditdomain.ActionAutoApprove, now)
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("auto approve %s: %w", candidate.ID, err))
				continue
			}
			if done {
				approved++
			}
		}
	}

	s.metrics.RecordApproval("auto_approve", metrics.ResultAccepted, approved)
	if approved > 0 {
		s.log.Info("auto-approve sweep approved entries", zap.Int("count", approved))
	}
	return approved, errors.Join(errs...)
}

func resultOf(err error) string {
	if err == nil {
		return metrics.ResultAccepted
	}
	if apperr.KindOf(err) == apperr.KindInternal {
		return metrics.ResultFailed
	}
	return metrics.ResultRejected
}
