package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldclock/internal/actor"
	auditdomain "github.com/smallbiznis/fieldclock/internal/audit/domain"
	"github.com/smallbiznis/fieldclock/internal/conflict"
	"github.com/smallbiznis/fieldclock/internal/timeentry/domain"
	"github.com/smallbiznis/fieldclock/pkg/apperr"
	"github.com/smallbiznis/fieldclock/pkg/log/ctxlogger"
	"github.com/smallbiznis/fieldclock/pkg/validation"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var disputable = []domain.Status{domain.StatusPending, domain.StatusFlagged, domain.StatusRejected}

func (s *Service) DisputeEntry(ctx context.Context, req domain.DisputeRequest) (*domain.TimeEntry, error) {
	claims, ok := actor.FromContext(ctx)
	if !ok {
		return nil, apperr.ErrUnauthenticated
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if err := validation.Struct(req, domain.ErrInvalidRequest); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var after domain.TimeEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry, err := s.repo.FindByIDForUpdate(ctx, tx, req.EntryID)
		if err != nil {
			return err
		}
		if entry == nil {
			return domain.ErrEntryNotFound
		}
		if entry.CompanyID != claims.CompanyID || entry.UserID != claims.UserID {
			return apperr.ErrPermissionDenied
		}
		if entry.Locked() {
			return domain.ErrEntryLocked
		}
		if !statusIn(entry.Status, disputable) {
			return domain.ErrNotDisputable.WithMessage("entry is %s", entry.Status)
		}

		after = *entry
		after.Status = domain.StatusDisputed
		after.ExceptionTags = after.ExceptionTags.With(domain.TagDisputed)
		after.DisputeReason = &req.Reason
		after.UpdatedAt = now

		rows, err := s.repo.UpdateIfStatus(ctx, tx, entry.ID, []domain.Status{entry.Status}, domain.Fields{
			"status":         after.Status,
			"exception_tags": after.ExceptionTags,
			"dispute_reason": req.Reason,
			"updated_at":     now,
		})
		if err != nil {
			return err
		}
		if rows == 0 {
			return domain.ErrEntryModified
		}
		return s.audit(ctx, tx, claims.UserID, auditdomain.ActionDispute, entry, &after)
	})
	if err != nil {
		if _, ok := apperr.As(err); ok {
			return nil, err
		}
		return nil, apperr.Internal(err)
	}
	return &after, nil
}

func (s *Service) EditEntry(ctx context.Context, req domain.EditEntryRequest) (*domain.TimeEntry, error) {
	claims, ok := actor.FromContext(ctx)
	if !ok {
		return nil, apperr.ErrUnauthenticated
	}
	if !claims.Role.CanApprove() {
		return nil, apperr.ErrPermissionDenied
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if err := validation.Struct(req, domain.ErrInvalidRequest); err != nil {
		return nil, err
	}

	current, err := s.visibleEntry(ctx, claims, req.EntryID)
	if err != nil {
		return nil, err
	}
	settings, err := s.jobs.SettingsFor(ctx, current.CompanyID)
	if err != nil {
		return nil, err
	}
	detector := s.detector(settings)

	now := s.clock.Now()
	var after domain.TimeEntry
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry, err := s.repo.FindByIDForUpdate(ctx, tx, req.EntryID)
		if err != nil {
			return err
		}
		if entry == nil {
			return domain.ErrEntryNotFound
		}
		if entry.Locked() {
			return domain.ErrEntryLocked
		}
		if entry.Status == domain.StatusActive || entry.ClockOutAt == nil {
			return domain.ErrEntryNotClosed
		}

		clockIn := entry.ClockInAt
		if req.ClockInAt != nil {
			clockIn = req.ClockInAt.UTC()
		}
		clockOut := entry.ClockOutAt.UTC()
		if req.ClockOutAt != nil {
			clockOut = req.ClockOutAt.UTC()
		}
		breakMinutes := entry.BreakMinutes
		if req.BreakMinutes != nil {
			breakMinutes = *req.BreakMinutes
		}

		after = *entry
		after.ClockInAt = clockIn
		after.ClockOutAt = &clockOut
		after.BreakMinutes = breakMinutes

		upper := clockOut
		if clockIn.After(upper) {
			upper = clockIn
		}
		neighbours, err := s.repo.ListClosedForUser(ctx, tx, entry.CompanyID, entry.UserID, clockIn.Add(-domain.OverlapLookback), upper)
		if err != nil {
			return err
		}
		conflicts := detector.Detect(toConflictEntry(&after), toConflictEntries(neighbours), now)
		if conflict.HasCritical(conflicts) {
			s.recordConflicts(conflicts)
			return domain.ErrConflictDetected.WithDetails(conflicts)
		}

		after.ExceptionTags = after.ExceptionTags.Without(domain.TagOverlap)
		if clockOut.Sub(clockIn) >= domain.ExceedsTagDuration {
			after.ExceptionTags = after.ExceptionTags.With(domain.TagExceeds12h)
		} else {
			after.ExceptionTags = after.ExceptionTags.Without(domain.TagExceeds12h)
		}
		after.NeedsReview = true
		after.Status = domain.StatusFlagged
		after.ApprovedBy, after.ApprovedAt = nil, nil
		after.RejectedBy, after.RejectedAt, after.RejectionReason = nil, nil, nil
		after.UpdatedAt = now

		rows, err := s.repo.UpdateIfStatus(ctx, tx, entry.ID, []domain.Status{entry.Status}, domain.Fields{
			"clock_in_at":      after.ClockInAt,
			"clock_out_at":     after.ClockOutAt,
			"break_minutes":    after.BreakMinutes,
			"exception_tags":   after.ExceptionTags,
			"needs_review":     true,
			"status":           after.Status,
			"approved_by":      nil,
			"approved_at":      nil,
			"rejected_by":      nil,
			"rejected_at":      nil,
			"rejection_reason": nil,
			"updated_at":       now,
		})
		if err != nil {
			return err
		}
		if rows == 0 {
			return domain.ErrEntryModified
		}

		return s.auditSvc.Write(ctx, tx, auditdomain.Entry{
			CompanyID:  entry.CompanyID,
			ActorID:    claims.UserID,
			Action:     auditdomain.ActionEdit,
			TargetType: auditdomain.TargetTimeEntry,
			TargetID:   entry.ID,
			Before:     entry,
			After: map[string]any{
				"entry":  &after,
				"reason": req.Reason,
			},
		})
	})
	if err != nil {
		if _, ok := apperr.As(err); ok {
			return nil, err
		}
		return nil, apperr.Internal(err)
	}

	ctxlogger.WithContext(ctx, s.log).Info("time entry edited",
		zap.String("entry_id", after.ID.String()),
		zap.String("editor_id", claims.UserID.String()),
	)
	return &after, nil
}

func (s *Service) DetectConflicts(ctx context.Context, entryID snowflake.ID) (domain.ConflictReport, error) {
	claims, ok := actor.FromContext(ctx)
	if !ok {
		return domain.ConflictReport{}, apperr.ErrUnauthenticated
	}
	entry, err := s.visibleEntry(ctx, claims, entryID)
	if err != nil {
		return domain.ConflictReport{}, err
	}
	settings, err := s.jobs.SettingsFor(ctx, entry.CompanyID)
	if err != nil {
		return domain.ConflictReport{}, err
	}

	now := s.clock.Now()
	upper := now
	if entry.ClockOutAt != nil {
		upper = *entry.ClockOutAt
	}
	if entry.ClockInAt.After(upper) {
		upper = entry.ClockInAt
	}
	neighbours, err := s.repo.ListClosedForUser(ctx, s.db, entry.CompanyID, entry.UserID, entry.ClockInAt.Add(-domain.OverlapLookback), upper.Add(time.Nanosecond))
	if err != nil {
		return domain.ConflictReport{}, apperr.Internal(err)
	}

	conflicts := s.detector(settings).Detect(toConflictEntry(entry), toConflictEntries(neighbours), now)
	if conflicts == nil {
		conflicts = []conflict.Conflict{}
	}
	return domain.ConflictReport{
		EntryID:   entry.ID,
		Conflicts: conflicts,
		Blocking:  conflict.HasCritical(conflicts),
	}, nil
}

func statusIn(status domain.Status, set []domain.Status) bool {
	for _, candidate := range set {
		if status == candidate {
			return true
		}
	}
	return false
}
