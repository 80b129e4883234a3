package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/fieldclock/internal/audit/domain"
	jobsitedomain "github.com/smallbiznis/fieldclock/internal/jobsite/domain"
	"github.com/smallbiznis/fieldclock/internal/timeentry/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AutoClockOut closes entries left active beyond their company maximum. The
// entry is closed at clock-in plus the maximum, not at sweep time.
//
// Candidates are paged past entries that are not due yet, so a page full of
// entries from companies with a longer maximum cannot hide overdue ones. It
// returns once limit entries were closed or the candidates ran out.
func (s *Service) AutoClockOut(ctx context.Context, limit int) (int, error) {
	now := s.clock.Now()
	cutoff := now.Add(-time.Duration(jobsitedomain.MinMaxShiftHours) * time.Hour)

	settingsByCompany := make(map[snowflake.ID]jobsitedomain.CompanySettings)
	var (
		closed int
		errs   []error
		after  *domain.EntryCursor
	)
scan:
	for {
		candidates, err := s.repo.ListActiveStartedBefore(ctx, s.db, cutoff, after, limit)
		if err != nil {
			errs = append(errs, err)
			break
		}

		for _, entry := range candidates {
			if err := ctx.Err(); err != nil {
				errs = append(errs, err)
				break scan
			}

			settings, ok := settingsByCompany[entry.CompanyID]
			if !ok {
				settings, err = s.jobs.SettingsFor(ctx, entry.CompanyID)
				if err != nil {
					errs = append(errs, fmt.Errorf("settings for company %s: %w", entry.CompanyID, err))
					continue
				}
				settingsByCompany[entry.CompanyID] = settings
			}

			maxShift := settings.MaxShift()
			if now.Sub(entry.ClockInAt) <= maxShift {
				continue
			}

			done, err := s.autoClose(ctx, entry, maxShift, now)
			if err != nil {
				errs = append(errs, fmt.Errorf("auto clock-out %s: %w", entry.ID, err))
				continue
			}
			if done {
				closed++
			}
		}

		if limit <= 0 || len(candidates) < limit || closed >= limit {
			break
		}
		last := candidates[len(candidates)-1]
		after = &domain.EntryCursor{ID: last.ID, ClockInAt: last.ClockInAt}
	}

	if closed > 0 {
		s.log.Info("auto clock-out sweep closed entries", zap.Int("count", closed))
	}
	return closed, errors.Join(errs...)
}

func (s *Service) autoClose(ctx context.Context, entry *domain.TimeEntry, maxShift time.Duration, now time.Time) (bool, error) {
	closeAt := entry.ClockInAt.Add(maxShift)

	after := *entry
	after.ClockOutAt = &closeAt
	after.ExceptionTags = after.ExceptionTags.With(domain.TagAutoClockOut)
	if maxShift >= domain.ExceedsTagDuration {
		after.ExceptionTags = after.ExceptionTags.With(domain.TagExceeds12h)
	}
	after.NeedsReview = true
	after.Status = domain.StatusFlagged
	after.UpdatedAt = now

	done := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := s.repo.UpdateIfStatus(ctx, tx, entry.ID, []domain.Status{domain.StatusActive}, domain.Fields{
			"clock_out_at":   closeAt,
			"exception_tags": after.ExceptionTags,
			"needs_review":   true,
			"status":         after.Status,
			"updated_at":     now,
		})
		if err != nil {
			return err
		}
		if rows == 0 {
			// Clocked out by the worker since the candidate query.
			return nil
		}
		done = true
		return s.audit(ctx, tx, 0, auditdomain.ActionAutoClockOut, entry, &after)
	})
	if err != nil {
		return false, err
	}
	return done, nil
}
