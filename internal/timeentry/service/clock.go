package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/fieldclock/internal/actor"
	auditdomain "github.com/smallbiznis/fieldclock/internal/audit/domain"
	"github.com/smallbiznis/fieldclock/internal/conflict"
	"github.com/smallbiznis/fieldclock/internal/geofence"
	idempotencydomain "github.com/smallbiznis/fieldclock/internal/idempotency/domain"
	jobsitedomain "github.com/smallbiznis/fieldclock/internal/jobsite/domain"
	"github.com/smallbiznis/fieldclock/internal/observability/metrics"
	"github.com/smallbiznis/fieldclock/internal/timeentry/domain"
	"github.com/smallbiznis/fieldclock/pkg/apperr"
	"github.com/smallbiznis/fieldclock/pkg/db"
	"github.com/smallbiznis/fieldclock/pkg/log/ctxlogger"
	"github.com/smallbiznis/fieldclock/pkg/validation"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func (s *Service) ClockIn(ctx context.Context, req domain.ClockInRequest) (resp domain.ClockInResponse, err error) {
	claims, ok := actor.FromContext(ctx)
	if !ok {
		return domain.ClockInResponse{}, apperr.ErrUnauthenticated
	}
	replayed := false
	defer func() {
		if replayed {
			s.metrics.RecordClockEvent(opClockIn, metrics.ResultReplayed)
			return
		}
		s.metrics.RecordClockEvent(opClockIn, resultOf(err))
	}()

	if req.UserID == 0 {
		req.UserID = claims.UserID
	}
	req.ClientEventID = strings.TrimSpace(req.ClientEventID)
	if err := validation.Struct(req, domain.ErrInvalidRequest); err != nil {
		return domain.ClockInResponse{}, err
	}
	if err := idempotencydomain.ValidateClientKey(req.ClientEventID); err != nil {
		return domain.ClockInResponse{}, err
	}
	if req.UserID != claims.UserID && !claims.Role.CanApprove() {
		return domain.ClockInResponse{}, apperr.ErrPermissionDenied.WithMessage("staff may only clock in themselves")
	}

	key := idempotencydomain.DeriveKey(opClockIn, fmt.Sprintf("%d:%d", claims.CompanyID, req.UserID), req.ClientEventID)
	if prior, hit, err := replay[domain.ClockInResponse](ctx, s.idem, key); err != nil {
		return domain.ClockInResponse{}, err
	} else if hit {
		replayed = true
		return prior, nil
	}

	if err := s.allow(ctx, opClockIn, claims, req.UserID); err != nil {
		return domain.ClockInResponse{}, err
	}

	job, err := s.jobs.ActiveJob(ctx, claims.CompanyID, req.JobID)
	if err != nil {
		return domain.ClockInResponse{}, err
	}
	now := s.clock.Now()
	if _, err := s.jobs.CoveringAssignment(ctx, claims.CompanyID, req.UserID, job.ID, now); err != nil {
		return domain.ClockInResponse{}, err
	}
	settings, err := s.jobs.SettingsFor(ctx, claims.CompanyID)
	if err != nil {
		return domain.ClockInResponse{}, err
	}

	clientEventID := req.ClientEventID
	entry := &domain.TimeEntry{
		ID:            s.genID.Generate(),
		CompanyID:     claims.CompanyID,
		UserID:        req.UserID,
		JobID:         job.ID,
		ClockInAt:     now,
		Status:        domain.StatusActive,
		ExceptionTags: domain.Tags{},
		Origin:        domain.OriginOnline,
		DeviceID:      req.DeviceID,
		ClientEventID: &clientEventID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.Offline {
		entry.Origin = domain.OriginOffline
	}
	resp = domain.ClockInResponse{EntryID: entry.ID}

	if req.Position != nil {
		result := geofence.Validate(*req.Position, fenceOf(job))
		s.metrics.RecordGeofence(settings.RequireGeofence, result.Valid)

		valid := result.Valid
		distance := result.DistanceMeters
		accuracy := req.Position.Accuracy
		lat, lng := req.Position.Lat, req.Position.Lng
		entry.ClockInLat, entry.ClockInLng, entry.ClockInAccuracy = &lat, &lng, &accuracy
		entry.ClockInGeofenceValid = &valid
		resp.GeofenceValid = &valid
		resp.DistanceMeters = &distance

		if !result.Valid {
			if settings.RequireGeofence {
				return domain.ClockInResponse{}, domain.ErrGeofenceViolation.
					WithMessage("position is %.0fm from the job site, allowed %.0fm", result.DistanceMeters, result.EffectiveRadiusMeters).
					WithDetails(result)
			}
			entry.ExceptionTags = entry.ExceptionTags.With(domain.TagGeofenceOut)
			entry.NeedsReview = true
			resp.Warning = domain.WarningOutsideGeofence
		}
	} else {
		entry.Origin = domain.OriginOffline
		entry.NeedsReview = true
		resp.Warning = domain.WarningNoPosition
	}
	resp.NeedsReview = entry.NeedsReview

	var existing *domain.TimeEntry
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		prior, err := s.repo.FindByClientEvent(ctx, tx, claims.CompanyID, req.UserID, clientEventID)
		if err != nil {
			return err
		}
		if prior != nil {
			existing = prior
			return nil
		}

		active, err := s.repo.FindActiveForUser(ctx, tx, claims.CompanyID, req.UserID, true)
		if err != nil {
			return err
		}
		if len(active) > 0 {
			return domain.ErrActiveEntryExists.WithDetails(map[string]string{"entry_id": active[0].ID.String()})
		}

		if err := s.repo.Insert(ctx, tx, entry); err != nil {
			return err
		}
		return s.audit(ctx, tx, claims.UserID, auditdomain.ActionClockIn, nil, entry)
	})
	if err != nil {
		if _, ok := apperr.As(err); ok {
			return domain.ClockInResponse{}, err
		}
		if !db.IsDuplicateKeyErr(err) {
			return domain.ClockInResponse{}, apperr.Internal(err)
		}
		// Lost a race: either the same client event committed first or another
		// active entry did.
		ctxlogger.WithContext(ctx, s.log).Info("clock-in lost a uniqueness race",
			zap.String("user_id", req.UserID.String()),
			zap.String("constraint", db.ConstraintName(err)),
		)
		prior, lookupErr := s.repo.FindByClientEvent(ctx, s.db, claims.CompanyID, req.UserID, clientEventID)
		if lookupErr != nil || prior == nil {
			return domain.ClockInResponse{}, domain.ErrActiveEntryExists
		}
		existing = prior
	}
	if existing != nil {
		replayed = true
		resp = clockInResponseOf(existing)
	}

	s.idem.Record(ctx, idempotencydomain.RecordRequest{
		CompanyID: claims.CompanyID,
		Operation: opClockIn,
		Key:       key,
		Result:    resp,
		TTL:       idempotencydomain.TTLDefault,
	})

	ctxlogger.WithContext(ctx, s.log).Info("clocked in",
		zap.String("entry_id", resp.EntryID.String()),
		zap.String("user_id", req.UserID.String()),
		zap.String("job_id", job.ID.String()),
		zap.Bool("needs_review", resp.NeedsReview),
		zap.Bool("replayed", replayed),
	)
	return resp, nil
}

func (s *Service) ClockOut(ctx context.Context, req domain.ClockOutRequest) (resp domain.ClockOutResponse, err error) {
	claims, ok := actor.FromContext(ctx)
	if !ok {
		return domain.ClockOutResponse{}, apperr.ErrUnauthenticated
	}
	replayed := false
	defer func() {
		if replayed {
			s.metrics.RecordClockEvent(opClockOut, metrics.ResultReplayed)
			return
		}
		s.metrics.RecordClockEvent(opClockOut, resultOf(err))
	}()

	if err := validation.Struct(req, domain.ErrInvalidRequest); err != nil {
		return domain.ClockOutResponse{}, err
	}

	// Ownership is checked before the replay lookup so a stored result is
	// only ever returned to the worker who produced it.
	current, err := s.repo.FindByID(ctx, s.db, req.EntryID)
	if err != nil {
		return domain.ClockOutResponse{}, apperr.Internal(err)
	}
	if current == nil {
		return domain.ClockOutResponse{}, domain.ErrEntryNotFound
	}
	if current.CompanyID != claims.CompanyID {
		return domain.ClockOutResponse{}, apperr.ErrPermissionDenied
	}
	if current.UserID != claims.UserID {
		return domain.ClockOutResponse{}, apperr.ErrPermissionDenied.WithMessage("entry belongs to another worker")
	}

	key := idempotencydomain.DeriveKey(opClockOut, fmt.Sprintf("%d:%d", claims.CompanyID, claims.UserID), req.EntryID.String())
	if prior, hit, err := replay[domain.ClockOutResponse](ctx, s.idem, key); err != nil {
		return domain.ClockOutResponse{}, err
	} else if hit {
		replayed = true
		return prior, nil
	}

	if err := s.allow(ctx, opClockOut, claims, current.UserID); err != nil {
		return domain.ClockOutResponse{}, err
	}

	job, err := s.jobs.Job(ctx, current.CompanyID, current.JobID)
	if err != nil {
		return domain.ClockOutResponse{}, err
	}
	settings, err := s.jobs.SettingsFor(ctx, current.CompanyID)
	if err != nil {
		return domain.ClockOutResponse{}, err
	}
	detector := s.detector(settings)

	now := s.clock.Now()
	var conflicts []conflict.Conflict
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
		if entry.Status != domain.StatusActive {
			return domain.ErrEntryNotActive
		}

		duration := now.Sub(entry.ClockInAt)
		if duration >= domain.MaxShiftHard {
			return domain.ErrShiftExceeds24h.WithMessage("shift of %s exceeds 24h; ask a manager to correct it", duration.Truncate(time.Second))
		}
		if duration <= 0 {
			return domain.ErrEmptyShift
		}

		after := *entry
		after.ClockOutAt = &now
		after.UpdatedAt = now
		if duration >= domain.ExceedsTagDuration {
			after.ExceptionTags = after.ExceptionTags.With(domain.TagExceeds12h)
		}

		if req.Position != nil {
			result := geofence.Validate(*req.Position, fenceOf(job))
			s.metrics.RecordGeofence(false, result.Valid)

			valid := result.Valid
			accuracy := req.Position.Accuracy
			lat, lng := req.Position.Lat, req.Position.Lng
			after.ClockOutLat, after.ClockOutLng, after.ClockOutAccuracy = &lat, &lng, &accuracy
			after.ClockOutGeofenceValid = &valid
			if !valid {
				after.ExceptionTags = after.ExceptionTags.With(domain.TagGeofenceOut)
				after.NeedsReview = true
				resp.Warning = domain.WarningOutsideGeofence
			}
		}

		neighbours, err := s.repo.ListClosedForUser(ctx, tx, entry.CompanyID, entry.UserID, entry.ClockInAt.Add(-domain.OverlapLookback), now)
		if err != nil {
			return err
		}
		conflicts = detector.Detect(toConflictEntry(&after), toConflictEntries(neighbours), now)
		if conflict.HasKind(conflicts, conflict.KindOverlap) {
			after.ExceptionTags = after.ExceptionTags.With(domain.TagOverlap)
			after.NeedsReview = true
		}
		after.Status = domain.ReviewStatus(after.ExceptionTags, after.NeedsReview)

		rows, err := s.repo.UpdateIfStatus(ctx, tx, entry.ID, []domain.Status{domain.StatusActive}, domain.Fields{
			"clock_out_at":             after.ClockOutAt,
			"clock_out_lat":            after.ClockOutLat,
			"clock_out_lng":            after.ClockOutLng,
			"clock_out_accuracy":       after.ClockOutAccuracy,
			"clock_out_geofence_valid": after.ClockOutGeofenceValid,
			"exception_tags":           after.ExceptionTags,
			"needs_review":             after.NeedsReview,
			"status":                   after.Status,
			"updated_at":               now,
		})
		if err != nil {
			return err
		}
		if rows == 0 {
			return domain.ErrEntryNotActive
		}

		resp.EntryID = after.ID
		resp.DurationHours = domain.DurationHours(duration)
		resp.Status = after.Status
		resp.ExceptionTags = after.ExceptionTags
		resp.NeedsReview = after.NeedsReview
		return s.audit(ctx, tx, claims.UserID, auditdomain.ActionClockOut, entry, &after)
	})
	if err != nil {
		if _, ok := apperr.As(err); ok {
			return domain.ClockOutResponse{}, err
		}
		return domain.ClockOutResponse{}, apperr.Internal(err)
	}
	s.recordConflicts(conflicts)

	s.idem.Record(ctx, idempotencydomain.RecordRequest{
		CompanyID: claims.CompanyID,
		Operation: opClockOut,
		Key:       key,
		Result:    resp,
		TTL:       idempotencydomain.TTLDefault,
	})

	ctxlogger.WithContext(ctx, s.log).Info("clocked out",
		zap.String("entry_id", resp.EntryID.String()),
		zap.Float64("duration_hours", resp.DurationHours),
		zap.String("status", string(resp.Status)),
		zap.Int("conflicts", len(conflicts)),
	)
	return resp, nil
}

func fenceOf(job *jobsitedomain.Job) geofence.Fence {
	return geofence.Fence{Lat: job.GeofenceLat, Lng: job.GeofenceLng, RadiusM: job.GeofenceRadiusM}
}

func clockInResponseOf(entry *domain.TimeEntry) domain.ClockInResponse {
	resp := domain.ClockInResponse{
		EntryID:       entry.ID,
		GeofenceValid: entry.ClockInGeofenceValid,
		NeedsReview:   entry.NeedsReview,
	}
	switch {
	case entry.ExceptionTags.Has(domain.TagGeofenceOut):
		resp.Warning = domain.WarningOutsideGeofence
	case entry.ClockInPosition() == nil:
		resp.Warning = domain.WarningNoPosition
	}
	return resp
}
