package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldclock/internal/actor"
	auditdomain "github.com/smallbiznis/fieldclock/internal/audit/domain"
	"github.com/smallbiznis/fieldclock/internal/clock"
	"github.com/smallbiznis/fieldclock/internal/config"
	"github.com/smallbiznis/fieldclock/internal/jobsite/domain"
	"github.com/smallbiznis/fieldclock/pkg/apperr"
	"github.com/smallbiznis/fieldclock/pkg/validation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Policy   *config.PolicyHolder
	Repo     domain.Repository
	AuditSvc auditdomain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	policy   *config.PolicyHolder
	repo     domain.Repository
	auditSvc auditdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("jobsite.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		policy:   p.Policy,
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) CreateJob(ctx context.Context, req domain.CreateJobRequest) (*domain.Job, error) {
	claims, err := managerClaims(ctx)
	if err != nil {
		return nil, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := validation.Struct(req, domain.ErrInvalidJob); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	job := &domain.Job{
		ID:              s.genID.Generate(),
		CompanyID:       claims.CompanyID,
		Name:            req.Name,
		GeofenceLat:     req.GeofenceLat,
		GeofenceLng:     req.GeofenceLng,
		GeofenceRadiusM: req.GeofenceRadiusM,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertJob(ctx, tx, job); err != nil {
			return err
		}
		return s.auditSvc.Write(ctx, tx, auditdomain.Entry{
			CompanyID:  claims.CompanyID,
			ActorID:    claims.UserID,
			Action:     auditdomain.ActionJobCreated,
			TargetType: auditdomain.TargetJob,
			TargetID:   job.ID,
			After:      job,
		})
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return job, nil
}

func (s *Service) ListJobs(ctx context.Context) ([]*domain.Job, error) {
	claims, ok := actor.FromContext(ctx)
	if !ok {
		return nil, apperr.ErrUnauthenticated
	}
	jobs, err := s.repo.ListJobs(ctx, s.db, claims.CompanyID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return jobs, nil
}

func (s *Service) CreateAssignment(ctx context.Context, req domain.CreateAssignmentRequest) (*domain.Assignment, error) {
	claims, err := managerClaims(ctx)
	if err != nil {
		return nil, err
	}
	if err := validation.Struct(req, domain.ErrInvalidAssignment); err != nil {
		return nil, err
	}

	startDate, err := time.Parse(time.DateOnly, req.StartDate)
	if err != nil {
		return nil, domain.ErrInvalidAssignment.WithMessage("invalid start_date")
	}
	var endDate *time.Time
	if req.EndDate != nil {
		parsed, err := time.Parse(time.DateOnly, *req.EndDate)
		if err != nil {
			return nil, domain.ErrInvalidAssignment.WithMessage("invalid end_date")
		}
		if parsed.Before(startDate) {
			return nil, domain.ErrInvalidAssignment.WithMessage("end_date before start_date")
		}
		endDate = &parsed
	}

	if _, err := s.ActiveJob(ctx, claims.CompanyID, req.JobID); err != nil {
		return nil, err
	}

	assignment := &domain.Assignment{
		ID:        s.genID.Generate(),
		CompanyID: claims.CompanyID,
		UserID:    req.UserID,
		JobID:     req.JobID,
		Active:    true,
		StartDate: startDate,
		EndDate:   endDate,
		CreatedAt: s.clock.Now(),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertAssignment(ctx, tx, assignment); err != nil {
			return err
		}
		return s.auditSvc.Write(ctx, tx, auditdomain.Entry{
			CompanyID:  claims.CompanyID,
			ActorID:    claims.UserID,
			Action:     auditdomain.ActionAssignmentCreated,
			TargetType: auditdomain.TargetAssignment,
			TargetID:   assignment.ID,
			After:      assignment,
		})
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return assignment, nil
}

func (s *Service) GetSettings(ctx context.Context) (domain.CompanySettings, error) {
	claims, ok := actor.FromContext(ctx)
	if !ok {
		return domain.CompanySettings{}, apperr.ErrUnauthenticated
	}
	return s.SettingsFor(ctx, claims.CompanyID)
}

func (s *Service) UpdateSettings(ctx context.Context, req domain.UpdateSettingsRequest) (domain.CompanySettings, error) {
	claims, ok := actor.FromContext(ctx)
	if !ok {
		return domain.CompanySettings{}, apperr.ErrUnauthenticated
	}
	if claims.Role != actor.RoleAdmin {
		return domain.CompanySettings{}, apperr.ErrPermissionDenied
	}
	req.Timezone = strings.TrimSpace(req.Timezone)
	if err := validation.Struct(req, domain.ErrInvalidSettings); err != nil {
		return domain.CompanySettings{}, err
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		return domain.CompanySettings{}, domain.ErrInvalidSettings.WithMessage("unknown timezone %q", req.Timezone)
	}

	var updated domain.CompanySettings
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		before, err := s.repo.FindSettings(ctx, tx, claims.CompanyID)
		if err != nil {
			return err
		}

		updated = domain.CompanySettings{
			CompanyID:       claims.CompanyID,
			RequireGeofence: req.RequireGeofence,
			MaxShiftHours:   req.MaxShiftHours,
			AutoApproveDays: req.AutoApproveDays,
			Timezone:        req.Timezone,
			UpdatedAt:       s.clock.Now(),
		}
		if err := s.repo.SaveSettings(ctx, tx, &updated); err != nil {
			return err
		}

		entry := auditdomain.Entry{
			CompanyID:  claims.CompanyID,
			ActorID:    claims.UserID,
			Action:     auditdomain.ActionSettingsUpdated,
			TargetType: auditdomain.TargetCompanySettings,
			TargetID:   claims.CompanyID,
			After:      updated,
		}
		if before != nil {
			entry.Before = before
		}
		return s.auditSvc.Write(ctx, tx, entry)
	})
	if err != nil {
		return domain.CompanySettings{}, apperr.Internal(err)
	}
	return updated, nil
}

func (s *Service) ActiveJob(ctx context.Context, companyID, jobID snowflake.ID) (*domain.Job, error) {
	job, err := s.Job(ctx, companyID, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Active {
		return nil, domain.ErrJobNotFound
	}
	return job, nil
}

// Job finds a job regardless of its active flag.
func (s *Service) Job(ctx context.Context, companyID, jobID snowflake.ID) (*domain.Job, error) {
	if companyID == 0 || jobID == 0 {
		return nil, domain.ErrJobNotFound
	}
	job, err := s.repo.FindJob(ctx, s.db, companyID, jobID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if job == nil {
		return nil, domain.ErrJobNotFound
	}
	return job, nil
}

func (s *Service) CoveringAssignment(ctx context.Context, companyID, userID, jobID snowflake.ID, now time.Time) (*domain.Assignment, error) {
	settings, err := s.SettingsFor(ctx, companyID)
	if err != nil {
		return nil, err
	}
	today := domain.CivilDay(now, settings.Location())

	assignment, err := s.repo.FindCoveringAssignment(ctx, s.db, companyID, userID, jobID, today)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if assignment == nil || !assignment.Covers(today) {
		return nil, domain.ErrAssignmentNotFound
	}
	return assignment, nil
}

// SettingsFor returns stored settings or policy defaults when none exist.
func (s *Service) SettingsFor(ctx context.Context, companyID snowflake.ID) (domain.CompanySettings, error) {
	stored, err := s.repo.FindSettings(ctx, s.db, companyID)
	if err != nil {
		return domain.CompanySettings{}, apperr.Internal(err)
	}
	if stored != nil {
		return *stored, nil
	}
	policy := s.policy.Get()
	return domain.CompanySettings{
		CompanyID:     companyID,
		MaxShiftHours: policy.DefaultMaxShiftHours,
		Timezone:      policy.DefaultTimezone,
	}, nil
}

func (s *Service) AutoApproveSettings(ctx context.Context) ([]domain.CompanySettings, error) {
	rows, err := s.repo.ListAutoApproveSettings(ctx, s.db)
	if err != nil {
		return nil, err
	}
	out := make([]domain.CompanySettings, 0, len(rows))
	for _, row := range rows {
		if row == nil || row.AutoApproveDays == nil {
			continue
		}
		out = append(out, *row)
	}
	return out, nil
}

func managerClaims(ctx context.Context) (actor.Claims, error) {
	claims, ok := actor.FromContext(ctx)
	if !ok {
		return actor.Claims{}, apperr.ErrUnauthenticated
	}
	if !claims.Role.CanApprove() {
		return actor.Claims{}, apperr.ErrPermissionDenied
	}
	return claims, nil
}
