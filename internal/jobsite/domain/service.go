package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldclock/pkg/apperr"
	"gorm.io/gorm"
)

const (
	MinMaxShiftHours   = 8
	MaxMaxShiftHours   = 24
	MinAutoApproveDays = 1
	MaxAutoApproveDays = 30
)

type Repository interface {
	InsertJob(ctx context.Context, db *gorm.DB, job *Job) error
	FindJob(ctx context.Context, db *gorm.DB, companyID, jobID snowflake.ID) (*Job, error)
	ListJobs(ctx context.Context, db *gorm.DB, companyID snowflake.ID) ([]*Job, error)
	InsertAssignment(ctx context.Context, db *gorm.DB, assignment *Assignment) error
	FindCoveringAssignment(ctx context.Context, db *gorm.DB, companyID, userID, jobID snowflake.ID, day time.Time) (*Assignment, error)
	FindSettings(ctx context.Context, db *gorm.DB, companyID snowflake.ID) (*CompanySettings, error)
	SaveSettings(ctx context.Context, db *gorm.DB, settings *CompanySettings) error
	ListAutoApproveSettings(ctx context.Context, db *gorm.DB) ([]*CompanySettings, error)
}

type CreateJobRequest struct {
	Name            string  `json:"name" validate:"required,max=255"`
	GeofenceLat     float64 `json:"geofence_lat" validate:"latitude"`
	GeofenceLng     float64 `json:"geofence_lng" validate:"longitude"`
	GeofenceRadiusM float64 `json:"geofence_radius_m" validate:"gte=75,lte=250"`
}

type CreateAssignmentRequest struct {
	UserID    snowflake.ID `json:"user_id" validate:"required"`
	JobID     snowflake.ID `json:"job_id" validate:"required"`
	StartDate string       `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   *string      `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

type UpdateSettingsRequest struct {
	RequireGeofence bool   `json:"require_geofence"`
	MaxShiftHours   int    `json:"max_shift_hours" validate:"gte=8,lte=24"`
	AutoApproveDays *int   `json:"auto_approve_days,omitempty" validate:"omitempty,gte=1,lte=30"`
	Timezone        string `json:"timezone" validate:"required,timezone"`
}

type Service interface {
	CreateJob(ctx context.Context, req CreateJobRequest) (*Job, error)
	ListJobs(ctx context.Context) ([]*Job, error)
	CreateAssignment(ctx context.Context, req CreateAssignmentRequest) (*Assignment, error)
	GetSettings(ctx context.Context) (CompanySettings, error)
	UpdateSettings(ctx context.Context, req UpdateSettingsRequest) (CompanySettings, error)

	// Lookups used by other engine components; they do not read the caller.
	ActiveJob(ctx context.Context, companyID, jobID snowflake.ID) (*Job, error)
	Job(ctx context.Context, companyID, jobID snowflake.ID) (*Job, error)
	CoveringAssignment(ctx context.Context, companyID, userID, jobID snowflake.ID, now time.Time) (*Assignment, error)
	SettingsFor(ctx context.Context, companyID snowflake.ID) (CompanySettings, error)
	AutoApproveSettings(ctx context.Context) ([]CompanySettings, error)
}

var (
	ErrJobNotFound        = apperr.New(apperr.KindNotFound, "job_not_found")
	ErrAssignmentNotFound = apperr.New(apperr.KindNotFound, "assignment_not_found")
	ErrInvalidJob         = apperr.New(apperr.KindInvalidArgument, "invalid_job")
	ErrInvalidAssignment  = apperr.New(apperr.KindInvalidArgument, "invalid_assignment")
	ErrInvalidSettings    = apperr.New(apperr.KindInvalidArgument, "invalid_company_settings")
)
