package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldclock/internal/conflict"
	"github.com/smallbiznis/fieldclock/internal/geofence"
	"github.com/smallbiznis/fieldclock/pkg/apperr"
	"github.com/smallbiznis/fieldclock/pkg/db/pagination"
	"gorm.io/gorm"
)

const (
	MaxShiftHard       = 24 * time.Hour
	ExceedsTagDuration = 12 * time.Hour

	// OverlapLookback bounds the neighbour query used for conflict checks.
	OverlapLookback = 24 * time.Hour

	WarningOutsideGeofence = "outside geofence"
	WarningNoPosition      = "no position supplied"
)

type ClockInRequest struct {
	UserID        snowflake.ID       `json:"user_id"`
	JobID         snowflake.ID       `json:"job_id" validate:"required"`
	Position      *geofence.Position `json:"position,omitempty"`
	ClientEventID string             `json:"client_event_id" validate:"required,max=128"`
	DeviceID      *string            `json:"device_id,omitempty" validate:"omitempty,max=128"`
	Offline       bool               `json:"offline"`
}

type ClockInResponse struct {
	EntryID        snowflake.ID `json:"entry_id"`
	GeofenceValid  *bool        `json:"geofence_valid"`
	DistanceMeters *float64     `json:"distance_meters,omitempty"`
	NeedsReview    bool         `json:"needs_review"`
	Warning        string       `json:"warning,omitempty"`
}

type ClockOutRequest struct {
	EntryID  snowflake.ID       `json:"-" validate:"required"`
	Position *geofence.Position `json:"position,omitempty"`
}

type ClockOutResponse struct {
	EntryID       snowflake.ID `json:"entry_id"`
	DurationHours float64      `json:"duration_hours"`
	Status        Status       `json:"status"`
	ExceptionTags Tags         `json:"exception_tags"`
	NeedsReview   bool         `json:"needs_review"`
	Warning       string       `json:"warning,omitempty"`
}

type DisputeRequest struct {
	EntryID snowflake.ID `json:"-" validate:"required"`
	Reason  string       `json:"reason" validate:"required,max=1000"`
}

type EditEntryRequest struct {
	EntryID      snowflake.ID `json:"-" validate:"required"`
	ClockInAt    *time.Time   `json:"clock_in_at,omitempty"`
	ClockOutAt   *time.Time   `json:"clock_out_at,omitempty"`
	BreakMinutes *int         `json:"break_minutes,omitempty" validate:"omitempty,gte=0,lte=720"`
	Reason       string       `json:"reason" validate:"required,max=1000"`
}

type ListEntriesRequest struct {
	pagination.Pagination
	Status      string `form:"status"`
	Tag         string `form:"tag"`
	UserID      string `form:"user_id"`
	NeedsReview *bool  `form:"needs_review"`
}

type ListEntriesResponse struct {
	pagination.PageInfo
	Entries []*TimeEntry `json:"entries"`
}

type ConflictReport struct {
	EntryID   snowflake.ID        `json:"entry_id"`
	Conflicts []conflict.Conflict `json:"conflicts"`
	Blocking  bool                `json:"blocking"`
}

type ListFilter struct {
	CompanyID   snowflake.ID
	UserID      *snowflake.ID
	Status      *Status
	Tag         *Tag
	NeedsReview *bool
	Cursor      *EntryCursor
	Limit       int
}

type EntryCursor struct {
	ID        snowflake.ID
	ClockInAt time.Time
}

// Fields is a partial column update.
type Fields map[string]any

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *TimeEntry) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*TimeEntry, error)
	// FindByIDForUpdate takes a row lock where the dialect supports it.
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*TimeEntry, error)
	FindByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID, lock bool) ([]*TimeEntry, error)
	FindByClientEvent(ctx context.Context, db *gorm.DB, companyID, userID snowflake.ID, clientEventID string) (*TimeEntry, error)
	FindActiveForUser(ctx context.Context, db *gorm.DB, companyID, userID snowflake.ID, lock bool) ([]*TimeEntry, error)
	// ListClosedForUser returns closed entries whose clock-in falls in [from, to).
	ListClosedForUser(ctx context.Context, db *gorm.DB, companyID, userID snowflake.ID, from, to time.Time) ([]*TimeEntry, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*TimeEntry, error)
	// ListActiveStartedBefore pages active entries by (clock_in_at, id),
	// starting after the cursor when one is given.
	ListActiveStartedBefore(ctx context.Context, db *gorm.DB, cutoff time.Time, after *EntryCursor, limit int) ([]*TimeEntry, error)
	ListPendingClosedBefore(ctx context.Context, db *gorm.DB, companyID snowflake.ID, cutoff time.Time, limit int) ([]*TimeEntry, error)
	// UpdateIfStatus applies fields to an un-invoiced entry still in one of
	// the expected statuses and returns the affected row count.
	UpdateIfStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, expected []Status, fields Fields) (int64, error)
	// LockForInvoice stamps approved, un-invoiced entries with invoiceID.
	LockForInvoice(ctx context.Context, db *gorm.DB, ids []snowflake.ID, invoiceID snowflake.ID, at time.Time) (int64, error)
}

// ClockEventLimiter throttles clock events per worker.
type ClockEventLimiter interface {
	Allow(ctx context.Context, companyID, userID snowflake.ID) (bool, error)
}

type Service interface {
	ClockIn(ctx context.Context, req ClockInRequest) (ClockInResponse, error)
	ClockOut(ctx context.Context, req ClockOutRequest) (ClockOutResponse, error)
	DisputeEntry(ctx context.Context, req DisputeRequest) (*TimeEntry, error)
	EditEntry(ctx context.Context, req EditEntryRequest) (*TimeEntry, error)
	GetEntry(ctx context.Context, entryID snowflake.ID) (*TimeEntry, error)
	ListEntries(ctx context.Context, req ListEntriesRequest) (ListEntriesResponse, error)
	DetectConflicts(ctx context.Context, entryID snowflake.ID) (ConflictReport, error)

	// AutoClockOut closes active entries past their company's maximum shift.
	AutoClockOut(ctx context.Context, limit int) (int, error)
}

var (
	ErrInvalidRequest     = apperr.New(apperr.KindInvalidArgument, "invalid_request")
	ErrInvalidPosition    = apperr.New(apperr.KindInvalidArgument, "invalid_position")
	ErrInvalidPageToken   = apperr.New(apperr.KindInvalidArgument, "invalid_page_token")
	ErrEntryNotFound      = apperr.New(apperr.KindNotFound, "entry_not_found")
	ErrGeofenceViolation  = apperr.New(apperr.KindFailedPrecondition, "geofence_violation")
	ErrActiveEntryExists  = apperr.New(apperr.KindFailedPrecondition, "active_entry_exists")
	ErrEntryNotActive     = apperr.New(apperr.KindFailedPrecondition, "entry_not_active")
	ErrEntryNotClosed     = apperr.New(apperr.KindFailedPrecondition, "entry_not_closed")
	ErrShiftExceeds24h    = apperr.New(apperr.KindFailedPrecondition, "shift_exceeds_24h")
	ErrEmptyShift         = apperr.New(apperr.KindFailedPrecondition, "clock_out_not_after_clock_in")
	ErrEntryLocked        = apperr.New(apperr.KindFailedPrecondition, "entry_locked")
	ErrNotDisputable      = apperr.New(apperr.KindFailedPrecondition, "entry_not_disputable")
	ErrConflictDetected   = apperr.New(apperr.KindFailedPrecondition, "conflict_detected")
	ErrEntryModified      = apperr.New(apperr.KindFailedPrecondition, "entry_modified")
	ErrClockEventThrottle = apperr.New(apperr.KindFailedPrecondition, "clock_event_rate_limited")
)
