package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldclock/pkg/apperr"
	"github.com/smallbiznis/fieldclock/pkg/db/pagination"
	"gorm.io/gorm"
)

// Entry describes one mutation to record. ActorID zero means the system.
type Entry struct {
	CompanyID  snowflake.ID
	ActorID    snowflake.ID
	Action     string
	TargetType string
	TargetID   snowflake.ID
	Before     any
	After      any
}

type ListAuditLogRequest struct {
	pagination.Pagination
	Action     string     `form:"action"`
	TargetType string     `form:"target_type"`
	TargetID   string     `form:"target_id"`
	StartAt    *time.Time `form:"start_at" time_format:"2006-01-02T15:04:05Z07:00"`
	EndAt      *time.Time `form:"end_at" time_format:"2006-01-02T15:04:05Z07:00"`
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
}

type Service interface {
	// Write inserts the entry using tx so it commits with the mutation.
	Write(ctx context.Context, tx *gorm.DB, entry Entry) error
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

var (
	ErrInvalidPageToken = apperr.New(apperr.KindInvalidArgument, "invalid_page_token")
	ErrInvalidTimeRange = apperr.New(apperr.KindInvalidArgument, "invalid_time_range")
	ErrInvalidTarget    = apperr.New(apperr.KindInvalidArgument, "invalid_target_id")
	ErrInvalidAction    = apperr.New(apperr.KindInvalidArgument, "invalid_action")
)
