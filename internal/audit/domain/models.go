package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeSystem ActorType = "system"
)

const (
	ActionClockIn           = "time_entry.clock_in"
	ActionClockOut          = "time_entry.clock_out"
	ActionAutoClockOut      = "time_entry.auto_clock_out"
	ActionDispute           = "time_entry.dispute"
	ActionEdit              = "time_entry.edit"
	ActionApprove           = "time_entry.approve"
	ActionReject            = "time_entry.reject"
	ActionAutoApprove       = "time_entry.auto_approve"
	ActionInvoiceFromTime   = "invoice.create_from_time"
	ActionJobCreated        = "job.create"
	ActionAssignmentCreated = "assignment.create"
	ActionSettingsUpdated   = "company_settings.update"
	ActionAccessDenied      = "authorization.denied"
)

const (
	TargetTimeEntry       = "time_entry"
	TargetInvoice         = "invoice"
	TargetJob             = "job"
	TargetAssignment      = "assignment"
	TargetCompanySettings = "company_settings"
	TargetAuthorization   = "authorization"
)

// AuditLog is an append-only record of one mutation.
type AuditLog struct {
	ID         snowflake.ID   `gorm:"primaryKey" json:"id"`
	CompanyID  snowflake.ID   `gorm:"not null;index:idx_audit_entries_company_created,priority:1" json:"company_id"`
	ActorType  string         `gorm:"type:varchar(16);not null" json:"actor_type"`
	ActorID    *snowflake.ID  `json:"actor_id,omitempty"`
	Action     string         `gorm:"type:varchar(64);not null;index" json:"action"`
	TargetType string         `gorm:"type:varchar(32);not null" json:"target_type"`
	TargetID   snowflake.ID   `gorm:"not null;index" json:"target_id"`
	Before     datatypes.JSON `json:"before,omitempty"`
	After      datatypes.JSON `json:"after,omitempty"`
	CreatedAt  time.Time      `gorm:"not null;index:idx_audit_entries_company_created,priority:2" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_entries" }

// AuditCursor marks the last row of a page.
type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	CompanyID  snowflake.ID
	Action     string
	TargetType string
	TargetID   snowflake.ID
	StartAt    *time.Time
	EndAt      *time.Time
	Cursor     *AuditCursor
	Limit      int
}
