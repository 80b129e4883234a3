package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Job is a work site with a circular geofence.
type Job struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	CompanyID       snowflake.ID `gorm:"not null;index" json:"company_id"`
	Name            string       `gorm:"type:varchar(255);not null" json:"name"`
	GeofenceLat     float64      `gorm:"not null" json:"geofence_lat"`
	GeofenceLng     float64      `gorm:"not null" json:"geofence_lng"`
	GeofenceRadiusM float64      `gorm:"not null" json:"geofence_radius_m"`
	Active          bool         `gorm:"not null" json:"active"`
	CreatedAt       time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"not null" json:"updated_at"`
}

func (Job) TableName() string { return "jobs" }

// Assignment makes a user eligible to clock in at a job between two civil
// dates. Dates are stored as midnight UTC of the company-local day.
type Assignment struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	CompanyID snowflake.ID `gorm:"not null;index:idx_assignments_lookup,priority:1" json:"company_id"`
	UserID    snowflake.ID `gorm:"not null;index:idx_assignments_lookup,priority:2" json:"user_id"`
	JobID     snowflake.ID `gorm:"not null;index:idx_assignments_lookup,priority:3" json:"job_id"`
	Active    bool         `gorm:"not null" json:"active"`
	StartDate time.Time    `gorm:"not null" json:"start_date"`
	EndDate   *time.Time   `json:"end_date,omitempty"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
}

func (Assignment) TableName() string { return "assignments" }

// Covers reports whether day (midnight UTC of a civil date) is inside the window.
func (a Assignment) Covers(day time.Time) bool {
	if !a.Active || day.Before(a.StartDate) {
		return false
	}
	return a.EndDate == nil || !day.After(*a.EndDate)
}

// CompanySettings is the per-company attendance configuration.
type CompanySettings struct {
	CompanyID       snowflake.ID `gorm:"primaryKey" json:"company_id"`
	RequireGeofence bool         `gorm:"not null;default:false" json:"require_geofence"`
	MaxShiftHours   int          `gorm:"not null;default:12" json:"max_shift_hours"`
	AutoApproveDays *int         `json:"auto_approve_days,omitempty"`
	Timezone        string       `gorm:"type:varchar(64);not null;default:'UTC'" json:"timezone"`
	UpdatedAt       time.Time    `gorm:"not null" json:"updated_at"`
}

func (CompanySettings) TableName() string { return "company_settings" }

// Location resolves the company timezone, falling back to UTC.
func (s CompanySettings) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// MaxShift is the configured auto clock-out threshold.
func (s CompanySettings) MaxShift() time.Duration {
	return time.Duration(s.MaxShiftHours) * time.Hour
}

// CivilDay returns midnight UTC of t's calendar date in loc.
func CivilDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
