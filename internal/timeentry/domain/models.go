package domain

import (
	"database/sql/driver"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldclock/internal/geofence"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusDisputed Status = "disputed"
	StatusFlagged  Status = "flagged"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPending, StatusApproved, StatusRejected, StatusDisputed, StatusFlagged:
		return true
	}
	return false
}

type Origin string

const (
	OriginOnline  Origin = "online"
	OriginOffline Origin = "offline"
)

type Tag string

const (
	TagGeofenceOut  Tag = "geofence_out"
	TagExceeds12h   Tag = "exceeds_12h"
	TagAutoClockOut Tag = "auto_clockout"
	TagOverlap      Tag = "overlap"
	TagDisputed     Tag = "disputed"
)

func (t Tag) Valid() bool {
	switch t {
	case TagGeofenceOut, TagExceeds12h, TagAutoClockOut, TagOverlap, TagDisputed:
		return true
	}
	return false
}

// Tags is a set of exception tags. It is stored as ",a,b," so a single tag
// can be matched with LIKE '%,tag,%' on every dialect.
type Tags []Tag

func (t Tags) Has(tag Tag) bool {
	for _, v := range t {
		if v == tag {
			return true
		}
	}
	return false
}

// With returns a sorted copy including tag.
func (t Tags) With(tag Tag) Tags {
	if t.Has(tag) {
		return t.normalized()
	}
	return append(append(Tags{}, t...), tag).normalized()
}

// Without returns a sorted copy excluding tag.
func (t Tags) Without(tag Tag) Tags {
	out := make(Tags, 0, len(t))
	for _, v := range t {
		if v != tag {
			out = append(out, v)
		}
	}
	return out.normalized()
}

func (t Tags) normalized() Tags {
	out := make(Tags, 0, len(t))
	seen := make(map[Tag]struct{}, len(t))
	for _, v := range t {
		if _, ok := seen[v]; ok || v == "" {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (t Tags) Value() (driver.Value, error) {
	n := t.normalized()
	if len(n) == 0 {
		return "", nil
	}
	parts := make([]string, len(n))
	for i, v := range n {
		parts[i] = string(v)
	}
	return "," + strings.Join(parts, ",") + ",", nil
}

func (t *Tags) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*t = Tags{}
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("timeentry: cannot scan %T into Tags", src)
	}
	out := Tags{}
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, Tag(part))
		}
	}
	*t = out.normalized()
	return nil
}

// TagPattern is the LIKE pattern matching entries carrying tag.
func TagPattern(tag Tag) string {
	return "%," + string(tag) + ",%"
}

type TimeEntry struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	CompanyID snowflake.ID `gorm:"not null;index:idx_time_entries_company_status,priority:1;uniqueIndex:ux_time_entries_client_event,priority:1" json:"company_id"`
	UserID    snowflake.ID `gorm:"not null;index:idx_time_entries_user_clock_in,priority:1;uniqueIndex:ux_time_entries_client_event,priority:2" json:"user_id"`
	JobID     snowflake.ID `gorm:"not null;index" json:"job_id"`

	ClockInAt            time.Time `gorm:"not null;index:idx_time_entries_user_clock_in,priority:2" json:"clock_in_at"`
	ClockInLat           *float64  `json:"clock_in_lat,omitempty"`
	ClockInLng           *float64  `json:"clock_in_lng,omitempty"`
	ClockInAccuracy      *float64  `json:"clock_in_accuracy,omitempty"`
	ClockInGeofenceValid *bool     `json:"clock_in_geofence_valid"`

	ClockOutAt            *time.Time `json:"clock_out_at,omitempty"`
	ClockOutLat           *float64   `json:"clock_out_lat,omitempty"`
	ClockOutLng           *float64   `json:"clock_out_lng,omitempty"`
	ClockOutAccuracy      *float64   `json:"clock_out_accuracy,omitempty"`
	ClockOutGeofenceValid *bool      `json:"clock_out_geofence_valid,omitempty"`

	BreakMinutes  int    `gorm:"not null;default:0" json:"break_minutes"`
	Status        Status `gorm:"type:varchar(16);not null;index:idx_time_entries_company_status,priority:2" json:"status"`
	ExceptionTags Tags   `gorm:"type:varchar(255);not null;default:''" json:"exception_tags"`
	Origin        Origin `gorm:"type:varchar(16);not null" json:"origin"`
	NeedsReview   bool   `gorm:"not null" json:"needs_review"`

	DeviceID      *string `gorm:"type:varchar(128)" json:"device_id,omitempty"`
	ClientEventID *string `gorm:"type:varchar(128);uniqueIndex:ux_time_entries_client_event,priority:3" json:"client_event_id,omitempty"`

	ApprovedBy      *snowflake.ID `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time    `json:"approved_at,omitempty"`
	RejectedBy      *snowflake.ID `json:"rejected_by,omitempty"`
	RejectedAt      *time.Time    `json:"rejected_at,omitempty"`
	RejectionReason *string       `json:"rejection_reason,omitempty"`
	DisputeReason   *string       `json:"dispute_reason,omitempty"`

	InvoiceID  *snowflake.ID `gorm:"index" json:"invoice_id,omitempty"`
	InvoicedAt *time.Time    `json:"invoiced_at,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (TimeEntry) TableName() string { return "time_entries" }

// Locked reports whether the entry has been billed.
func (e TimeEntry) Locked() bool {
	return e.InvoiceID != nil
}

func (e TimeEntry) Closed() bool {
	return e.ClockOutAt != nil
}

// Duration is the worked span; zero while the entry is active.
func (e TimeEntry) Duration() time.Duration {
	if e.ClockOutAt == nil {
		return 0
	}
	return e.ClockOutAt.Sub(e.ClockInAt)
}

// AwaitingApproval reports whether the entry sits in the approval queue.
func (e TimeEntry) AwaitingApproval() bool {
	return e.Status == StatusPending || e.Status == StatusFlagged
}

func (e TimeEntry) ClockInPosition() *geofence.Position {
	return position(e.ClockInLat, e.ClockInLng, e.ClockInAccuracy)
}

func position(lat, lng, accuracy *float64) *geofence.Position {
	if lat == nil || lng == nil {
		return nil
	}
	pos := &geofence.Position{Lat: *lat, Lng: *lng}
	if accuracy != nil {
		pos.Accuracy = *accuracy
	}
	return pos
}

// ReviewStatus is flagged when the entry needs attention, else pending.
func ReviewStatus(tags Tags, needsReview bool) Status {
	if len(tags) > 0 || needsReview {
		return StatusFlagged
	}
	return StatusPending
}

// DurationHours rounds to two decimals for display.
func DurationHours(d time.Duration) float64 {
	return float64(int64(d.Hours()*100+0.5)) / 100
}
