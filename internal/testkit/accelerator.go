package testkit

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	timeentrydomain "github.com/smallbiznis/fieldclock/internal/timeentry/domain"
	"gorm.io/gorm"
)

// TimeAccelerator rewrites stored timestamps so sweeps can be exercised
// without waiting.
type TimeAccelerator struct {
	db *gorm.DB
}

func NewTimeAccelerator(db *gorm.DB) *TimeAccelerator {
	return &TimeAccelerator{db: db}
}

// BackdateClockIn moves an entry's clock-in earlier by d.
func (ta *TimeAccelerator) BackdateClockIn(ctx context.Context, entryID snowflake.ID, d time.Duration) error {
	var entry timeentrydomain.TimeEntry
	if err := ta.db.WithContext(ctx).First(&entry, "id = ?", entryID).Error; err != nil {
		return err
	}
	return ta.db.WithContext(ctx).Exec(
		`UPDATE time_entries
		 SET clock_in_at = ?
		 WHERE id = ?`,
		entry.ClockInAt.Add(-d),
		entryID,
	).Error
}

// AgeClosedEntries moves clock-out of every closed entry of a company back
// by d, making them eligible for auto-approval.
func (ta *TimeAccelerator) AgeClosedEntries(ctx context.Context, companyID snowflake.ID, d time.Duration) (int64, error) {
	var entries []timeentrydomain.TimeEntry
	err := ta.db.WithContext(ctx).
		Where("company_id = ? AND clock_out_at IS NOT NULL", companyID).
		Find(&entries).Error
	if err != nil {
		return 0, err
	}
	var n int64
	for _, entry := range entries {
		result := ta.db.WithContext(ctx).Exec(
			`UPDATE time_entries
			 SET clock_in_at = ?, clock_out_at = ?
			 WHERE id = ?`,
			entry.ClockInAt.Add(-d),
			entry.ClockOutAt.Add(-d),
			entry.ID,
		)
		if result.Error != nil {
			return n, result.Error
		}
		n += result.RowsAffected
	}
	return n, nil
}

// EntryInfo summarises an entry for assertions.
type EntryInfo struct {
	ID          snowflake.ID
	Status      timeentrydomain.Status
	Tags        timeentrydomain.Tags
	NeedsReview bool
	Duration    time.Duration
	Locked      bool
}

func (ta *TimeAccelerator) GetEntryInfo(ctx context.Context, entryID snowflake.ID) (*EntryInfo, error) {
	var entry timeentrydomain.TimeEntry
	if err := ta.db.WithContext(ctx).First(&entry, "id = ?", entryID).Error; err != nil {
		return nil, err
	}
	return &EntryInfo{
		ID:          entry.ID,
		Status:      entry.Status,
		Tags:        entry.ExceptionTags,
		NeedsReview: entry.NeedsReview,
		Duration:    entry.Duration(),
		Locked:      entry.Locked(),
	}, nil
}
