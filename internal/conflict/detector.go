package conflict

import (
	"fmt"
	"sort"
	"time"
)

const (
	DefaultMissingBreakThreshold = 8 * time.Hour
	DefaultMaxShift              = 12 * time.Hour
	DefaultBackdateWindow        = 7 * 24 * time.Hour
	DefaultBreakMinutes          = 30
)

type Config struct {
	MissingBreakThreshold time.Duration
	MaxShift              time.Duration
	BackdateWindow        time.Duration
	// Location is the company timezone used for DST checks.
	Location *time.Location
}

type Detector struct {
	cfg Config
}

func NewDetector(cfg Config) *Detector {
	if cfg.MissingBreakThreshold <= 0 {
		cfg.MissingBreakThreshold = DefaultMissingBreakThreshold
	}
	if cfg.MaxShift <= 0 {
		cfg.MaxShift = DefaultMaxShift
	}
	if cfg.BackdateWindow <= 0 {
		cfg.BackdateWindow = DefaultBackdateWindow
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Detector{cfg: cfg}
}

// Detect evaluates every rule for candidate against others and returns the
// conflicts ordered by severity, then rule order.
func (d *Detector) Detect(candidate Entry, others []Entry, now time.Time) []Conflict {
	var out []Conflict
	for _, kind := range AllKinds() {
		out = append(out, d.evaluate(kind, candidate, others, now)...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Severity.rank() < out[j].Severity.rank()
	})
	return out
}

func (d *Detector) evaluate(kind Kind, candidate Entry, others []Entry, now time.Time) []Conflict {
	switch kind {
	case KindOverlap:
		return d.overlaps(candidate, others)
	case KindNegativeTime:
		return d.negativeTime(candidate)
	case KindMissingBreak:
		return d.missingBreak(candidate)
	case KindExcessiveHours:
		return d.excessiveHours(candidate)
	case KindDSTTransition:
		return d.dstTransition(candidate)
	case KindBackdated:
		return d.backdated(candidate)
	case KindFutureEntry:
		return d.futureEntry(candidate, now)
	}
	panic(fmt.Sprintf("conflict: unhandled kind %d", int(kind)))
}

func (d *Detector) overlaps(candidate Entry, others []Entry) []Conflict {
	if !candidate.closed() || candidate.ClockOut.Before(candidate.ClockIn) {
		return nil
	}

	sorted := make([]Entry, 0, len(others))
	for _, other := range others {
		if other.ID == candidate.ID || !other.closed() || other.ClockOut.Before(other.ClockIn) {
			continue
		}
		sorted = append(sorted, other)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ClockIn.Before(sorted[j].ClockIn)
	})

	var out []Conflict
	for _, other := range sorted {
		window := Window{
			Start: maxTime(candidate.ClockIn, other.ClockIn),
			End:   minTime(*candidate.ClockOut, *other.ClockOut),
		}
		if !window.Start.Before(window.End) {
			continue
		}

		otherID := other.ID
		adjust := QuickFix{ID: FixAdjustTimes, Label: "Adjust times to remove the overlap"}
		if candidate.ClockIn.Before(other.ClockIn) {
			adjust.Params = map[string]any{"entry_id": candidate.ID.String(), "clock_out": other.ClockIn}
		} else {
			adjust.Params = map[string]any{"entry_id": candidate.ID.String(), "clock_in": *other.ClockOut}
		}

		out = append(out, Conflict{
			Kind:     KindOverlap,
			Severity: KindOverlap.Severity(),
			Message:  "Entry overlaps another entry for the same worker",
			Detail: fmt.Sprintf("overlap %s to %s (%s) with entry %s",
				window.Start.UTC().Format(time.RFC3339),
				window.End.UTC().Format(time.RFC3339),
				window.Duration(),
				other.ID,
			),
			EntryID: candidate.ID,
			OtherID: &otherID,
			Window:  &window,
			QuickFixes: []QuickFix{
				adjust,
				{ID: FixDeleteDuplicate, Label: "Delete the duplicate entry", Params: map[string]any{"entry_id": candidate.ID.String()}},
			},
		})
	}
	return out
}

func (d *Detector) negativeTime(candidate Entry) []Conflict {
	if !candidate.closed() || !candidate.ClockOut.Before(candidate.ClockIn) {
		return nil
	}
	return []Conflict{{
		Kind:     KindNegativeTime,
		Severity: KindNegativeTime.Severity(),
		Message:  "Clock-out is before clock-in",
		Detail:   fmt.Sprintf("clock_in=%s clock_out=%s", candidate.ClockIn.UTC().Format(time.RFC3339), candidate.ClockOut.UTC().Format(time.RFC3339)),
		EntryID:  candidate.ID,
		QuickFixes: []QuickFix{{
			ID:     FixSwapTimes,
			Label:  "Swap clock-in and clock-out",
			Params: map[string]any{"clock_in": *candidate.ClockOut, "clock_out": candidate.ClockIn},
		}},
	}}
}

func (d *Detector) missingBreak(candidate Entry) []Conflict {
	duration, ok := shiftDuration(candidate)
	if !ok || duration < d.cfg.MissingBreakThreshold || candidate.BreakMinutes > 0 {
		return nil
	}
	return []Conflict{{
		Kind:     KindMissingBreak,
		Severity: KindMissingBreak.Severity(),
		Message:  "Long shift has no recorded break",
		Detail:   fmt.Sprintf("shift of %s meets the %s break threshold", duration, d.cfg.MissingBreakThreshold),
		EntryID:  candidate.ID,
		QuickFixes: []QuickFix{{
			ID:     FixAddBreak,
			Label:  "Add a 30 minute break",
			Params: map[string]any{"minutes": DefaultBreakMinutes},
		}},
	}}
}

func (d *Detector) excessiveHours(candidate Entry) []Conflict {
	duration, ok := shiftDuration(candidate)
	if !ok || duration <= d.cfg.MaxShift {
		return nil
	}
	return []Conflict{{
		Kind:     KindExcessiveHours,
		Severity: KindExcessiveHours.Severity(),
		Message:  "Shift exceeds the maximum length",
		Detail:   fmt.Sprintf("shift of %s exceeds %s", duration, d.cfg.MaxShift),
		EntryID:  candidate.ID,
		QuickFixes: []QuickFix{{
			ID:     FixSplitShift,
			Label:  "Split into multiple shifts",
			Params: map[string]any{"split_at": candidate.ClockIn.Add(d.cfg.MaxShift)},
		}},
	}}
}

// dstTransition compares zone offsets at both ends of the shift. It only
// annotates; duration arithmetic stays in absolute time.
func (d *Detector) dstTransition(candidate Entry) []Conflict {
	if _, ok := shiftDuration(candidate); !ok {
		return nil
	}
	_, startOffset := candidate.ClockIn.In(d.cfg.Location).Zone()
	_, endOffset := candidate.ClockOut.In(d.cfg.Location).Zone()
	if startOffset == endOffset {
		return nil
	}
	return []Conflict{{
		Kind:     KindDSTTransition,
		Severity: KindDSTTransition.Severity(),
		Message:  "Shift spans a daylight saving change",
		Detail:   fmt.Sprintf("utc offset changes from %ds to %ds in %s", startOffset, endOffset, d.cfg.Location),
		EntryID:  candidate.ID,
	}}
}

func (d *Detector) backdated(candidate Entry) []Conflict {
	if candidate.CreatedAt.IsZero() || candidate.CreatedAt.Sub(candidate.ClockIn) <= d.cfg.BackdateWindow {
		return nil
	}
	return []Conflict{{
		Kind:     KindBackdated,
		Severity: KindBackdated.Severity(),
		Message:  "Entry was recorded long after the shift started",
		Detail:   fmt.Sprintf("created %s after clock-in", candidate.CreatedAt.Sub(candidate.ClockIn)),
		EntryID:  candidate.ID,
	}}
}

func (d *Detector) futureEntry(candidate Entry, now time.Time) []Conflict {
	if !candidate.ClockIn.After(now) {
		return nil
	}
	return []Conflict{{
		Kind:     KindFutureEntry,
		Severity: KindFutureEntry.Severity(),
		Message:  "Clock-in is in the future",
		Detail:   fmt.Sprintf("clock_in=%s now=%s", candidate.ClockIn.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339)),
		EntryID:  candidate.ID,
		QuickFixes: []QuickFix{{
			ID:     FixResetClockIn,
			Label:  "Reset clock-in to now",
			Params: map[string]any{"clock_in": now},
		}},
	}}
}

func shiftDuration(e Entry) (time.Duration, bool) {
	if !e.closed() || e.ClockOut.Before(e.ClockIn) {
		return 0, false
	}
	return e.ClockOut.Sub(e.ClockIn), true
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
