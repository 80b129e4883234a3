// Package conflict analyzes a time entry against the same user's other
// entries. It performs no I/O.
package conflict

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	default:
		return 2
	}
}

// Kind enumerates every conflict the detector can raise. The set is closed:
// switches over Kind must handle each value.
type Kind int

const (
	KindOverlap Kind = iota + 1
	KindNegativeTime
	KindMissingBreak
	KindExcessiveHours
	KindDSTTransition
	KindBackdated
	KindFutureEntry
)

// AllKinds lists kinds in rule evaluation order.
func AllKinds() []Kind {
	return []Kind{
		KindOverlap,
		KindNegativeTime,
		KindMissingBreak,
		KindExcessiveHours,
		KindDSTTransition,
		KindBackdated,
		KindFutureEntry,
	}
}

func (k Kind) String() string {
	switch k {
	case KindOverlap:
		return "overlap"
	case KindNegativeTime:
		return "negative_time"
	case KindMissingBreak:
		return "missing_break"
	case KindExcessiveHours:
		return "excessive_hours"
	case KindDSTTransition:
		return "dst_transition"
	case KindBackdated:
		return "backdated"
	case KindFutureEntry:
		return "future_entry"
	}
	panic(fmt.Sprintf("conflict: unknown kind %d", int(k)))
}

func (k Kind) Severity() Severity {
	switch k {
	case KindOverlap, KindNegativeTime:
		return SeverityCritical
	case KindMissingBreak, KindExcessiveHours, KindFutureEntry:
		return SeverityWarning
	case KindDSTTransition, KindBackdated:
		return SeverityInfo
	}
	panic(fmt.Sprintf("conflict: unknown kind %d", int(k)))
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	for _, candidate := range AllKinds() {
		if candidate.String() == string(text) {
			*k = candidate
			return nil
		}
	}
	return fmt.Errorf("conflict: unknown kind %q", string(text))
}

const (
	FixAdjustTimes     = "adjust_times"
	FixDeleteDuplicate = "delete_duplicate"
	FixSwapTimes       = "swap_times"
	FixAddBreak        = "add_break"
	FixSplitShift      = "split_shift"
	FixResetClockIn    = "reset_clock_in"
)

// QuickFix is a suggested remediation. It is never applied automatically.
type QuickFix struct {
	ID     string         `json:"id"`
	Label  string         `json:"label"`
	Params map[string]any `json:"params,omitempty"`
}

// Window is a half-open interval [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

type Conflict struct {
	Kind       Kind          `json:"kind"`
	Severity   Severity      `json:"severity"`
	Message    string        `json:"message"`
	Detail     string        `json:"detail"`
	EntryID    snowflake.ID  `json:"entry_id"`
	OtherID    *snowflake.ID `json:"other_entry_id,omitempty"`
	Window     *Window       `json:"window,omitempty"`
	QuickFixes []QuickFix    `json:"quick_fixes,omitempty"`
}

// Blocking reports whether the conflict must stop an entry from being
// created or edited.
func (c Conflict) Blocking() bool {
	return c.Severity == SeverityCritical
}

func HasCritical(conflicts []Conflict) bool {
	for _, c := range conflicts {
		if c.Blocking() {
			return true
		}
	}
	return false
}

func HasKind(conflicts []Conflict, kind Kind) bool {
	for _, c := range conflicts {
		if c.Kind == kind {
			return true
		}
	}
	return false
}

// Entry is the detector's view of a time entry.
type Entry struct {
	ID           snowflake.ID
	ClockIn      time.Time
	ClockOut     *time.Time
	BreakMinutes int
	CreatedAt    time.Time
}

func (e Entry) closed() bool {
	return e.ClockOut != nil
}
