package conflicts

import (
	"errors"
	"fmt"
	"strings"

	"scheduleguard/internal/model"
	"scheduleguard/internal/schedule"
)

var ErrUnknownStrategy = errors.New("unknown resolution strategy")

// Strategy is the provider's answer to a non-empty conflict list.
type Strategy string

const (
	// StrategyOverlap commits the new schedule unchanged; bookings lose.
	StrategyOverlap Strategy = "overlap"
	// StrategyMakePriority carves the overlapping breaks out for the booked dates.
	StrategyMakePriority Strategy = "make_priority"
)

// ParseStrategy accepts "overlap", "make_priority" and "make-priority".
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(StrategyOverlap):
		return StrategyOverlap, nil
	case string(StrategyMakePriority), "make-priority", "makepriority":
		return StrategyMakePriority, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}

// PriorityScope controls how far Make Priority reaches.
type PriorityScope string

const (
	// ScopeDate only records break exclusions for the booked dates.
	ScopeDate PriorityScope = "date"
	// ScopeWeekday also drops the overlapping breaks from the weekday template.
	ScopeWeekday PriorityScope = "weekday"
)

// ParsePriorityScope defaults to ScopeDate for an empty value.
func ParsePriorityScope(s string) (PriorityScope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ScopeDate):
		return ScopeDate, nil
	case string(ScopeWeekday):
		return ScopeWeekday, nil
	}
	return "", fmt.Errorf("unknown priority scope %q", s)
}

// ResolveOverlap returns a copy of newSchedule, unchanged.
func ResolveOverlap(newSchedule *schedule.WeeklySchedule) *schedule.WeeklySchedule {
	return newSchedule.Clone()
}

// ResolveMakePriority returns a copy of newSchedule where every break that
// overlaps a flagged booking is recorded in BreakExclusions under the
// booking's date. With ScopeWeekday those breaks are also removed from the
// day's Breaks.
func ResolveMakePriority(newSchedule *schedule.WeeklySchedule, flagged []model.Booking, scope PriorityScope) *schedule.WeeklySchedule {
	out := newSchedule.Clone()
	if out == nil {
		return nil
	}
	for _, b := range flagged {
		wd, ok := b.Weekday()
		if !ok {
			continue
		}
		day := out.Day(wd)
		if day == nil || len(day.Breaks) == 0 {
			continue
		}

		var hit, kept []schedule.TimeRange
		for _, br := range day.Breaks {
			if schedule.IntervalsOverlap(b.StartTime, b.EndTime, br.Start, br.End) {
				hit = append(hit, br)
			} else {
				kept = append(kept, br)
			}
		}
		if len(hit) == 0 {
			continue
		}

		if day.BreakExclusions == nil {
			day.BreakExclusions = make(map[string][]schedule.TimeRange)
		}
		for _, br := range hit {
			day.BreakExclusions[b.ScheduledDate] = appendUnique(day.BreakExclusions[b.ScheduledDate], br)
		}
		if scope == ScopeWeekday {
			if kept == nil {
				kept = []schedule.TimeRange{}
			}
			day.Breaks = kept
		}
	}
	return out
}

// Resolve applies strategy to newSchedule.
func Resolve(strategy Strategy, newSchedule *schedule.WeeklySchedule, flagged []model.Booking, scope PriorityScope) (*schedule.WeeklySchedule, error) {
	switch strategy {
	case StrategyOverlap:
		return ResolveOverlap(newSchedule), nil
	case StrategyMakePriority:
		return ResolveMakePriority(newSchedule, flagged, scope), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
}

// Bookings extracts the bookings from a conflict list.
func Bookings(found []Conflict) []model.Booking {
	out := make([]model.Booking, 0, len(found))
	for _, c := range found {
		out = append(out, c.Booking)
	}
	return out
}

func appendUnique(ranges []schedule.TimeRange, r schedule.TimeRange) []schedule.TimeRange {
	for _, existing := range ranges {
		if existing == r {
			return ranges
		}
	}
	return append(ranges, r)
}
