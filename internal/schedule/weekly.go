package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidSchedule is returned by Validate.
var ErrInvalidSchedule = errors.New("invalid weekly schedule")

// DateLayout is the calendar date format used for bookings and break exclusions.
const DateLayout = "2006-01-02"

// Weekdays lists the schedule days in the order they are scanned.
var Weekdays = []time.Weekday{
	time.Monday,
	time.Tuesday,
	time.Wednesday,
	time.Thursday,
	time.Friday,
	time.Saturday,
	time.Sunday,
}

// DaySchedule is the configuration of a single weekday.
type DaySchedule struct {
	Enabled   bool        `json:"enabled" yaml:"enabled"`
	WorkHours *TimeRange  `json:"workHours,omitempty" yaml:"work_hours,omitempty"`
	Breaks    []TimeRange `json:"breaks,omitempty" yaml:"breaks,omitempty"`
	// BreakExclusions maps a YYYY-MM-DD date to breaks suppressed on that date.
	BreakExclusions map[string][]TimeRange `json:"breakExclusions,omitempty" yaml:"break_exclusions,omitempty"`
}

// WeeklySchedule holds an optional DaySchedule per weekday.
// A nil day means "not configured", which differs from Enabled=false.
type WeeklySchedule struct {
	Monday    *DaySchedule `json:"monday,omitempty" yaml:"monday,omitempty"`
	Tuesday   *DaySchedule `json:"tuesday,omitempty" yaml:"tuesday,omitempty"`
	Wednesday *DaySchedule `json:"wednesday,omitempty" yaml:"wednesday,omitempty"`
	Thursday  *DaySchedule `json:"thursday,omitempty" yaml:"thursday,omitempty"`
	Friday    *DaySchedule `json:"friday,omitempty" yaml:"friday,omitempty"`
	Saturday  *DaySchedule `json:"saturday,omitempty" yaml:"saturday,omitempty"`
	Sunday    *DaySchedule `json:"sunday,omitempty" yaml:"sunday,omitempty"`

	SubscribeAheadDays *int `json:"subscribeAheadDays,omitempty" yaml:"subscribe_ahead_days,omitempty"`
}

// WeekdayKey returns the lowercase key used on the wire for d.
func WeekdayKey(d time.Weekday) string {
	return strings.ToLower(d.String())
}

// ParseWeekdayKey parses a lowercase weekday name such as "tuesday".
func ParseWeekdayKey(key string) (time.Weekday, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, d := range Weekdays {
		if WeekdayKey(d) == key {
			return d, true
		}
	}
	return time.Sunday, false
}

// Day returns the schedule for d. It is safe to call on a nil schedule.
func (w *WeeklySchedule) Day(d time.Weekday) *DaySchedule {
	if w == nil {
		return nil
	}
	return *w.slot(d)
}

// SetDay replaces the schedule for d.
func (w *WeeklySchedule) SetDay(d time.Weekday, day *DaySchedule) {
	*w.slot(d) = day
}

func (w *WeeklySchedule) slot(d time.Weekday) **DaySchedule {
	switch d {
	case time.Monday:
		return &w.Monday
	case time.Tuesday:
		return &w.Tuesday
	case time.Wednesday:
		return &w.Wednesday
	case time.Thursday:
		return &w.Thursday
	case time.Friday:
		return &w.Friday
	case time.Saturday:
		return &w.Saturday
	default:
		return &w.Sunday
	}
}

// Clone returns a deep copy. Nil and empty collections are preserved as-is.
func (w *WeeklySchedule) Clone() *WeeklySchedule {
	if w == nil {
		return nil
	}
	out := &WeeklySchedule{}
	for _, d := range Weekdays {
		out.SetDay(d, w.Day(d).Clone())
	}
	if w.SubscribeAheadDays != nil {
		v := *w.SubscribeAheadDays
		out.SubscribeAheadDays = &v
	}
	return out
}

// MarshalJSON writes an empty, non-nil Breaks as [] so a cleared break list
// survives a merge patch.
func (d DaySchedule) MarshalJSON() ([]byte, error) {
	type plain DaySchedule
	out := struct {
		plain
		Breaks *[]TimeRange `json:"breaks,omitempty"`
	}{plain: plain(d)}
	if d.Breaks != nil {
		out.Breaks = &d.Breaks
	}
	return json.Marshal(out)
}

// Clone returns a deep copy of the day.
func (d *DaySchedule) Clone() *DaySchedule {
	if d == nil {
		return nil
	}
	out := &DaySchedule{Enabled: d.Enabled}
	if d.WorkHours != nil {
		wh := *d.WorkHours
		out.WorkHours = &wh
	}
	out.Breaks = cloneRanges(d.Breaks)
	if d.BreakExclusions != nil {
		out.BreakExclusions = make(map[string][]TimeRange, len(d.BreakExclusions))
		for date, ranges := range d.BreakExclusions {
			out.BreakExclusions[date] = cloneRanges(ranges)
		}
	}
	return out
}

func cloneRanges(in []TimeRange) []TimeRange {
	if in == nil {
		return nil
	}
	out := make([]TimeRange, len(in))
	copy(out, in)
	return out
}

// IsEnabled reports whether the day exists and accepts bookings.
func (d *DaySchedule) IsEnabled() bool {
	return d != nil && d.Enabled
}

// Validate checks the schedule shape: enabled days need work hours, every
// time is HH:MM and breaks are non-empty intervals inside the work hours.
func (w *WeeklySchedule) Validate() error {
	if w == nil {
		return fmt.Errorf("%w: schedule is empty", ErrInvalidSchedule)
	}
	var errs []error
	for _, wd := range Weekdays {
		if err := w.Day(wd).validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", WeekdayKey(wd), err))
		}
	}
	if w.SubscribeAheadDays != nil && *w.SubscribeAheadDays < 0 {
		errs = append(errs, errors.New("subscribeAheadDays must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidSchedule, errors.Join(errs...))
	}
	return nil
}

func (d *DaySchedule) validate() error {
	if d == nil {
		return nil
	}
	if d.WorkHours == nil {
		if d.Enabled {
			return errors.New("work hours are required for an enabled day")
		}
		if len(d.Breaks) > 0 {
			return errors.New("breaks require work hours")
		}
		return nil
	}
	if err := validateRange(*d.WorkHours); err != nil {
		return fmt.Errorf("work hours: %w", err)
	}
	for i, br := range d.Breaks {
		if err := validateRange(br); err != nil {
			return fmt.Errorf("break %d: %w", i, err)
		}
		if !d.WorkHours.Contains(br) {
			return fmt.Errorf("break %d (%s) is outside work hours %s", i, br, d.WorkHours)
		}
	}
	for date, ranges := range d.BreakExclusions {
		if _, err := time.Parse(DateLayout, date); err != nil {
			return fmt.Errorf("break exclusion date %q: expected YYYY-MM-DD", date)
		}
		for _, r := range ranges {
			if err := validateRange(r); err != nil {
				return fmt.Errorf("break exclusion %s: %w", date, err)
			}
		}
	}
	return nil
}

func validateRange(r TimeRange) error {
	if !ValidClock(r.Start) {
		return fmt.Errorf("invalid start %q", r.Start)
	}
	if !ValidClock(r.End) {
		return fmt.Errorf("invalid end %q", r.End)
	}
	s, _ := TimeToMinutes(r.Start)
	e, _ := TimeToMinutes(r.End)
	if s >= e {
		return fmt.Errorf("start %s must be before end %s", r.Start, r.End)
	}
	return nil
}

// DefaultWeeklySchedule is the schedule a new permanent order starts with:
// Monday to Friday 09:00-18:00, weekends off, bookable 14 days ahead.
func DefaultWeeklySchedule() *WeeklySchedule {
	ahead := 14
	w := &WeeklySchedule{SubscribeAheadDays: &ahead}
	for _, d := range Weekdays {
		day := &DaySchedule{Enabled: d != time.Saturday && d != time.Sunday}
		if day.Enabled {
			day.WorkHours = &TimeRange{Start: "09:00", End: "18:00"}
		}
		w.SetDay(d, day)
	}
	return w
}
