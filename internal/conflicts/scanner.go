// Package conflicts finds bookings invalidated by a weekly schedule change and
// rewrites the schedule according to the provider's chosen resolution.
package conflicts

import (
	"time"

	"scheduleguard/internal/model"
	"scheduleguard/internal/schedule"
)

// Reason explains why a booking conflicts with the new schedule.
type Reason string

const (
	ReasonDayDisabled      Reason = "day_disabled"
	ReasonOutsideWorkHours Reason = "outside_work_hours"
	ReasonBreakOverlap     Reason = "break_overlap"
)

// Conflict is a booking that would become invalid under the new schedule.
type Conflict struct {
	Booking model.Booking       `json:"booking"`
	Reason  Reason              `json:"reason"`
	Break   *schedule.TimeRange `json:"break,omitempty"`
}

// Scan compares newSchedule with oldSchedule for every active booking and
// returns the conflicting ones, at most once per booking id, in scan order.
func Scan(newSchedule, oldSchedule *schedule.WeeklySchedule, bookings []model.Booking) []Conflict {
	byDay := make(map[time.Weekday][]model.Booking, len(schedule.Weekdays))
	for _, b := range bookings {
		if !b.IsActive() {
			continue
		}
		wd, ok := b.Weekday()
		if !ok {
			continue
		}
		byDay[wd] = append(byDay[wd], b)
	}

	var found []Conflict
	for _, wd := range schedule.Weekdays {
		oldDay := oldSchedule.Day(wd)
		newDay := newSchedule.Day(wd)
		for _, b := range byDay[wd] {
			if c, ok := checkBooking(b, oldDay, newDay); ok {
				found = append(found, c)
			}
		}
	}
	return dedupe(found)
}

// ScanBookings is Scan reduced to the flagged bookings.
func ScanBookings(newSchedule, oldSchedule *schedule.WeeklySchedule, bookings []model.Booking) []model.Booking {
	return Bookings(Scan(newSchedule, oldSchedule, bookings))
}

func checkBooking(b model.Booking, oldDay, newDay *schedule.DaySchedule) (Conflict, bool) {
	switch {
	case oldDay.IsEnabled() && !newDay.IsEnabled():
		return Conflict{Booking: b, Reason: ReasonDayDisabled}, true
	case newDay.IsEnabled() && newDay.WorkHours != nil:
		if outsideWorkHours(b, *newDay.WorkHours) {
			return Conflict{Booking: b, Reason: ReasonOutsideWorkHours}, true
		}
		return breakConflict(b, newDay)
	case newDay.IsEnabled():
		return breakConflict(b, newDay)
	}
	return Conflict{}, false
}

// outsideWorkHours compares minute values directly so malformed times never flag.
func outsideWorkHours(b model.Booking, work schedule.TimeRange) bool {
	bs, ok1 := schedule.TimeToMinutes(b.StartTime)
	be, ok2 := schedule.TimeToMinutes(b.EndTime)
	ws, ok3 := schedule.TimeToMinutes(work.Start)
	we, ok4 := schedule.TimeToMinutes(work.End)
	startBefore := ok1 && ok3 && bs < ws
	endAfter := ok2 && ok4 && be > we
	return startBefore || endAfter
}

func breakConflict(b model.Booking, day *schedule.DaySchedule) (Conflict, bool) {
	for i := range day.Breaks {
		br := day.Breaks[i]
		if schedule.IntervalsOverlap(b.StartTime, b.EndTime, br.Start, br.End) {
			return Conflict{Booking: b, Reason: ReasonBreakOverlap, Break: &br}, true
		}
	}
	return Conflict{}, false
}

func dedupe(in []Conflict) []Conflict {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]Conflict, 0, len(in))
	for _, c := range in {
		if _, ok := seen[c.Booking.ID]; ok {
			continue
		}
		seen[c.Booking.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}
