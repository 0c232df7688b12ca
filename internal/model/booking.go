package model

import (
	"time"

	"scheduleguard/internal/schedule"
)

type BookingStatus string

const (
	BookingConfirmed BookingStatus = "confirmed"
	BookingPending   BookingStatus = "pending"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
)

// Booking is a reservation against a permanent order. It is owned by the marketplace backend.
type Booking struct {
	ID            string        `json:"id"`
	OrderID       string        `json:"orderId,omitempty"`
	ScheduledDate string        `json:"scheduledDate"` // YYYY-MM-DD
	StartTime     string        `json:"startTime"`     // HH:MM
	EndTime       string        `json:"endTime"`       // HH:MM
	Status        BookingStatus `json:"status"`
	// DayOfWeek is computed by the backend when available ("tuesday").
	DayOfWeek string `json:"dayOfWeek,omitempty"`
}

// IsActive reports whether the booking takes part in conflict scanning.
func (b Booking) IsActive() bool {
	return b.Status == BookingConfirmed || b.Status == BookingPending
}

// Weekday resolves the booking's day of week. A backend-provided DayOfWeek
// wins; otherwise ScheduledDate is read as a civil date with no zone shift.
func (b Booking) Weekday() (time.Weekday, bool) {
	if b.DayOfWeek != "" {
		if d, ok := schedule.ParseWeekdayKey(b.DayOfWeek); ok {
			return d, true
		}
	}
	date, err := time.Parse(schedule.DateLayout, b.ScheduledDate)
	if err != nil {
		return time.Sunday, false
	}
	return date.Weekday(), true
}

// Interval returns the booking as a wall-clock range.
func (b Booking) Interval() schedule.TimeRange {
	return schedule.TimeRange{Start: b.StartTime, End: b.EndTime}
}
