// Package schedule provides the weekly schedule model and wall-clock interval helpers.
package schedule

import (
	"strconv"
	"strings"
)

// TimeRange is a half-open wall-clock interval [Start, End) in HH:MM.
type TimeRange struct {
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`
}

// TimeToMinutes converts "HH:MM" to minutes since midnight.
// ok is false when either part is not a number.
func TimeToMinutes(s string) (int, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	return h*60 + m, true
}

// ValidClock reports whether s is a strict 24-hour HH:MM value.
func ValidClock(s string) bool {
	if len(s) != 5 || s[2] != ':' {
		return false
	}
	h, err := strconv.Atoi(s[:2])
	if err != nil || h < 0 || h > 23 {
		return false
	}
	m, err := strconv.Atoi(s[3:])
	if err != nil || m < 0 || m > 59 {
		return false
	}
	return true
}

// IntervalsOverlap reports whether [startA, endA) and [startB, endB) intersect.
// Touching intervals do not overlap. Any unparsable bound yields false.
func IntervalsOverlap(startA, endA, startB, endB string) bool {
	sA, ok1 := TimeToMinutes(startA)
	eA, ok2 := TimeToMinutes(endA)
	sB, ok3 := TimeToMinutes(startB)
	eB, ok4 := TimeToMinutes(endB)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return false
	}
	return sA < eB && eA > sB
}

// Overlaps reports whether r and other intersect.
func (r TimeRange) Overlaps(other TimeRange) bool {
	return IntervalsOverlap(r.Start, r.End, other.Start, other.End)
}

// Contains reports whether other lies fully inside r.
func (r TimeRange) Contains(other TimeRange) bool {
	rs, ok1 := TimeToMinutes(r.Start)
	re, ok2 := TimeToMinutes(r.End)
	os, ok3 := TimeToMinutes(other.Start)
	oe, ok4 := TimeToMinutes(other.End)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return false
	}
	return os >= rs && oe <= re
}

func (r TimeRange) String() string {
	return r.Start + "-" + r.End
}
