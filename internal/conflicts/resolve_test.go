package conflicts

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scheduleguard/internal/model"
	"scheduleguard/internal/schedule"
)

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("Overlap")
	require.NoError(t, err)
	assert.Equal(t, StrategyOverlap, s)

	s, err = ParseStrategy("make-priority")
	require.NoError(t, err)
	assert.Equal(t, StrategyMakePriority, s)

	_, err = ParseStrategy("ignore")
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestParsePriorityScope(t *testing.T) {
	s, err := ParsePriorityScope("")
	require.NoError(t, err)
	assert.Equal(t, ScopeDate, s)

	s, err = ParsePriorityScope("weekday")
	require.NoError(t, err)
	assert.Equal(t, ScopeWeekday, s)

	_, err = ParsePriorityScope("month")
	assert.Error(t, err)
}

func TestResolveOverlapIsNoOp(t *testing.T) {
	next := schedule.DefaultWeeklySchedule()
	next.Tuesday.Breaks = []schedule.TimeRange{{Start: "12:00", End: "13:00"}}
	before, err := json.Marshal(next)
	require.NoError(t, err)

	got := ResolveOverlap(next)
	after, err := json.Marshal(got)
	require.NoError(t, err)

	assert.Equal(t, next, got)
	assert.Equal(t, string(before), string(after))
	assert.NotSame(t, next, got)
}

func TestMakePriorityRemovesOnlyOverlappingBreaks(t *testing.T) {
	next := &schedule.WeeklySchedule{Monday: workday("09:00", "18:00",
		schedule.TimeRange{Start: "12:00", End: "13:00"},
		schedule.TimeRange{Start: "15:00", End: "15:30"},
	)}
	b := booking("b1", monday, "12:15", "12:45", model.BookingConfirmed)

	got := ResolveMakePriority(next, []model.Booking{b}, ScopeWeekday)

	assert.Equal(t, []schedule.TimeRange{{Start: "15:00", End: "15:30"}}, got.Monday.Breaks)
	assert.Equal(t, []schedule.TimeRange{{Start: "12:00", End: "13:00"}}, got.Monday.BreakExclusions[monday])
	assert.Len(t, next.Monday.Breaks, 2, "input schedule must not be mutated")
	assert.Nil(t, next.Monday.BreakExclusions)
}

func TestMakePriorityDateScopeKeepsTemplate(t *testing.T) {
	next := &schedule.WeeklySchedule{Monday: workday("09:00", "18:00",
		schedule.TimeRange{Start: "12:00", End: "13:00"},
		schedule.TimeRange{Start: "15:00", End: "15:30"},
	)}
	b := booking("b1", monday, "12:15", "12:45", model.BookingConfirmed)

	got := ResolveMakePriority(next, []model.Booking{b}, ScopeDate)

	assert.Equal(t, next.Monday.Breaks, got.Monday.Breaks)
	assert.Equal(t, []schedule.TimeRange{{Start: "12:00", End: "13:00"}}, got.Monday.BreakExclusions[monday])
}

func TestMakePriorityAccumulatesPerDate(t *testing.T) {
	next := &schedule.WeeklySchedule{Monday: workday("09:00", "18:00",
		schedule.TimeRange{Start: "12:00", End: "13:00"},
		schedule.TimeRange{Start: "15:00", End: "15:30"},
	)}
	next.Monday.BreakExclusions = map[string][]schedule.TimeRange{
		"2024-05-27": {{Start: "12:00", End: "13:00"}},
	}
	flagged := []model.Booking{
		booking("b1", monday, "12:15", "12:45", model.BookingConfirmed),
		booking("b2", monday, "12:30", "13:00", model.BookingPending),
		booking("b3", monday, "15:00", "15:15", model.BookingConfirmed),
		booking("b4", "2024-06-10", "12:00", "12:30", model.BookingConfirmed),
	}

	got := ResolveMakePriority(next, flagged, ScopeDate)

	assert.Equal(t, []schedule.TimeRange{
		{Start: "12:00", End: "13:00"},
		{Start: "15:00", End: "15:30"},
	}, got.Monday.BreakExclusions[monday])
	assert.Equal(t, []schedule.TimeRange{{Start: "12:00", End: "13:00"}}, got.Monday.BreakExclusions["2024-06-10"])
	assert.Equal(t, []schedule.TimeRange{{Start: "12:00", End: "13:00"}}, got.Monday.BreakExclusions["2024-05-27"])
}

func TestMakePrioritySkipsBookingsWithoutBreaks(t *testing.T) {
	next := &schedule.WeeklySchedule{Monday: &schedule.DaySchedule{Enabled: false}}
	b := booking("b1", monday, "10:00", "11:00", model.BookingConfirmed)

	got := ResolveMakePriority(next, []model.Booking{b}, ScopeWeekday)
	assert.Equal(t, next, got)
}

func TestScanThenMakePriorityEndToEnd(t *testing.T) {
	old := &schedule.WeeklySchedule{Tuesday: &schedule.DaySchedule{
		Enabled: true, WorkHours: hours("09:00", "17:00"), Breaks: []schedule.TimeRange{},
	}}
	next := &schedule.WeeklySchedule{Tuesday: &schedule.DaySchedule{
		Enabled: true, WorkHours: hours("09:00", "17:00"), Breaks: []schedule.TimeRange{{Start: "12:00", End: "13:00"}},
	}}
	b := booking("b1", tuesday, "12:30", "13:00", model.BookingConfirmed)

	flagged := ScanBookings(next, old, []model.Booking{b})
	require.Equal(t, []model.Booking{b}, flagged)

	got, err := Resolve(StrategyMakePriority, next, flagged, ScopeWeekday)
	require.NoError(t, err)
	require.NotNil(t, got.Tuesday.Breaks)
	assert.Empty(t, got.Tuesday.Breaks)
	assert.Equal(t, map[string][]schedule.TimeRange{
		tuesday: {{Start: "12:00", End: "13:00"}},
	}, got.Tuesday.BreakExclusions)

	raw, err := json.Marshal(got.Tuesday)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"enabled": true,
		"workHours": {"start": "09:00", "end": "17:00"},
		"breaks": [],
		"breakExclusions": {"2024-06-04": [{"start": "12:00", "end": "13:00"}]}
	}`, string(raw))
}

func TestResolveUnknownStrategy(t *testing.T) {
	_, err := Resolve("shrug", schedule.DefaultWeeklySchedule(), nil, ScopeDate)
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}
