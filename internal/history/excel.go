package history

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"scheduleguard/internal/schedule"
)

const (
	historySheet  = "History"
	scheduleSheet = "Schedule"
)

// WriteXLSX writes changes as a workbook. The first sheet lists every change,
// the second one shows the latest saved schedule day by day.
func WriteXLSX(w io.Writer, changes []Change) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", historySheet); err != nil {
		return err
	}
	header := []any{"Time (UTC)", "Outcome", "Strategy", "Conflicts", "Booking IDs",
		"Previous version", "New version", "Unverified", "Session", "Error"}
	if err := writeRow(f, historySheet, 1, header); err != nil {
		return err
	}
	boldHeader(f, historySheet, len(header))

	var latest *Change
	for i := range changes {
		c := &changes[i]
		row := []any{
			c.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			string(c.Outcome),
			c.Strategy,
			len(c.ConflictIDs),
			strings.Join(c.ConflictIDs, ", "),
			c.PreviousVersion,
			c.NewVersion,
			c.Unverified,
			c.SessionID,
			c.Error,
		}
		if err := writeRow(f, historySheet, i+2, row); err != nil {
			return err
		}
		if c.Outcome == OutcomeSaved && len(c.Schedule) > 0 && (latest == nil || c.CreatedAt.After(latest.CreatedAt)) {
			latest = c
		}
	}

	if latest != nil {
		if err := writeSchedule(f, latest.Schedule); err != nil {
			return err
		}
	}
	return f.Write(w)
}

func writeSchedule(f *excelize.File, raw json.RawMessage) error {
	var ws schedule.WeeklySchedule
	if err := json.Unmarshal(raw, &ws); err != nil {
		return fmt.Errorf("decode saved schedule: %w", err)
	}
	if _, err := f.NewSheet(scheduleSheet); err != nil {
		return fmt.Errorf("create sheet %s: %w", scheduleSheet, err)
	}
	header := []any{"Day", "Enabled", "Work hours", "Breaks", "Break exclusions"}
	if err := writeRow(f, scheduleSheet, 1, header); err != nil {
		return err
	}
	boldHeader(f, scheduleSheet, len(header))

	for i, wd := range schedule.Weekdays {
		day := ws.Day(wd)
		row := []any{schedule.WeekdayKey(wd), false, "", "", ""}
		if day != nil {
			row[1] = day.Enabled
			if day.WorkHours != nil {
				row[2] = day.WorkHours.String()
			}
			row[3] = joinRanges(day.Breaks)
			row[4] = formatExclusions(day.BreakExclusions)
		}
		if err := writeRow(f, scheduleSheet, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, rowNum int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func boldHeader(f *excelize.File, sheet string, cols int) {
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return
	}
	endCell, _ := excelize.CoordinatesToCellName(cols, 1)
	_ = f.SetCellStyle(sheet, "A1", endCell, style)
}

func joinRanges(ranges []schedule.TimeRange) string {
	parts := make([]string, 0, len(ranges))
	for _, r := range ranges {
		parts = append(parts, r.String())
	}
	return strings.Join(parts, ", ")
}

func formatExclusions(ex map[string][]schedule.TimeRange) string {
	dates := make([]string, 0, len(ex))
	for d := range ex {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	parts := make([]string, 0, len(dates))
	for _, d := range dates {
		parts = append(parts, d+": "+joinRanges(ex[d]))
	}
	return strings.Join(parts, "; ")
}
