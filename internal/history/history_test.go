package history

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"scheduleguard/internal/events"
	"scheduleguard/internal/schedule"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func scheduleJSON(t *testing.T) json.RawMessage {
	t.Helper()
	ws := schedule.DefaultWeeklySchedule()
	ws.Tuesday.Breaks = []schedule.TimeRange{}
	ws.Tuesday.BreakExclusions = map[string][]schedule.TimeRange{"2024-06-04": {{Start: "12:00", End: "13:00"}}}
	raw, err := json.Marshal(ws)
	require.NoError(t, err)
	return raw
}

func TestRecordAndList(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, db.Record(ctx, &Change{
		OrderID: "o-1", SessionID: "s1", Outcome: OutcomeSaved, Strategy: "make_priority",
		ConflictIDs: []string{"b1", "b2"}, Schedule: scheduleJSON(t), PreviousVersion: 2, NewVersion: 3,
		CreatedAt: base,
	}))
	require.NoError(t, db.Record(ctx, &Change{
		OrderID: "o-1", SessionID: "s2", Outcome: OutcomeFailed, PreviousVersion: 3,
		Error: "schedule changed elsewhere", CreatedAt: base.Add(time.Hour),
	}))
	require.NoError(t, db.Record(ctx, &Change{OrderID: "o-2", SessionID: "s3", Outcome: OutcomeSaved}))

	got, err := db.ListByOrder(ctx, "o-1", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "s2", got[0].SessionID, "newest first")
	assert.Equal(t, OutcomeFailed, got[0].Outcome)
	assert.Empty(t, got[0].ConflictIDs)
	assert.Nil(t, got[0].Schedule)

	assert.Equal(t, "make_priority", got[1].Strategy)
	assert.Equal(t, []string{"b1", "b2"}, got[1].ConflictIDs)
	assert.JSONEq(t, string(scheduleJSON(t)), string(got[1].Schedule))
	assert.True(t, base.Equal(got[1].CreatedAt))
	assert.NotEmpty(t, got[1].ID)

	limited, err := db.ListByOrder(ctx, "o-1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSubscribeRecordsEvents(t *testing.T) {
	db := newTestDB(t)
	logger := zerolog.New(io.Discard)
	bus := events.NewEventBus(&logger)
	Subscribe(bus, db)

	bus.PublishSchedule(events.TypeScheduleSaved, events.ScheduleEvent{
		OrderID: "o-1", SessionID: "s1", Strategy: "overlap", ConflictIDs: []string{"b1"},
		Schedule: scheduleJSON(t), PreviousVersion: 1, NewVersion: 2,
	})
	bus.PublishSchedule(events.TypePersistFailed, events.ScheduleEvent{
		OrderID: "o-1", SessionID: "s2", PreviousVersion: 2, Error: "http 500",
	})
	bus.PublishSchedule(events.TypeConflictsDetected, events.ScheduleEvent{OrderID: "o-1", SessionID: "s3"})

	got, err := db.ListByOrder(context.Background(), "o-1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	outcomes := map[string]Outcome{}
	for _, c := range got {
		outcomes[c.SessionID] = c.Outcome
	}
	assert.Equal(t, map[string]Outcome{"s1": OutcomeSaved, "s2": OutcomeFailed}, outcomes)
}

func TestWriteXLSX(t *testing.T) {
	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	changes := []Change{
		{OrderID: "o-1", SessionID: "s2", Outcome: OutcomeFailed, Error: "boom", CreatedAt: base.Add(time.Hour)},
		{OrderID: "o-1", SessionID: "s1", Outcome: OutcomeSaved, Strategy: "make_priority",
			ConflictIDs: []string{"b1"}, Schedule: scheduleJSON(t), NewVersion: 3, CreatedAt: base},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, changes))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{historySheet, scheduleSheet}, f.GetSheetList())

	outcome, err := f.GetCellValue(historySheet, "B2")
	require.NoError(t, err)
	assert.Equal(t, "failed", outcome)
	ids, err := f.GetCellValue(historySheet, "E3")
	require.NoError(t, err)
	assert.Equal(t, "b1", ids)

	day, err := f.GetCellValue(scheduleSheet, "A3")
	require.NoError(t, err)
	assert.Equal(t, "tuesday", day)
	exclusions, err := f.GetCellValue(scheduleSheet, "E3")
	require.NoError(t, err)
	assert.Equal(t, "2024-06-04: 12:00-13:00", exclusions)
	hours, err := f.GetCellValue(scheduleSheet, "C2")
	require.NoError(t, err)
	assert.Equal(t, "09:00-18:00", hours)
}

func TestWriteXLSXWithoutSavedSchedule(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, nil))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{historySheet}, f.GetSheetList())
}

func TestBackup(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Record(context.Background(), &Change{OrderID: "o-1", SessionID: "s1", Outcome: OutcomeSaved}))

	dir := filepath.Join(t.TempDir(), "backups")
	logger := zerolog.New(io.Discard)
	svc := NewBackupService(db, BackupConfig{Enabled: true, StoragePath: dir, RetentionDays: 7}, &logger)
	svc.now = func() time.Time { return time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC) }

	path, err := svc.PerformBackup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "history_20240601_090000.db"), path)

	copyDB, err := NewDB(path)
	require.NoError(t, err)
	defer copyDB.Close()
	got, err := copyDB.ListByOrder(context.Background(), "o-1", 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	old := filepath.Join(dir, "history_20240101_000000.db")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o600))
	require.NoError(t, os.Chtimes(old, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

	assert.Equal(t, 1, svc.CleanupOldBackups())
	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(path)
	assert.NoError(t, err, "fresh backup is kept")
}
