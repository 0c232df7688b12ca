package pending

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"scheduleguard/internal/conflicts"
	"scheduleguard/internal/model"
	"scheduleguard/internal/schedule"
)

func sampleEdit(id string) *Edit {
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	return &Edit{
		SessionID:    id,
		OrderID:      "o-1",
		State:        "awaiting_resolution",
		Schedule:     schedule.DefaultWeeklySchedule(),
		OrderVersion: 3,
		Conflicts: []conflicts.Conflict{{
			Booking: model.Booking{ID: "b1", ScheduledDate: "2024-06-04", StartTime: "12:30", EndTime: "13:00", Status: model.BookingConfirmed},
			Reason:  conflicts.ReasonBreakOverlap,
			Break:   &schedule.TimeRange{Start: "12:00", End: "13:00"},
		}},
		Media:     model.MediaIntent{SelectedBanner: "https://cdn/x.png"},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisStore(client, 10*time.Minute)
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	edit := sampleEdit("s1")
	require.NoError(t, store.Put(ctx, edit))
	assert.True(t, mr.Exists("scheduleguard:pending:s1"))
	assert.Equal(t, 10*time.Minute, mr.TTL("scheduleguard:pending:s1"))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, edit, got)

	mr.FastForward(11 * time.Minute)
	_, err = store.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put(ctx, edit))
	require.NoError(t, store.Delete(ctx, "s1"))
	_, err = store.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreExpiry(t *testing.T) {
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	store := NewMemoryStore(time.Minute)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, sampleEdit("s1")))
	require.NoError(t, store.Put(ctx, sampleEdit("s2")))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	got.State = "mutated"
	again, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "awaiting_resolution", again.State, "store must not share values")

	now = now.Add(2 * time.Minute)
	_, err = store.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, 2, store.Cleanup())
	assert.Equal(t, 0, store.Len())
}

func TestEditClearPending(t *testing.T) {
	edit := sampleEdit("s1")
	require.True(t, edit.HasPending())

	edit.ClearPending()
	assert.False(t, edit.HasPending())
	assert.Empty(t, edit.Conflicts)
	assert.Equal(t, "s1", edit.SessionID)
	assert.Equal(t, "o-1", edit.OrderID)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Put(ctx context.Context, edit *Edit) error {
	return m.Called(ctx, edit).Error(0)
}

func (m *mockStore) Get(ctx context.Context, sessionID string) (*Edit, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Edit), args.Error(1)
}

func (m *mockStore) Delete(ctx context.Context, sessionID string) error {
	return m.Called(ctx, sessionID).Error(0)
}

func TestFailoverStore(t *testing.T) {
	primary := new(mockStore)
	fallback := new(mockStore)
	logger := zerolog.New(io.Discard)
	store := NewFailoverStore(primary, fallback, &logger)
	ctx := context.Background()

	t.Run("PrimarySuccess", func(t *testing.T) {
		edit := sampleEdit("s1")
		primary.On("Get", ctx, "s1").Return(edit, nil).Once()
		fallback.On("Get", ctx, "s1").Return(nil, ErrNotFound).Once()

		got, err := store.Get(ctx, "s1")
		assert.NoError(t, err)
		assert.Equal(t, edit, got)
		assert.True(t, store.Healthy())
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryMissFallsThrough", func(t *testing.T) {
		primary.On("Get", ctx, "s2").Return(nil, ErrNotFound).Once()
		fallback.On("Get", ctx, "s2").Return(nil, ErrNotFound).Once()

		_, err := store.Get(ctx, "s2")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.True(t, store.Healthy())
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		edit := sampleEdit("s3")
		primary.On("Put", ctx, edit).Return(errors.New("connection refused")).Once()
		fallback.On("Put", ctx, edit).Return(nil).Once()

		assert.NoError(t, store.Put(ctx, edit))
		assert.False(t, store.Healthy())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("StaysOnFallbackWhileDown", func(t *testing.T) {
		edit := sampleEdit("s3")
		fallback.On("Get", ctx, "s3").Return(edit, nil).Once()

		got, err := store.Get(ctx, "s3")
		assert.NoError(t, err)
		assert.Equal(t, edit, got)
		primary.AssertNotCalled(t, "Get", ctx, "s3")
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		store.mu.Lock()
		store.lastCheck = time.Now().Add(-2 * time.Minute)
		store.mu.Unlock()

		edit := sampleEdit("s4")
		primary.On("Get", ctx, "s4").Return(edit, nil).Once()
		fallback.On("Get", ctx, "s4").Return(nil, ErrNotFound).Once()

		got, err := store.Get(ctx, "s4")
		assert.NoError(t, err)
		assert.Equal(t, edit, got)
		assert.True(t, store.Healthy())
		primary.AssertExpectations(t)
	})

	t.Run("DeleteClearsBoth", func(t *testing.T) {
		fallback.On("Delete", ctx, "s5").Return(nil).Once()
		primary.On("Delete", ctx, "s5").Return(nil).Once()

		assert.NoError(t, store.Delete(ctx, "s5"))
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})
}

func newRedisFailover(t *testing.T) (*FailoverStore, *MemoryStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	memory := NewMemoryStore(10 * time.Minute)
	logger := zerolog.New(io.Discard)
	return NewFailoverStore(NewRedisStore(client, 10*time.Minute), memory, &logger), memory, mr
}

func rewindRecovery(store *FailoverStore) {
	store.mu.Lock()
	store.lastCheck = time.Now().Add(-2 * recoveryInterval)
	store.mu.Unlock()
}

func TestFailoverStoreOutageWritesSurviveRecovery(t *testing.T) {
	store, memory, mr := newRedisFailover(t)
	ctx := context.Background()

	editing := sampleEdit("s1")
	editing.State = "editing"
	editing.ClearPending()
	require.NoError(t, store.Put(ctx, editing))

	mr.SetError("redis down")
	awaiting := sampleEdit("s1")
	awaiting.UpdatedAt = awaiting.UpdatedAt.Add(time.Minute)
	require.NoError(t, store.Put(ctx, awaiting))
	assert.False(t, store.Healthy())

	mr.SetError("")
	rewindRecovery(store)

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "awaiting_resolution", got.State)
	assert.True(t, got.HasPending())
	assert.True(t, store.Healthy())

	assert.Equal(t, 0, memory.Len(), "outage copy is moved back to redis")
	raw, err := mr.Get(keyPrefix + "s1")
	require.NoError(t, err)
	assert.Contains(t, raw, `"awaiting_resolution"`)
}

func TestFailoverStoreOutageDeleteIsReplayed(t *testing.T) {
	t.Run("on read", func(t *testing.T) {
		store, _, mr := newRedisFailover(t)
		ctx := context.Background()
		require.NoError(t, store.Put(ctx, sampleEdit("s1")))

		mr.SetError("redis down")
		require.NoError(t, store.Delete(ctx, "s1"))
		mr.SetError("")
		rewindRecovery(store)

		_, err := store.Get(ctx, "s1")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.False(t, mr.Exists(keyPrefix+"s1"))

		_, err = store.Get(ctx, "s1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("on recovery", func(t *testing.T) {
		store, _, mr := newRedisFailover(t)
		ctx := context.Background()
		require.NoError(t, store.Put(ctx, sampleEdit("s1")))

		mr.SetError("redis down")
		require.NoError(t, store.Delete(ctx, "s1"))
		mr.SetError("")
		rewindRecovery(store)

		require.NoError(t, store.Put(ctx, sampleEdit("s2")))
		assert.True(t, store.Healthy())
		assert.False(t, mr.Exists(keyPrefix+"s1"), "missed delete replayed once redis is back")
		assert.True(t, mr.Exists(keyPrefix+"s2"))
	})
}
