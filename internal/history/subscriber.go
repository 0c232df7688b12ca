package history

import (
	"context"
	"time"

	"scheduleguard/internal/events"
)

const recordTimeout = 5 * time.Second

// Subscribe records saved and failed schedule writes published on bus.
func Subscribe(bus *events.EventBus, db *DB) {
	bus.Subscribe(events.TypeScheduleSaved, recorder(db, OutcomeSaved))
	bus.Subscribe(events.TypePersistFailed, recorder(db, OutcomeFailed))
}

func recorder(db *DB, outcome Outcome) events.EventHandler {
	return func(e events.Event) error {
		var payload events.ScheduleEvent
		if err := e.Decode(&payload); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		return db.Record(ctx, &Change{
			ID:              e.ID,
			OrderID:         payload.OrderID,
			SessionID:       payload.SessionID,
			Outcome:         outcome,
			Strategy:        payload.Strategy,
			ConflictIDs:     payload.ConflictIDs,
			Schedule:        payload.Schedule,
			PreviousVersion: payload.PreviousVersion,
			NewVersion:      payload.NewVersion,
			Unverified:      payload.Unverified,
			Error:           payload.Error,
			CreatedAt:       e.CreatedAt.UTC(),
		})
	}
}
