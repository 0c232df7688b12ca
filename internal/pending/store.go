// Package pending keeps edit sessions and the schedule awaiting a resolution choice.
package pending

import (
	"context"
	"errors"
	"time"

	"scheduleguard/internal/conflicts"
	"scheduleguard/internal/model"
	"scheduleguard/internal/schedule"
)

// ErrNotFound is returned when a session is unknown or has expired.
var ErrNotFound = errors.New("pending edit not found")

// DefaultTTL bounds how long an untouched session is kept.
const DefaultTTL = 30 * time.Minute

// Edit is the state of one schedule edit session.
type Edit struct {
	SessionID string `json:"sessionId"`
	OrderID   string `json:"orderId"`
	State     string `json:"state"`

	// Pending data, set between conflict detection and resolution.
	Schedule      *schedule.WeeklySchedule `json:"schedule,omitempty"`
	Conflicts     []conflicts.Conflict     `json:"conflicts,omitempty"`
	OrderVersion  int64                    `json:"orderVersion"`
	ExistingMedia []model.MediaFile        `json:"existingMedia,omitempty"`
	CurrentBanner string                   `json:"currentBanner,omitempty"`
	Media         model.MediaIntent        `json:"media"`
	Unverified    bool                     `json:"unverified,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasPending reports whether a schedule is waiting for a resolution.
func (e *Edit) HasPending() bool {
	return e.Schedule != nil
}

// ClearPending drops the pending schedule data but keeps the session.
func (e *Edit) ClearPending() {
	e.Schedule = nil
	e.Conflicts = nil
	e.OrderVersion = 0
	e.ExistingMedia = nil
	e.CurrentBanner = ""
	e.Media = model.MediaIntent{}
	e.Unverified = false
}

// Store persists edit sessions keyed by session id.
type Store interface {
	Put(ctx context.Context, edit *Edit) error
	Get(ctx context.Context, sessionID string) (*Edit, error)
	Delete(ctx context.Context, sessionID string) error
}
