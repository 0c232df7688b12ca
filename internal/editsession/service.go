package editsession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"scheduleguard/internal/conflicts"
	"scheduleguard/internal/events"
	"scheduleguard/internal/media"
	"scheduleguard/internal/metrics"
	"scheduleguard/internal/model"
	"scheduleguard/internal/pending"
	"scheduleguard/internal/schedule"
)

// OrderClient is the marketplace backend as seen by the service.
type OrderClient interface {
	GetOrderByID(ctx context.Context, orderID string) (*model.Order, error)
	GetOrderBookings(ctx context.Context, orderID string) ([]model.Booking, error)
	UpdateOrder(ctx context.Context, orderID string, patch model.OrderPatch) (*model.Order, error)
	UploadMedia(ctx context.Context, orderID string, files []model.LocalFile) ([]model.MediaFile, error)
}

// EventPublisher receives schedule lifecycle events.
type EventPublisher interface {
	PublishSchedule(eventType string, payload events.ScheduleEvent)
}

// FetchPolicy decides what a save does when the order or bookings cannot be fetched.
type FetchPolicy string

const (
	// FetchAllow saves as if there were no conflicts and marks the result unverified.
	FetchAllow FetchPolicy = "allow"
	// FetchBlock refuses to save with ErrConflictsUnverified.
	FetchBlock FetchPolicy = "block"
)

// ParseFetchPolicy defaults to FetchAllow for an empty value.
func ParseFetchPolicy(s string) (FetchPolicy, error) {
	switch FetchPolicy(s) {
	case "", FetchAllow:
		return FetchAllow, nil
	case FetchBlock:
		return FetchBlock, nil
	}
	return "", fmt.Errorf("unknown fetch error policy %q", s)
}

type Options struct {
	OnFetchError  FetchPolicy
	PriorityScope conflicts.PriorityScope
}

type SaveStatus string

const (
	StatusSaved     SaveStatus = "saved"
	StatusConflicts SaveStatus = "conflicts"
)

// SaveResult is the outcome of Save and Resolve.
type SaveResult struct {
	SessionID  string               `json:"sessionId"`
	Status     SaveStatus           `json:"status"`
	Conflicts  []conflicts.Conflict `json:"conflicts,omitempty"`
	Unverified bool                 `json:"unverified,omitempty"`
	Order      *model.Order         `json:"order,omitempty"`
}

// Session is the public view of an edit session.
type Session struct {
	ID         string               `json:"sessionId"`
	OrderID    string               `json:"orderId"`
	State      State                `json:"state"`
	Conflicts  []conflicts.Conflict `json:"conflicts,omitempty"`
	Unverified bool                 `json:"unverified,omitempty"`
	CreatedAt  time.Time            `json:"createdAt"`
	UpdatedAt  time.Time            `json:"updatedAt"`
}

// Service orchestrates schedule edits.
type Service struct {
	client OrderClient
	store  pending.Store
	fsm    *FSM
	events EventPublisher
	opts   Options
	logger zerolog.Logger
	now    func() time.Time

	locks [64]sync.Mutex
}

func NewService(client OrderClient, store pending.Store, publisher EventPublisher, opts Options, logger *zerolog.Logger) *Service {
	if opts.OnFetchError == "" {
		opts.OnFetchError = FetchAllow
	}
	if opts.PriorityScope == "" {
		opts.PriorityScope = conflicts.ScopeDate
	}
	return &Service{
		client: client,
		store:  store,
		fsm:    NewFSM(),
		events: publisher,
		opts:   opts,
		logger: logger.With().Str("component", "editsession").Logger(),
		now:    time.Now,
	}
}

// Begin opens an edit session for an order.
func (s *Service) Begin(ctx context.Context, orderID string) (*Session, error) {
	now := s.now()
	edit := &pending.Edit{
		SessionID: uuid.NewString(),
		OrderID:   orderID,
		State:     string(StateIdle),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.fsm.Transition(edit, StateEditing, now); err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, edit); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	s.logger.Debug().Str("session_id", edit.SessionID).Str("order_id", orderID).Msg("edit session started")
	return toSession(edit), nil
}

// Get returns the current view of a session.
func (s *Service) Get(ctx context.Context, sessionID string) (*Session, error) {
	edit, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return toSession(edit), nil
}

// Save checks newSchedule against the order's active bookings. Without
// conflicts the schedule is persisted right away. With conflicts the edit is
// kept pending until Resolve or Cancel. An empty sessionID opens a session.
func (s *Service) Save(ctx context.Context, sessionID, orderID string, newSchedule *schedule.WeeklySchedule, intent model.MediaIntent) (*SaveResult, error) {
	if sessionID == "" {
		sess, err := s.Begin(ctx, orderID)
		if err != nil {
			return nil, err
		}
		sessionID = sess.ID
	}

	unlock := s.lock(sessionID)
	defer unlock()

	edit, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if edit.OrderID != orderID {
		return nil, fmt.Errorf("%w: session %s belongs to order %s", ErrSessionNotFound, sessionID, edit.OrderID)
	}
	if err := s.fsm.Transition(edit, StateSaving, s.now()); err != nil {
		return nil, err
	}

	log := s.logger.With().Str("session_id", sessionID).Str("order_id", orderID).Logger()

	order, bookings, fetchErr := s.fetch(ctx, orderID)
	unverified := false
	if fetchErr != nil {
		if s.opts.OnFetchError == FetchBlock {
			metrics.IncScan("blocked")
			log.Warn().Err(fetchErr).Msg("conflict check failed, save blocked")
			if err := s.back(ctx, edit, StateEditing); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %w", ErrConflictsUnverified, fetchErr)
		}
		metrics.IncScan("unverified")
		metrics.IncUnverified()
		log.Warn().Err(fetchErr).Msg("conflict check failed, saving without verification")
		unverified = true
	}

	edit.Schedule = newSchedule.Clone()
	edit.Media = intent
	edit.Unverified = unverified
	if order != nil {
		edit.OrderVersion = order.Version
		edit.ExistingMedia = order.Media
		edit.CurrentBanner = order.BannerImage
	}

	var found []conflicts.Conflict
	if fetchErr == nil {
		found = conflicts.Scan(newSchedule, order.WeeklySchedule, bookings)
	}

	if len(found) == 0 {
		if fetchErr == nil {
			metrics.IncScan("clean")
		}
		if err := s.fsm.Transition(edit, StatePersisting, s.now()); err != nil {
			return nil, err
		}
		return s.persist(ctx, edit, edit.Schedule, "", log)
	}

	metrics.IncScan("conflicts")
	for _, c := range found {
		metrics.IncConflict(string(c.Reason))
	}
	if err := s.fsm.Transition(edit, StateConflictsFound, s.now()); err != nil {
		return nil, err
	}
	edit.Conflicts = found
	s.publish(events.TypeConflictsDetected, edit)

	if err := s.fsm.Transition(edit, StateAwaitingResolution, s.now()); err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, edit); err != nil {
		return nil, fmt.Errorf("store pending schedule: %w", err)
	}
	log.Info().Int("conflicts", len(found)).Msg("schedule change conflicts with bookings")

	return &SaveResult{
		SessionID: sessionID,
		Status:    StatusConflicts,
		Conflicts: found,
	}, nil
}

// Resolve applies the chosen strategy to the pending schedule and persists it.
// Pending data is dropped whether or not persisting succeeds.
func (s *Service) Resolve(ctx context.Context, sessionID string, strategy conflicts.Strategy) (*SaveResult, error) {
	next, err := strategyState(strategy)
	if err != nil {
		return nil, err
	}

	unlock := s.lock(sessionID)
	defer unlock()

	edit, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if State(edit.State) != StateAwaitingResolution || !edit.HasPending() {
		return nil, fmt.Errorf("%w: session is %s", ErrNoPendingSchedule, edit.State)
	}
	if err := s.fsm.Transition(edit, next, s.now()); err != nil {
		return nil, err
	}

	resolved, err := conflicts.Resolve(strategy, edit.Schedule, conflicts.Bookings(edit.Conflicts), s.opts.PriorityScope)
	if err != nil {
		return nil, err
	}
	metrics.IncResolution(string(strategy))

	if err := s.fsm.Transition(edit, StatePersisting, s.now()); err != nil {
		return nil, err
	}
	log := s.logger.With().Str("session_id", sessionID).Str("order_id", edit.OrderID).Str("strategy", string(strategy)).Logger()
	return s.persist(ctx, edit, resolved, strategy, log)
}

// Cancel discards the pending schedule and returns the session to editing.
func (s *Service) Cancel(ctx context.Context, sessionID string) (*Session, error) {
	unlock := s.lock(sessionID)
	defer unlock()

	edit, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if State(edit.State) != StateAwaitingResolution {
		return nil, fmt.Errorf("%w: session is %s", ErrNoPendingSchedule, edit.State)
	}
	s.publish(events.TypeEditCanceled, edit)
	edit.ClearPending()
	if err := s.back(ctx, edit, StateEditing); err != nil {
		return nil, err
	}
	s.logger.Info().Str("session_id", sessionID).Str("order_id", edit.OrderID).Msg("pending schedule discarded")
	return toSession(edit), nil
}

// Scan reports the conflicts newSchedule would cause without saving anything.
func (s *Service) Scan(ctx context.Context, orderID string, newSchedule *schedule.WeeklySchedule) ([]conflicts.Conflict, error) {
	order, bookings, err := s.fetch(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConflictsUnverified, err)
	}
	found := conflicts.Scan(newSchedule, order.WeeklySchedule, bookings)
	metrics.IncScan("dry_run")
	return found, nil
}

// fetch loads the order and its bookings concurrently.
func (s *Service) fetch(ctx context.Context, orderID string) (*model.Order, []model.Booking, error) {
	started := time.Now()
	var (
		order    *model.Order
		bookings []model.Booking
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		o, err := s.client.GetOrderByID(gctx, orderID)
		if err != nil {
			return err
		}
		order = o
		return nil
	})
	g.Go(func() error {
		b, err := s.client.GetOrderBookings(gctx, orderID)
		if err != nil {
			return err
		}
		bookings = b
		return nil
	})
	if err := g.Wait(); err != nil {
		metrics.ObserveFetch("error", time.Since(started))
		return order, nil, err
	}
	metrics.ObserveFetch("ok", time.Since(started))
	return order, bookings, nil
}

// persist uploads new media, re-resolves the banner and writes the schedule.
// The session is closed afterwards regardless of the outcome.
func (s *Service) persist(ctx context.Context, edit *pending.Edit, sched *schedule.WeeklySchedule, strategy conflicts.Strategy, log zerolog.Logger) (*SaveResult, error) {
	order, err := s.writeOrder(ctx, edit, sched)

	conflictsSeen := edit.Conflicts
	unverified := edit.Unverified
	previous := edit.OrderVersion
	edit.ClearPending()
	if terr := s.fsm.Transition(edit, StateIdle, s.now()); terr != nil {
		return nil, terr
	}
	if derr := s.store.Delete(ctx, edit.SessionID); derr != nil {
		log.Warn().Err(derr).Msg("failed to drop edit session")
	}

	if err != nil {
		kind := "backend"
		if errors.Is(err, model.ErrStaleOrder) {
			kind = "stale"
			err = fmt.Errorf("%w: %w", ErrStaleSchedule, err)
		}
		metrics.IncPersistFailure(kind)
		log.Error().Err(err).Msg("failed to persist schedule")
		s.publishPayload(events.TypePersistFailed, events.ScheduleEvent{
			OrderID:         edit.OrderID,
			SessionID:       edit.SessionID,
			Strategy:        string(strategy),
			ConflictIDs:     bookingIDs(conflictsSeen),
			PreviousVersion: previous,
			Unverified:      unverified,
			Error:           err.Error(),
		})
		return nil, err
	}

	raw, merr := json.Marshal(sched)
	if merr != nil {
		log.Warn().Err(merr).Msg("failed to encode saved schedule, event published without it")
		raw = nil
	}
	s.publishPayload(events.TypeScheduleSaved, events.ScheduleEvent{
		OrderID:         edit.OrderID,
		SessionID:       edit.SessionID,
		Strategy:        string(strategy),
		ConflictIDs:     bookingIDs(conflictsSeen),
		Schedule:        raw,
		PreviousVersion: previous,
		NewVersion:      order.Version,
		Unverified:      unverified,
	})
	log.Info().Int64("version", order.Version).Bool("unverified", unverified).Msg("schedule saved")

	return &SaveResult{
		SessionID:  edit.SessionID,
		Status:     StatusSaved,
		Unverified: unverified,
		Order:      order,
	}, nil
}

func (s *Service) writeOrder(ctx context.Context, edit *pending.Edit, sched *schedule.WeeklySchedule) (*model.Order, error) {
	files := edit.ExistingMedia
	if len(edit.Media.NewFiles) > 0 {
		uploaded, err := s.client.UploadMedia(ctx, edit.OrderID, edit.Media.NewFiles)
		if err != nil {
			return nil, fmt.Errorf("upload media: %w", err)
		}
		files = append(append([]model.MediaFile(nil), files...), uploaded...)
	}

	banner := media.SelectBanner(files, edit.Media.SelectedBanner, edit.Media.BannerHint)
	if banner == "" {
		banner = edit.CurrentBanner
	}

	return s.client.UpdateOrder(ctx, edit.OrderID, model.OrderPatch{
		WeeklySchedule:  sched,
		BannerImage:     banner,
		ExpectedVersion: edit.OrderVersion,
	})
}

// back moves the edit to state and stores it.
func (s *Service) back(ctx context.Context, edit *pending.Edit, state State) error {
	if err := s.fsm.Transition(edit, state, s.now()); err != nil {
		return err
	}
	if err := s.store.Put(ctx, edit); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (s *Service) load(ctx context.Context, sessionID string) (*pending.Edit, error) {
	edit, err := s.store.Get(ctx, sessionID)
	if errors.Is(err, pending.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return edit, nil
}

func (s *Service) lock(sessionID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	mu := &s.locks[h.Sum32()%uint32(len(s.locks))]
	mu.Lock()
	return mu.Unlock
}

func (s *Service) publish(eventType string, edit *pending.Edit) {
	s.publishPayload(eventType, events.ScheduleEvent{
		OrderID:         edit.OrderID,
		SessionID:       edit.SessionID,
		ConflictIDs:     bookingIDs(edit.Conflicts),
		PreviousVersion: edit.OrderVersion,
		Unverified:      edit.Unverified,
	})
}

func (s *Service) publishPayload(eventType string, payload events.ScheduleEvent) {
	if s.events == nil {
		return
	}
	s.events.PublishSchedule(eventType, payload)
}

func bookingIDs(found []conflicts.Conflict) []string {
	if len(found) == 0 {
		return nil
	}
	ids := make([]string, 0, len(found))
	for _, c := range found {
		ids = append(ids, c.Booking.ID)
	}
	return ids
}

func toSession(edit *pending.Edit) *Session {
	return &Session{
		ID:         edit.SessionID,
		OrderID:    edit.OrderID,
		State:      State(edit.State),
		Conflicts:  edit.Conflicts,
		Unverified: edit.Unverified,
		CreatedAt:  edit.CreatedAt,
		UpdatedAt:  edit.UpdatedAt,
	}
}
