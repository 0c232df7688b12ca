package pending

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverStore uses primary while it is healthy and fallback while it is
// down. Primary is retried once recoveryInterval has passed.
//
// Fallback only holds edits written during an outage, so a fallback copy is
// always newer than the primary one. Deletes that could not reach primary are
// remembered and replayed once it is back.
type FailoverStore struct {
	primary  Store
	fallback Store
	logger   zerolog.Logger

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
	deleted   map[string]struct{}
}

func NewFailoverStore(primary, fallback Store, logger *zerolog.Logger) *FailoverStore {
	return &FailoverStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger.With().Str("component", "pending_failover").Logger(),
		deleted:  make(map[string]struct{}),
	}
}

// Healthy reports whether the primary store is in use.
func (s *FailoverStore) Healthy() bool {
	return !s.isDown.Load()
}

func (s *FailoverStore) Put(ctx context.Context, edit *Edit) error {
	s.forget(edit.SessionID)
	if s.usePrimary() {
		err := s.primary.Put(ctx, edit)
		if err == nil {
			s.markUp(ctx)
			// drop the outage copy, primary is current again
			_ = s.fallback.Delete(ctx, edit.SessionID)
			return nil
		}
		s.markDown(err, "put")
	}
	return s.fallback.Put(ctx, edit)
}

func (s *FailoverStore) Get(ctx context.Context, sessionID string) (*Edit, error) {
	if s.isDeleted(sessionID) {
		if s.usePrimary() {
			s.replayDelete(ctx, sessionID)
		}
		return nil, ErrNotFound
	}
	if !s.usePrimary() {
		return s.fallback.Get(ctx, sessionID)
	}

	edit, err := s.primary.Get(ctx, sessionID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.markDown(err, "get")
		return s.fallback.Get(ctx, sessionID)
	}
	s.markUp(ctx)

	if local, ferr := s.fallback.Get(ctx, sessionID); ferr == nil {
		s.promote(ctx, local)
		return local, nil
	}
	if err != nil {
		return nil, err
	}
	return edit, nil
}

func (s *FailoverStore) Delete(ctx context.Context, sessionID string) error {
	fbErr := s.fallback.Delete(ctx, sessionID)
	if s.usePrimary() {
		err := s.primary.Delete(ctx, sessionID)
		if err == nil {
			s.markUp(ctx)
			s.forget(sessionID)
			return fbErr
		}
		s.markDown(err, "delete")
	}
	s.mu.Lock()
	s.deleted[sessionID] = struct{}{}
	s.mu.Unlock()
	return fbErr
}

// promote copies an edit written during an outage back to primary.
func (s *FailoverStore) promote(ctx context.Context, edit *Edit) {
	if err := s.primary.Put(ctx, edit); err != nil {
		s.markDown(err, "promote")
		return
	}
	_ = s.fallback.Delete(ctx, edit.SessionID)
}

func (s *FailoverStore) replayDelete(ctx context.Context, sessionID string) {
	if err := s.primary.Delete(ctx, sessionID); err != nil {
		s.markDown(err, "delete")
		return
	}
	s.forget(sessionID)
}

func (s *FailoverStore) isDeleted(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.deleted[sessionID]
	return ok
}

func (s *FailoverStore) forget(sessionID string) {
	s.mu.Lock()
	delete(s.deleted, sessionID)
	s.mu.Unlock()
}

func (s *FailoverStore) usePrimary() bool {
	if !s.isDown.Load() {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Since(s.lastCheck) >= recoveryInterval {
		s.lastCheck = time.Now()
		return true
	}
	return false
}

func (s *FailoverStore) markDown(err error, op string) {
	if !s.isDown.Swap(true) {
		s.logger.Warn().Err(err).Str("op", op).Msg("primary pending store failed, switching to fallback")
	}
	s.mu.Lock()
	s.lastCheck = time.Now()
	s.mu.Unlock()
}

// markUp flags primary healthy and, on recovery, replays the deletes it missed.
func (s *FailoverStore) markUp(ctx context.Context) {
	if !s.isDown.Swap(false) {
		return
	}
	s.logger.Info().Msg("primary pending store recovered")

	s.mu.Lock()
	ids := make([]string, 0, len(s.deleted))
	for id := range s.deleted {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.replayDelete(ctx, id)
	}
}
