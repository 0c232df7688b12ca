package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"scheduleguard/internal/conflicts"
	"scheduleguard/internal/editsession"
	"scheduleguard/internal/history"
	"scheduleguard/internal/marketapi"
	"scheduleguard/internal/model"
	"scheduleguard/internal/schedule"
)

// ScheduleService is the edit-session service as used by the HTTP layer.
type ScheduleService interface {
	Save(ctx context.Context, sessionID, orderID string, newSchedule *schedule.WeeklySchedule, intent model.MediaIntent) (*editsession.SaveResult, error)
	Resolve(ctx context.Context, sessionID string, strategy conflicts.Strategy) (*editsession.SaveResult, error)
	Cancel(ctx context.Context, sessionID string) (*editsession.Session, error)
	Get(ctx context.Context, sessionID string) (*editsession.Session, error)
	Scan(ctx context.Context, orderID string, newSchedule *schedule.WeeklySchedule) ([]conflicts.Conflict, error)
}

// HistoryReader lists recorded schedule changes.
type HistoryReader interface {
	ListByOrder(ctx context.Context, orderID string, limit int) ([]history.Change, error)
}

type Config struct {
	Port         int
	APIKeys      []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// Defaults is served as the starting schedule for new permanent orders.
	Defaults *schedule.WeeklySchedule
}

// HTTPServer exposes the schedule editing API.
type HTTPServer struct {
	cfg     Config
	service ScheduleService
	history HistoryReader
	log     zerolog.Logger
	srv     *http.Server
}

func NewHTTPServer(cfg Config, service ScheduleService, hist HistoryReader, logger *zerolog.Logger) *HTTPServer {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.Defaults == nil {
		cfg.Defaults = schedule.DefaultWeeklySchedule()
	}
	keys := make([]string, 0, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		if k != "" {
			keys = append(keys, k)
		}
	}
	cfg.APIKeys = keys
	s := &HTTPServer{
		cfg:     cfg,
		service: service,
		history: hist,
		log:     logger.With().Str("component", "http_api").Logger(),
	}
	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the routed API handler.
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/orders/{id}/schedule/scan", s.handleScan)
	mux.HandleFunc("POST /api/orders/{id}/schedule", s.handleSave)
	mux.HandleFunc("GET /api/orders/{id}/schedule/history", s.handleHistory)
	mux.HandleFunc("GET /api/schedule-sessions/{sid}", s.handleGetSession)
	mux.HandleFunc("POST /api/schedule-sessions/{sid}/resolve", s.handleResolve)
	mux.HandleFunc("DELETE /api/schedule-sessions/{sid}", s.handleCancel)
	mux.HandleFunc("GET /api/schedule/defaults", s.handleDefaults)
	return s.auth(mux)
}

// Start serves until ctx is canceled.
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(ctxShutdown)
	}()

	s.log.Info().Str("addr", s.srv.Addr).Msg("HTTP API started")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// auth checks X-Api-Key when keys are configured.
func (s *HTTPServer) auth(next http.Handler) http.Handler {
	if len(s.cfg.APIKeys) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Api-Key")
		for _, k := range s.cfg.APIKeys {
			if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
		}
		writeError(w, http.StatusUnauthorized, "invalid api key")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps service errors to HTTP status codes.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error, log zerolog.Logger) {
	var httpErr *marketapi.HTTPError
	switch {
	case errors.Is(err, editsession.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, editsession.ErrSessionNotFound.Error())
	case errors.Is(err, model.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, model.ErrOrderNotFound.Error())
	case errors.Is(err, schedule.ErrInvalidSchedule), errors.Is(err, conflicts.ErrUnknownStrategy):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, editsession.ErrStaleSchedule):
		writeError(w, http.StatusConflict, editsession.ErrStaleSchedule.Error())
	case errors.Is(err, editsession.ErrInvalidTransition), errors.Is(err, editsession.ErrNoPendingSchedule):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, editsession.ErrConflictsUnverified):
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, editsession.ErrConflictsUnverified.Error())
	case errors.As(err, &httpErr):
		log.Error().Err(err).Int("backend_status", httpErr.StatusCode).Msg("marketplace request failed")
		msg := httpErr.Message
		if msg == "" {
			msg = http.StatusText(httpErr.StatusCode)
		}
		writeError(w, http.StatusBadGateway, msg)
	default:
		log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
