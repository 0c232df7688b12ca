package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"scheduleguard/internal/conflicts"
	"scheduleguard/internal/editsession"
	"scheduleguard/internal/history"
	"scheduleguard/internal/metrics"
	"scheduleguard/internal/model"
	"scheduleguard/internal/schedule"
)

const maxBodyBytes = 32 << 20

// SaveScheduleRequest is the request body for POST /api/orders/{id}/schedule.
type SaveScheduleRequest struct {
	SessionID      string                   `json:"sessionId,omitempty"`
	WeeklySchedule *schedule.WeeklySchedule `json:"weeklySchedule"`
	Media          model.MediaIntent        `json:"media"`
}

// ScanRequest is the request body for POST /api/orders/{id}/schedule/scan.
type ScanRequest struct {
	WeeklySchedule *schedule.WeeklySchedule `json:"weeklySchedule"`
}

// ResolveRequest is the request body for POST /api/schedule-sessions/{sid}/resolve.
type ResolveRequest struct {
	Strategy string `json:"strategy"`
}

// ScanResponse lists the bookings a schedule would conflict with.
type ScanResponse struct {
	Conflicts []conflicts.Conflict `json:"conflicts"`
}

// HistoryResponse is the JSON form of GET /api/orders/{id}/schedule/history.
type HistoryResponse struct {
	OrderID string           `json:"orderId"`
	Changes []history.Change `json:"changes"`
}

// handleScan reports conflicts without saving.
// POST /api/orders/{id}/schedule/scan
func (s *HTTPServer) handleScan(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("schedule_scan")
	orderID := r.PathValue("id")
	log := s.log.With().Str("order_id", orderID).Logger()

	var req ScanRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := checkSchedule(req.WeeklySchedule); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	found, err := s.service.Scan(r.Context(), orderID, req.WeeklySchedule)
	if err != nil {
		s.writeServiceError(w, err, log)
		return
	}
	if found == nil {
		found = []conflicts.Conflict{}
	}
	writeJSON(w, http.StatusOK, ScanResponse{Conflicts: found})
}

// handleSave saves a schedule or reports its conflicts.
// POST /api/orders/{id}/schedule
func (s *HTTPServer) handleSave(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("schedule_save")
	orderID := r.PathValue("id")
	log := s.log.With().Str("order_id", orderID).Logger()

	var req SaveScheduleRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := checkSchedule(req.WeeklySchedule); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.service.Save(r.Context(), req.SessionID, orderID, req.WeeklySchedule, req.Media)
	if err != nil {
		s.writeServiceError(w, err, log)
		return
	}

	status := http.StatusOK
	if res.Status == editsession.StatusConflicts {
		status = http.StatusConflict
	}
	writeJSON(w, status, res)
}

// handleResolve applies a resolution strategy to a pending schedule.
// POST /api/schedule-sessions/{sid}/resolve
func (s *HTTPServer) handleResolve(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("schedule_resolve")
	sessionID := r.PathValue("sid")
	log := s.log.With().Str("session_id", sessionID).Logger()

	var req ResolveRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	strategy, err := conflicts.ParseStrategy(req.Strategy)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.service.Resolve(r.Context(), sessionID, strategy)
	if err != nil {
		s.writeServiceError(w, err, log)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleCancel discards a pending schedule.
// DELETE /api/schedule-sessions/{sid}
func (s *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("schedule_cancel")
	sessionID := r.PathValue("sid")

	if _, err := s.service.Cancel(r.Context(), sessionID); err != nil {
		s.writeServiceError(w, err, s.log.With().Str("session_id", sessionID).Logger())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/schedule-sessions/{sid}
func (s *HTTPServer) handleGetSession(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("schedule_session")
	sessionID := r.PathValue("sid")

	sess, err := s.service.Get(r.Context(), sessionID)
	if err != nil {
		s.writeServiceError(w, err, s.log.With().Str("session_id", sessionID).Logger())
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleHistory lists saved and failed schedule writes of an order.
// GET /api/orders/{id}/schedule/history?limit=50&format=xlsx
func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("schedule_history")
	orderID := r.PathValue("id")
	log := s.log.With().Str("order_id", orderID).Logger()

	if s.history == nil {
		writeError(w, http.StatusNotFound, "history is disabled")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	changes, err := s.history.ListByOrder(r.Context(), orderID, limit)
	if err != nil {
		s.writeServiceError(w, err, log)
		return
	}

	switch r.URL.Query().Get("format") {
	case "", "json":
		if changes == nil {
			changes = []history.Change{}
		}
		writeJSON(w, http.StatusOK, HistoryResponse{OrderID: orderID, Changes: changes})
	case "xlsx":
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="schedule_history_%s.xlsx"`, orderID))
		if err := history.WriteXLSX(w, changes); err != nil {
			log.Error().Err(err).Msg("failed to write history workbook")
		}
	default:
		writeError(w, http.StatusBadRequest, "format must be json or xlsx")
	}
}

// GET /api/schedule/defaults
func (s *HTTPServer) handleDefaults(w http.ResponseWriter, _ *http.Request) {
	metrics.IncHTTP("schedule_defaults")
	writeJSON(w, http.StatusOK, s.cfg.Defaults)
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func checkSchedule(ws *schedule.WeeklySchedule) error {
	if ws == nil {
		return errors.New("weeklySchedule is required")
	}
	return ws.Validate()
}
