package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/goodtune/kiosktime/internal/storage"
	"github.com/gorilla/mux"
)

// defaultHistoryDays is the range listed when no dates are given
const defaultHistoryDays = 7

func (s *Server) handleGetUsage(w http.ResponseWriter, r *http.Request) {
	day, ok := parseDateVar(w, r)
	if !ok {
		return
	}

	status, err := s.deps.ScreenTime.Status(r.Context(), day)
	if err != nil {
		s.logger.Error().Err(err).Str("date", storage.DateKey(day)).Msg("Failed to get usage")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve usage data")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleListUsage(w http.ResponseWriter, r *http.Request) {
	today := storage.StartOfDay(s.deps.ScreenTime.Now())
	from, err := dateParam(r, "from", today.AddDate(0, 0, -(defaultHistoryDays-1)))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := dateParam(r, "to", today)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "to must not be before from")
		return
	}

	records, err := s.deps.Usage.ListRecords(r.Context(), storage.DateKey(from), storage.DateKey(to))
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list usage")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve usage data")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"from":    storage.DateKey(from),
		"to":      storage.DateKey(to),
		"records": records,
		"count":   len(records),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	day, err := dateParam(r, "date", storage.StartOfDay(s.deps.ScreenTime.Now()))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	date := storage.DateKey(day)

	sessions := []storage.Session{}
	if s.deps.History != nil {
		sessions, err = s.deps.History.ListSessions(r.Context(), date)
		if err != nil {
			s.logger.Error().Err(err).Str("date", date).Msg("Failed to list sessions")
			writeError(w, http.StatusInternalServerError, "Failed to retrieve sessions")
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"date":     date,
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) handleCreditDay(w http.ResponseWriter, r *http.Request) {
	s.adjustDay(w, r, "credit", s.deps.ScreenTime.CreditTimeForDay)
}

func (s *Server) handleAddUsed(w http.ResponseWriter, r *http.Request) {
	s.adjustDay(w, r, "used", s.deps.ScreenTime.AddUsedTime)
}

type adjustFunc func(ctx context.Context, minutes int, day time.Time) error

// adjustDay applies a manual usage or credit change and returns the
// resulting day status.
func (s *Server) adjustDay(w http.ResponseWriter, r *http.Request, kind string, apply adjustFunc) {
	day, ok := parseDateVar(w, r)
	if !ok {
		return
	}
	var req minutesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Minutes <= 0 {
		writeError(w, http.StatusBadRequest, "minutes must be positive")
		return
	}

	ctx := r.Context()
	if err := apply(ctx, req.Minutes, day); err != nil {
		if errors.Is(err, storage.ErrNegativeMinutes) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error().Err(err).Str("kind", kind).Str("date", storage.DateKey(day)).Msg("Failed to adjust usage")
		writeError(w, http.StatusInternalServerError, "Failed to update usage")
		return
	}

	status, err := s.deps.ScreenTime.Status(ctx, day)
	if err != nil {
		s.logger.Error().Err(err).Str("date", storage.DateKey(day)).Msg("Failed to get usage")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve usage data")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func parseDateVar(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	day, err := storage.ParseDate(mux.Vars(r)["date"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (expected YYYY-MM-DD)")
		return time.Time{}, false
	}
	return day, true
}

// dateParam reads an optional YYYY-MM-DD query parameter.
func dateParam(r *http.Request, name string, fallback time.Time) (time.Time, error) {
	value := r.URL.Query().Get(name)
	if value == "" {
		return fallback, nil
	}
	return storage.ParseDate(value)
}

// intParam reads an optional integer query parameter.
func intParam(r *http.Request, name string, fallback int) (int, error) {
	value := r.URL.Query().Get(name)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.New("invalid " + name)
	}
	return n, nil
}
