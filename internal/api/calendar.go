package api

import (
	"errors"
	"net/http"

	"github.com/goodtune/kiosktime/internal/calendar"
	"github.com/goodtune/kiosktime/internal/storage"
	"github.com/gorilla/mux"
)

// maxCalendarRangeDays bounds recurrence expansion per request
const maxCalendarRangeDays = 366

func (s *Server) handleListCalendar(w http.ResponseWriter, r *http.Request) {
	today := storage.StartOfDay(s.deps.ScreenTime.Now())
	from, err := dateParam(r, "from", today)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := dateParam(r, "to", from)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "to must not be before from")
		return
	}
	if to.After(from.AddDate(0, 0, maxCalendarRangeDays)) {
		writeError(w, http.StatusBadRequest, "date range too large")
		return
	}

	category := r.URL.Query().Get("category")
	entries, err := s.deps.Calendar.EntriesBetween(r.Context(), from, to, category)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list calendar entries")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve calendar entries")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"from":    storage.DateKey(from),
		"to":      storage.DateKey(to),
		"entries": entries,
		"count":   len(entries),
	})
}

func (s *Server) handleAddCalendar(w http.ResponseWriter, r *http.Request) {
	var entry calendar.Entry
	if err := decodeJSON(r, &entry); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := s.deps.Calendar.Add(r.Context(), entry)
	if err != nil {
		if calendar.IsValidationError(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error().Err(err).Msg("Failed to add calendar entry")
		writeError(w, http.StatusInternalServerError, "Failed to add calendar entry")
		return
	}

	s.logger.Info().Str("id", created.ID).Str("date", created.Date).Str("category", created.Category).Msg("Calendar entry added")
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleDeleteCalendar(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.deps.Calendar.Delete(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Calendar entry not found")
			return
		}
		s.logger.Error().Err(err).Str("id", id).Msg("Failed to delete calendar entry")
		writeError(w, http.StatusInternalServerError, "Failed to delete calendar entry")
		return
	}

	s.logger.Info().Str("id", id).Msg("Calendar entry deleted")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Calendar entry deleted",
	})
}
