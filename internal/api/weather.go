package api

import (
	"fmt"
	"net/http"

	"github.com/goodtune/kiosktime/internal/weather"
)

func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r, "days", 0)
	if err != nil || days < 0 || days > weather.MaxForecastDays {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("days must be between 1 and %d", weather.MaxForecastDays))
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Weather.Forecast(r.Context(), days))
}
