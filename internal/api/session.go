package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/goodtune/kiosktime/internal/screentime"
	"github.com/goodtune/kiosktime/internal/session"
	"github.com/goodtune/kiosktime/internal/storage"
)

// StatusResponse is the kiosk snapshot shown by the UI.
type StatusResponse struct {
	Session  session.Status          `json:"session"`
	Today    *screentime.DayStatus   `json:"today,omitempty"`
	Window   *screentime.WindowCheck `json:"window,omitempty"`
	Decision screentime.Decision     `json:"decision"`
}

// SessionResponse reports the outcome of a session operation.
type SessionResponse struct {
	Session  session.Status       `json:"session"`
	Decision *screentime.Decision `json:"decision,omitempty"`
	Minutes  int                  `json:"minutes,omitempty"`
}

type pinRequest struct {
	PIN string `json:"pin"`
}

type minutesRequest struct {
	Minutes int `json:"minutes"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := s.deps.ScreenTime.Now()

	resp := StatusResponse{
		Session:  s.deps.Sessions.Status(),
		Decision: s.deps.ScreenTime.CanStartSession(ctx),
	}
	if today, err := s.deps.ScreenTime.Status(ctx, now); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to read today's allowance")
	} else {
		resp.Today = &today
	}
	if window, err := s.deps.ScreenTime.IsWithinUsageTimes(ctx, now); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to check usage window")
	} else {
		resp.Window = &window
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req pinRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, expiresAt, err := s.auth.Login(req.PIN)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	s.logger.Info().Str("remote_addr", r.RemoteAddr).Msg("Parent logged in")
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	decision, err := s.deps.Sessions.Start(r.Context())
	s.writeDecision(w, decision, err)
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	var req pinRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	decision, err := s.deps.Sessions.Unlock(r.Context(), req.PIN)
	if err != nil && decision.Code == "" {
		s.writeSessionError(w, err)
		return
	}
	s.writeDecision(w, decision, err)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.writeResult(w, 0, s.deps.Sessions.Pause())
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.writeResult(w, 0, s.deps.Sessions.Resume())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.writeResult(w, 0, s.deps.Sessions.Stop(r.Context()))
}

func (s *Server) handleAddTime(w http.ResponseWriter, r *http.Request) {
	var req minutesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeResult(w, req.Minutes, s.deps.Sessions.AddTime(r.Context(), req.Minutes))
}

func (s *Server) handleCreditTomorrow(w http.ResponseWriter, r *http.Request) {
	minutes, err := s.deps.Sessions.CreditRemainingTomorrow(r.Context())
	s.writeResult(w, minutes, err)
}

func (s *Server) handleDoubleTomorrow(w http.ResponseWriter, r *http.Request) {
	minutes, err := s.deps.Sessions.DoubleRemainingTomorrow(r.Context())
	s.writeResult(w, minutes, err)
}

func (s *Server) handleMoveToTomorrow(w http.ResponseWriter, r *http.Request) {
	minutes, err := s.deps.Sessions.MoveRemainingToTomorrow(r.Context())
	s.writeResult(w, minutes, err)
}

// writeDecision reports a start attempt. A denial is not an HTTP error.
func (s *Server) writeDecision(w http.ResponseWriter, decision screentime.Decision, err error) {
	if err != nil {
		if errors.Is(err, session.ErrInvalidState) {
			s.writeSessionError(w, err)
			return
		}
		s.logger.Error().Err(err).Str("code", decision.Code).Msg("Session start failed")
	}
	writeJSON(w, http.StatusOK, SessionResponse{
		Session:  s.deps.Sessions.Status(),
		Decision: &decision,
	})
}

func (s *Server) writeResult(w http.ResponseWriter, minutes int, err error) {
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{
		Session: s.deps.Sessions.Status(),
		Minutes: minutes,
	})
}

// writeSessionError maps session and storage errors to HTTP statuses.
func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidPIN):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, session.ErrTooManyAttempts):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, session.ErrInvalidState),
		errors.Is(err, session.ErrNoSession),
		errors.Is(err, session.ErrNoLimit):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrInvalidMinutes),
		errors.Is(err, storage.ErrNegativeMinutes):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error().Err(err).Msg("Session operation failed")
		writeError(w, http.StatusInternalServerError, "Session operation failed")
	}
}
