package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/goodtune/kiosktime/internal/calendar"
	"github.com/goodtune/kiosktime/internal/screentime"
	"github.com/goodtune/kiosktime/internal/session"
	"github.com/goodtune/kiosktime/internal/storage"
	"github.com/goodtune/kiosktime/internal/weather"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Config holds the API server configuration.
type Config struct {
	ListenAddr      string
	JWTSecret       string
	TokenExpiration time.Duration
}

// SessionManager drives the on-device lock state.
type SessionManager interface {
	Status() session.Status
	Subscribe(buffer int) (<-chan session.Event, func())
	Start(ctx context.Context) (screentime.Decision, error)
	Pause() error
	Resume() error
	Stop(ctx context.Context) error
	Unlock(ctx context.Context, pin string) (screentime.Decision, error)
	VerifyPIN(pin string) error
	AddTime(ctx context.Context, minutes int) error
	CreditRemainingTomorrow(ctx context.Context) (int, error)
	DoubleRemainingTomorrow(ctx context.Context) (int, error)
	MoveRemainingToTomorrow(ctx context.Context) (int, error)
}

// ScreenTime reports allowances and records manual adjustments.
type ScreenTime interface {
	Now() time.Time
	Status(ctx context.Context, day time.Time) (screentime.DayStatus, error)
	CanStartSession(ctx context.Context) screentime.Decision
	IsWithinUsageTimes(ctx context.Context, now time.Time) (screentime.WindowCheck, error)
	AddUsedTime(ctx context.Context, minutes int, day time.Time) error
	CreditTimeForDay(ctx context.Context, minutes int, day time.Time) error
}

// Calendar manages calendar entries.
type Calendar interface {
	Add(ctx context.Context, entry calendar.Entry) (*calendar.Entry, error)
	Delete(ctx context.Context, id string) error
	EntriesBetween(ctx context.Context, from, to time.Time, category string) ([]calendar.Entry, error)
}

// Forecaster serves weather reports.
type Forecaster interface {
	Forecast(ctx context.Context, days int) weather.Report
}

// Deps are the services behind the API. Calendar and Weather may be nil,
// which disables their routes.
type Deps struct {
	Sessions   SessionManager
	ScreenTime ScreenTime
	Usage      storage.UsageStore
	History    storage.SessionStore
	Calendar   Calendar
	Weather    Forecaster
}

// Server represents the local HTTP API server.
type Server struct {
	config   Config
	deps     Deps
	auth     *AuthService
	router   *mux.Router
	server   *http.Server
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
	logger   zerolog.Logger

	// closed on shutdown so event streams return
	done     chan struct{}
	doneOnce sync.Once
}

// NewServer creates a new API server.
func NewServer(cfg Config, deps Deps, logger zerolog.Logger) (*Server, error) {
	if deps.Sessions == nil || deps.ScreenTime == nil || deps.Usage == nil {
		return nil, errors.New("api: sessions, screen time and usage are required")
	}

	auth, err := NewAuthService(deps.Sessions, cfg.JWTSecret, cfg.TokenExpiration)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config: cfg,
		deps:   deps,
		auth:   auth,
		router: mux.NewRouter(),
		logger: logger.With().Str("component", "api").Logger(),
		done:   make(chan struct{}),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.server.RegisterOnShutdown(s.closeStreams)
	return s, nil
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))

	// Public routes
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/api/events", s.handleEvents).Methods("GET")
	s.router.HandleFunc("/api/auth/login", s.handleLogin).Methods("POST")
	s.router.HandleFunc("/api/session/start", s.handleStart).Methods("POST")
	s.router.HandleFunc("/api/session/unlock", s.handleUnlock).Methods("POST")
	s.router.HandleFunc("/api/usage", s.handleListUsage).Methods("GET")
	s.router.HandleFunc("/api/usage/{date}", s.handleGetUsage).Methods("GET")
	s.router.HandleFunc("/api/sessions", s.handleListSessions).Methods("GET")
	if s.deps.Calendar != nil {
		s.router.HandleFunc("/api/calendar", s.handleListCalendar).Methods("GET")
	}
	if s.deps.Weather != nil {
		s.router.HandleFunc("/api/weather", s.handleWeather).Methods("GET")
	}

	// Parent routes
	parent := s.router.PathPrefix("/api").Subrouter()
	parent.Use(AuthMiddleware(s.auth))

	parent.HandleFunc("/session/pause", s.handlePause).Methods("POST")
	parent.HandleFunc("/session/resume", s.handleResume).Methods("POST")
	parent.HandleFunc("/session/stop", s.handleStop).Methods("POST")
	parent.HandleFunc("/session/add-time", s.handleAddTime).Methods("POST")
	parent.HandleFunc("/session/credit-tomorrow", s.handleCreditTomorrow).Methods("POST")
	parent.HandleFunc("/session/double-tomorrow", s.handleDoubleTomorrow).Methods("POST")
	parent.HandleFunc("/session/move-to-tomorrow", s.handleMoveToTomorrow).Methods("POST")
	parent.HandleFunc("/usage/{date}/credit", s.handleCreditDay).Methods("POST")
	parent.HandleFunc("/usage/{date}/used", s.handleAddUsed).Methods("POST")
	if s.deps.Calendar != nil {
		parent.HandleFunc("/calendar", s.handleAddCalendar).Methods("POST")
		parent.HandleFunc("/calendar/{id}", s.handleDeleteCalendar).Methods("DELETE")
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the API server in the background.
func (s *Server) Start() error {
	ln := s.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", s.config.ListenAddr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", s.config.ListenAddr, err)
		}
	} else {
		s.logger.Debug().Msg("Using systemd socket-activated API listener")
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting API server")
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()
	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return nil
}

func (s *Server) closeStreams() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"state":  s.deps.Sessions.Status().State,
	})
}
