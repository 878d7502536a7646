package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// HTTP API metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiosktime_api_requests_total",
			Help: "Total number of API requests processed",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kiosktime_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Access decision metrics
	AccessDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiosktime_access_decisions_total",
			Help: "Session start decisions by result code",
		},
		[]string{"code", "allowed"},
	)

	PolicyEvaluationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kiosktime_policy_evaluation_duration_seconds",
			Help:    "OPA access policy evaluation duration in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25},
		},
	)

	// Usage metrics
	UsageMinutesConsumed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kiosktime_usage_minutes_consumed_total",
			Help: "Total screen time minutes recorded as used",
		},
	)

	CreditMinutesGranted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kiosktime_credit_minutes_granted_total",
			Help: "Total bonus minutes credited to days",
		},
	)

	UsageRecordsPruned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiosktime_usage_records_pruned_total",
			Help: "Usage and session records removed by retention",
		},
		[]string{"kind"},
	)

	// Session metrics
	SessionsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kiosktime_sessions_started_total",
			Help: "Total screen sessions started",
		},
	)

	SessionsEnded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiosktime_sessions_ended_total",
			Help: "Total screen sessions ended by outcome",
		},
		[]string{"outcome"},
	)

	RemindersSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kiosktime_reminders_sent_total",
			Help: "Total remaining-time reminders published",
		},
	)

	SessionRemainingSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kiosktime_session_remaining_seconds",
			Help: "Seconds left in the current screen session",
		},
	)

	SessionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kiosktime_session_state",
			Help: "Current session state (1 for the active state)",
		},
		[]string{"state"},
	)

	PINAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiosktime_pin_attempts_total",
			Help: "Parental PIN attempts by result",
		},
		[]string{"result"},
	)

	// Weather metrics
	WeatherFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiosktime_weather_fetches_total",
			Help: "Weather forecast lookups by source",
		},
		[]string{"source"},
	)

	WeatherCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kiosktime_weather_cache_hits_total",
			Help: "Weather forecast cache hits",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		AccessDecisions,
		PolicyEvaluationDuration,
		UsageMinutesConsumed,
		CreditMinutesGranted,
		UsageRecordsPruned,
		SessionsStarted,
		SessionsEnded,
		RemindersSent,
		SessionRemainingSeconds,
		SessionState,
		PINAttempts,
		WeatherFetches,
		WeatherCacheHits,
	)
}

// Server exposes /metrics and /health.
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener
}

// NewServer creates a metrics server bound to addr unless a listener is set.
func NewServer(addr string, logger zerolog.Logger) *Server {
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Handler returns the metrics routes.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// SetListener sets a socket-activated listener.
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln := s.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", s.server.Addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
		}
	} else {
		s.logger.Debug().Msg("Using socket-activated metrics listener")
	}
	s.listener = ln

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting metrics server")
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop shuts the server down, waiting briefly for in-flight scrapes.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
