package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/kiosktime/internal/api"
	"github.com/goodtune/kiosktime/internal/calendar"
	"github.com/goodtune/kiosktime/internal/config"
	"github.com/goodtune/kiosktime/internal/database"
	"github.com/goodtune/kiosktime/internal/metrics"
	"github.com/goodtune/kiosktime/internal/policy"
	"github.com/goodtune/kiosktime/internal/screentime"
	"github.com/goodtune/kiosktime/internal/session"
	"github.com/goodtune/kiosktime/internal/storage"
	"github.com/goodtune/kiosktime/internal/storage/bolt"
	"github.com/goodtune/kiosktime/internal/storage/jsonfile"
	"github.com/goodtune/kiosktime/internal/storage/redis"
	"github.com/goodtune/kiosktime/internal/systemd"
	"github.com/goodtune/kiosktime/internal/usage"
	"github.com/goodtune/kiosktime/internal/weather"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start kiosktime server",
	Long:  `Start the kiosktime server with the session manager, local API, weather refresher and metrics endpoint.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting kiosktime")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("path", cfg.Storage.Path).
		Msg("Storage initialized")

	// Initialize database
	db, err := database.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close database")
		}
	}()

	logger.Info().Str("path", cfg.Database.Path).Msg("Database initialized")

	// Initialize Policy Engine
	policyEngine, err := policy.NewEngine(cfg.Policy.OPAPolicyDir, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Policy Engine: %w", err)
	}

	// Initialize screen time controller
	settings := screentime.FromConfig(cfg.ScreenTime, logger)
	calendarStore := calendar.NewStore(db, logger, settings.CalendarCategory)
	controller := screentime.NewController(settings, store.Usage(), calendarStore, policyEngine, screentime.RealClock{}, logger)

	logger.Info().
		Bool("enabled", settings.Enabled).
		Str("allowance_mode", settings.AllowanceMode).
		Str("usage_times_mode", settings.UsageTimesMode).
		Msg("Screen time controller initialized")

	// Initialize session manager
	pins, err := session.NewPINVerifier(cfg.Parental.PIN, cfg.Parental.PINHash, cfg.Parental.PINAttemptsPerMinute)
	if err != nil {
		return fmt.Errorf("failed to initialize parental PIN: %w", err)
	}
	manager := session.NewManager(controller, store.Sessions(), pins, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go manager.Run(ctx, parseDuration(cfg.Server.TickInterval, time.Second))

	// Initialize weather service
	var forecaster api.Forecaster
	if cfg.Weather.Enabled {
		weatherService := newWeatherService(cfg.Weather, db, logger)
		go weatherService.Run(ctx, parseDuration(cfg.Weather.RefreshInterval, 30*time.Minute))
		forecaster = weatherService
		logger.Info().Str("location_mode", cfg.Weather.LocationMode).Msg("Weather service started")
	}

	// Initialize Reset Scheduler
	resetScheduler, err := usage.NewResetScheduler(
		store,
		cfg.Usage.DailyResetTime,
		cfg.Usage.RetentionDays,
		logger,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize Reset Scheduler: %w", err)
	}

	resetScheduler.Start()
	logger.Info().Int("retention_days", cfg.Usage.RetentionDays).Msg("Reset Scheduler initialized")

	// Initialize API Server
	apiAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort)
	apiServer, err := api.NewServer(api.Config{
		ListenAddr:      apiAddr,
		JWTSecret:       cfg.Parental.JWTSecret,
		TokenExpiration: parseDuration(cfg.Parental.TokenExpiration, api.DefaultTokenExpiration),
	}, api.Deps{
		Sessions:   manager,
		ScreenTime: controller,
		Usage:      store.Usage(),
		History:    store.Sessions(),
		Calendar:   calendarStore,
		Weather:    forecaster,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize API Server: %w", err)
	}

	// Use systemd socket-activated listener if available
	if sdListeners.Activated && sdListeners.API != nil {
		apiServer.SetListener(sdListeners.API)
	}

	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API Server: %w", err)
	}

	// Initialize Metrics Server
	var metricsServer *metrics.Server
	if cfg.Server.MetricsEnabled {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
		metricsServer = metrics.NewServer(metricsAddr, logger)

		if sdListeners.Activated && sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}

		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start Metrics Server: %w", err)
		}
	}

	logger.Info().Msg("kiosktime startup complete")
	logger.Info().Msgf("API: http://%s", apiAddr)
	if metricsServer != nil {
		logger.Info().Msgf("Metrics: http://%s:%d/metrics", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	}

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	go func() {
		if err := systemd.RunWatchdog(ctx); err != nil {
			logger.Warn().Err(err).Msg("systemd watchdog stopped")
		}
	}()

	// Wait for signals (shutdown or reload)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig != syscall.SIGHUP {
			logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received, gracefully stopping...")
			break
		}

		logger.Info().Msg("SIGHUP received, reloading screen time settings and policies...")
		_ = systemd.NotifyReloading()
		reload(controller, policyEngine, logger)
		_ = systemd.NotifyReady()
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	// Record the active session before the ticker stops
	if err := manager.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to record active session")
	}

	// Stop background work first
	cancel()
	resetScheduler.Stop()

	if err := apiServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping API Server")
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping Metrics Server")
		}
	}

	logger.Info().Msg("kiosktime stopped")

	return nil
}

// reload re-reads the screen time section and the OPA policies. Settings
// that need new listeners or storage require a restart.
func reload(controller *screentime.Controller, engine *policy.Engine, logger zerolog.Logger) {
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to reload configuration, keeping current settings")
	} else {
		controller.UpdateSettings(screentime.FromConfig(cfg.ScreenTime, logger))
		logger.Info().Msg("Screen time settings reloaded")
	}

	if err := engine.Reload(); err != nil {
		logger.Error().Err(err).Msg("Failed to reload policies")
	} else {
		logger.Info().Msg("Policies reloaded successfully")
	}
}

func openStorage(cfg config.StorageConfig, logger zerolog.Logger) (storage.Store, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = "json"
	}

	switch storageType {
	case "json":
		return jsonfile.Open(cfg.Path, logger)
	case "bolt":
		return bolt.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (expected json, bolt or redis)", storageType)
	}
}

func newWeatherService(cfg config.WeatherConfig, db *database.DB, logger zerolog.Logger) *weather.Service {
	client := weather.NewClient(weather.ClientConfig{
		ForecastURL:   cfg.ForecastURL,
		GeocodingURL:  cfg.GeocodingURL,
		IPLocationURL: cfg.IPLocationURL,
		Timeout:       parseDuration(cfg.HTTPTimeout, 10*time.Second),
		Retries:       cfg.HTTPRetries,
	}, logger)

	return weather.NewService(client, db, weather.Config{
		LocationMode:   cfg.LocationMode,
		ManualLocation: cfg.ManualLocation,
		Latitude:       cfg.Latitude,
		Longitude:      cfg.Longitude,
		Timezone:       cfg.Timezone,
		ForecastDays:   cfg.ForecastDays,
		CacheTTL:       parseDuration(cfg.CacheTTL, time.Hour),
	}, logger)
}

// localServices are the stores and controller used by one-shot subcommands.
type localServices struct {
	store      storage.Store
	db         *database.DB
	calendar   *calendar.Store
	controller *screentime.Controller
}

func openLocalServices(cfg *config.Config, clock screentime.Clock, logger zerolog.Logger) (*localServices, error) {
	store, err := openStorage(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	policyEngine, err := policy.NewEngine(cfg.Policy.OPAPolicyDir, logger)
	if err != nil {
		_ = db.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize Policy Engine: %w", err)
	}

	settings := screentime.FromConfig(cfg.ScreenTime, logger)
	calendarStore := calendar.NewStore(db, logger, settings.CalendarCategory)

	return &localServices{
		store:      store,
		db:         db,
		calendar:   calendarStore,
		controller: screentime.NewController(settings, store.Usage(), calendarStore, policyEngine, clock, logger),
	}, nil
}

func (s *localServices) Close() {
	_ = s.db.Close()
	_ = s.store.Close()
}

// cliLogger is the quiet logger used by one-shot subcommands.
func cliLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
