package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/kiosktime/internal/database"
	"github.com/goodtune/kiosktime/internal/metrics"
	"github.com/goodtune/kiosktime/internal/storage"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
)

// Location modes
const (
	LocationAuto   = "auto"
	LocationManual = "manual"
)

// locationSettingKey stores the last resolved location in the settings table
const locationSettingKey = "weather.location"

// DefaultLocation is used when no location can be resolved.
var DefaultLocation = Location{
	Name:      "London",
	Country:   "United Kingdom",
	Latitude:  51.5074,
	Longitude: -0.1278,
	Timezone:  "Europe/London",
}

// Source tells where a forecast came from.
type Source string

const (
	SourceLive     Source = "live"
	SourceMemory   Source = "memory"
	SourceDatabase Source = "database"
	SourceFallback Source = "fallback"
)

// Report is a forecast with its origin.
type Report struct {
	Location Location      `json:"location"`
	Source   Source        `json:"source"`
	Days     []DayForecast `json:"days"`
}

// Config configures the weather service.
type Config struct {
	LocationMode   string
	ManualLocation string
	Latitude       float64
	Longitude      float64
	Timezone       string
	ForecastDays   int
	CacheTTL       time.Duration
}

// Service resolves the location and serves cached forecasts.
type Service struct {
	client *Client
	db     *database.DB
	cfg    Config
	cache  *expirable.LRU[string, []DayForecast]
	now    func() time.Time
	logger zerolog.Logger

	mu       sync.RWMutex
	location *Location
}

// NewService creates a weather service. db may be nil, which disables the
// persistent cache.
func NewService(client *Client, db *database.DB, cfg Config, logger zerolog.Logger) *Service {
	if cfg.ForecastDays <= 0 {
		cfg.ForecastDays = 7
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	return &Service{
		client: client,
		db:     db,
		cfg:    cfg,
		cache:  expirable.NewLRU[string, []DayForecast](32, nil, cfg.CacheTTL),
		now:    time.Now,
		logger: logger.With().Str("component", "weather").Logger(),
	}
}

// Location returns the resolved location, resolving it on first use.
func (s *Service) Location(ctx context.Context) Location {
	s.mu.RLock()
	loc := s.location
	s.mu.RUnlock()
	if loc != nil {
		return *loc
	}
	return s.ResolveLocation(ctx)
}

// ResolveLocation determines the forecast location from the configured
// mode. Lookups that fail fall back to the last stored location, then to
// the configured coordinates.
func (s *Service) ResolveLocation(ctx context.Context) Location {
	loc, err := s.lookupLocation(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Str("mode", s.cfg.LocationMode).Msg("Location lookup failed")
		if stored, storedErr := s.storedLocation(ctx); storedErr == nil {
			loc = stored
		} else {
			loc = s.configuredLocation()
		}
	} else {
		s.storeLocation(ctx, loc)
	}

	s.mu.Lock()
	s.location = &loc
	s.mu.Unlock()

	s.logger.Info().
		Str("location", loc.DisplayName()).
		Float64("latitude", loc.Latitude).
		Float64("longitude", loc.Longitude).
		Msg("Weather location resolved")
	return loc
}

// SetLocation overrides the resolved location.
func (s *Service) SetLocation(ctx context.Context, loc Location) {
	if loc.Timezone == "" {
		loc.Timezone = DefaultLocation.Timezone
	}
	s.storeLocation(ctx, loc)
	s.mu.Lock()
	s.location = &loc
	s.mu.Unlock()
}

// Search looks up places by name.
func (s *Service) Search(ctx context.Context, query string, count int) ([]Location, error) {
	return s.client.Search(ctx, query, count)
}

// Forecast returns the forecast for the next days. It never fails: the
// persistent cache and then a fixed fallback pattern stand in for the API.
func (s *Service) Forecast(ctx context.Context, days int) Report {
	if days <= 0 {
		days = s.cfg.ForecastDays
	}
	days = min(days, MaxForecastDays)

	loc := s.Location(ctx)
	key := cacheKey(loc, days)

	if forecasts, ok := s.cache.Get(key); ok {
		metrics.WeatherCacheHits.Inc()
		return Report{Location: loc, Source: SourceMemory, Days: forecasts}
	}

	forecasts, err := s.client.Forecast(ctx, loc, days)
	if err == nil {
		metrics.WeatherFetches.WithLabelValues(string(SourceLive)).Inc()
		s.cache.Add(key, forecasts)
		if err := s.persist(ctx, loc, forecasts); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to persist forecast")
		}
		return Report{Location: loc, Source: SourceLive, Days: forecasts}
	}
	s.logger.Warn().Err(err).Msg("Forecast fetch failed")

	if cached, cacheErr := s.loadPersisted(ctx, loc, days); cacheErr == nil && len(cached) > 0 {
		metrics.WeatherFetches.WithLabelValues(string(SourceDatabase)).Inc()
		return Report{Location: loc, Source: SourceDatabase, Days: cached}
	}

	metrics.WeatherFetches.WithLabelValues(string(SourceFallback)).Inc()
	s.logger.Info().Msg("Using fallback weather data")
	return Report{Location: loc, Source: SourceFallback, Days: FallbackForecast(s.now(), days)}
}

// Refresh drops the in-memory forecast and fetches a new one.
func (s *Service) Refresh(ctx context.Context) Report {
	s.cache.Purge()
	return s.Forecast(ctx, s.cfg.ForecastDays)
}

// Run refreshes the forecast every interval until ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	s.Refresh(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Weather refresher stopped")
			return
		case <-ticker.C:
			report := s.Refresh(ctx)
			s.logger.Debug().Str("source", string(report.Source)).Int("days", len(report.Days)).Msg("Weather refreshed")
		}
	}
}

// FallbackForecast returns a deterministic forecast starting today.
func FallbackForecast(today time.Time, days int) []DayForecast {
	forecasts := make([]DayForecast, 0, days)
	start := storage.StartOfDay(today)
	for i := 0; i < days; i++ {
		pattern := fallbackPatterns[i%len(fallbackPatterns)]
		date := storage.DateKey(start.AddDate(0, 0, i))
		forecasts = append(forecasts, newDayForecast(date, pattern.high, pattern.low, pattern.code))
	}
	return forecasts
}

func (s *Service) lookupLocation(ctx context.Context) (Location, error) {
	switch s.cfg.LocationMode {
	case LocationAuto:
		loc, err := s.client.LocateByIP(ctx)
		if err != nil {
			return Location{}, err
		}
		return *loc, nil
	default:
		if s.cfg.ManualLocation == "" {
			return s.configuredLocation(), nil
		}
		results, err := s.client.Search(ctx, s.cfg.ManualLocation, 1)
		if err != nil {
			return Location{}, err
		}
		if len(results) == 0 {
			return Location{}, fmt.Errorf("%w: %s", ErrLocationNotFound, s.cfg.ManualLocation)
		}
		return results[0], nil
	}
}

func (s *Service) configuredLocation() Location {
	if s.cfg.Latitude == 0 && s.cfg.Longitude == 0 {
		return DefaultLocation
	}
	timezone := s.cfg.Timezone
	if timezone == "" {
		timezone = DefaultLocation.Timezone
	}
	return Location{Latitude: s.cfg.Latitude, Longitude: s.cfg.Longitude, Timezone: timezone}
}

func (s *Service) storedLocation(ctx context.Context) (Location, error) {
	if s.db == nil {
		return Location{}, storage.ErrNotFound
	}
	value, err := s.db.GetSetting(ctx, locationSettingKey)
	if err != nil {
		return Location{}, err
	}
	var loc Location
	if err := json.Unmarshal([]byte(value), &loc); err != nil {
		return Location{}, fmt.Errorf("decode stored location: %w", err)
	}
	return loc, nil
}

func (s *Service) storeLocation(ctx context.Context, loc Location) {
	if s.db == nil {
		return
	}
	data, err := json.Marshal(loc)
	if err != nil {
		return
	}
	if err := s.db.SetSetting(ctx, locationSettingKey, string(data)); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to store weather location")
	}
}

func (s *Service) persist(ctx context.Context, loc Location, forecasts []DayForecast) error {
	if s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	fetchedAt := s.now().UTC()
	for _, f := range forecasts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO weather_cache (latitude, longitude, date, temp_max, temp_min, weather_code, fetched_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(latitude, longitude, date) DO UPDATE SET
				temp_max = excluded.temp_max,
				temp_min = excluded.temp_min,
				weather_code = excluded.weather_code,
				fetched_at = excluded.fetched_at
		`, loc.Latitude, loc.Longitude, f.Date, f.TemperatureHigh, f.TemperatureLow, f.WeatherCode, fetchedAt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("cache forecast for %s: %w", f.Date, err)
		}
	}
	return tx.Commit()
}

func (s *Service) loadPersisted(ctx context.Context, loc Location, days int) ([]DayForecast, error) {
	if s.db == nil {
		return nil, errors.New("no database")
	}
	start := storage.StartOfDay(s.now())
	from := storage.DateKey(start)
	to := storage.DateKey(start.AddDate(0, 0, days-1))

	rows, err := s.db.QueryContext(ctx, `
		SELECT date, temp_max, temp_min, weather_code FROM weather_cache
		WHERE latitude = ? AND longitude = ? AND date >= ? AND date <= ?
		ORDER BY date
	`, loc.Latitude, loc.Longitude, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var forecasts []DayForecast
	for rows.Next() {
		var date string
		var high, low float64
		var code int
		if err := rows.Scan(&date, &high, &low, &code); err != nil {
			return nil, err
		}
		forecasts = append(forecasts, newDayForecast(date, high, low, code))
	}
	return forecasts, rows.Err()
}

func cacheKey(loc Location, days int) string {
	return fmt.Sprintf("%.4f,%.4f,%d", loc.Latitude, loc.Longitude, days)
}
