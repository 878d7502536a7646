package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

// MaxForecastDays is the longest forecast Open-Meteo serves.
const MaxForecastDays = 16

// ErrLocationNotFound is returned when geocoding or IP lookup finds nothing.
var ErrLocationNotFound = errors.New("location not found")

// Location identifies where forecasts are fetched for.
type Location struct {
	Name      string  `json:"name,omitempty"`
	Country   string  `json:"country,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timezone  string  `json:"timezone"`
}

// DisplayName returns "name, country" or the coordinates.
func (l Location) DisplayName() string {
	if l.Name == "" {
		return fmt.Sprintf("%.4f, %.4f", l.Latitude, l.Longitude)
	}
	if l.Country == "" {
		return l.Name
	}
	return l.Name + ", " + l.Country
}

// DayForecast is one day of forecast.
type DayForecast struct {
	Date            string  `json:"date"`
	TemperatureHigh float64 `json:"temperature_high"`
	TemperatureLow  float64 `json:"temperature_low"`
	WeatherCode     int     `json:"weather_code"`
	Icon            string  `json:"icon"`
	Description     string  `json:"description"`
}

// ClientConfig configures the HTTP endpoints and retry behavior.
type ClientConfig struct {
	ForecastURL   string
	GeocodingURL  string
	IPLocationURL string
	Timeout       time.Duration
	Retries       int
	RetryWaitMin  time.Duration
	RetryWaitMax  time.Duration
}

// Client talks to Open-Meteo and ip-api.com.
type Client struct {
	http   *retryablehttp.Client
	cfg    ClientConfig
	logger zerolog.Logger
}

// NewClient creates a weather API client.
func NewClient(cfg ClientConfig, logger zerolog.Logger) *Client {
	logger = logger.With().Str("component", "weather").Logger()

	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = cfg.Retries
	if cfg.RetryWaitMin > 0 {
		httpClient.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		httpClient.RetryWaitMax = cfg.RetryWaitMax
	}
	if cfg.Timeout > 0 {
		httpClient.HTTPClient.Timeout = cfg.Timeout
	}
	httpClient.Logger = leveledLogger{logger: logger}

	return &Client{
		http:   httpClient,
		cfg:    cfg,
		logger: logger,
	}
}

type forecastResponse struct {
	Daily struct {
		Time           []string  `json:"time"`
		TemperatureMax []float64 `json:"temperature_2m_max"`
		TemperatureMin []float64 `json:"temperature_2m_min"`
		WeatherCode    []int     `json:"weathercode"`
	} `json:"daily"`
}

// Forecast fetches a daily forecast for up to MaxForecastDays days.
func (c *Client) Forecast(ctx context.Context, loc Location, days int) ([]DayForecast, error) {
	days = min(max(days, 1), MaxForecastDays)

	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(loc.Latitude, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(loc.Longitude, 'f', -1, 64))
	params.Set("daily", "temperature_2m_max,temperature_2m_min,weathercode")
	params.Set("timezone", loc.Timezone)
	params.Set("forecast_days", strconv.Itoa(days))

	var resp forecastResponse
	if err := c.getJSON(ctx, c.cfg.ForecastURL, params, &resp); err != nil {
		return nil, fmt.Errorf("fetch forecast: %w", err)
	}

	daily := resp.Daily
	forecasts := make([]DayForecast, 0, len(daily.Time))
	for i, date := range daily.Time {
		if i >= len(daily.WeatherCode) || i >= len(daily.TemperatureMax) || i >= len(daily.TemperatureMin) {
			break
		}
		forecasts = append(forecasts, newDayForecast(date, daily.TemperatureMax[i], daily.TemperatureMin[i], daily.WeatherCode[i]))
	}
	if len(forecasts) == 0 {
		return nil, errors.New("fetch forecast: empty response")
	}
	return forecasts, nil
}

type geocodingResponse struct {
	Results []struct {
		Name      string  `json:"name"`
		Admin1    string  `json:"admin1"`
		Country   string  `json:"country"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Timezone  string  `json:"timezone"`
	} `json:"results"`
}

// Search looks up places by name.
func (c *Client) Search(ctx context.Context, query string, count int) ([]Location, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("empty location query")
	}
	if count <= 0 {
		count = 10
	}

	params := url.Values{}
	params.Set("name", query)
	params.Set("count", strconv.Itoa(count))
	params.Set("language", "en")
	params.Set("format", "json")

	var resp geocodingResponse
	if err := c.getJSON(ctx, c.cfg.GeocodingURL, params, &resp); err != nil {
		return nil, fmt.Errorf("search locations: %w", err)
	}

	locations := make([]Location, 0, len(resp.Results))
	for _, r := range resp.Results {
		name := r.Name
		if r.Admin1 != "" {
			name += ", " + r.Admin1
		}
		timezone := r.Timezone
		if timezone == "" {
			timezone = DefaultLocation.Timezone
		}
		locations = append(locations, Location{
			Name:      name,
			Country:   r.Country,
			Latitude:  r.Latitude,
			Longitude: r.Longitude,
			Timezone:  timezone,
		})
	}
	return locations, nil
}

type ipLocationResponse struct {
	Status   string  `json:"status"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	City     string  `json:"city"`
	Timezone string  `json:"timezone"`
}

// LocateByIP resolves the device's approximate location from its public IP.
func (c *Client) LocateByIP(ctx context.Context) (*Location, error) {
	params := url.Values{}
	params.Set("fields", "status,lat,lon,city,timezone")

	var resp ipLocationResponse
	if err := c.getJSON(ctx, c.cfg.IPLocationURL, params, &resp); err != nil {
		return nil, fmt.Errorf("locate by ip: %w", err)
	}
	if resp.Status != "success" {
		return nil, ErrLocationNotFound
	}
	return &Location{
		Name:      resp.City,
		Latitude:  resp.Lat,
		Longitude: resp.Lon,
		Timezone:  resp.Timezone,
	}, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, out any) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", endpoint, err)
	}
	u.RawQuery = params.Encode()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, u.Host)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func newDayForecast(date string, high, low float64, code int) DayForecast {
	icon, description := Condition(code)
	return DayForecast{
		Date:            date,
		TemperatureHigh: high,
		TemperatureLow:  low,
		WeatherCode:     code,
		Icon:            icon,
		Description:     description,
	}
}

// leveledLogger adapts zerolog to retryablehttp.LeveledLogger
type leveledLogger struct {
	logger zerolog.Logger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Trace().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}
