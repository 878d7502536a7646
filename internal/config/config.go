package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	ScreenTime ScreenTimeConfig `mapstructure:"screentime"`
	Parental   ParentalConfig   `mapstructure:"parental"`
	Policy     PolicyConfig     `mapstructure:"policy"`
	Usage      UsageConfig      `mapstructure:"usage"`
	Weather    WeatherConfig    `mapstructure:"weather"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	APIPort        int    `mapstructure:"api_port"`
	MetricsPort    int    `mapstructure:"metrics_port"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	BindAddress    string `mapstructure:"bind_address"`
	TickInterval   string `mapstructure:"tick_interval"` // session countdown tick
}

// StorageConfig defines the usage/session storage backend
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "json", "redis" or "bolt"
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	KeyPrefix    string `mapstructure:"key_prefix"`
}

// DatabaseConfig defines the SQLite database holding calendar entries
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// UsageWindowConfig is a time-of-day window in HH:MM form
type UsageWindowConfig struct {
	Start string `mapstructure:"start"`
	End   string `mapstructure:"end"`
}

// ScreenTimeConfig defines allowance and usage-window settings
type ScreenTimeConfig struct {
	Enabled              bool                         `mapstructure:"enabled"`
	LimitMinutes         int                          `mapstructure:"limit_minutes"`
	Reminders            []int                        `mapstructure:"reminders"`
	AllowedTimeMode      string                       `mapstructure:"allowed_time_mode"`
	DailyAllowedMinutes  int                          `mapstructure:"daily_allowed_minutes"`
	WeeklyAllowedMinutes map[string]int               `mapstructure:"weekly_allowed_minutes"`
	CalendarCategory     string                       `mapstructure:"calendar_category"`
	UsageTimesMode       string                       `mapstructure:"usage_times_mode"`
	DailyUsageTimes      UsageWindowConfig            `mapstructure:"daily_usage_times"`
	WeeklyUsageTimes     map[string]UsageWindowConfig `mapstructure:"weekly_usage_times"`
}

// ParentalConfig defines the parental PIN and API token settings
type ParentalConfig struct {
	PIN                  string `mapstructure:"pin"`
	PINHash              string `mapstructure:"pin_hash"` // bcrypt hash, takes precedence over pin
	JWTSecret            string `mapstructure:"jwt_secret"`
	TokenExpiration      string `mapstructure:"token_expiration"`
	PINAttemptsPerMinute int    `mapstructure:"pin_attempts_per_minute"`
}

// PolicyConfig defines the access policy source
type PolicyConfig struct {
	OPAPolicyDir string `mapstructure:"opa_policy_dir"` // empty uses the built-in policy
}

// UsageConfig defines usage record retention
type UsageConfig struct {
	DailyResetTime string `mapstructure:"daily_reset_time"`
	RetentionDays  int    `mapstructure:"retention_days"`
}

// WeatherConfig defines the forecast integration
type WeatherConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	LocationMode    string  `mapstructure:"location_mode"` // "auto" or "manual"
	ManualLocation  string  `mapstructure:"manual_location"`
	Latitude        float64 `mapstructure:"latitude"`
	Longitude       float64 `mapstructure:"longitude"`
	Timezone        string  `mapstructure:"timezone"`
	ForecastDays    int     `mapstructure:"forecast_days"`
	RefreshInterval string  `mapstructure:"refresh_interval"`
	CacheTTL        string  `mapstructure:"cache_ttl"`
	HTTPTimeout     string  `mapstructure:"http_timeout"`
	HTTPRetries     int     `mapstructure:"http_retries"`
	ForecastURL     string  `mapstructure:"forecast_url"`
	GeocodingURL    string  `mapstructure:"geocoding_url"`
	IPLocationURL   string  `mapstructure:"ip_location_url"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("KIOSKTIME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// LoadOrDefault loads configuration, falling back to the built-in defaults
// when the file is malformed or invalid. The load error is returned alongside
// the defaults so callers can log it.
func LoadOrDefault(configPath string) (*Config, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return Default(), err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

var weekdays = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// Weekday tables get one default per key so file values merge with them.
var defaultWeeklyWindows = map[string]UsageWindowConfig{
	"monday":    {Start: "14:00", End: "20:00"},
	"tuesday":   {Start: "14:00", End: "20:00"},
	"wednesday": {Start: "14:00", End: "20:00"},
	"thursday":  {Start: "14:00", End: "20:00"},
	"friday":    {Start: "14:00", End: "21:00"},
	"saturday":  {Start: "09:00", End: "21:00"},
	"sunday":    {Start: "09:00", End: "21:00"},
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.api_port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.metrics_enabled", true)
	v.SetDefault("server.bind_address", "127.0.0.1")
	v.SetDefault("server.tick_interval", "1s")

	// Storage defaults
	v.SetDefault("storage.type", "json")
	v.SetDefault("storage.path", "/var/lib/kiosktime/screentime_usage.json")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")
	v.SetDefault("storage.redis.key_prefix", "kiosktime")

	// Database defaults
	v.SetDefault("database.path", "/var/lib/kiosktime/calendar.db")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Screen time defaults
	v.SetDefault("screentime.enabled", false)
	v.SetDefault("screentime.limit_minutes", 60)
	v.SetDefault("screentime.reminders", []int{30, 5})
	v.SetDefault("screentime.allowed_time_mode", "daily")
	v.SetDefault("screentime.daily_allowed_minutes", 30)
	for _, day := range weekdays {
		v.SetDefault("screentime.weekly_allowed_minutes."+day, 30)
	}
	v.SetDefault("screentime.calendar_category", "Screentime")
	v.SetDefault("screentime.usage_times_mode", "always")
	v.SetDefault("screentime.daily_usage_times.start", "00:00")
	v.SetDefault("screentime.daily_usage_times.end", "23:59")
	for _, day := range weekdays {
		window := defaultWeeklyWindows[day]
		v.SetDefault("screentime.weekly_usage_times."+day+".start", window.Start)
		v.SetDefault("screentime.weekly_usage_times."+day+".end", window.End)
	}

	// Parental defaults
	v.SetDefault("parental.pin", "1234")
	v.SetDefault("parental.pin_hash", "")
	v.SetDefault("parental.jwt_secret", "")
	v.SetDefault("parental.token_expiration", "1h")
	v.SetDefault("parental.pin_attempts_per_minute", 5)

	// Policy defaults
	v.SetDefault("policy.opa_policy_dir", "")

	// Usage defaults
	v.SetDefault("usage.daily_reset_time", "00:00")
	v.SetDefault("usage.retention_days", 90)

	// Weather defaults
	v.SetDefault("weather.enabled", true)
	v.SetDefault("weather.location_mode", "manual")
	v.SetDefault("weather.manual_location", "")
	v.SetDefault("weather.latitude", 51.5074)
	v.SetDefault("weather.longitude", -0.1278)
	v.SetDefault("weather.timezone", "Europe/London")
	v.SetDefault("weather.forecast_days", 7)
	v.SetDefault("weather.refresh_interval", "30m")
	v.SetDefault("weather.cache_ttl", "1h")
	v.SetDefault("weather.http_timeout", "10s")
	v.SetDefault("weather.http_retries", 2)
	v.SetDefault("weather.forecast_url", "https://api.open-meteo.com/v1/forecast")
	v.SetDefault("weather.geocoding_url", "https://geocoding-api.open-meteo.com/v1/search")
	v.SetDefault("weather.ip_location_url", "http://ip-api.com/json/")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.APIPort <= 0 || cfg.Server.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", cfg.Server.APIPort)
	}
	if cfg.Server.MetricsEnabled && (cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535) {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "json"
	}
	switch cfg.Storage.Type {
	case "json", "bolt":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required for %s storage", cfg.Storage.Type)
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("redis host is required for redis storage")
		}
	default:
		return fmt.Errorf("unknown storage type: %s", cfg.Storage.Type)
	}

	if cfg.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if cfg.Parental.PIN == "" && cfg.Parental.PINHash == "" {
		return fmt.Errorf("a parental pin or pin_hash is required")
	}

	if cfg.Usage.RetentionDays < 0 {
		return fmt.Errorf("invalid retention_days: %d", cfg.Usage.RetentionDays)
	}

	switch cfg.Weather.LocationMode {
	case "auto", "manual":
	default:
		return fmt.Errorf("invalid weather location_mode: %s", cfg.Weather.LocationMode)
	}

	// Ensure storage directories exist
	dirs := []string{filepath.Dir(cfg.Database.Path)}
	if cfg.Storage.Type != "redis" {
		dirs = append(dirs, filepath.Dir(cfg.Storage.Path))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	return nil
}

// ValidKeys returns the set of configuration keys the loader understands.
// Weekday tables are registered per day, so weekday typos are reported too.
func ValidKeys() map[string]bool {
	v := viper.New()
	setDefaults(v)

	keys := make(map[string]bool)
	for _, key := range v.AllKeys() {
		keys[key] = true
	}
	return keys
}
