package screentime

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/goodtune/kiosktime/internal/calendar"
	"github.com/goodtune/kiosktime/internal/config"
	"github.com/rs/zerolog"
)

// Allowance modes
const (
	AllowanceDaily    = "daily"
	AllowanceWeekly   = "weekly"
	AllowanceCalendar = "calendar"
)

// Usage-times modes
const (
	UsageAlways   = "always"
	UsageDaily    = "daily"
	UsageWeekly   = "weekly"
	UsageCalendar = "calendar"
)

// FallbackAllowanceMinutes applies when a weekday or mode is not configured.
const FallbackAllowanceMinutes = 30

// Weekdays lists the weekday keys used in weekly tables.
var Weekdays = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// WeekdayKey returns the weekly table key for t.
func WeekdayKey(t time.Time) string {
	return strings.ToLower(t.Weekday().String())
}

// Window is a time-of-day interval in minutes since midnight. Both bounds
// are inclusive; Start after End wraps past midnight.
type Window struct {
	Start int
	End   int
}

// FullDay covers the whole day.
var FullDay = Window{Start: 0, End: 23*60 + 59}

// ParseWindow parses "HH:MM" bounds.
func ParseWindow(start, end string) (Window, error) {
	s, err := calendar.ParseTimeOfDay(start)
	if err != nil {
		return Window{}, fmt.Errorf("window start: %w", err)
	}
	e, err := calendar.ParseTimeOfDay(end)
	if err != nil {
		return Window{}, fmt.Errorf("window end: %w", err)
	}
	return Window{Start: s, End: e}, nil
}

// Contains reports whether the minute of day lies in the window.
func (w Window) Contains(minute int) bool {
	if w.Start <= w.End {
		return minute >= w.Start && minute <= w.End
	}
	return minute >= w.Start || minute <= w.End
}

// String formats the window as "HH:MM - HH:MM".
func (w Window) String() string {
	return calendar.FormatTimeOfDay(w.Start) + " - " + calendar.FormatTimeOfDay(w.End)
}

// Settings is the validated screen-time configuration.
type Settings struct {
	Enabled              bool
	LimitMinutes         int
	Reminders            []int
	AllowanceMode        string
	DailyAllowedMinutes  int
	WeeklyAllowedMinutes map[string]int
	CalendarCategory     string
	UsageTimesMode       string
	DailyWindow          Window
	WeeklyWindows        map[string]Window
}

// DefaultSettings returns the built-in screen-time settings.
func DefaultSettings() Settings {
	weekly := make(map[string]int, len(Weekdays))
	for _, day := range Weekdays {
		weekly[day] = FallbackAllowanceMinutes
	}
	return Settings{
		Enabled:              false,
		LimitMinutes:         60,
		Reminders:            []int{30, 5},
		AllowanceMode:        AllowanceDaily,
		DailyAllowedMinutes:  FallbackAllowanceMinutes,
		WeeklyAllowedMinutes: weekly,
		CalendarCategory:     calendar.ScreentimeCategory,
		UsageTimesMode:       UsageAlways,
		DailyWindow:          FullDay,
		WeeklyWindows:        map[string]Window{},
	}
}

// FromConfig converts the configuration, replacing each invalid field with
// its default and logging a warning.
func FromConfig(cfg config.ScreenTimeConfig, logger zerolog.Logger) Settings {
	settings, issues := parseSettings(cfg)
	for _, issue := range issues {
		logger.Warn().Err(issue).Msg("Invalid screen time setting, using default")
	}
	return settings
}

// ValidateConfig returns every problem found in the configuration.
func ValidateConfig(cfg config.ScreenTimeConfig) []error {
	_, issues := parseSettings(cfg)
	return issues
}

func parseSettings(cfg config.ScreenTimeConfig) (Settings, []error) {
	settings := DefaultSettings()
	var issues []error

	settings.Enabled = cfg.Enabled

	if cfg.LimitMinutes > 0 {
		settings.LimitMinutes = cfg.LimitMinutes
	} else {
		issues = append(issues, fmt.Errorf("screentime.limit_minutes must be positive, got %d", cfg.LimitMinutes))
	}

	if cfg.Reminders != nil {
		reminders := make([]int, 0, len(cfg.Reminders))
		for _, minutes := range cfg.Reminders {
			if minutes <= 0 {
				issues = append(issues, fmt.Errorf("screentime.reminders entry must be positive, got %d", minutes))
				continue
			}
			if !slices.Contains(reminders, minutes) {
				reminders = append(reminders, minutes)
			}
		}
		settings.Reminders = reminders
	}

	// Unknown allowance modes are kept and resolve to the fallback allowance
	switch cfg.AllowedTimeMode {
	case AllowanceDaily, AllowanceWeekly, AllowanceCalendar:
		settings.AllowanceMode = cfg.AllowedTimeMode
	case "":
	default:
		settings.AllowanceMode = cfg.AllowedTimeMode
		issues = append(issues, fmt.Errorf("screentime.allowed_time_mode %q is unknown, allowance will be %d minutes", cfg.AllowedTimeMode, FallbackAllowanceMinutes))
	}

	if cfg.DailyAllowedMinutes >= 0 {
		settings.DailyAllowedMinutes = cfg.DailyAllowedMinutes
	} else {
		issues = append(issues, fmt.Errorf("screentime.daily_allowed_minutes must not be negative, got %d", cfg.DailyAllowedMinutes))
	}

	for day, minutes := range cfg.WeeklyAllowedMinutes {
		key := strings.ToLower(day)
		switch {
		case !slices.Contains(Weekdays, key):
			issues = append(issues, fmt.Errorf("screentime.weekly_allowed_minutes has unknown weekday %q", day))
		case minutes < 0:
			issues = append(issues, fmt.Errorf("screentime.weekly_allowed_minutes.%s must not be negative, got %d", key, minutes))
		default:
			settings.WeeklyAllowedMinutes[key] = minutes
		}
	}

	if category := strings.TrimSpace(cfg.CalendarCategory); category != "" {
		settings.CalendarCategory = category
	}

	switch cfg.UsageTimesMode {
	case UsageAlways, UsageDaily, UsageWeekly, UsageCalendar:
		settings.UsageTimesMode = cfg.UsageTimesMode
	case "":
	default:
		issues = append(issues, fmt.Errorf("screentime.usage_times_mode %q is unknown, using %q", cfg.UsageTimesMode, UsageAlways))
	}

	if cfg.DailyUsageTimes.Start != "" || cfg.DailyUsageTimes.End != "" {
		window, err := ParseWindow(cfg.DailyUsageTimes.Start, cfg.DailyUsageTimes.End)
		if err != nil {
			issues = append(issues, fmt.Errorf("screentime.daily_usage_times: %w", err))
		} else {
			settings.DailyWindow = window
		}
	}

	for day, times := range cfg.WeeklyUsageTimes {
		key := strings.ToLower(day)
		if !slices.Contains(Weekdays, key) {
			issues = append(issues, fmt.Errorf("screentime.weekly_usage_times has unknown weekday %q", day))
			continue
		}
		window, err := ParseWindow(times.Start, times.End)
		if err != nil {
			issues = append(issues, fmt.Errorf("screentime.weekly_usage_times.%s: %w", key, err))
			continue
		}
		settings.WeeklyWindows[key] = window
	}

	return settings, issues
}
