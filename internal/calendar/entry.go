package calendar

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/goodtune/kiosktime/internal/storage"
)

// Recurrence patterns
const (
	RecurDaily   = "daily"
	RecurWeekly  = "weekly"
	RecurMonthly = "monthly"
)

// ScreentimeCategory is the default category whose entries grant screen time.
const ScreentimeCategory = "Screentime"

// Categories lists the built-in entry categories.
var Categories = []string{
	"School",
	"Sports",
	"Music",
	"Appointments",
	"Birthday",
	"Holiday",
	"Vacation",
	"Home",
	"Other",
	ScreentimeCategory,
}

var specialCategories = []string{"Birthday", "Holiday", "Vacation"}

var categoryIcons = map[string]string{
	"School":           "school.png",
	"Sports":           "sports.png",
	"Music":            "music.png",
	"Appointments":     "appointment.png",
	"Birthday":         "birthday.png",
	"Holiday":          "holiday.png",
	"Vacation":         "vacation.png",
	"Home":             "home.png",
	"Other":            "other.png",
	ScreentimeCategory: "screentime.png",
}

var categoryColors = map[string]string{
	"School":           "#4A90E2",
	"Sports":           "#E74C3C",
	"Music":            "#2ECC71",
	"Appointments":     "#F39C12",
	"Birthday":         "#9B59B6",
	"Holiday":          "#E67E22",
	"Vacation":         "#1ABC9C",
	"Home":             "#95A5A6",
	"Other":            "#34495E",
	ScreentimeCategory: "#16A085",
}

// Validation errors
var (
	ErrEmptyTitle        = errors.New("title cannot be empty")
	ErrInvalidCategory   = errors.New("invalid category")
	ErrInvalidRecurrence = errors.New("invalid recurring pattern")
	ErrInvalidTimeRange  = errors.New("end time must be after start time")
	ErrInvalidTime       = errors.New("invalid time of day")
	ErrInvalidDate       = errors.New("invalid date")
)

// IsValidationError reports whether err came from entry validation.
func IsValidationError(err error) bool {
	for _, target := range []error{ErrEmptyTitle, ErrInvalidCategory, ErrInvalidRecurrence, ErrInvalidTimeRange, ErrInvalidTime, ErrInvalidDate} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Entry is a single calendar event. Entries without a start time are all-day.
type Entry struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	Date             string `json:"date"`
	StartTime        string `json:"start_time,omitempty"`
	EndTime          string `json:"end_time,omitempty"`
	Category         string `json:"category"`
	Icon             string `json:"icon,omitempty"`
	Description      string `json:"description,omitempty"`
	IsSpecial        bool   `json:"is_special"`
	Color            string `json:"color,omitempty"`
	Recurring        string `json:"recurring,omitempty"`
	RecurringEndDate string `json:"recurring_end_date,omitempty"`
}

// DefaultIcon returns the icon used when an entry does not set one.
func DefaultIcon(category string) string {
	if icon, ok := categoryIcons[category]; ok {
		return icon
	}
	return "other.png"
}

// DefaultColor returns the color used when an entry does not set one.
func DefaultColor(category string) string {
	if color, ok := categoryColors[category]; ok {
		return color
	}
	return "#34495E"
}

// IsSpecialCategory reports whether entries of the category appear in the
// special events overview.
func IsSpecialCategory(category string) bool {
	return slices.Contains(specialCategories, category)
}

// ApplyDefaults fills icon, color and special flag from the category.
func (e *Entry) ApplyDefaults() {
	if e.Icon == "" {
		e.Icon = DefaultIcon(e.Category)
	}
	if e.Color == "" {
		e.Color = DefaultColor(e.Category)
	}
	if IsSpecialCategory(e.Category) {
		e.IsSpecial = true
	}
}

// Validate checks the entry. Extra categories are accepted in addition to
// the built-in ones.
func (e *Entry) Validate(extraCategories ...string) error {
	if strings.TrimSpace(e.Title) == "" {
		return ErrEmptyTitle
	}
	if !slices.Contains(Categories, e.Category) && !slices.Contains(extraCategories, e.Category) {
		return fmt.Errorf("%w: %s", ErrInvalidCategory, e.Category)
	}
	if e.Recurring != "" && e.Recurring != RecurDaily && e.Recurring != RecurWeekly && e.Recurring != RecurMonthly {
		return fmt.Errorf("%w: %s", ErrInvalidRecurrence, e.Recurring)
	}
	if _, err := storage.ParseDate(e.Date); err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidDate, e.Date, err)
	}
	if e.RecurringEndDate != "" {
		if _, err := storage.ParseDate(e.RecurringEndDate); err != nil {
			return fmt.Errorf("%w for recurrence end %q: %v", ErrInvalidDate, e.RecurringEndDate, err)
		}
	}

	var start, end int
	var err error
	if e.StartTime != "" {
		if start, err = ParseTimeOfDay(e.StartTime); err != nil {
			return err
		}
	}
	if e.EndTime != "" {
		if end, err = ParseTimeOfDay(e.EndTime); err != nil {
			return err
		}
	}
	if e.StartTime != "" && e.EndTime != "" && end <= start {
		return ErrInvalidTimeRange
	}
	return nil
}

// IsAllDay reports whether the entry has no start time.
func (e Entry) IsAllDay() bool {
	return e.StartTime == ""
}

// Span returns the entry's start and end as minutes since midnight. ok is
// false for all-day entries and entries without an end time.
func (e Entry) Span() (start, end int, ok bool) {
	if e.StartTime == "" || e.EndTime == "" {
		return 0, 0, false
	}
	start, err := ParseTimeOfDay(e.StartTime)
	if err != nil {
		return 0, 0, false
	}
	end, err = ParseTimeOfDay(e.EndTime)
	if err != nil || end <= start {
		return 0, 0, false
	}
	return start, end, true
}

// StartMinute returns the start as minutes since midnight. ok is false for
// all-day entries.
func (e Entry) StartMinute() (int, bool) {
	if e.StartTime == "" {
		return 0, false
	}
	start, err := ParseTimeOfDay(e.StartTime)
	if err != nil {
		return 0, false
	}
	return start, true
}

// Duration returns the length of a timed entry, zero otherwise.
func (e Entry) Duration() time.Duration {
	start, end, ok := e.Span()
	if !ok {
		return 0
	}
	return time.Duration(end-start) * time.Minute
}

// OccursOn reports whether the entry, including its recurrence, falls on the
// given date.
func (e Entry) OccursOn(day time.Time) bool {
	first, err := storage.ParseDate(e.Date)
	if err != nil {
		return false
	}
	day = storage.StartOfDay(day)
	if day.Equal(first) {
		return true
	}
	if e.Recurring == "" || day.Before(first) {
		return false
	}
	if e.RecurringEndDate != "" {
		last, err := storage.ParseDate(e.RecurringEndDate)
		if err != nil || day.After(last) {
			return false
		}
	}

	switch e.Recurring {
	case RecurDaily:
		return true
	case RecurWeekly:
		return day.Weekday() == first.Weekday()
	case RecurMonthly:
		return day.Day() == first.Day()
	}
	return false
}

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS" into minutes since midnight.
func ParseTimeOfDay(value string) (int, error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Hour()*60 + t.Minute(), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidTime, value)
}

// FormatTimeOfDay formats minutes since midnight as "HH:MM".
func FormatTimeOfDay(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

func normalizeTimeOfDay(value string) string {
	if value == "" {
		return ""
	}
	minutes, err := ParseTimeOfDay(value)
	if err != nil {
		return value
	}
	return FormatTimeOfDay(minutes)
}
