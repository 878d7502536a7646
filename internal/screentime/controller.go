package screentime

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goodtune/kiosktime/internal/calendar"
	"github.com/goodtune/kiosktime/internal/metrics"
	"github.com/goodtune/kiosktime/internal/policy"
	"github.com/goodtune/kiosktime/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// CalendarSource provides the entries occurring on a day.
type CalendarSource interface {
	EntriesOn(ctx context.Context, day time.Time, category string) ([]calendar.Entry, error)
}

// AccessPolicy turns gathered facts into an access decision.
type AccessPolicy interface {
	Evaluate(ctx context.Context, input policy.Input) (policy.Decision, error)
}

// DayStatus summarizes one day's allowance.
type DayStatus struct {
	Date      string `json:"date"`
	Allowed   int    `json:"allowed_minutes"`
	Used      int    `json:"used_minutes"`
	Credits   int    `json:"credits"`
	Remaining int    `json:"remaining_minutes"`
}

// WindowCheck is the result of a usage-window check.
type WindowCheck struct {
	Within bool   `json:"within"`
	Label  string `json:"label"`
}

// Decision is the answer to whether a session may start.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Code    string `json:"code"`
	Reason  string `json:"reason,omitempty"`
}

// Controller computes allowances, records usage and decides whether a
// session may start.
type Controller struct {
	usage    storage.UsageStore
	calendar CalendarSource
	policy   AccessPolicy
	clock    Clock
	logger   zerolog.Logger

	mu       sync.RWMutex
	settings Settings
}

// NewController creates a controller. calendar may be nil, in which case
// calendar modes behave as if no entries exist.
func NewController(settings Settings, usage storage.UsageStore, cal CalendarSource, access AccessPolicy, clock Clock, logger zerolog.Logger) *Controller {
	if clock == nil {
		clock = RealClock{}
	}
	return &Controller{
		usage:    usage,
		calendar: cal,
		policy:   access,
		clock:    clock,
		settings: settings,
		logger:   logger.With().Str("component", "screentime").Logger(),
	}
}

// Settings returns the active settings.
func (c *Controller) Settings() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// UpdateSettings replaces the active settings.
func (c *Controller) UpdateSettings(settings Settings) {
	c.mu.Lock()
	c.settings = settings
	c.mu.Unlock()
	c.logger.Info().
		Bool("enabled", settings.Enabled).
		Str("allowance_mode", settings.AllowanceMode).
		Str("usage_times_mode", settings.UsageTimesMode).
		Msg("Screen time settings updated")
}

// Now returns the controller's current time.
func (c *Controller) Now() time.Time {
	return c.clock.Now()
}

// AllowedMinutes returns the allowance for the day under the active mode.
func (c *Controller) AllowedMinutes(ctx context.Context, day time.Time) (int, error) {
	settings := c.Settings()

	switch settings.AllowanceMode {
	case AllowanceDaily:
		return settings.DailyAllowedMinutes, nil
	case AllowanceWeekly:
		if minutes, ok := settings.WeeklyAllowedMinutes[WeekdayKey(day)]; ok {
			return minutes, nil
		}
		return FallbackAllowanceMinutes, nil
	case AllowanceCalendar:
		entries, err := c.entriesOn(ctx, day, settings.CalendarCategory)
		if err != nil {
			return 0, err
		}
		var total time.Duration
		for _, entry := range entries {
			total += entry.Duration()
		}
		if total == 0 {
			return settings.DailyAllowedMinutes, nil
		}
		return int(total / time.Minute), nil
	}
	return FallbackAllowanceMinutes, nil
}

// UsedMinutes returns the minutes used on the day.
func (c *Controller) UsedMinutes(ctx context.Context, day time.Time) (int, error) {
	record, err := c.record(ctx, day)
	if err != nil {
		return 0, err
	}
	return record.UsedMinutes, nil
}

// Credits returns the bonus minutes credited to the day.
func (c *Controller) Credits(ctx context.Context, day time.Time) (int, error) {
	record, err := c.record(ctx, day)
	if err != nil {
		return 0, err
	}
	return record.Credits, nil
}

// RemainingMinutes returns max(0, allowance + credits - used) for the day.
func (c *Controller) RemainingMinutes(ctx context.Context, day time.Time) (int, error) {
	status, err := c.Status(ctx, day)
	if err != nil {
		return 0, err
	}
	return status.Remaining, nil
}

// Status returns the full allowance summary for the day.
func (c *Controller) Status(ctx context.Context, day time.Time) (DayStatus, error) {
	allowed, err := c.AllowedMinutes(ctx, day)
	if err != nil {
		return DayStatus{}, err
	}
	record, err := c.record(ctx, day)
	if err != nil {
		return DayStatus{}, err
	}
	return DayStatus{
		Date:      storage.DateKey(day),
		Allowed:   allowed,
		Used:      record.UsedMinutes,
		Credits:   record.Credits,
		Remaining: max(0, allowed+record.Credits-record.UsedMinutes),
	}, nil
}

// AddUsedTime records minutes of use against the day. Zero is a no-op.
func (c *Controller) AddUsedTime(ctx context.Context, minutes int, day time.Time) error {
	if minutes < 0 {
		return storage.ErrNegativeMinutes
	}
	if minutes == 0 {
		return nil
	}
	record, err := c.usage.AddUsedMinutes(ctx, storage.DateKey(day), minutes)
	if err != nil {
		return fmt.Errorf("record used time: %w", err)
	}
	metrics.UsageMinutesConsumed.Add(float64(minutes))
	c.logger.Info().
		Str("date", storage.DateKey(day)).
		Int("minutes", minutes).
		Int("used_minutes", record.UsedMinutes).
		Msg("Used time recorded")
	return nil
}

// CreditTimeForDay adds bonus minutes to the day. Zero is a no-op.
func (c *Controller) CreditTimeForDay(ctx context.Context, minutes int, day time.Time) error {
	if minutes < 0 {
		return storage.ErrNegativeMinutes
	}
	if minutes == 0 {
		return nil
	}
	record, err := c.usage.AddCredits(ctx, storage.DateKey(day), minutes)
	if err != nil {
		return fmt.Errorf("credit time: %w", err)
	}
	metrics.CreditMinutesGranted.Add(float64(minutes))
	c.logger.Info().
		Str("date", storage.DateKey(day)).
		Int("minutes", minutes).
		Int("credits", record.Credits).
		Msg("Time credited")
	return nil
}

// IsWithinUsageTimes checks the usage window for now.
func (c *Controller) IsWithinUsageTimes(ctx context.Context, now time.Time) (WindowCheck, error) {
	settings := c.Settings()
	if !settings.Enabled {
		return WindowCheck{Within: true, Label: UsageAlways}, nil
	}

	minute := now.Hour()*60 + now.Minute()

	switch settings.UsageTimesMode {
	case UsageDaily:
		return WindowCheck{Within: settings.DailyWindow.Contains(minute), Label: settings.DailyWindow.String()}, nil
	case UsageWeekly:
		window, ok := settings.WeeklyWindows[WeekdayKey(now)]
		if !ok {
			window = FullDay
		}
		return WindowCheck{Within: window.Contains(minute), Label: window.String()}, nil
	case UsageCalendar:
		return c.calendarWindow(ctx, now, settings.CalendarCategory)
	}
	return WindowCheck{Within: true, Label: UsageAlways}, nil
}

// calendarWindow is inside any timed entry or any all-day entry of the
// category. An entry with a start time but no end time runs until the end
// of its day. A day without entries is outside.
func (c *Controller) calendarWindow(ctx context.Context, now time.Time, category string) (WindowCheck, error) {
	entries, err := c.entriesOn(ctx, now, category)
	if err != nil {
		return WindowCheck{}, err
	}

	minute := now.Hour()*60 + now.Minute()
	labels := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsAllDay() {
			return WindowCheck{Within: true, Label: "all day"}, nil
		}
		start, end, ok := entry.Span()
		if !ok {
			if start, ok = entry.StartMinute(); !ok {
				continue
			}
			end = FullDay.End
		}
		window := Window{Start: start, End: end}
		if window.Contains(minute) {
			return WindowCheck{Within: true, Label: window.String()}, nil
		}
		labels = append(labels, window.String())
	}

	if len(labels) == 0 {
		return WindowCheck{Within: false, Label: "no " + category + " entries today"}, nil
	}
	return WindowCheck{Within: false, Label: strings.Join(labels, ", ")}, nil
}

// CanStartSession decides whether a session may start now.
func (c *Controller) CanStartSession(ctx context.Context) Decision {
	return c.CanStartSessionAt(ctx, c.clock.Now())
}

// CanStartSessionAt decides whether a session may start at now. Any failure
// to gather facts or evaluate the policy denies.
func (c *Controller) CanStartSessionAt(ctx context.Context, now time.Time) Decision {
	decision := c.decide(ctx, now)
	metrics.AccessDecisions.WithLabelValues(decision.Code, strconv.FormatBool(decision.Allowed)).Inc()

	event := c.logger.Debug()
	if !decision.Allowed {
		event = c.logger.Info()
	}
	event.Str("code", decision.Code).Str("reason", decision.Reason).Bool("allowed", decision.Allowed).Msg("Session start decision")
	return decision
}

func (c *Controller) decide(ctx context.Context, now time.Time) Decision {
	settings := c.Settings()
	input := policy.Input{Enabled: settings.Enabled}

	if settings.Enabled {
		window, err := c.IsWithinUsageTimes(ctx, now)
		if err != nil {
			c.logger.Error().Err(err).Msg("Failed to check usage window")
			return Decision{Code: policy.CodeStorageError, Reason: "could not read calendar"}
		}
		status, err := c.Status(ctx, now)
		if err != nil {
			c.logger.Error().Err(err).Msg("Failed to read usage")
			return Decision{Code: policy.CodeStorageError, Reason: "could not read screen time usage"}
		}
		input.Window = policy.WindowFact{Within: window.Within, Label: window.Label}
		input.RemainingMinutes = status.Remaining
		input.AllowedMinutes = status.Allowed
		input.UsedMinutes = status.Used
		input.Credits = status.Credits
	}

	if c.policy == nil {
		return Decision{Code: policy.CodePolicyError, Reason: "no access policy configured"}
	}

	timer := prometheus.NewTimer(metrics.PolicyEvaluationDuration)
	result, err := c.policy.Evaluate(ctx, input)
	timer.ObserveDuration()
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to evaluate access policy")
		return Decision{Code: policy.CodePolicyError, Reason: "access policy could not be evaluated"}
	}
	return Decision{Allowed: result.Allow, Code: result.Code, Reason: result.Reason}
}

func (c *Controller) record(ctx context.Context, day time.Time) (*storage.UsageRecord, error) {
	date := storage.DateKey(day)
	record, err := c.usage.GetRecord(ctx, date)
	if errors.Is(err, storage.ErrNotFound) {
		return &storage.UsageRecord{Date: date}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read usage for %s: %w", date, err)
	}
	return record, nil
}

func (c *Controller) entriesOn(ctx context.Context, day time.Time, category string) ([]calendar.Entry, error) {
	if c.calendar == nil {
		return nil, nil
	}
	entries, err := c.calendar.EntriesOn(ctx, day, category)
	if err != nil {
		return nil, fmt.Errorf("read calendar for %s: %w", storage.DateKey(day), err)
	}
	return entries, nil
}
