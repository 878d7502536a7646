package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/kiosktime/internal/metrics"
	"github.com/goodtune/kiosktime/internal/storage"
	"github.com/rs/zerolog"
)

// DefaultRetentionDays is used when no retention period is configured
const DefaultRetentionDays = 90

// PruneResult reports what a retention pass removed
type PruneResult struct {
	Cutoff          string `json:"cutoff"`
	RecordsDeleted  int    `json:"records_deleted"`
	SessionsDeleted int    `json:"sessions_deleted"`
}

// ResetScheduler prunes old usage history once a day
type ResetScheduler struct {
	store         storage.Store
	resetTime     time.Time // Time of day to run (only hour and minute are used)
	retentionDays int
	now           func() time.Time
	logger        zerolog.Logger
	stopChan      chan struct{}
}

// NewResetScheduler creates a new reset scheduler
func NewResetScheduler(store storage.Store, resetTime string, retentionDays int, logger zerolog.Logger) (*ResetScheduler, error) {
	// Parse reset time (HH:MM format)
	parsedTime, err := time.Parse("15:04", resetTime)
	if err != nil {
		return nil, fmt.Errorf("invalid reset time %q: %w", resetTime, err)
	}
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}

	return &ResetScheduler{
		store:         store,
		resetTime:     parsedTime,
		retentionDays: retentionDays,
		now:           time.Now,
		logger:        logger.With().Str("component", "reset-scheduler").Logger(),
		stopChan:      make(chan struct{}),
	}, nil
}

// Start begins the reset scheduler
func (rs *ResetScheduler) Start() {
	go rs.run()
	rs.logger.Info().
		Str("reset_time", rs.resetTime.Format("15:04")).
		Int("retention_days", rs.retentionDays).
		Msg("Daily usage retention scheduler started")
}

// Stop stops the reset scheduler
func (rs *ResetScheduler) Stop() {
	close(rs.stopChan)
	rs.logger.Info().Msg("Daily usage retention scheduler stopped")
}

func (rs *ResetScheduler) run() {
	for {
		nextReset := rs.calculateNextReset()
		waitDuration := nextReset.Sub(rs.now())

		rs.logger.Debug().
			Time("next_reset", nextReset).
			Dur("wait_duration", waitDuration).
			Msg("Scheduled next retention pass")

		timer := time.NewTimer(waitDuration)
		select {
		case <-timer.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			if _, err := rs.Prune(ctx); err != nil {
				rs.logger.Error().Err(err).Msg("Retention pass failed")
			}
			cancel()
		case <-rs.stopChan:
			timer.Stop()
			return
		}
	}
}

// calculateNextReset calculates the next reset time
func (rs *ResetScheduler) calculateNextReset() time.Time {
	now := rs.now()

	todayReset := time.Date(
		now.Year(), now.Month(), now.Day(),
		rs.resetTime.Hour(), rs.resetTime.Minute(), 0, 0,
		now.Location(),
	)

	// Already passed today's reset time, schedule for tomorrow
	if now.After(todayReset) {
		return todayReset.AddDate(0, 0, 1)
	}
	return todayReset
}

// Cutoff returns the first date kept by a pass run now
func (rs *ResetScheduler) Cutoff() time.Time {
	return storage.StartOfDay(rs.now()).AddDate(0, 0, -rs.retentionDays)
}

// Prune removes usage records dated before the cutoff and sessions that
// started before it.
func (rs *ResetScheduler) Prune(ctx context.Context) (PruneResult, error) {
	cutoff := rs.Cutoff()
	result := PruneResult{Cutoff: storage.DateKey(cutoff)}

	records, err := rs.store.Usage().DeleteRecordsBefore(ctx, result.Cutoff)
	if err != nil {
		return result, fmt.Errorf("prune usage records: %w", err)
	}
	result.RecordsDeleted = records
	metrics.UsageRecordsPruned.WithLabelValues("usage").Add(float64(records))

	sessions, err := rs.store.Sessions().DeleteSessionsBefore(ctx, cutoff)
	if err != nil {
		return result, fmt.Errorf("prune sessions: %w", err)
	}
	result.SessionsDeleted = sessions
	metrics.UsageRecordsPruned.WithLabelValues("session").Add(float64(sessions))

	rs.logger.Info().
		Str("cutoff_date", result.Cutoff).
		Int("records_deleted", records).
		Int("sessions_deleted", sessions).
		Msg("Usage retention pass complete")
	return result, nil
}
