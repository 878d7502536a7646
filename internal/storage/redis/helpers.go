package redis

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goodtune/kiosktime/internal/storage"
)

// parseUsageRecord converts a Redis hash to UsageRecord
func parseUsageRecord(date string, data map[string]string) (*storage.UsageRecord, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	used, err := strconv.Atoi(data["used_minutes"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse used_minutes: %w", err)
	}

	credits, err := strconv.Atoi(data["credits"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse credits: %w", err)
	}

	return &storage.UsageRecord{
		Date:        date,
		UsedMinutes: used,
		Credits:     credits,
	}, nil
}

// parseSession converts a Redis hash to Session
func parseSession(data map[string]string) (*storage.Session, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	startedAt, err := time.Parse(time.RFC3339Nano, data["started_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}

	endedAt, err := time.Parse(time.RFC3339Nano, data["ended_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse ended_at: %w", err)
	}

	elapsed, err := strconv.ParseInt(data["elapsed_seconds"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse elapsed_seconds: %w", err)
	}

	limit, err := strconv.ParseInt(data["limit_seconds"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse limit_seconds: %w", err)
	}

	used, err := strconv.Atoi(data["used_minutes"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse used_minutes: %w", err)
	}

	return &storage.Session{
		ID:             data["id"],
		Date:           data["date"],
		StartedAt:      startedAt,
		EndedAt:        endedAt,
		ElapsedSeconds: elapsed,
		LimitSeconds:   limit,
		UsedMinutes:    used,
		Outcome:        storage.SessionOutcome(data["outcome"]),
	}, nil
}

// dateScore turns an ISO date into a sortable score (20240501)
func dateScore(date string) (int64, error) {
	if _, err := time.Parse(storage.DateLayout, date); err != nil {
		return 0, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return strconv.ParseInt(strings.ReplaceAll(date, "-", ""), 10, 64)
}

// toInt64 converts a Lua script integer reply
func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected script reply type %T", v)
	}
}
