package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the key format for usage records.
const DateLayout = "2006-01-02"

// DateKey formats t as a usage record key in t's location.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate parses a usage record key into midnight local time.
func ParseDate(date string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, date, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return t, nil
}

// StartOfDay returns local midnight of the calendar day t falls on in its
// own location, comparable with ParseDate results.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

// UsageRecord is the usage and credit total for one calendar date.
type UsageRecord struct {
	Date        string `json:"date,omitempty"`
	UsedMinutes int    `json:"used_minutes"`
	Credits     int    `json:"credits"`
}

// SessionOutcome describes how a screen session ended.
type SessionOutcome string

const (
	OutcomeStopped SessionOutcome = "stopped"
	OutcomeLocked  SessionOutcome = "locked"
	OutcomeMoved   SessionOutcome = "moved"
)

// UnmarshalJSON implements json.Unmarshaler to normalize outcome to lowercase.
func (o *SessionOutcome) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	normalized := SessionOutcome(strings.ToLower(s))
	switch normalized {
	case OutcomeStopped, OutcomeLocked, OutcomeMoved:
		*o = normalized
		return nil
	default:
		return fmt.Errorf("invalid session outcome: %s", s)
	}
}

// Session is a finished screen session.
type Session struct {
	ID             string         `json:"id"`
	Date           string         `json:"date"`
	StartedAt      time.Time      `json:"started_at"`
	EndedAt        time.Time      `json:"ended_at"`
	ElapsedSeconds int64          `json:"elapsed_seconds"`
	LimitSeconds   int64          `json:"limit_seconds"`
	UsedMinutes    int            `json:"used_minutes"`
	Outcome        SessionOutcome `json:"outcome"`
}
