package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// ErrNegativeMinutes is returned when usage or credits would decrease.
var ErrNegativeMinutes = errors.New("storage: minutes must not be negative")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Usage() UsageStore
	Sessions() SessionStore
}

// UsageStore manages per-day usage records.
// Dates are ISO-8601 calendar dates (YYYY-MM-DD).
type UsageStore interface {
	GetRecord(ctx context.Context, date string) (*UsageRecord, error)
	ListRecords(ctx context.Context, fromDate, toDate string) ([]UsageRecord, error)
	AddUsedMinutes(ctx context.Context, date string, minutes int) (*UsageRecord, error)
	AddCredits(ctx context.Context, date string, minutes int) (*UsageRecord, error)
	DeleteRecordsBefore(ctx context.Context, cutoffDate string) (int, error)
}

// SessionStore manages the history of finished screen sessions.
type SessionStore interface {
	SaveSession(ctx context.Context, session Session) error
	ListSessions(ctx context.Context, date string) ([]Session, error)
	DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int, error)
}
