package calendar

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/goodtune/kiosktime/internal/database"
	"github.com/goodtune/kiosktime/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const entryColumns = `id, title, date, start_time, end_time, category, icon, description,
	is_special, color, recurring, recurring_end_date`

// Store persists calendar entries in SQLite.
type Store struct {
	db              *database.DB
	extraCategories []string
	logger          zerolog.Logger
}

// NewStore creates a calendar store. Extra categories are accepted on top of
// the built-in ones, typically the configured screen-time category.
func NewStore(db *database.DB, logger zerolog.Logger, extraCategories ...string) *Store {
	return &Store{
		db:              db,
		extraCategories: extraCategories,
		logger:          logger.With().Str("component", "calendar").Logger(),
	}
}

// Add validates and stores a new entry, assigning an ID when missing.
func (s *Store) Add(ctx context.Context, entry Entry) (*Entry, error) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.ApplyDefaults()
	if err := entry.Validate(s.extraCategories...); err != nil {
		return nil, err
	}
	entry.StartTime = normalizeTimeOfDay(entry.StartTime)
	entry.EndTime = normalizeTimeOfDay(entry.EndTime)

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calendar_entries (`+entryColumns+`, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID, entry.Title, entry.Date,
		nullString(entry.StartTime), nullString(entry.EndTime),
		entry.Category, nullString(entry.Icon), nullString(entry.Description),
		entry.IsSpecial, nullString(entry.Color),
		nullString(entry.Recurring), nullString(entry.RecurringEndDate),
		now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert calendar entry: %w", err)
	}

	s.logger.Debug().
		Str("id", entry.ID).
		Str("date", entry.Date).
		Str("category", entry.Category).
		Msg("Calendar entry added")
	return &entry, nil
}

// Get returns an entry by ID.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM calendar_entries WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get calendar entry: %w", err)
	}
	return entry, nil
}

// Delete removes an entry by ID.
func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM calendar_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete calendar entry: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// EntriesOn returns the entries occurring on day, recurrences expanded. An
// empty category matches all. All-day entries sort first, then by start time.
func (s *Store) EntriesOn(ctx context.Context, day time.Time, category string) ([]Entry, error) {
	return s.EntriesBetween(ctx, day, day, category)
}

// EntriesBetween returns one entry per occurrence within [from, to], with
// Date set to the occurrence date.
func (s *Store) EntriesBetween(ctx context.Context, from, to time.Time, category string) ([]Entry, error) {
	from = storage.StartOfDay(from)
	to = storage.StartOfDay(to)
	if to.Before(from) {
		return nil, fmt.Errorf("range end %s before start %s", storage.DateKey(to), storage.DateKey(from))
	}
	fromKey, toKey := storage.DateKey(from), storage.DateKey(to)

	query := `SELECT ` + entryColumns + ` FROM calendar_entries
		WHERE date <= ?
		AND (date >= ? OR (recurring IS NOT NULL AND (recurring_end_date IS NULL OR recurring_end_date >= ?)))`
	args := []any{toKey, fromKey, fromKey}
	if category != "" {
		query += ` AND category = ?`
		args = append(args, category)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query calendar entries: %w", err)
	}
	defer rows.Close()

	var candidates []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan calendar entry: %w", err)
		}
		candidates = append(candidates, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calendar entries: %w", err)
	}

	occurrences := make([]Entry, 0, len(candidates))
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		dayKey := storage.DateKey(day)
		for _, entry := range candidates {
			if entry.OccursOn(day) {
				entry.Date = dayKey
				occurrences = append(occurrences, entry)
			}
		}
	}

	sort.SliceStable(occurrences, func(i, j int) bool {
		a, b := occurrences[i], occurrences[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.Title < b.Title
	})
	return occurrences, nil
}

// SpecialEvents returns the special entries occurring in the given month.
func (s *Store) SpecialEvents(ctx context.Context, year int, month time.Month) ([]Entry, error) {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.Local)
	last := first.AddDate(0, 1, -1)
	entries, err := s.EntriesBetween(ctx, first, last, "")
	if err != nil {
		return nil, err
	}
	special := entries[:0]
	for _, entry := range entries {
		if entry.IsSpecial {
			special = append(special, entry)
		}
	}
	return special, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var entry Entry
	var startTime, endTime, icon, description, color, recurring, recurringEnd sql.NullString
	if err := row.Scan(
		&entry.ID, &entry.Title, &entry.Date,
		&startTime, &endTime,
		&entry.Category, &icon, &description,
		&entry.IsSpecial, &color,
		&recurring, &recurringEnd,
	); err != nil {
		return nil, err
	}
	entry.StartTime = startTime.String
	entry.EndTime = endTime.String
	entry.Icon = icon.String
	entry.Description = description.String
	entry.Color = color.String
	entry.Recurring = recurring.String
	entry.RecurringEndDate = recurringEnd.String
	return &entry, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
