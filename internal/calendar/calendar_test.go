package calendar

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/kiosktime/internal/database"
	"github.com/goodtune/kiosktime/internal/storage"
	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T, extra ...string) *Store {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "calendar.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db, zerolog.Nop(), extra...)
}

func day(t *testing.T, date string) time.Time {
	t.Helper()
	d, err := storage.ParseDate(date)
	if err != nil {
		t.Fatalf("parse date: %v", err)
	}
	return d
}

func TestEntryValidate(t *testing.T) {
	tests := []struct {
		name    string
		entry   Entry
		extra   []string
		wantErr error
	}{
		{
			name:  "valid timed entry",
			entry: Entry{Title: "Football", Date: "2024-05-01", Category: "Sports", StartTime: "16:00", EndTime: "17:30"},
		},
		{
			name:  "valid all-day entry",
			entry: Entry{Title: "Holiday", Date: "2024-05-01", Category: "Holiday"},
		},
		{
			name:    "empty title",
			entry:   Entry{Title: "  ", Date: "2024-05-01", Category: "Sports"},
			wantErr: ErrEmptyTitle,
		},
		{
			name:    "unknown category",
			entry:   Entry{Title: "Chess", Date: "2024-05-01", Category: "Games"},
			wantErr: ErrInvalidCategory,
		},
		{
			name:  "extra category",
			entry: Entry{Title: "Chess", Date: "2024-05-01", Category: "Games"},
			extra: []string{"Games"},
		},
		{
			name:    "unknown recurrence",
			entry:   Entry{Title: "Piano", Date: "2024-05-01", Category: "Music", Recurring: "yearly"},
			wantErr: ErrInvalidRecurrence,
		},
		{
			name:    "end before start",
			entry:   Entry{Title: "Piano", Date: "2024-05-01", Category: "Music", StartTime: "15:00", EndTime: "14:00"},
			wantErr: ErrInvalidTimeRange,
		},
		{
			name:    "end equals start",
			entry:   Entry{Title: "Piano", Date: "2024-05-01", Category: "Music", StartTime: "15:00", EndTime: "15:00"},
			wantErr: ErrInvalidTimeRange,
		},
		{
			name:    "malformed time",
			entry:   Entry{Title: "Piano", Date: "2024-05-01", Category: "Music", StartTime: "quarter past"},
			wantErr: ErrInvalidTime,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entry.Validate(tt.extra...)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestEntryOccursOn(t *testing.T) {
	// 2024-05-01 is a Wednesday
	tests := []struct {
		name  string
		entry Entry
		date  string
		want  bool
	}{
		{"same day", Entry{Date: "2024-05-01"}, "2024-05-01", true},
		{"other day without recurrence", Entry{Date: "2024-05-01"}, "2024-05-02", false},
		{"daily", Entry{Date: "2024-05-01", Recurring: RecurDaily}, "2024-05-09", true},
		{"daily before start", Entry{Date: "2024-05-01", Recurring: RecurDaily}, "2024-04-30", false},
		{"daily after end", Entry{Date: "2024-05-01", Recurring: RecurDaily, RecurringEndDate: "2024-05-05"}, "2024-05-06", false},
		{"daily on end", Entry{Date: "2024-05-01", Recurring: RecurDaily, RecurringEndDate: "2024-05-05"}, "2024-05-05", true},
		{"weekly same weekday", Entry{Date: "2024-05-01", Recurring: RecurWeekly}, "2024-05-15", true},
		{"weekly other weekday", Entry{Date: "2024-05-01", Recurring: RecurWeekly}, "2024-05-16", false},
		{"monthly same day", Entry{Date: "2024-05-01", Recurring: RecurMonthly}, "2024-07-01", true},
		{"monthly other day", Entry{Date: "2024-05-01", Recurring: RecurMonthly}, "2024-07-02", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.entry.OccursOn(day(t, tt.date)); got != tt.want {
				t.Errorf("OccursOn(%s) = %v, want %v", tt.date, got, tt.want)
			}
		})
	}
}

func TestEntryDuration(t *testing.T) {
	timed := Entry{StartTime: "15:00", EndTime: "16:30"}
	if got := timed.Duration(); got != 90*time.Minute {
		t.Errorf("Expected 90m, got %s", got)
	}
	allDay := Entry{}
	if got := allDay.Duration(); got != 0 {
		t.Errorf("Expected 0 for all-day entry, got %s", got)
	}
	if !allDay.IsAllDay() {
		t.Error("Expected entry without start time to be all-day")
	}
}

func TestStoreAddGetDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	added, err := store.Add(ctx, Entry{Title: "Grandma's birthday", Date: "2024-05-03", Category: "Birthday"})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if added.ID == "" {
		t.Fatal("Expected an ID to be assigned")
	}
	if !added.IsSpecial || added.Icon != "birthday.png" || added.Color != "#9B59B6" {
		t.Errorf("Expected category defaults, got %+v", added)
	}

	got, err := store.Get(ctx, added.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Title != added.Title || got.Date != "2024-05-03" || !got.IsSpecial {
		t.Errorf("Unexpected entry: %+v", got)
	}

	if err := store.Delete(ctx, added.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, added.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, added.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestStoreRejectsInvalidEntry(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Add(context.Background(), Entry{Date: "2024-05-03", Category: "Other"}); !errors.Is(err, ErrEmptyTitle) {
		t.Fatalf("Expected ErrEmptyTitle, got %v", err)
	}
}

func TestStoreEntriesOn(t *testing.T) {
	store := newTestStore(t, "Tablet")
	ctx := context.Background()

	entries := []Entry{
		{Title: "Swimming", Date: "2024-04-24", Category: "Sports", StartTime: "17:00", EndTime: "18:00", Recurring: RecurWeekly},
		{Title: "School", Date: "2024-05-01", Category: "School", StartTime: "8:30", EndTime: "15:00"},
		{Title: "May Day", Date: "2024-05-01", Category: "Holiday"},
		{Title: "Games", Date: "2024-05-01", Category: "Tablet", StartTime: "18:00", EndTime: "18:45"},
		{Title: "Dentist", Date: "2024-05-02", Category: "Appointments", StartTime: "10:00", EndTime: "10:30"},
	}
	for _, entry := range entries {
		if _, err := store.Add(ctx, entry); err != nil {
			t.Fatalf("Add %s failed: %v", entry.Title, err)
		}
	}

	got, err := store.EntriesOn(ctx, day(t, "2024-05-01"), "")
	if err != nil {
		t.Fatalf("EntriesOn failed: %v", err)
	}
	want := []string{"May Day", "School", "Swimming", "Games"}
	if len(got) != len(want) {
		t.Fatalf("Expected %d entries, got %+v", len(want), got)
	}
	for i, title := range want {
		if got[i].Title != title {
			t.Errorf("entry %d: expected %s, got %s", i, title, got[i].Title)
		}
		if got[i].Date != "2024-05-01" {
			t.Errorf("entry %d: expected occurrence date 2024-05-01, got %s", i, got[i].Date)
		}
	}

	filtered, err := store.EntriesOn(ctx, day(t, "2024-05-01"), "Tablet")
	if err != nil {
		t.Fatalf("EntriesOn failed: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Duration() != 45*time.Minute {
		t.Errorf("Expected the single 45 minute Tablet entry, got %+v", filtered)
	}
}

func TestStoreEntriesBetweenAndSpecialEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entries := []Entry{
		{Title: "Piano", Date: "2024-05-06", Category: "Music", StartTime: "16:00", EndTime: "16:30", Recurring: RecurWeekly, RecurringEndDate: "2024-05-20"},
		{Title: "Half term", Date: "2024-05-27", Category: "Vacation"},
		{Title: "Birthday", Date: "2024-06-02", Category: "Birthday"},
	}
	for _, entry := range entries {
		if _, err := store.Add(ctx, entry); err != nil {
			t.Fatalf("Add %s failed: %v", entry.Title, err)
		}
	}

	between, err := store.EntriesBetween(ctx, day(t, "2024-05-01"), day(t, "2024-05-31"), "Music")
	if err != nil {
		t.Fatalf("EntriesBetween failed: %v", err)
	}
	if len(between) != 3 {
		t.Fatalf("Expected 3 piano lessons, got %+v", between)
	}
	for i, date := range []string{"2024-05-06", "2024-05-13", "2024-05-20"} {
		if between[i].Date != date {
			t.Errorf("occurrence %d: expected %s, got %s", i, date, between[i].Date)
		}
	}

	special, err := store.SpecialEvents(ctx, 2024, time.May)
	if err != nil {
		t.Fatalf("SpecialEvents failed: %v", err)
	}
	if len(special) != 1 || special[0].Title != "Half term" {
		t.Errorf("Expected only Half term in May, got %+v", special)
	}

	if _, err := store.EntriesBetween(ctx, day(t, "2024-05-31"), day(t, "2024-05-01"), ""); err == nil {
		t.Error("Expected error for inverted range")
	}
}
