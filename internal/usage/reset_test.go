package usage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/kiosktime/internal/storage"
	"github.com/goodtune/kiosktime/internal/storage/jsonfile"
	"github.com/rs/zerolog"
)

func TestCalculateNextReset(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "before reset time",
			now:  time.Date(2024, 5, 1, 1, 30, 0, 0, time.Local),
			want: time.Date(2024, 5, 1, 3, 0, 0, 0, time.Local),
		},
		{
			name: "after reset time",
			now:  time.Date(2024, 5, 1, 15, 0, 0, 0, time.Local),
			want: time.Date(2024, 5, 2, 3, 0, 0, 0, time.Local),
		},
		{
			name: "end of month",
			now:  time.Date(2024, 5, 31, 23, 59, 0, 0, time.Local),
			want: time.Date(2024, 6, 1, 3, 0, 0, 0, time.Local),
		},
	}

	rs, err := NewResetScheduler(nil, "03:00", 0, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewResetScheduler failed: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs.now = func() time.Time { return tt.now }
			if got := rs.calculateNextReset(); !got.Equal(tt.want) {
				t.Errorf("calculateNextReset() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewResetSchedulerRejectsBadTime(t *testing.T) {
	if _, err := NewResetScheduler(nil, "25:99", 30, zerolog.Nop()); err == nil {
		t.Fatal("Expected error for invalid reset time")
	}
}

func TestPrune(t *testing.T) {
	store, err := jsonfile.Open(filepath.Join(t.TempDir(), "usage.json"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	ctx := context.Background()
	now := time.Date(2024, 5, 11, 3, 0, 0, 0, time.Local)

	for _, date := range []string{"2024-04-30", "2024-05-01", "2024-05-10"} {
		if _, err := store.Usage().AddUsedMinutes(ctx, date, 10); err != nil {
			t.Fatalf("AddUsedMinutes(%s) failed: %v", date, err)
		}
	}
	for i, started := range []time.Time{
		time.Date(2024, 4, 30, 18, 0, 0, 0, time.Local),
		time.Date(2024, 5, 1, 9, 0, 0, 0, time.Local),
	} {
		session := storage.Session{
			ID:        []string{"old", "kept"}[i],
			Date:      storage.DateKey(started),
			StartedAt: started,
			EndedAt:   started.Add(10 * time.Minute),
			Outcome:   storage.OutcomeStopped,
		}
		if err := store.Sessions().SaveSession(ctx, session); err != nil {
			t.Fatalf("SaveSession failed: %v", err)
		}
	}

	rs, err := NewResetScheduler(store, "03:00", 10, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewResetScheduler failed: %v", err)
	}
	rs.now = func() time.Time { return now }

	result, err := rs.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if result.Cutoff != "2024-05-01" || result.RecordsDeleted != 1 || result.SessionsDeleted != 1 {
		t.Errorf("Unexpected prune result: %+v", result)
	}

	records, err := store.Usage().ListRecords(ctx, "2024-01-01", "2024-12-31")
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if len(records) != 2 || records[0].Date != "2024-05-01" {
		t.Errorf("Unexpected remaining records: %+v", records)
	}

	sessions, err := store.Sessions().ListSessions(ctx, "2024-05-01")
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "kept" {
		t.Errorf("Unexpected remaining sessions: %+v", sessions)
	}

	// A second pass finds nothing to remove
	result, err = rs.Prune(ctx)
	if err != nil {
		t.Fatalf("second Prune failed: %v", err)
	}
	if result.RecordsDeleted != 0 || result.SessionsDeleted != 0 {
		t.Errorf("Expected an empty second pass, got %+v", result)
	}
}
