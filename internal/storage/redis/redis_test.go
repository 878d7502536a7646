package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/kiosktime/internal/config"
	"github.com/goodtune/kiosktime/internal/storage"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	// miniredis.Addr() returns "host:port", so Port stays zero
	cfg := config.RedisConfig{
		Host:         mr.Addr(),
		Port:         0,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
		KeyPrefix:    "test",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}

	return store, mr
}

func TestUsageStore_AddAndGet(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	usage := store.Usage()

	if _, err := usage.GetRecord(ctx, "2024-05-01"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}

	if _, err := usage.AddUsedMinutes(ctx, "2024-05-01", 20); err != nil {
		t.Fatalf("AddUsedMinutes failed: %v", err)
	}
	record, err := usage.AddCredits(ctx, "2024-05-01", 15)
	if err != nil {
		t.Fatalf("AddCredits failed: %v", err)
	}
	if record.UsedMinutes != 20 || record.Credits != 15 {
		t.Errorf("Expected 20 used / 15 credits, got %d / %d", record.UsedMinutes, record.Credits)
	}

	record, err = usage.GetRecord(ctx, "2024-05-01")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if record.UsedMinutes != 20 || record.Credits != 15 {
		t.Errorf("Expected 20 used / 15 credits, got %d / %d", record.UsedMinutes, record.Credits)
	}

	if got := mr.HGet("test:usage:2024-05-01", "used_minutes"); got != "20" {
		t.Errorf("Expected raw hash used_minutes 20, got %q", got)
	}
}

func TestUsageStore_RejectsNegative(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	_, err := store.Usage().AddUsedMinutes(context.Background(), "2024-05-01", -1)
	if !errors.Is(err, storage.ErrNegativeMinutes) {
		t.Fatalf("Expected ErrNegativeMinutes, got %v", err)
	}
}

func TestUsageStore_ListAndDelete(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	usage := store.Usage()

	for _, date := range []string{"2024-04-29", "2024-04-30", "2024-05-01"} {
		if _, err := usage.AddUsedMinutes(ctx, date, 5); err != nil {
			t.Fatalf("AddUsedMinutes failed: %v", err)
		}
	}

	records, err := usage.ListRecords(ctx, "2024-04-30", "")
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records[0].Date != "2024-04-30" || records[1].Date != "2024-05-01" {
		t.Errorf("Expected records ordered by date, got %+v", records)
	}

	deleted, err := usage.DeleteRecordsBefore(ctx, "2024-05-01")
	if err != nil {
		t.Fatalf("DeleteRecordsBefore failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("Expected 2 deleted records, got %d", deleted)
	}
	if mr.Exists("test:usage:2024-04-29") {
		t.Error("Expected old usage key to be removed")
	}

	records, err = usage.ListRecords(ctx, "", "")
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("Expected 1 remaining record, got %d", len(records))
	}
}

func TestSessionStore_SaveListDelete(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	sessions := store.Sessions()

	old := time.Date(2024, 1, 10, 16, 0, 0, 0, time.UTC)
	recent := time.Date(2024, 5, 1, 16, 0, 0, 0, time.UTC)

	for _, session := range []storage.Session{
		{ID: "old", Date: "2024-01-10", StartedAt: old, EndedAt: old.Add(30 * time.Minute), ElapsedSeconds: 1800, LimitSeconds: 1800, UsedMinutes: 30, Outcome: storage.OutcomeLocked},
		{ID: "recent", Date: "2024-05-01", StartedAt: recent, EndedAt: recent.Add(10 * time.Minute), ElapsedSeconds: 600, LimitSeconds: 1800, UsedMinutes: 10, Outcome: storage.OutcomeStopped},
	} {
		if err := sessions.SaveSession(ctx, session); err != nil {
			t.Fatalf("SaveSession failed: %v", err)
		}
	}

	list, err := sessions.ListSessions(ctx, "2024-05-01")
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("Expected 1 session, got %d", len(list))
	}
	if list[0].Outcome != storage.OutcomeStopped || list[0].ElapsedSeconds != 600 {
		t.Errorf("Unexpected session: %+v", list[0])
	}
	if !list[0].StartedAt.Equal(recent) {
		t.Errorf("Expected StartedAt %v, got %v", recent, list[0].StartedAt)
	}

	deleted, err := sessions.DeleteSessionsBefore(ctx, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("DeleteSessionsBefore failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deleted session, got %d", deleted)
	}

	all, err := sessions.ListSessions(ctx, "")
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(all) != 1 || all[0].ID != "recent" {
		t.Errorf("Expected only the recent session, got %+v", all)
	}
}
