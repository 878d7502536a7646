// Package jsonfile stores usage records in a flat JSON document keyed by
// ISO date, the format kiosk devices have always written:
//
//	{"2024-05-01": {"used_minutes": 25, "credits": 10}}
//
// Finished sessions live in a sibling "<name>.sessions.json" document.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goodtune/kiosktime/internal/storage"
	"github.com/rs/zerolog"
)

// Store implements storage.Store on top of JSON files.
type Store struct {
	usagePath    string
	sessionsPath string
	mu           sync.Mutex
	logger       zerolog.Logger
}

type usageEntry struct {
	UsedMinutes int `json:"used_minutes"`
	Credits     int `json:"credits"`
}

type usageDocument map[string]usageEntry

// Open prepares a JSON-backed store rooted at path.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("json storage path is required")
	}
	if err := storage.EnsureParentDir(path); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	ext := filepath.Ext(path)
	return &Store{
		usagePath:    path,
		sessionsPath: strings.TrimSuffix(path, ext) + ".sessions.json",
		logger:       logger.With().Str("component", "jsonfile").Logger(),
	}, nil
}

// Close is a no-op; every write is flushed immediately.
func (s *Store) Close() error { return nil }

// Usage returns the usage store.
func (s *Store) Usage() storage.UsageStore { return &usageStore{s: s} }

// Sessions returns the session store.
func (s *Store) Sessions() storage.SessionStore { return &sessionStore{s: s} }

// readUsage loads the usage document. A missing or malformed document reads
// as empty.
func (s *Store) readUsage() usageDocument {
	doc := usageDocument{}
	data, err := os.ReadFile(s.usagePath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn().Err(err).Str("path", s.usagePath).Msg("Failed to read usage file, treating as empty")
		}
		return doc
	}
	if len(data) == 0 {
		return doc
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn().Err(err).Str("path", s.usagePath).Msg("Malformed usage file, treating as empty")
		return usageDocument{}
	}
	return doc
}

func (s *Store) readSessions() []storage.Session {
	var sessions []storage.Session
	data, err := os.ReadFile(s.sessionsPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn().Err(err).Str("path", s.sessionsPath).Msg("Failed to read sessions file, treating as empty")
		}
		return nil
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &sessions); err != nil {
		s.logger.Warn().Err(err).Str("path", s.sessionsPath).Msg("Malformed sessions file, treating as empty")
		return nil
	}
	return sessions
}

// writeJSON replaces path atomically.
func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

type usageStore struct {
	s *Store
}

func (u *usageStore) GetRecord(ctx context.Context, date string) (*storage.UsageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	entry, ok := u.s.readUsage()[date]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &storage.UsageRecord{Date: date, UsedMinutes: entry.UsedMinutes, Credits: entry.Credits}, nil
}

func (u *usageStore) ListRecords(ctx context.Context, fromDate, toDate string) ([]storage.UsageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	records := make([]storage.UsageRecord, 0)
	for date, entry := range u.s.readUsage() {
		if !storage.InRange(date, fromDate, toDate) {
			continue
		}
		records = append(records, storage.UsageRecord{Date: date, UsedMinutes: entry.UsedMinutes, Credits: entry.Credits})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Date < records[j].Date })
	return records, nil
}

func (u *usageStore) AddUsedMinutes(ctx context.Context, date string, minutes int) (*storage.UsageRecord, error) {
	return u.update(ctx, date, func(e *usageEntry) { e.UsedMinutes += minutes }, minutes)
}

func (u *usageStore) AddCredits(ctx context.Context, date string, minutes int) (*storage.UsageRecord, error) {
	return u.update(ctx, date, func(e *usageEntry) { e.Credits += minutes }, minutes)
}

func (u *usageStore) update(ctx context.Context, date string, apply func(*usageEntry), minutes int) (*storage.UsageRecord, error) {
	if minutes < 0 {
		return nil, storage.ErrNegativeMinutes
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	doc := u.s.readUsage()
	entry := doc[date]
	apply(&entry)
	doc[date] = entry

	if err := writeJSON(u.s.usagePath, doc); err != nil {
		return nil, fmt.Errorf("save usage: %w", err)
	}
	return &storage.UsageRecord{Date: date, UsedMinutes: entry.UsedMinutes, Credits: entry.Credits}, nil
}

func (u *usageStore) DeleteRecordsBefore(ctx context.Context, cutoffDate string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	doc := u.s.readUsage()
	deleted := 0
	for date := range doc {
		if date < cutoffDate {
			delete(doc, date)
			deleted++
		}
	}
	if deleted == 0 {
		return 0, nil
	}
	if err := writeJSON(u.s.usagePath, doc); err != nil {
		return 0, fmt.Errorf("save usage: %w", err)
	}
	return deleted, nil
}

type sessionStore struct {
	s *Store
}

func (ss *sessionStore) SaveSession(ctx context.Context, session storage.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()

	sessions := ss.s.readSessions()
	replaced := false
	for i := range sessions {
		if sessions[i].ID == session.ID {
			sessions[i] = session
			replaced = true
			break
		}
	}
	if !replaced {
		sessions = append(sessions, session)
	}
	return writeJSON(ss.s.sessionsPath, sessions)
}

func (ss *sessionStore) ListSessions(ctx context.Context, date string) ([]storage.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()

	result := make([]storage.Session, 0)
	for _, session := range ss.s.readSessions() {
		if date == "" || session.Date == date {
			result = append(result, session)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartedAt.Before(result[j].StartedAt) })
	return result, nil
}

func (ss *sessionStore) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()

	sessions := ss.s.readSessions()
	kept := sessions[:0]
	for _, session := range sessions {
		if session.StartedAt.Before(cutoff) {
			continue
		}
		kept = append(kept, session)
	}
	deleted := len(sessions) - len(kept)
	if deleted == 0 {
		return 0, nil
	}
	if err := writeJSON(ss.s.sessionsPath, kept); err != nil {
		return 0, fmt.Errorf("save sessions: %w", err)
	}
	return deleted, nil
}
