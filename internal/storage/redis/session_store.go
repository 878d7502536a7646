package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/goodtune/kiosktime/internal/storage"
	"github.com/redis/go-redis/v9"
)

var (
	saveSession          = redis.NewScript(saveSessionScript)
	deleteSessionsBefore = redis.NewScript(deleteSessionsBeforeScript)
)

type sessionStore struct {
	client *redis.Client
	keys   keyspace
}

// SaveSession stores a finished session and indexes it by date and start time
func (s *sessionStore) SaveSession(ctx context.Context, session storage.Session) error {
	keys := []string{
		s.keys.session(session.ID),
		s.keys.sessionsByDate(session.Date),
		s.keys.sessionsStarted(),
	}
	args := []interface{}{
		session.ID,
		session.Date,
		session.StartedAt.Format(time.RFC3339Nano),
		session.StartedAt.Unix(),
		session.EndedAt.Format(time.RFC3339Nano),
		session.ElapsedSeconds,
		session.LimitSeconds,
		session.UsedMinutes,
		string(session.Outcome),
	}

	return saveSession.Run(ctx, s.client, keys, args...).Err()
}

// ListSessions returns the sessions for a date, or all sessions when date is empty
func (s *sessionStore) ListSessions(ctx context.Context, date string) ([]storage.Session, error) {
	var (
		ids []string
		err error
	)
	if date == "" {
		ids, err = s.client.ZRange(ctx, s.keys.sessionsStarted(), 0, -1).Result()
	} else {
		ids, err = s.client.SMembers(ctx, s.keys.sessionsByDate(date)).Result()
	}
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return []storage.Session{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.keys.session(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	sessions := make([]storage.Session, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		session, err := parseSession(data)
		if err == nil {
			sessions = append(sessions, *session)
		}
	}

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].StartedAt.Before(sessions[j].StartedAt) })
	return sessions, nil
}

// DeleteSessionsBefore removes sessions that started before cutoff
func (s *sessionStore) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	deleted, err := deleteSessionsBefore.Run(ctx, s.client, []string{s.keys.sessionsStarted()}, s.keys.prefix, cutoff.Unix()).Int()
	if err != nil {
		return 0, fmt.Errorf("delete sessions: %w", err)
	}
	return deleted, nil
}
