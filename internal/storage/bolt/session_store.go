package bolt

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/goodtune/kiosktime/internal/storage"
	"go.etcd.io/bbolt"
)

type sessionStore struct {
	db *bbolt.DB
}

func (s *sessionStore) SaveSession(ctx context.Context, session storage.Session) error {
	data, err := marshal(session)
	if err != nil {
		return err
	}
	key := []byte(sessionKey(session.StartedAt, session.ID))

	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketSessions))
		if b == nil {
			return fmt.Errorf("sessions bucket missing")
		}
		if err := b.Put(key, data); err != nil {
			return err
		}
		idx, err := ensureIndexBucket(tx, bucketIndexSessionDate, session.Date)
		if err != nil {
			return err
		}
		return idx.Put(key, nil)
	})
}

func (s *sessionStore) ListSessions(ctx context.Context, date string) ([]storage.Session, error) {
	sessions := make([]storage.Session, 0)
	return sessions, s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketSessions))
		if b == nil {
			return nil
		}

		collect := func(value []byte) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if value == nil {
				return nil
			}
			var session storage.Session
			if err := unmarshal(value, &session); err != nil {
				return err
			}
			sessions = append(sessions, session)
			return nil
		}

		if date == "" {
			return b.ForEach(func(_, v []byte) error { return collect(v) })
		}

		idx := lookupIndexBucket(tx, bucketIndexSessionDate, date)
		if idx == nil {
			return nil
		}
		return idx.ForEach(func(k, _ []byte) error { return collect(b.Get(k)) })
	})
}

func (s *sessionStore) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	limit := []byte(fmt.Sprintf("%020d", cutoff.UnixNano()))
	deleted := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketSessions))
		if b == nil {
			return nil
		}
		type staleSession struct {
			key  []byte
			date string
		}
		var stale []staleSession
		c := b.Cursor()
		for k, v := c.First(); k != nil && bytes.Compare(k, limit) < 0; k, v = c.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var session storage.Session
			if err := unmarshal(v, &session); err != nil {
				return err
			}
			stale = append(stale, staleSession{key: append([]byte(nil), k...), date: session.Date})
		}
		for _, item := range stale {
			if idx := lookupIndexBucket(tx, bucketIndexSessionDate, item.date); idx != nil {
				if err := idx.Delete(item.key); err != nil {
					return err
				}
			}
			if err := b.Delete(item.key); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}
