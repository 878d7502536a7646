package bolt

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goodtune/kiosktime/internal/storage"
	"go.etcd.io/bbolt"
)

type usageStore struct {
	db *bbolt.DB
}

func (s *usageStore) GetRecord(ctx context.Context, date string) (*storage.UsageRecord, error) {
	return getBucketValue[storage.UsageRecord](ctx, s.db, bucketDailyUsage, date)
}

func (s *usageStore) ListRecords(ctx context.Context, fromDate, toDate string) ([]storage.UsageRecord, error) {
	records := make([]storage.UsageRecord, 0)
	return records, s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketDailyUsage))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		var k, v []byte
		if fromDate != "" {
			k, v = c.Seek([]byte(fromDate))
		} else {
			k, v = c.First()
		}
		for ; k != nil; k, v = c.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if toDate != "" && bytes.Compare(k, []byte(toDate)) > 0 {
				break
			}
			var record storage.UsageRecord
			if err := unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
}

func (s *usageStore) AddUsedMinutes(ctx context.Context, date string, minutes int) (*storage.UsageRecord, error) {
	return s.update(ctx, date, minutes, func(r *storage.UsageRecord) { r.UsedMinutes += minutes })
}

func (s *usageStore) AddCredits(ctx context.Context, date string, minutes int) (*storage.UsageRecord, error) {
	return s.update(ctx, date, minutes, func(r *storage.UsageRecord) { r.Credits += minutes })
}

func (s *usageStore) update(ctx context.Context, date string, minutes int, apply func(*storage.UsageRecord)) (*storage.UsageRecord, error) {
	if minutes < 0 {
		return nil, storage.ErrNegativeMinutes
	}
	if _, err := storage.ParseDate(date); err != nil {
		return nil, err
	}

	var record storage.UsageRecord
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketDailyUsage))
		if b == nil {
			return fmt.Errorf("daily usage bucket missing")
		}
		if existing := b.Get([]byte(date)); existing != nil {
			if err := unmarshal(existing, &record); err != nil {
				return err
			}
		} else {
			record = storage.UsageRecord{Date: date}
		}
		apply(&record)
		data, err := marshal(record)
		if err != nil {
			return err
		}
		return b.Put([]byte(date), data)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *usageStore) DeleteRecordsBefore(ctx context.Context, cutoffDate string) (int, error) {
	if _, err := storage.ParseDate(cutoffDate); err != nil {
		return 0, fmt.Errorf("invalid cutoff date: %w", err)
	}
	deleted := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketDailyUsage))
		if b == nil {
			return nil
		}
		// Keys are ISO dates, so cursor order is date order
		var stale [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil && bytes.Compare(k, []byte(cutoffDate)) < 0; k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}
