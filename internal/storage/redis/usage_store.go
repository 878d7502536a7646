package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/goodtune/kiosktime/internal/storage"
	"github.com/redis/go-redis/v9"
)

var (
	addUsage          = redis.NewScript(addUsageScript)
	deleteUsageBefore = redis.NewScript(deleteUsageBeforeScript)
)

type usageStore struct {
	client *redis.Client
	keys   keyspace
}

// GetRecord retrieves the usage record for a date
func (s *usageStore) GetRecord(ctx context.Context, date string) (*storage.UsageRecord, error) {
	data, err := s.client.HGetAll(ctx, s.keys.usage(date)).Result()
	if err != nil {
		return nil, err
	}

	return parseUsageRecord(date, data)
}

// ListRecords returns usage records within [fromDate, toDate], open-ended when empty
func (s *usageStore) ListRecords(ctx context.Context, fromDate, toDate string) ([]storage.UsageRecord, error) {
	minScore, maxScore := "-inf", "+inf"
	if fromDate != "" {
		score, err := dateScore(fromDate)
		if err != nil {
			return nil, err
		}
		minScore = strconv.FormatInt(score, 10)
	}
	if toDate != "" {
		score, err := dateScore(toDate)
		if err != nil {
			return nil, err
		}
		maxScore = strconv.FormatInt(score, 10)
	}

	dates, err := s.client.ZRangeByScore(ctx, s.keys.usageDates(), &redis.ZRangeBy{Min: minScore, Max: maxScore}).Result()
	if err != nil {
		return nil, err
	}

	if len(dates) == 0 {
		return []storage.UsageRecord{}, nil
	}

	// Use pipeline for efficient batch retrieval
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(dates))
	for i, date := range dates {
		cmds[i] = pipe.HGetAll(ctx, s.keys.usage(date))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	records := make([]storage.UsageRecord, 0, len(dates))
	for i, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		record, err := parseUsageRecord(dates[i], data)
		if err == nil {
			records = append(records, *record)
		}
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Date < records[j].Date })
	return records, nil
}

// AddUsedMinutes atomically increments used minutes for a date
func (s *usageStore) AddUsedMinutes(ctx context.Context, date string, minutes int) (*storage.UsageRecord, error) {
	return s.add(ctx, date, "used_minutes", minutes)
}

// AddCredits atomically increments credits for a date
func (s *usageStore) AddCredits(ctx context.Context, date string, minutes int) (*storage.UsageRecord, error) {
	return s.add(ctx, date, "credits", minutes)
}

func (s *usageStore) add(ctx context.Context, date, field string, minutes int) (*storage.UsageRecord, error) {
	if minutes < 0 {
		return nil, storage.ErrNegativeMinutes
	}

	score, err := dateScore(date)
	if err != nil {
		return nil, err
	}

	keys := []string{s.keys.usage(date), s.keys.usageDates()}
	args := []interface{}{field, minutes, date, score}

	reply, err := addUsage.Run(ctx, s.client, keys, args...).Slice()
	if err != nil {
		return nil, fmt.Errorf("increment %s: %w", field, err)
	}
	if len(reply) != 2 {
		return nil, fmt.Errorf("unexpected reply length %d", len(reply))
	}

	used, err := toInt64(reply[0])
	if err != nil {
		return nil, err
	}
	credits, err := toInt64(reply[1])
	if err != nil {
		return nil, err
	}

	return &storage.UsageRecord{Date: date, UsedMinutes: int(used), Credits: int(credits)}, nil
}

// DeleteRecordsBefore removes usage records dated before cutoffDate
func (s *usageStore) DeleteRecordsBefore(ctx context.Context, cutoffDate string) (int, error) {
	score, err := dateScore(cutoffDate)
	if err != nil {
		return 0, err
	}

	deleted, err := deleteUsageBefore.Run(ctx, s.client, []string{s.keys.usageDates()}, s.keys.prefix, score).Int()
	if err != nil {
		return 0, fmt.Errorf("delete usage records: %w", err)
	}
	return deleted, nil
}
