package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/kiosktime/internal/config"
	"github.com/goodtune/kiosktime/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Store implements the storage.Store interface using Redis
type Store struct {
	client       *redis.Client
	usageStore   *usageStore
	sessionStore *sessionStore
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Host may already carry the port
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keys := newKeyspace(cfg.KeyPrefix)
	return &Store{
		client:       client,
		usageStore:   &usageStore{client: client, keys: keys},
		sessionStore: &sessionStore{client: client, keys: keys},
	}, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Usage returns the UsageStore implementation
func (s *Store) Usage() storage.UsageStore {
	return s.usageStore
}

// Sessions returns the SessionStore implementation
func (s *Store) Sessions() storage.SessionStore {
	return s.sessionStore
}

// keyspace builds the Redis keys for one installation.
type keyspace struct {
	prefix string
}

func newKeyspace(prefix string) keyspace {
	if prefix == "" {
		prefix = "kiosktime"
	}
	return keyspace{prefix: prefix}
}

func (k keyspace) usage(date string) string {
	return fmt.Sprintf("%s:usage:%s", k.prefix, date)
}

func (k keyspace) usageDates() string {
	return k.prefix + ":usage:dates"
}

func (k keyspace) session(id string) string {
	return fmt.Sprintf("%s:session:%s", k.prefix, id)
}

func (k keyspace) sessionsByDate(date string) string {
	return fmt.Sprintf("%s:sessions:date:%s", k.prefix, date)
}

func (k keyspace) sessionsStarted() string {
	return k.prefix + ":sessions:started"
}
