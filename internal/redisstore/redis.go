// Package redisstore implements the metadata backend on Redis: records are
// plain keys with a native TTL, the cleanup schedule is a sorted set scored by
// due time and the share counter is an INCR key.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dharsanguruparan/codedrop/internal/metadata"
	"github.com/dharsanguruparan/codedrop/internal/model"
)

const (
	recordPrefix = "share:"
	scheduleKey  = "cleanup_schedule"
	counterKey   = "total_files"
)

// Options configures a Store.
type Options struct {
	URL         string
	MaxRetries  int
	PoolSize    int
	PoolTimeout time.Duration
}

// Store implements metadata.Backend on a single Redis client.
type Store struct {
	client *redis.Client
}

var _ metadata.Backend = (*Store)(nil)

// Open parses the URL, applies pool settings and verifies connectivity.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.URL == "" {
		return nil, errors.New("redis url not provided")
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.PoolSize == 0 {
		opts.PoolSize = 10
	}
	if opts.PoolTimeout == 0 {
		opts.PoolTimeout = 30 * time.Second
	}
	opt, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opt.MaxRetries = opts.MaxRetries
	opt.PoolSize = opts.PoolSize
	opt.PoolTimeout = opts.PoolTimeout
	opt.ReadTimeout = 5 * time.Second
	opt.WriteTimeout = 5 * time.Second

	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client), nil
}

// New wraps an existing client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// Set writes the record JSON with EX ttl. SET overwrites, so a colliding
// token replaces the previous record.
func (s *Store) Set(ctx context.Context, rec *model.ShareRecord, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := s.client.Set(ctx, recordPrefix+rec.Token, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Get loads and decodes a record.
func (s *Store) Get(ctx context.Context, token string) (*model.ShareRecord, error) {
	data, err := s.client.Get(ctx, recordPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, metadata.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var rec model.ShareRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", token, err)
	}
	return &rec, nil
}

// Add puts member into the schedule scored by due in epoch milliseconds.
func (s *Store) Add(ctx context.Context, member string, due time.Time) error {
	z := redis.Z{Score: float64(due.UnixMilli()), Member: member}
	if err := s.client.ZAdd(ctx, scheduleKey, z).Err(); err != nil {
		return fmt.Errorf("redis zadd: %w", err)
	}
	return nil
}

// Due returns members scored in [0, now].
func (s *Store) Due(ctx context.Context, now time.Time) ([]string, error) {
	members, err := s.client.ZRangeByScore(ctx, scheduleKey, &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrangebyscore: %w", err)
	}
	return members, nil
}

// Remove deletes the given members from the schedule.
func (s *Store) Remove(ctx context.Context, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := s.client.ZRem(ctx, scheduleKey, args...).Err(); err != nil {
		return fmt.Errorf("redis zrem: %w", err)
	}
	return nil
}

// Incr bumps the share counter.
func (s *Store) Incr(ctx context.Context) (int64, error) {
	n, err := s.client.Incr(ctx, counterKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr: %w", err)
	}
	return n, nil
}

// Total reads the share counter; a missing key counts as zero.
func (s *Store) Total(ctx context.Context) (int64, error) {
	n, err := s.client.Get(ctx, counterKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get counter: %w", err)
	}
	return n, nil
}

// Ping checks connectivity for health probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
