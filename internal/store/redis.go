package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the registry document as one JSON string value and the cursor
// as an integer value. Keys never expire.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "arcade"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

// OpenRedis parses a redis:// URL and pings the server before returning.
func OpenRedis(ctx context.Context, redisURL, prefix string) (*RedisStore, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, errors.New("REDIS_URL required for redis store")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisStore(rdb, prefix), nil
}

func (s *RedisStore) keyRegistry() string { return s.prefix + ":registry" }
func (s *RedisStore) keyCursor() string   { return s.prefix + ":cursor" }

func (s *RedisStore) LoadRegistry(ctx context.Context) (Document, error) {
	raw, err := s.rdb.Get(ctx, s.keyRegistry()).Bytes()
	if err == redis.Nil {
		return Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: redis get: %v", ErrPersistence, err)
	}
	return DecodeDocument(raw)
}

func (s *RedisStore) SaveRegistry(ctx context.Context, doc Document) error {
	raw, err := EncodeDocument(doc)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.keyRegistry(), raw, 0).Err(); err != nil {
		return fmt.Errorf("%w: redis set: %v", ErrPersistence, err)
	}
	return nil
}

func (s *RedisStore) LoadCursor(ctx context.Context) (int64, error) {
	v, err := s.rdb.Get(ctx, s.keyCursor()).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: redis get cursor: %v", ErrPersistence, err)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: decode cursor: %v", ErrPersistence, err)
	}
	return n, nil
}

func (s *RedisStore) SaveCursor(ctx context.Context, lastMessageID int64) error {
	if err := s.rdb.Set(ctx, s.keyCursor(), lastMessageID, 0).Err(); err != nil {
		return fmt.Errorf("%w: redis set cursor: %v", ErrPersistence, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}
