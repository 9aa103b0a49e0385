package interpret

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(cfg StoreConfig) (Store, error) {
	if cfg.Redis == nil {
		return nil, fmt.Errorf("redis configuration missing")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Redis.Prefix
	if prefix == "" {
		prefix = "glass:desc:"
	}
	return &redisStore{client: client, ttl: cfg.TTL, prefix: prefix}, nil
}

func (s *redisStore) key(digest string) string {
	return s.prefix + digest
}

func (s *redisStore) Get(ctx context.Context, digest string) (Record, error) {
	raw, err := s.client.Get(ctx, s.key(digest)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	var rec Record
	if err := sonic.Unmarshal(raw, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *redisStore) Put(ctx context.Context, rec Record) error {
	if rec.Digest == "" {
		return fmt.Errorf("digest required")
	}
	stampExpiry(&rec, s.ttl, time.Now())
	data, err := sonic.Marshal(rec)
	if err != nil {
		return err
	}
	var expiry time.Duration
	if rec.ExpiresAt != nil {
		expiry = time.Until(*rec.ExpiresAt)
		if expiry <= 0 {
			return nil
		}
	}
	return s.client.Set(ctx, s.key(rec.Digest), data, expiry).Err()
}

func (s *redisStore) Remove(ctx context.Context, digest string) error {
	return s.client.Del(ctx, s.key(digest)).Err()
}

func (s *redisStore) CleanupExpired(context.Context) error {
	// Redis handles expiration via TTL.
	return nil
}

func (s *redisStore) Stats(ctx context.Context) (map[string]any, error) {
	var (
		cursor uint64
		total  int
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		total += len(keys)
		if next == 0 {
			break
		}
		cursor = next
	}
	return map[string]any{
		"type":        DriverRedis,
		"total":       total,
		"ttl_seconds": int(s.ttl.Seconds()),
	}, nil
}

func (s *redisStore) Close(context.Context) error {
	return s.client.Close()
}
