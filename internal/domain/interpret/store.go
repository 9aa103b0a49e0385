package interpret

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Driver identifiers for the description store.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// ErrNotFound is returned by stores for unknown or expired digests.
var ErrNotFound = errors.New("interpret: description not found")

// Record is a stored description keyed by the content digest of the photo.
type Record struct {
	Digest      string         `json:"digest"`
	Description string         `json:"description"`
	Model       string         `json:"model,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
}

func (r Record) expired(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// Store persists descriptions across sessions.
type Store interface {
	Get(ctx context.Context, digest string) (Record, error)
	Put(ctx context.Context, rec Record) error
	Remove(ctx context.Context, digest string) error
	CleanupExpired(ctx context.Context) error
	Stats(ctx context.Context) (map[string]any, error)
	Close(ctx context.Context) error
}

// StoreConfig selects and tunes a Store.
type StoreConfig struct {
	Driver     string
	TTL        time.Duration
	GCInterval time.Duration
	Redis      *RedisConfig
}

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

// Dependencies carries handles some drivers need.
type Dependencies struct {
	SQLiteDB *gorm.DB
}

// NewStore builds the configured description store.
func NewStore(cfg StoreConfig, deps Dependencies) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverMemory
	}

	switch driver {
	case DriverMemory:
		return NewMemoryStore(cfg), nil
	case DriverSQLite:
		if deps.SQLiteDB == nil {
			return nil, fmt.Errorf("sqlite driver requires database handle")
		}
		return NewSQLiteStore(deps.SQLiteDB, cfg)
	case DriverRedis:
		return NewRedisStore(cfg)
	default:
		return nil, fmt.Errorf("unsupported description store driver: %s", driver)
	}
}

func stampExpiry(rec *Record, ttl time.Duration, now time.Time) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.ExpiresAt == nil && ttl > 0 {
		exp := rec.CreatedAt.Add(ttl)
		rec.ExpiresAt = &exp
	}
}
