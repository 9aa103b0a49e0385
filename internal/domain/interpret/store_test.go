package interpret

import (
	"context"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glass-server-go/internal/platform/storage"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.Error(t, s.Put(ctx, Record{Description: "no digest"}))

	rec := Record{
		Digest:      "d1",
		Description: "a bicycle leaning on a fence",
		Model:       "gpt-4o-mini",
		Metadata:    map[string]any{"format": "jpeg"},
	}
	require.NoError(t, s.Put(ctx, rec))

	got, err := s.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, rec.Description, got.Description)
	assert.Equal(t, "jpeg", got.Metadata["format"])
	assert.False(t, got.CreatedAt.IsZero())

	rec.Description = "updated"
	require.NoError(t, s.Put(ctx, rec))
	got, err = s.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "updated", got.Description)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats["total"])

	require.NoError(t, s.Remove(ctx, "d1"))
	_, err = s.Get(ctx, "d1")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, s.CleanupExpired(ctx))
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore(StoreConfig{TTL: time.Hour})
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	exerciseStore(t, s)
}

func TestMemoryStore_Expiry(t *testing.T) {
	s := NewMemoryStore(StoreConfig{})
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	require.NoError(t, s.Put(ctx, Record{Digest: "old", Description: "x", ExpiresAt: &past}))
	_, err := s.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.CleanupExpired(ctx))
	stats, _ := s.Stats(ctx)
	assert.Equal(t, 0, stats["total"])
}

func TestSQLiteStore(t *testing.T) {
	db, err := storage.Open(fmt.Sprintf("file:interpret-%d?mode=memory&cache=shared", time.Now().UnixNano()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close(db) })

	s, err := NewStore(StoreConfig{Driver: DriverSQLite, TTL: time.Hour}, Dependencies{SQLiteDB: db})
	require.NoError(t, err)
	exerciseStore(t, s)
}

func TestSQLiteStore_ExpiredRecordIsMissing(t *testing.T) {
	db, err := storage.Open(fmt.Sprintf("file:interpret-exp-%d?mode=memory&cache=shared", time.Now().UnixNano()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close(db) })

	s, err := NewSQLiteStore(db, StoreConfig{})
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	require.NoError(t, s.Put(context.Background(), Record{Digest: "old", Description: "x", ExpiresAt: &past}))
	_, err = s.Get(context.Background(), "old")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_NumericMetadata(t *testing.T) {
	db, err := storage.Open(fmt.Sprintf("file:interpret-meta-%d?mode=memory&cache=shared", time.Now().UnixNano()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close(db) })

	s, err := NewSQLiteStore(db, StoreConfig{})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, Record{
		Digest:      "m1",
		Description: "a kettle",
		Metadata:    map[string]any{"bytes": 1024, "ratio": 1.5, "format": "png"},
	}))
	got, err := s.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(1024), got.Metadata["bytes"])
	assert.Equal(t, 1.5, got.Metadata["ratio"])
	assert.Equal(t, "png", got.Metadata["format"])
}

func TestRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	s, err := NewStore(StoreConfig{
		Driver: DriverRedis,
		TTL:    time.Hour,
		Redis:  &RedisConfig{Addr: mr.Addr()},
	}, Dependencies{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	exerciseStore(t, s)
}

func TestRedisStore_TTL(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	s, err := NewRedisStore(StoreConfig{TTL: time.Minute, Redis: &RedisConfig{Addr: mr.Addr(), Prefix: "t:"}})
	require.NoError(t, err)
	defer s.Close(context.Background())

	require.NoError(t, s.Put(context.Background(), Record{Digest: "d", Description: "x"}))
	assert.True(t, mr.Exists("t:d"))

	mr.FastForward(2 * time.Minute)
	_, err = s.Get(context.Background(), "d")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewStore_Errors(t *testing.T) {
	_, err := NewStore(StoreConfig{Driver: DriverSQLite}, Dependencies{})
	assert.Error(t, err)

	_, err = NewStore(StoreConfig{Driver: DriverRedis}, Dependencies{})
	assert.Error(t, err)

	_, err = NewStore(StoreConfig{Driver: "etcd"}, Dependencies{})
	assert.Error(t, err)

	s, err := NewStore(StoreConfig{}, Dependencies{})
	require.NoError(t, err)
	_ = s.Close(context.Background())
}
