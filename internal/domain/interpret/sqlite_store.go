package interpret

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"glass-server-go/internal/platform/storage"
)

type sqliteStore struct {
	db  *gorm.DB
	ttl time.Duration
}

// NewSQLiteStore builds a store on the description_records table.
func NewSQLiteStore(db *gorm.DB, cfg StoreConfig) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite store requires database handle")
	}
	return &sqliteStore{db: db, ttl: cfg.TTL}, nil
}

func (s *sqliteStore) Get(ctx context.Context, digest string) (Record, error) {
	var row storage.DescriptionRecord
	err := s.db.WithContext(ctx).Where("digest = ?", digest).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	rec := Record{
		Digest:      row.Digest,
		Description: row.Description,
		Model:       row.Model,
		Metadata:    normalizeMetadata(row.Metadata),
		CreatedAt:   row.CreatedAt,
		ExpiresAt:   row.ExpiresAt,
	}
	if rec.expired(time.Now()) {
		_ = s.Remove(ctx, digest)
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// normalizeMetadata turns json.Number values from datatypes.JSONMap back into
// int64 or float64 so records read the same from every driver.
func normalizeMetadata(m datatypes.JSONMap) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				v = i
			} else if f, err := n.Float64(); err == nil {
				v = f
			}
		}
		out[k] = v
	}
	return out
}

func (s *sqliteStore) Put(ctx context.Context, rec Record) error {
	if rec.Digest == "" {
		return fmt.Errorf("digest required")
	}
	stampExpiry(&rec, s.ttl, time.Now())
	row := storage.DescriptionRecord{
		Digest:      rec.Digest,
		Description: rec.Description,
		Model:       rec.Model,
		Metadata:    datatypes.JSONMap(rec.Metadata),
		CreatedAt:   rec.CreatedAt,
		ExpiresAt:   rec.ExpiresAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (s *sqliteStore) Remove(ctx context.Context, digest string) error {
	return s.db.WithContext(ctx).Where("digest = ?", digest).Delete(&storage.DescriptionRecord{}).Error
}

func (s *sqliteStore) CleanupExpired(ctx context.Context) error {
	return s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ?", time.Now()).
		Delete(&storage.DescriptionRecord{}).Error
}

func (s *sqliteStore) Stats(ctx context.Context) (map[string]any, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&storage.DescriptionRecord{}).Count(&total).Error; err != nil {
		return nil, err
	}
	return map[string]any{
		"type":        DriverSQLite,
		"total":       total,
		"ttl_seconds": int(s.ttl.Seconds()),
	}, nil
}

// Close leaves the shared database handle open; storage.Close owns it.
func (s *sqliteStore) Close(context.Context) error {
	return nil
}
