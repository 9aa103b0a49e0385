package storage

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"glass-server-go/internal/platform/errors"
	"glass-server-go/internal/platform/storage/migrations"
)

// DescriptionRecord is a cached photo description keyed by content digest.
type DescriptionRecord struct {
	Digest      string            `gorm:"primaryKey;size:64"`
	Description string            `gorm:"type:text;not null"`
	Model       string            `gorm:"size:128"`
	Metadata    datatypes.JSONMap `gorm:"type:json"`
	CreatedAt   time.Time         `gorm:"not null"`
	ExpiresAt   *time.Time        `gorm:"index"`
}

func (DescriptionRecord) TableName() string {
	return "description_records"
}

// Open opens a sqlite database and applies the schema migrations.
func Open(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New(errors.KindStorage, "storage.open", "empty sqlite dsn")
	}
	if err := ensureDir(dsn); err != nil {
		return nil, errors.Wrap(errors.KindStorage, "storage.mkdir", "failed to create data directory", err)
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "storage.open", "failed to open database", err)
	}

	manager := NewMigrationManager(db,
		&migrations.Migration001Descriptions{},
		&migrations.Migration002DescriptionLookup{},
	)
	if err := manager.RunMigrations(); err != nil {
		return nil, err
	}
	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func ensureDir(dsn string) error {
	if strings.HasPrefix(dsn, "file:") || strings.Contains(dsn, ":memory:") {
		return nil
	}
	dir := filepath.Dir(dsn)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
