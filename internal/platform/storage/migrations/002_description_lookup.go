package migrations

import (
	"gorm.io/gorm"
)

// Migration002DescriptionLookup indexes expiry for the cleanup sweep.
type Migration002DescriptionLookup struct{}

func (m *Migration002DescriptionLookup) Version() string {
	return "002_description_lookup"
}

func (m *Migration002DescriptionLookup) Description() string {
	return "Index description_records by expiry"
}

func (m *Migration002DescriptionLookup) Up(db *gorm.DB) error {
	return db.Exec(`CREATE INDEX IF NOT EXISTS idx_description_records_expires_at ON description_records(expires_at)`).Error
}

func (m *Migration002DescriptionLookup) Down(db *gorm.DB) error {
	return db.Exec(`DROP INDEX IF EXISTS idx_description_records_expires_at`).Error
}
