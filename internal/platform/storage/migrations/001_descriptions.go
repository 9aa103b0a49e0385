package migrations

import (
	"gorm.io/gorm"
)

// Migration001Descriptions creates the description cache table.
type Migration001Descriptions struct{}

func (m *Migration001Descriptions) Version() string {
	return "001_descriptions"
}

func (m *Migration001Descriptions) Description() string {
	return "Create description_records table"
}

func (m *Migration001Descriptions) Up(db *gorm.DB) error {
	return db.Exec(`
		CREATE TABLE IF NOT EXISTS description_records (
			digest VARCHAR(64) PRIMARY KEY,
			description TEXT NOT NULL,
			model VARCHAR(128),
			metadata JSON,
			created_at DATETIME NOT NULL,
			expires_at DATETIME
		)
	`).Error
}

func (m *Migration001Descriptions) Down(db *gorm.DB) error {
	return db.Exec(`DROP TABLE IF EXISTS description_records`).Error
}
