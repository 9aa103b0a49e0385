package storage

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func memoryDSN(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("file:storage-%d?mode=memory&cache=shared", time.Now().UnixNano())
}

func TestOpen_AppliesMigrations(t *testing.T) {
	db, err := Open(memoryDSN(t))
	require.NoError(t, err)
	defer Close(db)

	manager := NewMigrationManager(db)
	history, err := manager.History()
	require.NoError(t, err)
	require.Len(t, history, 2)

	rec := DescriptionRecord{
		Digest:      "abc",
		Description: "a red mug on a desk",
		Model:       "gpt-4o-mini",
		Metadata:    datatypes.JSONMap{"bytes": 1024},
		CreatedAt:   time.Now(),
	}
	require.NoError(t, db.Create(&rec).Error)

	var loaded DescriptionRecord
	require.NoError(t, db.First(&loaded, "digest = ?", "abc").Error)
	assert.Equal(t, "a red mug on a desk", loaded.Description)
	assert.Equal(t, json.Number("1024"), loaded.Metadata["bytes"])
}

func TestMigrationManager_Idempotent(t *testing.T) {
	db, err := Open(memoryDSN(t))
	require.NoError(t, err)
	defer Close(db)

	manager := NewMigrationManager(db)
	require.NoError(t, manager.RunMigrations())
	history, err := manager.History()
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestMigrationManager_Rollback(t *testing.T) {
	db, err := Open(memoryDSN(t))
	require.NoError(t, err)
	defer Close(db)

	manager := NewMigrationManager(db)
	err = manager.RollbackMigration("002_description_lookup")
	require.Error(t, err, "migration not registered on this manager")

	m2 := NewMigrationManager(db)
	m2.AddMigration(&noopMigration{version: "002_description_lookup"})
	require.NoError(t, m2.RollbackMigration("002_description_lookup"))

	history, err := m2.History()
	require.NoError(t, err)
	assert.Len(t, history, 1)

	err = m2.RollbackMigration("999_missing")
	require.Error(t, err)
}

func TestOpen_EmptyDSN(t *testing.T) {
	_, err := Open("")
	require.Error(t, err)
}
