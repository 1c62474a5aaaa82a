package database

import (
	"path/filepath"
	"testing"

	"example.com/smartpos/services/pos/internal/models"

	"github.com/stretchr/testify/require"
)

func TestOpenMigratesSchema(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer func() {
		require.NoError(t, Close(db))
	}()

	for _, model := range []interface{}{
		&models.Item{},
		&models.ItemBarcode{},
		&models.Customer{},
		&models.Invoice{},
		&models.PendingOperation{},
		&models.Session{},
		&models.Setting{},
	} {
		require.True(t, db.Migrator().HasTable(model))
	}
}

func TestOpenOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pos.db")

	db, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, db.Create(&models.Setting{Key: "theme", Value: "dark"}).Error)
	require.NoError(t, Close(db))

	// Reopening sees the persisted state
	db, err = Open(path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, Close(db))
	}()

	var setting models.Setting
	require.NoError(t, db.Where("key = ?", "theme").First(&setting).Error)
	require.Equal(t, "dark", setting.Value)
}

func TestOpenUnusableLocationFails(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "nested", "pos.db"))
	require.Error(t, err)
	require.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open("")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrStorageUnavailable)
}
