package inventory

import (
	"errors"
	"testing"

	"stocksync/core/shopify"
	"stocksync/feature/inventory/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func resolverDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))
	return db
}

func TestResolve(t *testing.T) {
	t.Run("ConnectedStore", func(t *testing.T) {
		db := resolverDB(t)
		require.NoError(t, db.Create(&models.StoreConnection{
			StoreKey:    "store-a",
			Domain:      "a.myshopify.com",
			AccessToken: "tok",
			Connected:   true,
		}).Error)

		access, err := NewResolver(db).Resolve("store-a")
		require.NoError(t, err)
		assert.Equal(t, "a.myshopify.com", access.Credentials.Domain)
		assert.Equal(t, "tok", access.Credentials.AccessToken)
		// Unset truth mode defaults to database-authoritative.
		assert.Equal(t, models.TruthModeDatabase, access.TruthMode)
	})

	t.Run("UnknownStore", func(t *testing.T) {
		db := resolverDB(t)

		_, err := NewResolver(db).Resolve("ghost")
		var credErr *shopify.CredentialsError
		require.True(t, errors.As(err, &credErr))
		assert.Contains(t, credErr.Reason, "not registered")
	})

	t.Run("DisconnectedStore", func(t *testing.T) {
		db := resolverDB(t)
		require.NoError(t, db.Create(&models.StoreConnection{
			StoreKey:    "store-a",
			Domain:      "a.myshopify.com",
			AccessToken: "tok",
			Connected:   false,
		}).Error)

		_, err := NewResolver(db).Resolve("store-a")
		var credErr *shopify.CredentialsError
		require.True(t, errors.As(err, &credErr))
		assert.Contains(t, credErr.Reason, "disconnected")
	})

	t.Run("MissingToken", func(t *testing.T) {
		db := resolverDB(t)
		require.NoError(t, db.Create(&models.StoreConnection{
			StoreKey:  "store-a",
			Domain:    "a.myshopify.com",
			Connected: true,
		}).Error)

		_, err := NewResolver(db).Resolve("store-a")
		var credErr *shopify.CredentialsError
		require.True(t, errors.As(err, &credErr))
	})
}
