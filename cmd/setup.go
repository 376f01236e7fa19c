package cmd

import (
	"fmt"

	"stocksync/core/config"
	"stocksync/core/database"
	"stocksync/core/locks"
	"stocksync/core/logger"
	"stocksync/core/storage"
	"stocksync/feature/inventory"
	"stocksync/feature/inventory/models"
	"stocksync/feature/inventory/reconcile"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// bootstrap loads configuration and brings up the shared runtime pieces the
// commands need: logger, migrated database, optional object storage, and the
// wired inventory feature.
func bootstrap() (*config.Config, *zap.Logger, *gorm.DB, *inventory.Feature, error) {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("loading configuration: %w", err)
	}

	logg, err := logger.New(&cfg.Log)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("initializing logger: %w", err)
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("migrating schema: %w", err)
	}
	if err := db.AutoMigrate(&locks.Lock{}); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("migrating lock table: %w", err)
	}

	var archiver reconcile.Archiver
	if cfg.Storage.Enabled {
		store, err := storage.NewClient(cfg.Storage)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("creating storage client: %w", err)
		}
		archiver = inventory.NewBulkArchiver(store, cfg.Storage.Bucket)
		logg.Info("Bulk export archiving enabled", zap.String("bucket", cfg.Storage.Bucket))
	}

	feature := inventory.NewFeature(db, logg, cfg.Shopify, cfg.Locks, cfg.Sync, archiver)
	return cfg, logg, db, feature, nil
}
