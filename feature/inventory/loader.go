package inventory

import (
	"stocksync/core/locks"
	"stocksync/core/shopify"
	"stocksync/feature/inventory/reconcile"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Feature implements the loader.Feature interface.
type Feature struct {
	service *Service
	handler *Handler
}

// NewFeature creates the inventory feature. archiver may be nil when object
// storage is disabled.
func NewFeature(db *gorm.DB, logger *zap.Logger, shopifyCfg shopify.Config, locksCfg locks.Config, syncCfg reconcile.Config, archiver reconcile.Archiver) *Feature {
	svc := NewService(db, logger, shopifyCfg, locksCfg, syncCfg, archiver)
	h := NewHandler(svc)
	return &Feature{service: svc, handler: h}
}

// Service exposes the wired service for CLI entry points.
func (f *Feature) Service() *Service {
	return f.service
}

// Name returns the name of the feature.
func (f *Feature) Name() string {
	return "inventory"
}

// IsEnabled checks if the feature is enabled.
func (f *Feature) IsEnabled() bool {
	return true
}

// Load registers the feature's routes.
func (f *Feature) Load(app fiber.Router) error {
	f.handler.RegisterRoutes(app)
	return nil
}
