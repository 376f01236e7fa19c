package inventory

import (
	"context"
	"fmt"

	"stocksync/core/locks"
	"stocksync/core/shopify"
	"stocksync/feature/inventory/models"
	"stocksync/feature/inventory/push"
	"stocksync/feature/inventory/reconcile"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service wires the inventory engines together: one credential resolver, one
// lock manager, and per-store marketplace clients dialed on demand.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger

	resolver   *Resolver
	lockMgr    *locks.Manager
	pusher     *push.Engine
	reconciler *reconcile.Engine
}

// NewService creates the inventory service. archiver may be nil when object
// storage is disabled.
func NewService(db *gorm.DB, logger *zap.Logger, shopifyCfg shopify.Config, locksCfg locks.Config, syncCfg reconcile.Config, archiver reconcile.Archiver) *Service {
	resolver := NewResolver(db)
	lockMgr := locks.NewManager(db, locksCfg, logger)

	pusher := push.NewEngine(db, resolver, lockMgr,
		func(creds shopify.Credentials) push.Remote {
			return shopify.NewClient(creds, shopifyCfg, logger)
		},
		shopifyCfg, logger)

	reconciler := reconcile.NewEngine(db, resolver, lockMgr,
		func(creds shopify.Credentials) reconcile.Remote {
			return shopify.NewClient(creds, shopifyCfg, logger)
		},
		archiver, syncCfg, logger)

	return &Service{
		db:         db,
		logger:     logger,
		resolver:   resolver,
		lockMgr:    lockMgr,
		pusher:     pusher,
		reconciler: reconciler,
	}
}

// Reconcile runs a reconciliation pass. An empty mode defaults to full.
func (s *Service) Reconcile(ctx context.Context, req reconcile.Request) (*reconcile.Result, error) {
	if req.Mode == "" {
		req.Mode = reconcile.ModeFull
	}
	switch req.Mode {
	case reconcile.ModeFull, reconcile.ModeDriftOnly, reconcile.ModeMissingOnly:
	default:
		return nil, fmt.Errorf("unknown reconciliation mode %q", req.Mode)
	}
	return s.reconciler.Run(ctx, req)
}

// Push pushes one SKU's absolute quantities to its store.
func (s *Service) Push(ctx context.Context, req push.Request) (*push.Result, error) {
	if req.StoreKey == "" || req.SKU == "" {
		return nil, fmt.Errorf("storeKey and sku are required")
	}
	return s.pusher.Push(ctx, req)
}

// Resync runs a targeted reconciliation of one SKU against its store.
func (s *Service) Resync(ctx context.Context, storeKey, sku string) (*reconcile.Result, error) {
	if storeKey == "" || sku == "" {
		return nil, fmt.Errorf("store_key and sku are required")
	}
	return s.reconciler.Run(ctx, reconcile.Request{
		Mode:     reconcile.ModeResync,
		StoreKey: storeKey,
		SKU:      sku,
	})
}

// Runs lists recent reconciliation runs.
func (s *Service) Runs(storeKey string, limit int) ([]models.ReconciliationRun, error) {
	return reconcile.ListRuns(s.db, storeKey, limit)
}

// StoreSummary is the credential-free view of a store connection.
type StoreSummary struct {
	StoreKey  string `json:"store_key"`
	Domain    string `json:"domain"`
	Connected bool   `json:"connected"`
	TruthMode string `json:"truth_mode"`
}

// Stores lists registered store connections without exposing tokens.
func (s *Service) Stores() ([]StoreSummary, error) {
	conns, err := models.ListStoreConnections(s.db)
	if err != nil {
		return nil, err
	}
	out := make([]StoreSummary, 0, len(conns))
	for _, conn := range conns {
		truthMode := conn.TruthMode
		if truthMode == "" {
			truthMode = models.TruthModeDatabase
		}
		out = append(out, StoreSummary{
			StoreKey:  conn.StoreKey,
			Domain:    conn.Domain,
			Connected: conn.Connected,
			TruthMode: truthMode,
		})
	}
	return out, nil
}

// ReapStaleRuns fails runs stuck in running past the configured age.
func (s *Service) ReapStaleRuns() (int64, error) {
	return s.reconciler.ReapStaleRuns()
}
