package push

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"stocksync/core/locks"
	"stocksync/core/shopify"
	"stocksync/feature/inventory/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CredentialResolver resolves a store key into usable marketplace access.
type CredentialResolver interface {
	Resolve(storeKey string) (*models.StoreAccess, error)
}

// Remote is the slice of the marketplace client the push path needs.
type Remote interface {
	ListLocations(ctx context.Context) ([]shopify.Location, error)
	FindInventoryItemBySKU(ctx context.Context, sku string) (int64, error)
	SetInventoryLevel(ctx context.Context, locationID, inventoryItemID int64, available int) error
}

// RemoteDialer builds a Remote for the given credentials.
type RemoteDialer func(creds shopify.Credentials) Remote

// Locker is the slice of the lock manager the push path needs.
type Locker interface {
	Acquire(storeKey string, skus []string) (*locks.Grant, error)
	Release(batchToken string) error
}

// Request triggers one push of a single SKU.
type Request struct {
	StoreKey string `json:"storeKey"`
	SKU      string `json:"sku"`
	// LocationGID restricts the push to one remote location.
	LocationGID string `json:"locationGid,omitempty"`
	// ValidateOnly runs resolution only and persists a validated status
	// without remote mutation. It is a pre-flight check with an intentional
	// side effect, not a pure read.
	ValidateOnly bool `json:"validateOnly,omitempty"`
}

// LocationResult is the outcome of one per-location set call.
type LocationResult struct {
	Location          int64  `json:"location"`
	ComputedAvailable int    `json:"computed_available"`
	Outcome           string `json:"outcome"`
}

// Stats carries the timing breakdown of one push.
type Stats struct {
	RowsConsidered int   `json:"rowsConsidered"`
	QueryMs        int64 `json:"queryMs"`
	RemoteCallsMs  int64 `json:"remoteCallsMs"`
	TotalMs        int64 `json:"totalMs"`
}

// Result is the full outcome of one push.
type Result struct {
	Success    bool             `json:"success"`
	SKU        string           `json:"sku"`
	StoreKey   string           `json:"storeKey"`
	Results    []LocationResult `json:"results"`
	SyncStatus string           `json:"syncStatus"`
	Error      string           `json:"error,omitempty"`
	Stats      Stats            `json:"stats"`
}

// Engine pushes absolute per-location quantities for single SKUs. Pushes
// never touch InventoryItem.Quantity; only status, error and timestamp fields
// are written.
type Engine struct {
	db       *gorm.DB
	resolver CredentialResolver
	locker   Locker
	dial     RemoteDialer
	cfg      shopify.Config
	logger   *zap.Logger

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine creates a push engine.
func NewEngine(db *gorm.DB, resolver CredentialResolver, locker Locker, dial RemoteDialer, cfg shopify.Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:       db,
		resolver: resolver,
		locker:   locker,
		dial:     dial,
		cfg:      cfg,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// Push runs one push end to end. Terminal validation failures (missing
// credentials, unresolvable SKU) are recorded on the item rows and surfaced
// in the result; they are never retried.
func (e *Engine) Push(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()
	result := &Result{SKU: req.SKU, StoreKey: req.StoreKey}
	finish := func() *Result {
		result.Stats.TotalMs = time.Since(started).Milliseconds()
		return result
	}

	access, err := e.resolver.Resolve(req.StoreKey)
	if err != nil {
		var credErr *shopify.CredentialsError
		if errors.As(err, &credErr) {
			result.SyncStatus = models.SyncStatusError
			result.Error = credErr.Error()
			e.persistError(req, credErr.Error())
			return finish(), nil
		}
		return nil, err
	}

	if !req.ValidateOnly {
		grant, err := e.locker.Acquire(req.StoreKey, []string{req.SKU})
		if err != nil {
			return nil, err
		}
		defer func() {
			if rerr := e.locker.Release(grant.BatchToken); rerr != nil {
				e.logger.Warn("lock release failed", zap.Error(rerr))
			}
		}()
		if len(grant.Denied) > 0 {
			result.SyncStatus = "skipped_locked"
			result.Error = "sku is held by a concurrent operation"
			return finish(), nil
		}
	}

	queryStart := time.Now()
	rows, err := e.activeRows(req.StoreKey, req.SKU)
	if err != nil {
		return nil, err
	}
	result.Stats.QueryMs = time.Since(queryStart).Milliseconds()
	result.Stats.RowsConsidered = len(rows)

	if len(rows) == 0 {
		result.SyncStatus = models.SyncStatusError
		result.Error = "no active inventory rows for sku"
		return finish(), nil
	}

	remote := e.dial(access.Credentials)

	remoteStart := time.Now()
	itemID, err := e.resolveItemID(ctx, remote, rows, req.SKU)
	if err != nil {
		result.Stats.RemoteCallsMs = time.Since(remoteStart).Milliseconds()
		result.SyncStatus = models.SyncStatusError
		result.Error = err.Error()
		e.persistError(req, err.Error())
		return finish(), nil
	}

	buckets, err := e.resolveBuckets(ctx, remote, access, rows, req.LocationGID)
	if err != nil {
		result.Stats.RemoteCallsMs = time.Since(remoteStart).Milliseconds()
		result.SyncStatus = models.SyncStatusError
		result.Error = err.Error()
		e.persistError(req, err.Error())
		return finish(), nil
	}

	if req.ValidateOnly {
		result.Stats.RemoteCallsMs = time.Since(remoteStart).Milliseconds()
		for _, b := range buckets {
			result.Results = append(result.Results, LocationResult{
				Location:          b.locationID,
				ComputedAvailable: b.total,
				Outcome:           "validated",
			})
		}
		if err := e.persistStatus(rows, itemID, buckets, models.SyncStatusValidated, ""); err != nil {
			return nil, err
		}
		result.Success = true
		result.SyncStatus = models.SyncStatusValidated
		return finish(), nil
	}

	var failures []string
	for i, b := range buckets {
		if i > 0 {
			// Static backpressure between remote-mutating calls.
			if err := e.sleep(ctx, e.cfg.PushDelay()); err != nil {
				return nil, err
			}
		}

		outcome := "ok"
		if err := remote.SetInventoryLevel(ctx, b.locationID, itemID, b.total); err != nil {
			outcome = fmt.Sprintf("failed: %v", err)
			failures = append(failures, fmt.Sprintf("location %d: %v", b.locationID, err))
		}
		result.Results = append(result.Results, LocationResult{
			Location:          b.locationID,
			ComputedAvailable: b.total,
			Outcome:           outcome,
		})
	}
	result.Stats.RemoteCallsMs = time.Since(remoteStart).Milliseconds()

	if len(failures) > 0 {
		msg := strings.Join(failures, "; ")
		if err := e.persistStatus(rows, itemID, buckets, models.SyncStatusError, msg); err != nil {
			return nil, err
		}
		result.SyncStatus = models.SyncStatusError
		result.Error = msg
		return finish(), nil
	}

	if err := e.persistStatus(rows, itemID, buckets, models.SyncStatusSynced, ""); err != nil {
		return nil, err
	}
	result.Success = true
	result.SyncStatus = models.SyncStatusSynced

	e.logger.Info("push completed",
		zap.String("store", req.StoreKey),
		zap.String("sku", req.SKU),
		zap.Int("locations", len(buckets)))
	return finish(), nil
}

// bucket is one resolved (remote location, absolute total) pair.
type bucket struct {
	locationID int64
	total      int
	rowIDs     []uint
}

// activeRows loads the rows that count toward sellable totals: released, not
// soft deleted, quantity above zero.
func (e *Engine) activeRows(storeKey, sku string) ([]models.InventoryItem, error) {
	var rows []models.InventoryItem
	err := e.db.
		Where("store_key = ? AND sku = ? AND released_at IS NOT NULL AND quantity > 0", storeKey, sku).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("loading inventory rows: %w", err)
	}
	return rows, nil
}

// resolveItemID prefers a cached remote item id on any row and falls back to
// a remote SKU lookup. An unresolvable SKU is a terminal validation error.
func (e *Engine) resolveItemID(ctx context.Context, remote Remote, rows []models.InventoryItem, sku string) (int64, error) {
	for _, row := range rows {
		if row.RemoteItemID != nil && *row.RemoteItemID != 0 {
			return *row.RemoteItemID, nil
		}
	}

	itemID, err := remote.FindInventoryItemBySKU(ctx, sku)
	if err != nil {
		return 0, fmt.Errorf("looking up sku remotely: %w", err)
	}
	if itemID == 0 {
		return 0, fmt.Errorf("sku %s not found on store", sku)
	}
	return itemID, nil
}

// resolveBuckets aggregates quantities per location code, resolves each code
// to a remote location and merges codes that land on the same remote id, so
// one location gets exactly one set call.
func (e *Engine) resolveBuckets(ctx context.Context, remote Remote, access *models.StoreAccess, rows []models.InventoryItem, locationGID string) ([]bucket, error) {
	type codeBucket struct {
		total    int
		cachedID *int64
		rowIDs   []uint
	}
	byCode := map[string]*codeBucket{}
	for _, row := range rows {
		b := byCode[row.LocationCode]
		if b == nil {
			b = &codeBucket{}
			byCode[row.LocationCode] = b
		}
		b.total += row.Quantity
		b.rowIDs = append(b.rowIDs, row.ID)
		if b.cachedID == nil && row.RemoteLocationID != nil && *row.RemoteLocationID != 0 {
			b.cachedID = row.RemoteLocationID
		}
	}

	locations, err := remote.ListLocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing store locations: %w", err)
	}

	fallback := e.fallbackLocation(access, locations)
	merged := map[int64]*bucket{}
	for code, cb := range byCode {
		locationID := e.matchLocation(cb.cachedID, code, locations, fallback)
		if locationID == 0 {
			return nil, fmt.Errorf("no resolvable location for code %q", code)
		}
		b := merged[locationID]
		if b == nil {
			b = &bucket{locationID: locationID}
			merged[locationID] = b
		}
		b.total += cb.total
		b.rowIDs = append(b.rowIDs, cb.rowIDs...)
	}

	if locationGID != "" {
		wanted, err := shopify.ParseGID(locationGID)
		if err != nil {
			return nil, fmt.Errorf("invalid location gid: %w", err)
		}
		b, ok := merged[wanted]
		if !ok {
			return nil, fmt.Errorf("no active rows resolve to location %d", wanted)
		}
		return []bucket{*b}, nil
	}

	out := make([]bucket, 0, len(merged))
	for _, b := range merged {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].locationID < out[j].locationID })
	return out, nil
}

// matchLocation resolves one location code: cached id first, then a
// case-insensitive name match, then the store fallback.
func (e *Engine) matchLocation(cachedID *int64, code string, locations []shopify.Location, fallback int64) int64 {
	if cachedID != nil && *cachedID != 0 {
		return *cachedID
	}
	if code != "" {
		for _, loc := range locations {
			if strings.EqualFold(loc.Name, code) {
				return loc.ID
			}
		}
	}
	return fallback
}

// fallbackLocation picks the store's configured primary location, or the
// first active remote location when none is configured.
func (e *Engine) fallbackLocation(access *models.StoreAccess, locations []shopify.Location) int64 {
	if access.PrimaryLocationID != nil && *access.PrimaryLocationID != 0 {
		return *access.PrimaryLocationID
	}
	for _, loc := range locations {
		if loc.Active {
			return loc.ID
		}
	}
	if len(locations) > 0 {
		return locations[0].ID
	}
	return 0
}

// persistStatus writes the push outcome and caches resolved remote ids on the
// affected rows. Quantity is never written here.
func (e *Engine) persistStatus(rows []models.InventoryItem, itemID int64, buckets []bucket, status, syncError string) error {
	now := time.Now()

	locationByRow := map[uint]int64{}
	for _, b := range buckets {
		for _, id := range b.rowIDs {
			locationByRow[id] = b.locationID
		}
	}

	return e.db.Transaction(func(tx *gorm.DB) error {
		for _, row := range rows {
			updates := map[string]any{
				"sync_status":    status,
				"sync_error":     syncError,
				"remote_item_id": itemID,
			}
			if locID, ok := locationByRow[row.ID]; ok {
				updates["remote_location_id"] = locID
			}
			if status == models.SyncStatusSynced {
				updates["last_synced_at"] = now
			}
			if err := tx.Model(&models.InventoryItem{}).Where("id = ?", row.ID).
				Updates(updates).Error; err != nil {
				return fmt.Errorf("persisting push status: %w", err)
			}
		}
		return nil
	})
}

// persistError records a terminal failure on every active row of the SKU.
func (e *Engine) persistError(req Request, message string) {
	err := e.db.Model(&models.InventoryItem{}).
		Where("store_key = ? AND sku = ? AND released_at IS NOT NULL AND quantity > 0", req.StoreKey, req.SKU).
		Updates(map[string]any{
			"sync_status": models.SyncStatusError,
			"sync_error":  message,
		}).Error
	if err != nil {
		e.logger.Error("recording push error failed",
			zap.String("store", req.StoreKey),
			zap.String("sku", req.SKU),
			zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
