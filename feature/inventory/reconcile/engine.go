package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"stocksync/core/shopify"
	"stocksync/feature/inventory/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Reconciliation modes.
const (
	ModeFull        = "full"
	ModeDriftOnly   = "drift_only"
	ModeMissingOnly = "missing_only"
	ModeResync      = "resync"
)

// CredentialResolver resolves a store key into usable marketplace access.
type CredentialResolver interface {
	Resolve(storeKey string) (*models.StoreAccess, error)
}

// Locker is the slice of the lock manager the reconciliation path needs.
// Reconciliation only reads lock state; it never takes leases itself.
type Locker interface {
	LockedSKUs(storeKey string) (map[string]struct{}, error)
}

// Archiver persists bulk export payloads for audit. Archiving is best effort
// and never fails a run.
type Archiver interface {
	ArchiveBulkExport(ctx context.Context, storeKey, runKey string, data []byte) error
}

// Request triggers a reconciliation pass.
type Request struct {
	Mode     string `json:"mode"`
	StoreKey string `json:"store_key,omitempty"`
	DryRun   bool   `json:"dry_run,omitempty"`
	MaxItems int    `json:"max_items,omitempty"`

	// SKU narrows a resync-mode run to one SKU.
	SKU string `json:"sku,omitempty"`
}

// StoreStats are the per-store counters reported for one run.
type StoreStats struct {
	ItemsChecked       int `json:"items_checked"`
	DriftDetected      int `json:"drift_detected"`
	DriftFixed         int `json:"drift_fixed"`
	Errors             int `json:"errors"`
	SkippedLocked      int `json:"skipped_locked"`
	LocationsProcessed int `json:"locations_processed"`
}

// StoreResult is the outcome of one store's run.
type StoreResult struct {
	Success     bool       `json:"success"`
	RunID       string     `json:"run_id"`
	FetchMethod string     `json:"fetch_method,omitempty"`
	Stats       StoreStats `json:"stats"`
	DurationMs  int64      `json:"duration_ms"`
	Error       string     `json:"error,omitempty"`
	ErrorCode   string     `json:"error_code,omitempty"`
}

// Result is the outcome of a whole invocation across stores.
type Result struct {
	Success         bool                    `json:"success"`
	Mode            string                  `json:"mode"`
	DryRun          bool                    `json:"dry_run"`
	DurationMs      int64                   `json:"duration_ms"`
	StoresProcessed int                     `json:"stores_processed"`
	Results         map[string]*StoreResult `json:"results"`
}

// Engine drives reconciliation runs: fetch remote truth by mode, compare to
// local rows, apply the store's truth policy, record stats.
type Engine struct {
	db       *gorm.DB
	resolver CredentialResolver
	locker   Locker
	dial     RemoteDialer
	archiver Archiver
	cfg      Config
	logger   *zap.Logger
}

// NewEngine creates a reconciliation engine. archiver may be nil.
func NewEngine(db *gorm.DB, resolver CredentialResolver, locker Locker, dial RemoteDialer, archiver Archiver, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:       db,
		resolver: resolver,
		locker:   locker,
		dial:     dial,
		archiver: archiver,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run processes one or all stores sequentially. A store's failure is
// recorded on its own run and never aborts its siblings.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()

	// Sweep runs orphaned by earlier crashes before starting new ones.
	if _, err := e.ReapStaleRuns(); err != nil {
		e.logger.Warn("reaping stale runs failed", zap.Error(err))
	}

	stores, err := e.targetStores(req.StoreKey)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Success: true,
		Mode:    req.Mode,
		DryRun:  req.DryRun,
		Results: make(map[string]*StoreResult, len(stores)),
	}
	for _, storeKey := range stores {
		sr := e.runStore(ctx, storeKey, req)
		result.Results[storeKey] = sr
		result.StoresProcessed++
		if !sr.Success {
			result.Success = false
		}
	}
	result.DurationMs = time.Since(started).Milliseconds()
	return result, nil
}

// targetStores resolves the store list: the requested one, or every
// registered store.
func (e *Engine) targetStores(storeKey string) ([]string, error) {
	if storeKey != "" {
		return []string{storeKey}, nil
	}
	conns, err := models.ListStoreConnections(e.db)
	if err != nil {
		return nil, dbErr(err)
	}
	keys := make([]string, 0, len(conns))
	for _, conn := range conns {
		keys = append(keys, conn.StoreKey)
	}
	return keys, nil
}

// runStore executes one store's run end to end and finalizes its run record
// exactly once.
func (e *Engine) runStore(ctx context.Context, storeKey string, req Request) *StoreResult {
	started := time.Now()

	status := models.RunStatusRunning
	if req.DryRun {
		status = models.RunStatusDryRun
	}
	run := models.ReconciliationRun{
		RunKey:    uuid.New().String(),
		StoreKey:  storeKey,
		Mode:      req.Mode,
		Status:    status,
		StartedAt: started,
	}
	if err := e.db.Create(&run).Error; err != nil {
		return &StoreResult{
			Error:     err.Error(),
			ErrorCode: ErrCodeDatabase,
		}
	}

	sr := &StoreResult{RunID: run.RunKey}
	locStats, err := e.reconcile(ctx, &run, req, sr)

	finished := time.Now()
	run.FinishedAt = &finished
	run.DurationMs = finished.Sub(started).Milliseconds()
	run.ItemsChecked = sr.Stats.ItemsChecked
	run.DriftDetected = sr.Stats.DriftDetected
	run.DriftFixed = sr.Stats.DriftFixed
	run.ErrorCount = sr.Stats.Errors
	run.SkippedLocked = sr.Stats.SkippedLocked
	run.LocationsProcessed = sr.Stats.LocationsProcessed
	run.MetadataJSON, _ = json.Marshal(map[string]any{
		"fetch_method": run.FetchMethod,
		"truth_mode":   run.TruthMode,
		"duration_ms":  run.DurationMs,
	})

	if err != nil {
		run.Status = models.RunStatusFailed
		run.ErrorCode = Classify(err)
		run.ErrorMessage = err.Error()
		sr.Error = err.Error()
		sr.ErrorCode = run.ErrorCode
		e.logger.Warn("reconciliation run failed",
			zap.String("store", storeKey),
			zap.String("run", run.RunKey),
			zap.String("code", run.ErrorCode),
			zap.Error(err))
	} else {
		if req.DryRun {
			run.Status = models.RunStatusDryRunCompleted
		} else {
			run.Status = models.RunStatusCompleted
		}
		sr.Success = true
	}
	sr.DurationMs = run.DurationMs

	if saveErr := e.db.Save(&run).Error; saveErr != nil {
		e.logger.Error("finalizing run failed", zap.String("run", run.RunKey), zap.Error(saveErr))
	}
	if err == nil && !req.DryRun {
		for _, ls := range locStats {
			if saveErr := e.db.Create(ls).Error; saveErr != nil {
				e.logger.Error("persisting location stats failed",
					zap.String("run", run.RunKey), zap.Error(saveErr))
			}
		}
	}

	e.logger.Info("reconciliation run finished",
		zap.String("store", storeKey),
		zap.String("run", run.RunKey),
		zap.String("status", run.Status),
		zap.Int("items_checked", run.ItemsChecked))
	return sr
}

// reconcile is the fallible middle of a run: resolve, fetch, compare, apply.
func (e *Engine) reconcile(ctx context.Context, run *models.ReconciliationRun, req Request, sr *StoreResult) (map[int64]*models.ReconciliationLocationStat, error) {
	access, err := e.resolver.Resolve(run.StoreKey)
	if err != nil {
		return nil, err
	}
	run.TruthMode = access.TruthMode

	maxItems := req.MaxItems
	if maxItems <= 0 {
		maxItems = e.cfg.MaxItems
	}
	fetcher := NewFetcher(e.dial(access.Credentials), maxItems, e.logger)

	fr, err := e.fetchByMode(ctx, fetcher, run.StoreKey, req)
	if err != nil {
		return nil, err
	}
	run.FetchMethod = fr.Method
	sr.FetchMethod = fr.Method

	if !req.DryRun && e.archiver != nil && len(fr.Raw) > 0 {
		if aerr := e.archiver.ArchiveBulkExport(ctx, run.StoreKey, run.RunKey, fr.Raw); aerr != nil {
			e.logger.Warn("archiving bulk export failed", zap.String("run", run.RunKey), zap.Error(aerr))
		}
	}

	locked, err := e.locker.LockedSKUs(run.StoreKey)
	if err != nil {
		return nil, err
	}

	if !req.DryRun {
		if err := e.upsertMirrors(run.StoreKey, fr.Facts); err != nil {
			return nil, err
		}
	}

	locStats := map[int64]*models.ReconciliationLocationStat{}
	now := time.Now()
	for _, fact := range fr.Facts {
		sr.Stats.ItemsChecked++
		ls := locStats[fact.LocationID]
		if ls == nil {
			ls = &models.ReconciliationLocationStat{RunKey: run.RunKey, LocationID: fact.LocationID}
			locStats[fact.LocationID] = ls
		}
		ls.ItemsChecked++

		rows, err := e.matchingRows(run.StoreKey, fact)
		if err != nil {
			sr.Stats.Errors++
			ls.ErrorCount++
			continue
		}
		if len(rows) == 0 {
			run.MissingLocal++
			continue
		}

		if anyLocked(rows, locked) {
			sr.Stats.SkippedLocked++
			continue
		}

		for i := range rows {
			row := &rows[i]
			var applyErr error
			if access.TruthMode == models.TruthModeShopify {
				applyErr = e.applyRemoteAuthoritative(run, row, fact, now, req.DryRun, sr, ls)
			} else {
				applyErr = e.applyDatabaseAuthoritative(row, fact, now, req.DryRun, sr, ls)
			}
			if applyErr != nil {
				sr.Stats.Errors++
				ls.ErrorCount++
			}
		}
	}
	sr.Stats.LocationsProcessed = len(locStats)
	return locStats, nil
}

// fetchByMode picks the fetch tactic for the requested mode.
func (e *Engine) fetchByMode(ctx context.Context, fetcher *Fetcher, storeKey string, req Request) (*FetchResult, error) {
	switch req.Mode {
	case ModeFull:
		return fetcher.FetchFull(ctx)
	case ModeDriftOnly:
		ids, err := e.targetedItemIDs(storeKey, "drift_detected = ?", true)
		if err != nil {
			return nil, err
		}
		return fetcher.FetchTargeted(ctx, ids)
	case ModeMissingOnly:
		ids, err := e.targetedItemIDs(storeKey, "last_remote_seen IS NULL")
		if err != nil {
			return nil, err
		}
		return fetcher.FetchTargeted(ctx, ids)
	case ModeResync:
		if req.SKU == "" {
			return nil, fmt.Errorf("resync requires a sku")
		}
		ids, err := e.targetedItemIDs(storeKey, "sku = ?", req.SKU)
		if err != nil {
			return nil, err
		}
		return fetcher.FetchTargeted(ctx, ids)
	default:
		return nil, fmt.Errorf("unknown reconciliation mode %q", req.Mode)
	}
}

// targetedItemIDs selects distinct resolved remote item ids matching the
// extra condition.
func (e *Engine) targetedItemIDs(storeKey string, condition string, args ...any) ([]int64, error) {
	var ids []int64
	err := e.db.Model(&models.InventoryItem{}).
		Distinct("remote_item_id").
		Where("store_key = ? AND remote_item_id IS NOT NULL", storeKey).
		Where(condition, args...).
		Pluck("remote_item_id", &ids).Error
	if err != nil {
		return nil, dbErr(err)
	}
	return ids, nil
}

// upsertMirrors writes the audit mirror in batches. Mirrors are written for
// every fact, including facts later skipped for being locked.
func (e *Engine) upsertMirrors(storeKey string, facts []shopify.LevelFact) error {
	batchSize := e.cfg.MirrorBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	now := time.Now()
	for start := 0; start < len(facts); start += batchSize {
		end := start + batchSize
		if end > len(facts) {
			end = len(facts)
		}

		mirrors := make([]models.InventoryLevelMirror, 0, end-start)
		for _, fact := range facts[start:end] {
			mirrors = append(mirrors, models.InventoryLevelMirror{
				StoreKey:        storeKey,
				InventoryItemID: fact.InventoryItemID,
				LocationID:      fact.LocationID,
				Available:       fact.Available,
				LastSeenAt:      now,
			})
		}
		err := e.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "store_key"}, {Name: "inventory_item_id"}, {Name: "location_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"available", "last_seen_at", "updated_at"}),
		}).Create(&mirrors).Error
		if err != nil {
			return dbErr(err)
		}
	}
	return nil
}

// matchingRows finds local rows for one remote fact. A null cached location
// id matches any location; a resolved one must match exactly.
func (e *Engine) matchingRows(storeKey string, fact shopify.LevelFact) ([]models.InventoryItem, error) {
	var rows []models.InventoryItem
	err := e.db.
		Where("store_key = ? AND remote_item_id = ?", storeKey, fact.InventoryItemID).
		Where("remote_location_id IS NULL OR remote_location_id = ?", fact.LocationID).
		Find(&rows).Error
	if err != nil {
		return nil, dbErr(err)
	}
	return rows, nil
}

// applyRemoteAuthoritative makes the remote value win: quantity is
// overwritten (floored at 0), drift flags clear, and a sold-out remote level
// stamps the row sold.
func (e *Engine) applyRemoteAuthoritative(run *models.ReconciliationRun, row *models.InventoryItem, fact shopify.LevelFact, now time.Time, dryRun bool, sr *StoreResult, ls *models.ReconciliationLocationStat) error {
	newQty := fact.Available
	if newQty < 0 {
		newQty = 0
	}

	changed := row.Quantity != newQty
	if changed || row.DriftDetected {
		sr.Stats.DriftFixed++
		ls.DriftFixed++
	}
	if dryRun {
		return nil
	}

	row.Quantity = newQty
	row.ClearDrift()
	row.LastRemoteSeen = &now
	if newQty == 0 && row.SoldAt == nil {
		row.SoldAt = &now
		row.SoldChannel = "shopify"
		run.SoldMarked++
	}
	if err := e.db.Save(row).Error; err != nil {
		return dbErr(err)
	}
	return nil
}

// applyDatabaseAuthoritative never rewrites quantity: mismatches set the
// drift flag with evidence, matches clear a stale flag.
func (e *Engine) applyDatabaseAuthoritative(row *models.InventoryItem, fact shopify.LevelFact, now time.Time, dryRun bool, sr *StoreResult, ls *models.ReconciliationLocationStat) error {
	mismatch := row.Quantity != fact.Available

	switch {
	case mismatch && !row.DriftDetected:
		sr.Stats.DriftDetected++
		ls.DriftDetected++
		if dryRun {
			return nil
		}
		if err := row.SetDriftDetail(models.DriftDetail{
			Expected:   row.Quantity,
			Actual:     fact.Available,
			Location:   fact.LocationID,
			Detector:   "reconciliation",
			DetectedAt: now,
		}); err != nil {
			return err
		}
	case !mismatch && row.DriftDetected:
		sr.Stats.DriftFixed++
		ls.DriftFixed++
		if dryRun {
			return nil
		}
		row.ClearDrift()
	default:
		if dryRun {
			return nil
		}
	}

	row.LastRemoteSeen = &now
	if err := e.db.Save(row).Error; err != nil {
		return dbErr(err)
	}
	return nil
}

func anyLocked(rows []models.InventoryItem, locked map[string]struct{}) bool {
	for _, row := range rows {
		if _, held := locked[row.SKU]; held {
			return true
		}
	}
	return false
}

// ListRuns returns recent runs, optionally filtered by store.
func ListRuns(db *gorm.DB, storeKey string, limit int) ([]models.ReconciliationRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := db.Order("started_at DESC").Limit(limit)
	if storeKey != "" {
		q = q.Where("store_key = ?", storeKey)
	}
	var runs []models.ReconciliationRun
	if err := q.Find(&runs).Error; err != nil {
		return nil, dbErr(err)
	}
	return runs, nil
}
