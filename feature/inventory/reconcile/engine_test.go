package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"stocksync/core/shopify"
	"stocksync/feature/inventory/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeResolver struct {
	access map[string]*models.StoreAccess
	errs   map[string]error
}

func (f *fakeResolver) Resolve(storeKey string) (*models.StoreAccess, error) {
	if err, ok := f.errs[storeKey]; ok {
		return nil, err
	}
	if access, ok := f.access[storeKey]; ok {
		return access, nil
	}
	return nil, &shopify.CredentialsError{StoreKey: storeKey, Reason: "store not registered"}
}

type fakeLocker struct {
	locked map[string]struct{}
}

func (f *fakeLocker) LockedSKUs(storeKey string) (map[string]struct{}, error) {
	if f.locked == nil {
		return map[string]struct{}{}, nil
	}
	return f.locked, nil
}

type fakeRemote struct {
	facts     []shopify.LevelFact
	locations []shopify.Location

	bulkRefused bool
	bulkTimeout bool
	pollErr     error

	pageCalls   int
	targetCalls [][]int64
}

func (f *fakeRemote) ListLocations(ctx context.Context) ([]shopify.Location, error) {
	if f.locations == nil {
		return []shopify.Location{{ID: 11, Name: "Main", Active: true}}, nil
	}
	return f.locations, nil
}

func (f *fakeRemote) ListInventoryLevels(ctx context.Context, locationIDs []int64, pageInfo string) ([]shopify.LevelFact, string, error) {
	f.pageCalls++
	return f.facts, "", nil
}

func (f *fakeRemote) GetInventoryLevels(ctx context.Context, inventoryItemIDs []int64) ([]shopify.LevelFact, error) {
	f.targetCalls = append(f.targetCalls, inventoryItemIDs)
	wanted := map[int64]bool{}
	for _, id := range inventoryItemIDs {
		wanted[id] = true
	}
	var out []shopify.LevelFact
	for _, fact := range f.facts {
		if wanted[fact.InventoryItemID] {
			out = append(out, fact)
		}
	}
	return out, nil
}

func (f *fakeRemote) StartBulkExport(ctx context.Context) (string, error) {
	if f.bulkRefused {
		return "", nil
	}
	return "gid://shopify/BulkOperation/1", nil
}

func (f *fakeRemote) PollBulkExport(ctx context.Context, progress func(op shopify.BulkOperation)) (*shopify.BulkOperation, error) {
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	if f.bulkTimeout {
		return nil, nil
	}
	op := &shopify.BulkOperation{ID: "gid://shopify/BulkOperation/1", Status: "COMPLETED", ObjectCount: int64(len(f.facts))}
	if len(f.facts) > 0 {
		op.URL = "http://bulk-result"
	}
	return op, nil
}

func (f *fakeRemote) DownloadBulkResult(ctx context.Context, resultURL string) ([]byte, error) {
	var sb strings.Builder
	for _, fact := range f.facts {
		fmt.Fprintf(&sb,
			`{"id":"gid://shopify/InventoryLevel/1","location":{"id":"gid://shopify/Location/%d"},"quantities":[{"name":"available","quantity":%d}],"__parentId":"gid://shopify/InventoryItem/%d"}`+"\n",
			fact.LocationID, fact.Available, fact.InventoryItemID)
	}
	return []byte(sb.String()), nil
}

type fakeArchiver struct {
	calls int
	key   string
}

func (f *fakeArchiver) ArchiveBulkExport(ctx context.Context, storeKey, runKey string, data []byte) error {
	f.calls++
	f.key = storeKey
	return nil
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))
	return db
}

func storeAccess(storeKey, truthMode string) *models.StoreAccess {
	return &models.StoreAccess{
		StoreKey:    storeKey,
		Credentials: shopify.Credentials{StoreKey: storeKey, Domain: storeKey + ".myshopify.com", AccessToken: "tok"},
		TruthMode:   truthMode,
	}
}

func testEngine(t *testing.T, db *gorm.DB, remote *fakeRemote, truthMode string) (*Engine, *fakeLocker) {
	t.Helper()
	locker := &fakeLocker{}
	e := NewEngine(db,
		&fakeResolver{access: map[string]*models.StoreAccess{"store-a": storeAccess("store-a", truthMode)}},
		locker,
		func(creds shopify.Credentials) Remote { return remote },
		nil,
		Config{MaxItems: 10000, MirrorBatchSize: 100},
		nil)
	return e, locker
}

func seedItem(t *testing.T, db *gorm.DB, item models.InventoryItem) models.InventoryItem {
	t.Helper()
	if item.StoreKey == "" {
		item.StoreKey = "store-a"
	}
	if item.SyncStatus == "" {
		item.SyncStatus = models.SyncStatusSynced
	}
	if item.ReleasedAt == nil {
		ts := time.Now().Add(-time.Hour)
		item.ReleasedAt = &ts
	}
	require.NoError(t, db.Create(&item).Error)
	return item
}

func remoteIDs(item, location int64) (*int64, *int64) {
	return &item, &location
}

func TestRunRemoteAuthoritative(t *testing.T) {
	// Remote says sold out, local believes 4: remote wins, sold gets stamped.
	db := testDB(t)
	remote := &fakeRemote{facts: []shopify.LevelFact{{InventoryItemID: 42, LocationID: 11, Available: 0}}}
	e, _ := testEngine(t, db, remote, models.TruthModeShopify)

	itemID, locID := remoteIDs(42, 11)
	item := seedItem(t, db, models.InventoryItem{SKU: "ABC", Quantity: 4, RemoteItemID: itemID, RemoteLocationID: locID})

	res, err := e.Run(context.Background(), Request{Mode: ModeFull, StoreKey: "store-a"})
	require.NoError(t, err)
	require.True(t, res.Success)

	sr := res.Results["store-a"]
	require.NotNil(t, sr)
	assert.True(t, sr.Success)
	assert.Equal(t, FetchMethodBulk, sr.FetchMethod)
	assert.Equal(t, 1, sr.Stats.ItemsChecked)
	assert.Equal(t, 1, sr.Stats.DriftFixed)
	assert.Equal(t, 1, sr.Stats.LocationsProcessed)

	var reloaded models.InventoryItem
	require.NoError(t, db.First(&reloaded, item.ID).Error)
	assert.Equal(t, 0, reloaded.Quantity)
	require.NotNil(t, reloaded.SoldAt)
	assert.Equal(t, "shopify", reloaded.SoldChannel)
	assert.False(t, reloaded.DriftDetected)
	assert.NotNil(t, reloaded.LastRemoteSeen)

	var run models.ReconciliationRun
	require.NoError(t, db.Where("run_key = ?", sr.RunID).First(&run).Error)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 1, run.SoldMarked)
	assert.Equal(t, 1, run.DriftFixed)
	assert.NotNil(t, run.FinishedAt)
}

func TestRunDatabaseAuthoritative(t *testing.T) {
	// Same mismatch, but the database wins: quantity untouched, drift flagged.
	db := testDB(t)
	remote := &fakeRemote{facts: []shopify.LevelFact{{InventoryItemID: 42, LocationID: 11, Available: 0}}}
	e, _ := testEngine(t, db, remote, models.TruthModeDatabase)

	itemID, locID := remoteIDs(42, 11)
	item := seedItem(t, db, models.InventoryItem{SKU: "ABC", Quantity: 4, RemoteItemID: itemID, RemoteLocationID: locID})

	res, err := e.Run(context.Background(), Request{Mode: ModeFull, StoreKey: "store-a"})
	require.NoError(t, err)

	sr := res.Results["store-a"]
	assert.Equal(t, 1, sr.Stats.DriftDetected)
	assert.Zero(t, sr.Stats.DriftFixed)

	var reloaded models.InventoryItem
	require.NoError(t, db.First(&reloaded, item.ID).Error)
	assert.Equal(t, 4, reloaded.Quantity)
	assert.True(t, reloaded.DriftDetected)
	assert.Nil(t, reloaded.SoldAt)

	var detail models.DriftDetail
	require.NoError(t, json.Unmarshal(reloaded.DriftDetailJSON, &detail))
	assert.Equal(t, 4, detail.Expected)
	assert.Equal(t, 0, detail.Actual)
	assert.Equal(t, int64(11), detail.Location)
}

func TestRunClearsStaleDriftFlag(t *testing.T) {
	db := testDB(t)
	remote := &fakeRemote{facts: []shopify.LevelFact{{InventoryItemID: 42, LocationID: 11, Available: 4}}}
	e, _ := testEngine(t, db, remote, models.TruthModeDatabase)

	itemID, locID := remoteIDs(42, 11)
	item := seedItem(t, db, models.InventoryItem{SKU: "ABC", Quantity: 4, RemoteItemID: itemID, RemoteLocationID: locID})
	require.NoError(t, db.Model(&models.InventoryItem{}).Where("id = ?", item.ID).
		Updates(map[string]any{"drift_detected": true, "drift_detail_json": []byte(`{"expected":4,"actual":0}`)}).Error)

	res, err := e.Run(context.Background(), Request{Mode: ModeFull, StoreKey: "store-a"})
	require.NoError(t, err)

	sr := res.Results["store-a"]
	assert.Equal(t, 1, sr.Stats.DriftFixed)
	assert.Zero(t, sr.Stats.DriftDetected)

	var reloaded models.InventoryItem
	require.NoError(t, db.First(&reloaded, item.ID).Error)
	assert.False(t, reloaded.DriftDetected)
	assert.Empty(t, reloaded.DriftDetailJSON)
}

func TestRunBulkRefusedFallsBackToPaginated(t *testing.T) {
	db := testDB(t)
	remote := &fakeRemote{
		bulkRefused: true,
		facts: []shopify.LevelFact{
			{InventoryItemID: 42, LocationID: 11, Available: 1},
			{InventoryItemID: 43, LocationID: 11, Available: 2},
		},
	}
	e, _ := testEngine(t, db, remote, models.TruthModeDatabase)

	res, err := e.Run(context.Background(), Request{Mode: ModeFull, StoreKey: "store-a", MaxItems: 1})
	require.NoError(t, err)

	sr := res.Results["store-a"]
	assert.True(t, sr.Success)
	assert.Equal(t, FetchMethodPaginated, sr.FetchMethod)
	// Bounded by max_items.
	assert.Equal(t, 1, sr.Stats.ItemsChecked)
	assert.Equal(t, 1, remote.pageCalls)

	var run models.ReconciliationRun
	require.NoError(t, db.Where("run_key = ?", sr.RunID).First(&run).Error)
	assert.Equal(t, FetchMethodPaginated, run.FetchMethod)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
}

func TestRunBulkTimeoutFallsBackToPaginated(t *testing.T) {
	db := testDB(t)
	remote := &fakeRemote{bulkTimeout: true}
	e, _ := testEngine(t, db, remote, models.TruthModeDatabase)

	res, err := e.Run(context.Background(), Request{Mode: ModeFull, StoreKey: "store-a"})
	require.NoError(t, err)
	assert.Equal(t, FetchMethodPaginated, res.Results["store-a"].FetchMethod)
}

func TestRunBulkHardFailure(t *testing.T) {
	db := testDB(t)
	remote := &fakeRemote{pollErr: errors.New("bulk operation gid://1 ended with status FAILED")}
	e, _ := testEngine(t, db, remote, models.TruthModeDatabase)

	res, err := e.Run(context.Background(), Request{Mode: ModeFull, StoreKey: "store-a"})
	require.NoError(t, err)

	sr := res.Results["store-a"]
	assert.False(t, sr.Success)
	assert.Equal(t, ErrCodeBulkOpFailed, sr.ErrorCode)

	var run models.ReconciliationRun
	require.NoError(t, db.Where("run_key = ?", sr.RunID).First(&run).Error)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, ErrCodeBulkOpFailed, run.ErrorCode)
}

func TestRunEmptyStoreCompletes(t *testing.T) {
	// Zero remote levels is a boring success, not a failure.
	db := testDB(t)
	remote := &fakeRemote{}
	e, _ := testEngine(t, db, remote, models.TruthModeDatabase)

	res, err := e.Run(context.Background(), Request{Mode: ModeFull, StoreKey: "store-a"})
	require.NoError(t, err)

	sr := res.Results["store-a"]
	assert.True(t, sr.Success)
	assert.Equal(t, StoreStats{}, sr.Stats)

	var run models.ReconciliationRun
	require.NoError(t, db.Where("run_key = ?", sr.RunID).First(&run).Error)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
}

func TestRunSkipsLockedSKUs(t *testing.T) {
	db := testDB(t)
	remote := &fakeRemote{facts: []shopify.LevelFact{{InventoryItemID: 42, LocationID: 11, Available: 0}}}
	e, locker := testEngine(t, db, remote, models.TruthModeShopify)
	locker.locked = map[string]struct{}{"ABC": {}}

	itemID, locID := remoteIDs(42, 11)
	item := seedItem(t, db, models.InventoryItem{SKU: "ABC", Quantity: 4, RemoteItemID: itemID, RemoteLocationID: locID})

	res, err := e.Run(context.Background(), Request{Mode: ModeFull, StoreKey: "store-a"})
	require.NoError(t, err)

	sr := res.Results["store-a"]
	assert.Equal(t, 1, sr.Stats.SkippedLocked)
	assert.Zero(t, sr.Stats.DriftFixed)

	// The row is untouched.
	var reloaded models.InventoryItem
	require.NoError(t, db.First(&reloaded, item.ID).Error)
	assert.Equal(t, 4, reloaded.Quantity)
	assert.Nil(t, reloaded.SoldAt)
	assert.Nil(t, reloaded.LastRemoteSeen)

	// The mirror is still written for the skipped fact.
	var mirrors []models.InventoryLevelMirror
	require.NoError(t, db.Find(&mirrors).Error)
	require.Len(t, mirrors, 1)
	assert.Equal(t, 0, mirrors[0].Available)
}

func TestRunDryRunNeverWrites(t *testing.T) {
	db := testDB(t)
	remote := &fakeRemote{facts: []shopify.LevelFact{{InventoryItemID: 42, LocationID: 11, Available: 0}}}
	e, _ := testEngine(t, db, remote, models.TruthModeShopify)

	itemID, locID := remoteIDs(42, 11)
	item := seedItem(t, db, models.InventoryItem{SKU: "ABC", Quantity: 4, RemoteItemID: itemID, RemoteLocationID: locID})

	res, err := e.Run(context.Background(), Request{Mode: ModeFull, StoreKey: "store-a", DryRun: true})
	require.NoError(t, err)

	sr := res.Results["store-a"]
	assert.True(t, sr.Success)
	// Counters still computed.
	assert.Equal(t, 1, sr.Stats.DriftFixed)

	var reloaded models.InventoryItem
	require.NoError(t, db.First(&reloaded, item.ID).Error)
	assert.Equal(t, 4, reloaded.Quantity)
	assert.Nil(t, reloaded.SoldAt)
	assert.Nil(t, reloaded.LastRemoteSeen)

	var mirrorCount, statCount int64
	require.NoError(t, db.Model(&models.InventoryLevelMirror{}).Count(&mirrorCount).Error)
	require.NoError(t, db.Model(&models.ReconciliationLocationStat{}).Count(&statCount).Error)
	assert.Zero(t, mirrorCount)
	assert.Zero(t, statCount)

	var run models.ReconciliationRun
	require.NoError(t, db.Where("run_key = ?", sr.RunID).First(&run).Error)
	assert.Equal(t, models.RunStatusDryRunCompleted, run.Status)
}

func TestRunDriftOnlyTargetsFlaggedItems(t *testing.T) {
	db := testDB(t)
	remote := &fakeRemote{facts: []shopify.LevelFact{
		{InventoryItemID: 42, LocationID: 11, Available: 4},
		{InventoryItemID: 43, LocationID: 11, Available: 9},
	}}
	e, _ := testEngine(t, db, remote, models.TruthModeDatabase)

	driftedID, locID := remoteIDs(42, 11)
	drifted := seedItem(t, db, models.InventoryItem{SKU: "ABC", Quantity: 4, RemoteItemID: driftedID, RemoteLocationID: locID})
	require.NoError(t, db.Model(&models.InventoryItem{}).Where("id = ?", drifted.ID).
		Update("drift_detected", true).Error)
	cleanID, _ := remoteIDs(43, 11)
	seedItem(t, db, models.InventoryItem{SKU: "DEF", Quantity: 9, RemoteItemID: cleanID, RemoteLocationID: locID})

	res, err := e.Run(context.Background(), Request{Mode: ModeDriftOnly, StoreKey: "store-a"})
	require.NoError(t, err)

	sr := res.Results["store-a"]
	assert.Equal(t, FetchMethodTargeted, sr.FetchMethod)
	require.Len(t, remote.targetCalls, 1)
	assert.Equal(t, []int64{42}, remote.targetCalls[0])
	// Quantities now match, so the stale flag clears.
	assert.Equal(t, 1, sr.Stats.DriftFixed)
}

func TestRunMissingOnlyTargetsNeverSeenItems(t *testing.T) {
	db := testDB(t)
	remote := &fakeRemote{facts: []shopify.LevelFact{{InventoryItemID: 42, LocationID: 11, Available: 4}}}
	e, _ := testEngine(t, db, remote, models.TruthModeDatabase)

	neverSeenID, locID := remoteIDs(42, 11)
	seedItem(t, db, models.InventoryItem{SKU: "ABC", Quantity: 4, RemoteItemID: neverSeenID, RemoteLocationID: locID})
	seen := time.Now().Add(-time.Hour)
	seenID, _ := remoteIDs(43, 11)
	seedItem(t, db, models.InventoryItem{SKU: "DEF", Quantity: 1, RemoteItemID: seenID, RemoteLocationID: locID, LastRemoteSeen: &seen})

	res, err := e.Run(context.Background(), Request{Mode: ModeMissingOnly, StoreKey: "store-a"})
	require.NoError(t, err)

	require.Len(t, remote.targetCalls, 1)
	assert.Equal(t, []int64{42}, remote.targetCalls[0])
	assert.True(t, res.Results["store-a"].Success)
}

func TestRunIsolatesStoreFailures(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.Create(&models.StoreConnection{StoreKey: "store-a", Domain: "a.myshopify.com", AccessToken: "tok", Connected: true}).Error)
	require.NoError(t, db.Create(&models.StoreConnection{StoreKey: "store-b", Domain: "b.myshopify.com", AccessToken: "tok", Connected: true}).Error)

	remote := &fakeRemote{}
	locker := &fakeLocker{}
	e := NewEngine(db,
		&fakeResolver{
			access: map[string]*models.StoreAccess{"store-b": storeAccess("store-b", models.TruthModeDatabase)},
			errs:   map[string]error{"store-a": &shopify.CredentialsError{StoreKey: "store-a", Reason: "token revoked"}},
		},
		locker,
		func(creds shopify.Credentials) Remote { return remote },
		nil,
		Config{MaxItems: 10000, MirrorBatchSize: 100},
		nil)

	res, err := e.Run(context.Background(), Request{Mode: ModeFull})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, 2, res.StoresProcessed)
	assert.False(t, res.Results["store-a"].Success)
	assert.Equal(t, ErrCodeCredentialsMissing, res.Results["store-a"].ErrorCode)
	assert.True(t, res.Results["store-b"].Success)
}

func TestRunArchivesBulkPayload(t *testing.T) {
	db := testDB(t)
	remote := &fakeRemote{facts: []shopify.LevelFact{{InventoryItemID: 42, LocationID: 11, Available: 4}}}
	archiver := &fakeArchiver{}
	locker := &fakeLocker{}
	e := NewEngine(db,
		&fakeResolver{access: map[string]*models.StoreAccess{"store-a": storeAccess("store-a", models.TruthModeDatabase)}},
		locker,
		func(creds shopify.Credentials) Remote { return remote },
		archiver,
		Config{MaxItems: 10000, MirrorBatchSize: 100},
		nil)

	_, err := e.Run(context.Background(), Request{Mode: ModeFull, StoreKey: "store-a"})
	require.NoError(t, err)
	assert.Equal(t, 1, archiver.calls)
	assert.Equal(t, "store-a", archiver.key)

	// Dry runs never archive.
	archiver.calls = 0
	_, err = e.Run(context.Background(), Request{Mode: ModeFull, StoreKey: "store-a", DryRun: true})
	require.NoError(t, err)
	assert.Zero(t, archiver.calls)
}

func TestRunPersistsLocationStats(t *testing.T) {
	db := testDB(t)
	remote := &fakeRemote{facts: []shopify.LevelFact{
		{InventoryItemID: 42, LocationID: 11, Available: 0},
		{InventoryItemID: 43, LocationID: 12, Available: 2},
	}}
	e, _ := testEngine(t, db, remote, models.TruthModeDatabase)

	aID, aLoc := remoteIDs(42, 11)
	seedItem(t, db, models.InventoryItem{SKU: "ABC", Quantity: 4, RemoteItemID: aID, RemoteLocationID: aLoc})
	bID, bLoc := remoteIDs(43, 12)
	seedItem(t, db, models.InventoryItem{SKU: "DEF", Quantity: 2, RemoteItemID: bID, RemoteLocationID: bLoc})

	res, err := e.Run(context.Background(), Request{Mode: ModeFull, StoreKey: "store-a"})
	require.NoError(t, err)

	sr := res.Results["store-a"]
	assert.Equal(t, 2, sr.Stats.LocationsProcessed)

	var stats []models.ReconciliationLocationStat
	require.NoError(t, db.Where("run_key = ?", sr.RunID).Order("location_id").Find(&stats).Error)
	require.Len(t, stats, 2)
	assert.Equal(t, int64(11), stats[0].LocationID)
	assert.Equal(t, 1, stats[0].DriftDetected)
	assert.Equal(t, int64(12), stats[1].LocationID)
	assert.Zero(t, stats[1].DriftDetected)
}

func TestReapStaleRuns(t *testing.T) {
	db := testDB(t)
	e, _ := testEngine(t, db, &fakeRemote{}, models.TruthModeDatabase)

	stale := models.ReconciliationRun{
		RunKey:    "stale-run",
		StoreKey:  "store-a",
		Mode:      ModeFull,
		Status:    models.RunStatusRunning,
		StartedAt: time.Now().Add(-2 * time.Hour),
	}
	fresh := models.ReconciliationRun{
		RunKey:    "fresh-run",
		StoreKey:  "store-a",
		Mode:      ModeFull,
		Status:    models.RunStatusRunning,
		StartedAt: time.Now(),
	}
	require.NoError(t, db.Create(&stale).Error)
	require.NoError(t, db.Create(&fresh).Error)

	reaped, err := e.ReapStaleRuns()
	require.NoError(t, err)
	assert.Equal(t, int64(1), reaped)

	var reloaded models.ReconciliationRun
	require.NoError(t, db.Where("run_key = ?", "stale-run").First(&reloaded).Error)
	assert.Equal(t, models.RunStatusFailed, reloaded.Status)
	assert.Equal(t, ErrCodeUnknown, reloaded.ErrorCode)
	assert.NotNil(t, reloaded.FinishedAt)

	var freshReloaded models.ReconciliationRun
	require.NoError(t, db.Where("run_key = ?", "fresh-run").First(&freshReloaded).Error)
	assert.Equal(t, models.RunStatusRunning, freshReloaded.Status)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrCodeCredentialsMissing, Classify(&shopify.CredentialsError{StoreKey: "s", Reason: "r"}))
	assert.Equal(t, ErrCodeBulkOpFailed, Classify(&BulkError{Err: errors.New("x")}))
	assert.Equal(t, ErrCodeRateLimited, Classify(&shopify.RateLimitedError{}))
	assert.Equal(t, ErrCodeDatabase, Classify(dbErr(errors.New("x"))))
	assert.Equal(t, ErrCodeUnknown, Classify(errors.New("x")))
}
