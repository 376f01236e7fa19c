package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Sync status values for inventory items.
const (
	SyncStatusPending   = "pending"
	SyncStatusValidated = "validated"
	SyncStatusSynced    = "synced"
	SyncStatusError     = "error"
)

// Run status values for reconciliation runs.
const (
	RunStatusRunning         = "running"
	RunStatusCompleted       = "completed"
	RunStatusFailed          = "failed"
	RunStatusDryRun          = "dry_run"
	RunStatusDryRunCompleted = "dry_run_completed"
)

// Truth mode values for store connections. The truth mode decides which side
// wins when local state and remote state disagree.
const (
	TruthModeShopify  = "shopify"
	TruthModeDatabase = "database"
)

// InventoryItem is one sellable unit tracked locally. Quantity is the local
// belief about available stock for the (store, sku, location_code) triple.
type InventoryItem struct {
	ID           uint   `gorm:"primaryKey"`
	StoreKey     string `gorm:"size:64;not null;index:idx_items_store_sku,priority:1"`
	SKU          string `gorm:"size:128;not null;index:idx_items_store_sku,priority:2"`
	Quantity     int    `gorm:"not null;default:0"`
	LocationCode string `gorm:"size:64"`

	// Remote identifiers are cached after first resolution; nil means not yet
	// resolved against the marketplace.
	RemoteItemID     *int64 `gorm:"index"`
	RemoteLocationID *int64

	// Drift bookkeeping, written by reconciliation in database-authoritative
	// mode.
	DriftDetected   bool `gorm:"not null;default:false"`
	DriftDetailJSON []byte
	LastRemoteSeen  *time.Time

	// Lifecycle. ReleasedAt marks the item live for sale; SoldAt is stamped
	// when reconciliation observes the remote side sold out.
	ReleasedAt  *time.Time
	SoldAt      *time.Time
	SoldChannel string `gorm:"size:32"`

	SyncStatus   string `gorm:"size:16;not null;default:pending"`
	SyncError    string `gorm:"type:text"`
	LastSyncedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (InventoryItem) TableName() string { return "inventory_items" }

// DriftDetail is the structured payload stored in DriftDetailJSON when a
// quantity mismatch is flagged instead of fixed.
type DriftDetail struct {
	Expected   int       `json:"expected"`
	Actual     int       `json:"actual"`
	Location   int64     `json:"location"`
	Detector   string    `json:"detector"`
	DetectedAt time.Time `json:"detected_at"`
}

// SetDriftDetail marks the item as drifted and records the evidence.
func (i *InventoryItem) SetDriftDetail(d DriftDetail) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encoding drift detail: %w", err)
	}
	i.DriftDetected = true
	i.DriftDetailJSON = data
	return nil
}

// ClearDrift resets the drift flag and its evidence.
func (i *InventoryItem) ClearDrift() {
	i.DriftDetected = false
	i.DriftDetailJSON = nil
}

// Active reports whether the item participates in sync: released, not soft
// deleted, and carrying stock.
func (i *InventoryItem) Active() bool {
	return i.ReleasedAt != nil && i.Quantity > 0
}

// InventoryLevelMirror is the local copy of one observed remote inventory
// fact. Mirrors are upserted on every reconciliation pass regardless of truth
// mode.
type InventoryLevelMirror struct {
	ID              uint   `gorm:"primaryKey"`
	StoreKey        string `gorm:"size:64;not null;uniqueIndex:idx_mirror_fact,priority:1"`
	InventoryItemID int64  `gorm:"not null;uniqueIndex:idx_mirror_fact,priority:2"`
	LocationID      int64  `gorm:"not null;uniqueIndex:idx_mirror_fact,priority:3"`
	Available       int    `gorm:"not null"`
	LastSeenAt      time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (InventoryLevelMirror) TableName() string { return "inventory_level_mirrors" }

// ReconciliationRun records one reconciliation pass over one store.
type ReconciliationRun struct {
	ID          uint   `gorm:"primaryKey"`
	RunKey      string `gorm:"size:36;not null;uniqueIndex"`
	StoreKey    string `gorm:"size:64;not null;index"`
	Mode        string `gorm:"size:16;not null"`
	TruthMode   string `gorm:"size:16;not null"`
	Status      string `gorm:"size:24;not null"`
	FetchMethod string `gorm:"size:24"`

	ItemsChecked       int `gorm:"not null;default:0"`
	DriftDetected      int `gorm:"not null;default:0"`
	DriftFixed         int `gorm:"not null;default:0"`
	MissingLocal       int `gorm:"not null;default:0"`
	SoldMarked         int `gorm:"not null;default:0"`
	SkippedLocked      int `gorm:"not null;default:0"`
	ErrorCount         int `gorm:"not null;default:0"`
	LocationsProcessed int `gorm:"not null;default:0"`

	ErrorCode    string `gorm:"size:32"`
	ErrorMessage string `gorm:"type:text"`
	MetadataJSON []byte

	StartedAt  time.Time
	FinishedAt *time.Time
	DurationMs int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ReconciliationRun) TableName() string { return "reconciliation_runs" }

// ReconciliationLocationStat breaks a run's counters down per remote location.
type ReconciliationLocationStat struct {
	ID            uint   `gorm:"primaryKey"`
	RunKey        string `gorm:"size:36;not null;index"`
	LocationID    int64  `gorm:"not null"`
	ItemsChecked  int    `gorm:"not null;default:0"`
	DriftDetected int    `gorm:"not null;default:0"`
	DriftFixed    int    `gorm:"not null;default:0"`
	ErrorCount    int    `gorm:"not null;default:0"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (ReconciliationLocationStat) TableName() string { return "reconciliation_location_stats" }

// StoreConnection holds the credentials and sync policy for one connected
// store.
type StoreConnection struct {
	ID          uint   `gorm:"primaryKey"`
	StoreKey    string `gorm:"size:64;not null;uniqueIndex"`
	Domain      string `gorm:"size:255;not null"`
	AccessToken string `gorm:"size:255"`
	Connected   bool   `gorm:"not null;default:false"`

	// TruthMode decides which side wins on mismatch; empty defaults to
	// database-authoritative.
	TruthMode string `gorm:"size:16"`
	// PrimaryLocationID is the fallback location when a local location code
	// cannot be matched by name.
	PrimaryLocationID *int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (StoreConnection) TableName() string { return "store_connections" }

// GetStoreConnection loads one store connection by key. A missing row returns
// gorm.ErrRecordNotFound untouched so callers can classify it.
func GetStoreConnection(db *gorm.DB, storeKey string) (*StoreConnection, error) {
	var conn StoreConnection
	if err := db.Where("store_key = ?", storeKey).First(&conn).Error; err != nil {
		return nil, err
	}
	return &conn, nil
}

// ListStoreConnections returns all store connections ordered by key.
func ListStoreConnections(db *gorm.DB) ([]StoreConnection, error) {
	var conns []StoreConnection
	if err := db.Order("store_key").Find(&conns).Error; err != nil {
		return nil, err
	}
	return conns, nil
}

// IsNotFound reports whether err is the record-not-found sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// AutoMigrate creates or updates every inventory table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&InventoryItem{},
		&InventoryLevelMirror{},
		&ReconciliationRun{},
		&ReconciliationLocationStat{},
		&StoreConnection{},
	)
}
