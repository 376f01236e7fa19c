package locks

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Lock is one advisory lease on a (store, SKU) pair. Expired rows are dead
// leases and are reclaimed lazily on the next acquire or explicitly by reap.
type Lock struct {
	ID         uint      `gorm:"primaryKey"`
	StoreKey   string    `gorm:"size:64;not null;uniqueIndex:idx_locks_store_sku,priority:1"`
	SKU        string    `gorm:"size:128;not null;uniqueIndex:idx_locks_store_sku,priority:2"`
	BatchToken string    `gorm:"size:36;not null;index"`
	ExpiresAt  time.Time `gorm:"not null;index"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TableName keeps the table name stable regardless of pluralization rules.
func (Lock) TableName() string { return "advisory_locks" }

// Grant reports the outcome of one acquire call. Denied SKUs are held by a
// live lease from another batch; callers skip them, they never wait.
type Grant struct {
	BatchToken string
	Granted    []string
	Denied     []string
}

// Config holds lock manager configuration.
type Config struct {
	// TTLSeconds is the lease lifetime. A holder that dies stops blocking
	// other batches once the lease expires.
	TTLSeconds int `mapstructure:"ttl_seconds" default:"120"`
}

// TTL returns the lease lifetime as a duration.
func (c Config) TTL() time.Duration {
	if c.TTLSeconds <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(c.TTLSeconds) * time.Second
}

// Manager grants TTL-bound advisory leases on (store, SKU) pairs, backed by a
// unique-indexed table so concurrent acquirers race through the database.
type Manager struct {
	db     *gorm.DB
	ttl    time.Duration
	logger *zap.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// NewManager creates a lock manager with the configured TTL.
func NewManager(db *gorm.DB, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		db:     db,
		ttl:    cfg.TTL(),
		logger: logger,
		now:    time.Now,
	}
}

// Acquire tries to lease every SKU in the batch for one store. Expired leases
// are reclaimed first, then each SKU is either granted under a fresh batch
// token or denied because a live lease from another batch holds it. Acquire
// never blocks on a held lock.
func (m *Manager) Acquire(storeKey string, skus []string) (*Grant, error) {
	if _, err := m.ReapExpired(storeKey); err != nil {
		return nil, err
	}

	grant := &Grant{BatchToken: uuid.New().String()}
	now := m.now()
	expires := now.Add(m.ttl)

	err := m.db.Transaction(func(tx *gorm.DB) error {
		var held []Lock
		if err := tx.Where("store_key = ? AND sku IN ? AND expires_at > ?", storeKey, skus, now).
			Find(&held).Error; err != nil {
			return err
		}
		heldSKUs := make(map[string]struct{}, len(held))
		for _, l := range held {
			heldSKUs[l.SKU] = struct{}{}
		}

		for _, sku := range skus {
			if _, taken := heldSKUs[sku]; taken {
				grant.Denied = append(grant.Denied, sku)
				continue
			}
			// Upsert handles expired rows left behind by dead holders; the
			// unique index resolves races between concurrent batches.
			row := Lock{
				StoreKey:   storeKey,
				SKU:        sku,
				BatchToken: grant.BatchToken,
				ExpiresAt:  expires,
			}
			res := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "store_key"}, {Name: "sku"}},
				Where:   clause.Where{Exprs: []clause.Expression{clause.Lte{Column: "expires_at", Value: now}}},
				DoUpdates: clause.Assignments(map[string]any{
					"batch_token": grant.BatchToken,
					"expires_at":  expires,
					"updated_at":  now,
				}),
			}).Create(&row)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				// Another batch won the race after our snapshot.
				grant.Denied = append(grant.Denied, sku)
				continue
			}
			grant.Granted = append(grant.Granted, sku)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("acquiring locks: %w", err)
	}

	m.logger.Debug("locks acquired",
		zap.String("store", storeKey),
		zap.String("batch_token", grant.BatchToken),
		zap.Int("granted", len(grant.Granted)),
		zap.Int("denied", len(grant.Denied)))
	return grant, nil
}

// Release drops every lease held under the batch token.
func (m *Manager) Release(batchToken string) error {
	if err := m.db.Where("batch_token = ?", batchToken).Delete(&Lock{}).Error; err != nil {
		return fmt.Errorf("releasing locks: %w", err)
	}
	return nil
}

// LockedSKUs returns the SKUs of a store currently held by a live lease.
func (m *Manager) LockedSKUs(storeKey string) (map[string]struct{}, error) {
	var rows []Lock
	if err := m.db.Where("store_key = ? AND expires_at > ?", storeKey, m.now()).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing locked skus: %w", err)
	}
	locked := make(map[string]struct{}, len(rows))
	for _, l := range rows {
		locked[l.SKU] = struct{}{}
	}
	return locked, nil
}

// IsLocked reports whether a single SKU is held by a live lease.
func (m *Manager) IsLocked(storeKey, sku string) (bool, error) {
	var count int64
	if err := m.db.Model(&Lock{}).
		Where("store_key = ? AND sku = ? AND expires_at > ?", storeKey, sku, m.now()).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("checking lock: %w", err)
	}
	return count > 0, nil
}

// ReapExpired deletes dead leases for one store and returns how many were
// removed.
func (m *Manager) ReapExpired(storeKey string) (int64, error) {
	res := m.db.Where("store_key = ? AND expires_at <= ?", storeKey, m.now()).Delete(&Lock{})
	if res.Error != nil {
		return 0, fmt.Errorf("reaping expired locks: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		m.logger.Debug("expired locks reaped",
			zap.String("store", storeKey),
			zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}
