package reconcile

import (
	"time"

	"stocksync/feature/inventory/models"

	"go.uber.org/zap"
)

// ReapStaleRuns fails any run still marked running past the configured
// maximum age. A crash between run creation and finalization otherwise leaves
// the record in running forever.
func (e *Engine) ReapStaleRuns() (int64, error) {
	cutoff := time.Now().Add(-e.cfg.RunMaxAge())
	now := time.Now()

	res := e.db.Model(&models.ReconciliationRun{}).
		Where("status IN ? AND started_at < ?", []string{models.RunStatusRunning, models.RunStatusDryRun}, cutoff).
		Updates(map[string]any{
			"status":        models.RunStatusFailed,
			"error_code":    ErrCodeUnknown,
			"error_message": "run exceeded maximum age and was reaped",
			"finished_at":   now,
		})
	if res.Error != nil {
		return 0, dbErr(res.Error)
	}
	if res.RowsAffected > 0 {
		e.logger.Warn("stale reconciliation runs reaped", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}
