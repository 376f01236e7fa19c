package reconcile

import "time"

// Config holds reconciliation engine configuration.
type Config struct {
	// MaxItems caps the paginated fallback fetch so a degenerate store cannot
	// run the job forever.
	MaxItems int `mapstructure:"max_items" default:"10000"`
	// RunMaxAgeMinutes bounds how long a run may sit in a running status
	// before the reaper marks it failed.
	RunMaxAgeMinutes int `mapstructure:"run_max_age_minutes" default:"60"`
	// MirrorBatchSize is the batch size for mirror upserts.
	MirrorBatchSize int `mapstructure:"mirror_batch_size" default:"100"`
}

// RunMaxAge returns the stale-run threshold as a duration.
func (c Config) RunMaxAge() time.Duration {
	if c.RunMaxAgeMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(c.RunMaxAgeMinutes) * time.Minute
}
