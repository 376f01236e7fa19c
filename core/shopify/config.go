package shopify

import "time"

// Config holds configuration for the marketplace client.
type Config struct {
	// APIVersion is the Admin API version used for REST and GraphQL paths.
	APIVersion string `mapstructure:"api_version" default:"2024-07"`
	// TimeoutSeconds is the per-request HTTP timeout.
	TimeoutSeconds int `mapstructure:"timeout_seconds" default:"30"`
	// MaxRetries bounds attempts for retryable failures (429, 5xx, transport).
	MaxRetries int `mapstructure:"max_retries" default:"4"`
	// RetryAfterCapSeconds caps how long a Retry-After hint is honored.
	RetryAfterCapSeconds int `mapstructure:"retry_after_cap_seconds" default:"30"`
	// BulkPollSeconds is the fixed interval between bulk operation polls.
	BulkPollSeconds int `mapstructure:"bulk_poll_seconds" default:"2"`
	// BulkTimeoutSeconds is the wall-clock budget for a bulk export to finish.
	BulkTimeoutSeconds int `mapstructure:"bulk_timeout_seconds" default:"120"`
	// PushDelayMs is the fixed delay between consecutive inventory set calls.
	// Static backpressure against marketplace rate limits, not adaptive.
	PushDelayMs int `mapstructure:"push_delay_ms" default:"500"`
	// PageSize is the page size for paginated level listings (REST max 250).
	PageSize int `mapstructure:"page_size" default:"250"`
}

// Timeout returns the per-request timeout as a duration.
func (c Config) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RetryAfterCap returns the Retry-After cap as a duration.
func (c Config) RetryAfterCap() time.Duration {
	if c.RetryAfterCapSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.RetryAfterCapSeconds) * time.Second
}

// BulkPollInterval returns the bulk poll interval as a duration.
func (c Config) BulkPollInterval() time.Duration {
	if c.BulkPollSeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.BulkPollSeconds) * time.Second
}

// BulkTimeout returns the bulk export wall-clock budget as a duration.
func (c Config) BulkTimeout() time.Duration {
	if c.BulkTimeoutSeconds <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(c.BulkTimeoutSeconds) * time.Second
}

// PushDelay returns the fixed inter-call delay for the push path.
func (c Config) PushDelay() time.Duration {
	if c.PushDelayMs < 0 {
		return 0
	}
	return time.Duration(c.PushDelayMs) * time.Millisecond
}
