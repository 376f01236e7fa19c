package reconcile

import (
	"errors"
	"fmt"

	"stocksync/core/shopify"
)

// Error codes recorded on failed runs.
const (
	ErrCodeCredentialsMissing = "CREDENTIALS_MISSING"
	ErrCodeBulkOpFailed       = "BULK_OP_FAILED"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeDatabase           = "DATABASE_ERROR"
	ErrCodeUnknown            = "UNKNOWN"
)

// errDatabase marks persistence failures for classification.
var errDatabase = errors.New("database error")

// dbErr wraps a storage failure so Classify can recognize it.
func dbErr(err error) error {
	return fmt.Errorf("%w: %v", errDatabase, err)
}

// BulkError is a hard bulk export failure, distinct from the refusals and
// timeouts that trigger the paginated fallback.
type BulkError struct {
	Err error
}

func (e *BulkError) Error() string {
	return fmt.Sprintf("bulk export failed: %v", e.Err)
}

func (e *BulkError) Unwrap() error { return e.Err }

// Classify maps an error to the run error taxonomy.
func Classify(err error) string {
	var credErr *shopify.CredentialsError
	if errors.As(err, &credErr) {
		return ErrCodeCredentialsMissing
	}
	var bulkErr *BulkError
	if errors.As(err, &bulkErr) {
		return ErrCodeBulkOpFailed
	}
	var rateErr *shopify.RateLimitedError
	if errors.As(err, &rateErr) {
		return ErrCodeRateLimited
	}
	if errors.Is(err, errDatabase) {
		return ErrCodeDatabase
	}
	return ErrCodeUnknown
}
