package shopify

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Credentials is the typed result of store credential resolution: the remote
// shop domain plus the Admin API access token.
type Credentials struct {
	StoreKey    string
	Domain      string
	AccessToken string
}

// CredentialsError is the structured failure returned when a store's
// credentials cannot be resolved. It is terminal and never retried.
type CredentialsError struct {
	StoreKey string
	Reason   string
}

func (e *CredentialsError) Error() string {
	return fmt.Sprintf("credentials missing for store %s: %s", e.StoreKey, e.Reason)
}

// APIError is a non-2xx marketplace response. 4xx statuses other than 429 are
// validation-type failures and are never retried.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("shopify api error %d: %s", e.Status, strings.TrimSpace(e.Body))
}

// Terminal reports whether the error must not be retried.
func (e *APIError) Terminal() bool {
	return e.Status >= 400 && e.Status < 500 && e.Status != 429
}

// RateLimitedError is returned when retries were exhausted on 429 responses.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited by marketplace (last Retry-After %s)", e.RetryAfter)
}

// Location is a remote stock location.
type Location struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// LevelFact is one observed remote inventory fact: the available quantity of
// an inventory item at a location.
type LevelFact struct {
	InventoryItemID int64 `json:"inventory_item_id"`
	LocationID      int64 `json:"location_id"`
	Available       int   `json:"available"`
}

// BulkOperation describes the state of an asynchronous bulk export job.
type BulkOperation struct {
	ID          string
	Status      string
	ObjectCount int64
	URL         string
}

// ParseGID extracts the numeric identifier from a GraphQL global id such as
// "gid://shopify/InventoryItem/123". Plain numeric strings are accepted too,
// so callers can pass REST ids and gids interchangeably.
func ParseGID(gid string) (int64, error) {
	gid = strings.TrimSpace(gid)
	if gid == "" {
		return 0, fmt.Errorf("empty gid")
	}
	// Query-string suffixes appear on some level gids.
	if i := strings.IndexByte(gid, '?'); i >= 0 {
		gid = gid[:i]
	}
	if i := strings.LastIndexByte(gid, '/'); i >= 0 {
		gid = gid[i+1:]
	}
	id, err := strconv.ParseInt(gid, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed gid %q: %w", gid, err)
	}
	return id, nil
}
