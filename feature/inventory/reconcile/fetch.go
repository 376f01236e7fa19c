package reconcile

import (
	"context"

	"stocksync/core/shopify"

	"go.uber.org/zap"
)

// Fetch methods recorded on the run.
const (
	FetchMethodBulk      = "bulk_operation"
	FetchMethodPaginated = "paginated_rest"
	FetchMethodTargeted  = "targeted_batch"
)

// Remote is the slice of the marketplace client the reconciliation path
// needs.
type Remote interface {
	ListLocations(ctx context.Context) ([]shopify.Location, error)
	ListInventoryLevels(ctx context.Context, locationIDs []int64, pageInfo string) ([]shopify.LevelFact, string, error)
	GetInventoryLevels(ctx context.Context, inventoryItemIDs []int64) ([]shopify.LevelFact, error)
	StartBulkExport(ctx context.Context) (string, error)
	PollBulkExport(ctx context.Context, progress func(op shopify.BulkOperation)) (*shopify.BulkOperation, error)
	DownloadBulkResult(ctx context.Context, resultURL string) ([]byte, error)
}

// RemoteDialer builds a Remote for the given credentials.
type RemoteDialer func(creds shopify.Credentials) Remote

// FetchResult carries one batch of remote level facts plus how they were
// obtained. Raw holds the bulk JSONL payload when the bulk path was used, for
// archiving.
type FetchResult struct {
	Facts  []shopify.LevelFact
	Method string
	Raw    []byte
}

// Fetcher selects between the three fetch tactics. Bulk refusals and
// timeouts degrade to the paginated walk; only an export that actively fails
// is a hard error.
type Fetcher struct {
	remote   Remote
	maxItems int
	logger   *zap.Logger
}

// NewFetcher creates a fetcher bounded by maxItems on the paginated path.
func NewFetcher(remote Remote, maxItems int, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{remote: remote, maxItems: maxItems, logger: logger}
}

// FetchFull retrieves the complete remote level set: bulk export first,
// paginated fallback when the export is refused or times out.
func (f *Fetcher) FetchFull(ctx context.Context) (*FetchResult, error) {
	operationID, err := f.remote.StartBulkExport(ctx)
	if err != nil {
		return nil, &BulkError{Err: err}
	}
	if operationID == "" {
		f.logger.Info("bulk export refused, falling back to paginated fetch")
		return f.FetchPaginated(ctx)
	}

	op, err := f.remote.PollBulkExport(ctx, func(op shopify.BulkOperation) {
		f.logger.Debug("bulk export in progress",
			zap.String("status", op.Status),
			zap.Int64("objects", op.ObjectCount))
	})
	if err != nil {
		return nil, &BulkError{Err: err}
	}
	if op == nil {
		f.logger.Warn("bulk export timed out, falling back to paginated fetch")
		return f.FetchPaginated(ctx)
	}

	// A completed export with no result URL means the dataset was empty.
	if op.URL == "" {
		return &FetchResult{Method: FetchMethodBulk}, nil
	}

	data, err := f.remote.DownloadBulkResult(ctx, op.URL)
	if err != nil {
		return nil, &BulkError{Err: err}
	}
	facts, err := shopify.ParseBulkLevels(data)
	if err != nil {
		return nil, &BulkError{Err: err}
	}
	return &FetchResult{Facts: facts, Method: FetchMethodBulk, Raw: data}, nil
}

// FetchPaginated walks the level listing page by page, bounded by the
// configured maximum item count.
func (f *Fetcher) FetchPaginated(ctx context.Context) (*FetchResult, error) {
	locations, err := f.remote.ListLocations(ctx)
	if err != nil {
		return nil, err
	}
	locationIDs := make([]int64, 0, len(locations))
	for _, loc := range locations {
		locationIDs = append(locationIDs, loc.ID)
	}

	var facts []shopify.LevelFact
	pageInfo := ""
	for {
		page, next, err := f.remote.ListInventoryLevels(ctx, locationIDs, pageInfo)
		if err != nil {
			return nil, err
		}
		facts = append(facts, page...)
		if len(facts) >= f.maxItems {
			facts = facts[:f.maxItems]
			f.logger.Warn("paginated fetch hit item cap", zap.Int("max_items", f.maxItems))
			break
		}
		if next == "" {
			break
		}
		pageInfo = next
	}
	return &FetchResult{Facts: facts, Method: FetchMethodPaginated}, nil
}

// FetchTargeted batch-fetches facts for an explicit list of inventory items.
func (f *Fetcher) FetchTargeted(ctx context.Context, inventoryItemIDs []int64) (*FetchResult, error) {
	if len(inventoryItemIDs) == 0 {
		return &FetchResult{Method: FetchMethodTargeted}, nil
	}
	facts, err := f.remote.GetInventoryLevels(ctx, inventoryItemIDs)
	if err != nil {
		return nil, err
	}
	return &FetchResult{Facts: facts, Method: FetchMethodTargeted}, nil
}
