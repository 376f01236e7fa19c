package shopify

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Client talks to one store's Admin API. It owns its own Retrier, so rate
// limit backoff never bleeds across stores.
type Client struct {
	creds   Credentials
	cfg     Config
	http    *http.Client
	retrier *Retrier
	logger  *zap.Logger

	// baseURL overrides the store domain, used by tests to point at a local
	// server.
	baseURL string
}

// NewClient creates a client bound to the given store credentials.
func NewClient(creds Credentials, cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		creds:   creds,
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout()},
		retrier: NewRetrier(cfg),
		logger:  logger.With(zap.String("store", creds.StoreKey)),
	}
}

// WithBaseURL points the client at an explicit base URL instead of the store
// domain. Intended for tests.
func (c *Client) WithBaseURL(base string) *Client {
	c.baseURL = strings.TrimRight(base, "/")
	return c
}

func (c *Client) apiURL(path string) string {
	if c.baseURL != "" {
		return fmt.Sprintf("%s/admin/api/%s/%s", c.baseURL, c.cfg.APIVersion, path)
	}
	return fmt.Sprintf("https://%s/admin/api/%s/%s", c.creds.Domain, c.cfg.APIVersion, path)
}

// do performs one authenticated request through the retry policy and returns
// the response body. Non-2xx statuses surface as *APIError.
func (c *Client) do(ctx context.Context, method, rawURL string, payload any) ([]byte, http.Header, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("encoding request body: %w", err)
		}
	}

	resp, err := c.retrier.Do(ctx, func(ctx context.Context) (*http.Response, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Shopify-Access-Token", c.creds.AccessToken)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return c.http.Do(req)
	})
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.Header, fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.Header, &APIError{Status: resp.StatusCode, Body: string(data)}
	}
	return data, resp.Header, nil
}

// ListLocations returns all stock locations for the store.
func (c *Client) ListLocations(ctx context.Context) ([]Location, error) {
	data, _, err := c.do(ctx, http.MethodGet, c.apiURL("locations.json"), nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Locations []Location `json:"locations"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding locations: %w", err)
	}
	return out.Locations, nil
}

// SetInventoryLevel sets the absolute available quantity of an inventory item
// at a location. Idempotent on the remote side.
func (c *Client) SetInventoryLevel(ctx context.Context, locationID, inventoryItemID int64, available int) error {
	payload := map[string]any{
		"location_id":       locationID,
		"inventory_item_id": inventoryItemID,
		"available":         available,
	}
	_, _, err := c.do(ctx, http.MethodPost, c.apiURL("inventory_levels/set.json"), payload)
	if err != nil {
		return err
	}
	c.logger.Debug("inventory level set",
		zap.Int64("location_id", locationID),
		zap.Int64("inventory_item_id", inventoryItemID),
		zap.Int("available", available))
	return nil
}

// ListInventoryLevels fetches one page of inventory levels for the given
// locations. The first call passes an empty pageInfo; subsequent calls pass
// the cursor returned by the previous one. An empty next cursor ends the walk.
// A 404 means the cursor ran past the end of the data and is treated as a
// clean end, not an error.
func (c *Client) ListInventoryLevels(ctx context.Context, locationIDs []int64, pageInfo string) ([]LevelFact, string, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprintf("%d", c.cfg.PageSize))
	if pageInfo != "" {
		// Cursor requests must not repeat filter params.
		q.Set("page_info", pageInfo)
	} else {
		q.Set("location_ids", joinIDs(locationIDs))
	}

	data, header, err := c.do(ctx, http.MethodGet, c.apiURL("inventory_levels.json")+"?"+q.Encode(), nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, "", nil
		}
		return nil, "", err
	}

	var out struct {
		InventoryLevels []LevelFact `json:"inventory_levels"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, "", fmt.Errorf("decoding inventory levels: %w", err)
	}
	return out.InventoryLevels, nextPageInfo(header.Get("Link")), nil
}

// GetInventoryLevels fetches current levels for a specific set of inventory
// items, chunked to stay inside the REST filter limit.
func (c *Client) GetInventoryLevels(ctx context.Context, inventoryItemIDs []int64) ([]LevelFact, error) {
	const chunkSize = 50

	var facts []LevelFact
	for start := 0; start < len(inventoryItemIDs); start += chunkSize {
		end := start + chunkSize
		if end > len(inventoryItemIDs) {
			end = len(inventoryItemIDs)
		}

		q := url.Values{}
		q.Set("inventory_item_ids", joinIDs(inventoryItemIDs[start:end]))
		q.Set("limit", fmt.Sprintf("%d", c.cfg.PageSize))

		data, _, err := c.do(ctx, http.MethodGet, c.apiURL("inventory_levels.json")+"?"+q.Encode(), nil)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
				continue
			}
			return nil, err
		}

		var out struct {
			InventoryLevels []LevelFact `json:"inventory_levels"`
		}
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("decoding inventory levels: %w", err)
		}
		facts = append(facts, out.InventoryLevels...)
	}
	return facts, nil
}

// graphql runs one GraphQL query and decodes data into out. Top-level GraphQL
// errors are returned as a plain error.
func (c *Client) graphql(ctx context.Context, query string, out any) error {
	data, _, err := c.do(ctx, http.MethodPost, c.apiURL("graphql.json"), map[string]string{"query": query})
	if err != nil {
		return err
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("decoding graphql envelope: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("graphql error: %s", envelope.Errors[0].Message)
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("decoding graphql data: %w", err)
		}
	}
	return nil
}

// FindInventoryItemBySKU resolves a SKU to its remote inventory item id.
// Returns 0 with a nil error when the SKU does not exist on the store.
func (c *Client) FindInventoryItemBySKU(ctx context.Context, sku string) (int64, error) {
	query := fmt.Sprintf(`{ productVariants(first: 1, query: %q) { edges { node { sku inventoryItem { id } } } } }`,
		"sku:"+sku)

	var out struct {
		ProductVariants struct {
			Edges []struct {
				Node struct {
					SKU           string `json:"sku"`
					InventoryItem struct {
						ID string `json:"id"`
					} `json:"inventoryItem"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"productVariants"`
	}
	if err := c.graphql(ctx, query, &out); err != nil {
		return 0, err
	}

	for _, edge := range out.ProductVariants.Edges {
		// The search query matches loosely; require an exact SKU.
		if edge.Node.SKU != sku {
			continue
		}
		return ParseGID(edge.Node.InventoryItem.ID)
	}
	return 0, nil
}

const bulkLevelsQuery = `{
  inventoryItems {
    edges {
      node {
        id
        sku
        inventoryLevels {
          edges {
            node {
              id
              location { id }
              quantities(names: ["available"]) { name quantity }
            }
          }
        }
      }
    }
  }
}`

// StartBulkExport submits an asynchronous bulk export of all inventory levels.
// Returns an empty id with a nil error when the store refuses to start the
// operation (typically because another bulk job is already running); callers
// fall back to paginated fetch in that case.
func (c *Client) StartBulkExport(ctx context.Context) (string, error) {
	mutation := fmt.Sprintf(`mutation { bulkOperationRunQuery(query: %q) { bulkOperation { id status } userErrors { field message } } }`,
		bulkLevelsQuery)

	var out struct {
		BulkOperationRunQuery struct {
			BulkOperation struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"bulkOperation"`
			UserErrors []struct {
				Message string `json:"message"`
			} `json:"userErrors"`
		} `json:"bulkOperationRunQuery"`
	}
	if err := c.graphql(ctx, mutation, &out); err != nil {
		return "", err
	}

	if len(out.BulkOperationRunQuery.UserErrors) > 0 {
		c.logger.Warn("bulk export refused",
			zap.String("reason", out.BulkOperationRunQuery.UserErrors[0].Message))
		return "", nil
	}
	return out.BulkOperationRunQuery.BulkOperation.ID, nil
}

// PollBulkExport polls the current bulk operation until it completes, fails,
// or the configured timeout elapses. A timeout returns a nil operation with a
// nil error; callers fall back to paginated fetch. FAILED and CANCELED states
// are hard errors.
func (c *Client) PollBulkExport(ctx context.Context, progress func(op BulkOperation)) (*BulkOperation, error) {
	deadline := time.Now().Add(c.cfg.BulkTimeout())

	for {
		var out struct {
			CurrentBulkOperation struct {
				ID          string `json:"id"`
				Status      string `json:"status"`
				ObjectCount string `json:"objectCount"`
				URL         string `json:"url"`
			} `json:"currentBulkOperation"`
		}
		if err := c.graphql(ctx, `{ currentBulkOperation { id status objectCount url } }`, &out); err != nil {
			return nil, err
		}

		op := BulkOperation{
			ID:     out.CurrentBulkOperation.ID,
			Status: out.CurrentBulkOperation.Status,
			URL:    out.CurrentBulkOperation.URL,
		}
		fmt.Sscanf(out.CurrentBulkOperation.ObjectCount, "%d", &op.ObjectCount)

		switch op.Status {
		case "COMPLETED":
			return &op, nil
		case "FAILED", "CANCELED":
			return nil, fmt.Errorf("bulk operation %s ended with status %s", op.ID, op.Status)
		}

		if progress != nil {
			progress(op)
		}
		if time.Now().After(deadline) {
			c.logger.Warn("bulk export timed out", zap.String("operation_id", op.ID))
			return nil, nil
		}
		if err := sleepCtx(ctx, c.cfg.BulkPollInterval()); err != nil {
			return nil, err
		}
	}
}

// DownloadBulkResult fetches the JSONL payload of a completed bulk operation.
// The URL is pre-signed, so no auth header is sent.
func (c *Client) DownloadBulkResult(ctx context.Context, resultURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	return io.ReadAll(resp.Body)
}

// ParseBulkLevels decodes the JSONL output of a bulk export into level facts.
// Child level lines carry a __parentId pointing at their inventory item.
func ParseBulkLevels(data []byte) ([]LevelFact, error) {
	type bulkLine struct {
		ID       string `json:"id"`
		Location *struct {
			ID string `json:"id"`
		} `json:"location"`
		Quantities []struct {
			Name     string `json:"name"`
			Quantity int    `json:"quantity"`
		} `json:"quantities"`
		ParentID string `json:"__parentId"`
	}

	var facts []LevelFact
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var row bulkLine
		if err := json.Unmarshal(line, &row); err != nil {
			return nil, fmt.Errorf("malformed bulk line: %w", err)
		}
		if row.ParentID == "" || row.Location == nil {
			// Parent item line, not a level.
			continue
		}

		itemID, err := ParseGID(row.ParentID)
		if err != nil {
			return nil, err
		}
		locationID, err := ParseGID(row.Location.ID)
		if err != nil {
			return nil, err
		}

		available := 0
		for _, q := range row.Quantities {
			if q.Name == "available" {
				available = q.Quantity
			}
		}
		facts = append(facts, LevelFact{
			InventoryItemID: itemID,
			LocationID:      locationID,
			Available:       available,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning bulk result: %w", err)
	}
	return facts, nil
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ",")
}

// nextPageInfo extracts the page_info cursor of the rel="next" link, if any.
func nextPageInfo(linkHeader string) string {
	for _, part := range strings.Split(linkHeader, ",") {
		if !strings.Contains(part, `rel="next"`) {
			continue
		}
		start := strings.IndexByte(part, '<')
		end := strings.IndexByte(part, '>')
		if start < 0 || end <= start {
			continue
		}
		u, err := url.Parse(part[start+1 : end])
		if err != nil {
			continue
		}
		return u.Query().Get("page_info")
	}
	return ""
}
