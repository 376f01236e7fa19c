// Package shopify provides the Admin API client used by the inventory
// feature. It covers the REST endpoints for locations and inventory levels,
// the GraphQL endpoints for SKU lookup and bulk exports, and the retry policy
// shared by both surfaces.
//
// Each client is bound to one store's credentials and owns its own Retrier,
// so backoff state never crosses store boundaries.
package shopify
