// Package inventory implements the marketplace inventory sync feature.
//
// It keeps local "quantity of SKU X at location Y" records consistent with
// the same facts on an external marketplace, across two directions of flow:
//
//  1. Push (outbound): aggregate local rows into one absolute quantity per
//     location and set it remotely (feature/inventory/push).
//  2. Reconciliation (inbound): fetch remote truth, compare, and resolve
//     drift under the store's truth policy (feature/inventory/reconcile).
//
// The two paths are kept from racing by TTL-based advisory locks on
// (store, SKU) pairs (core/locks). Credentials are resolved in exactly one
// place, the Resolver in this package.
//
// # Components
//
//   - Service: wires the resolver, lock manager and both engines.
//   - Handler: exposes HTTP endpoints for reconciliation, pushes, targeted
//     resyncs, and run/store listings.
//   - Loader: registers the feature with the application.
//
// # HTTP Endpoints
//
//   - POST /inventory/reconcile : trigger a reconciliation pass
//   - POST /inventory/push      : push one SKU's quantities
//   - POST /inventory/resync    : targeted single-SKU reconciliation
//   - GET  /inventory/runs      : recent reconciliation runs
//   - GET  /inventory/stores    : registered store connections
package inventory
