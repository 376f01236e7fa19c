// Package reconcile implements the inbound sync path: remote inventory truth
// is fetched (bulk export, paginated walk or targeted batch), compared to
// local rows, and resolved under the store's truth policy. Every pass is
// recorded as a ReconciliationRun with per-location stats, and failures are
// classified into a small error taxonomy. Stores are processed sequentially
// and isolated from each other's failures.
package reconcile
