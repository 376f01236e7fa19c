// Package push implements the outbound sync path: local inventory rows are
// aggregated into one absolute quantity per remote location and set on the
// marketplace idempotently. The push path owns item status fields only; it
// never rewrites quantities.
package push
