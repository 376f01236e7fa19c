// Package models defines the persistence layer of the inventory feature:
// tracked inventory items, mirrored remote levels, reconciliation run records
// with per-location stats, and store connections.
package models
