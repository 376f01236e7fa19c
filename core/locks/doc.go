// Package locks implements database-backed advisory leases on (store, SKU)
// pairs. Leases carry a TTL so crashed holders cannot block a pair forever,
// and acquisition never waits: a held SKU is denied and the caller moves on.
package locks
