// Package store holds the client-side mirror of server records.
//
// The store is pure in-memory state plus versioning. It never talks to the
// network; the gateway feeds it fetched records and the coordinator feeds it
// optimistic and confirmed deltas.
//
// # Critical Patterns
//
// Copy-on-write tables:
//   - Each collection is an immutable table published behind a pointer
//   - A write clones the touched tables, applies every op, then swaps them in
//   - A reader holding a Snapshot therefore never sees a partially applied delta
//
// Versioning:
//   - Each collection carries a counter bumped once per successful write
//   - Failed deltas leave both contents and versions untouched
//   - Derived views use the counters as cache keys
//
// Optimistic holds:
//   - Debit registers a hold keyed by flow token and debits the balance
//   - Commit/Rollback release the hold exactly once
//   - ReplaceUsers re-applies live holds on top of fetched records; a hold whose
//     user disappeared is orphaned and its flow must fail with a conflict
//
// Balances are never published negative.
package store
