// Package store provides SQLite-backed persistence for strains, their
// lineage votes, catalog products and the lineage history.
//
// # Lifecycle
//
// A strain moves UNSEEN → OBSERVED → CLASSIFIED → OVERRIDDEN:
//   - AddOrUpdateStrain creates a strain on first sight (OBSERVED) and
//     records one lineage vote per later observation (CLASSIFIED from the
//     second occurrence on). The canonical lineage is the most-voted value.
//   - SetSovereignLineage stores a human override (OVERRIDDEN). The
//     sovereign value always wins on reads.
//   - ClearSovereignLineage drops the override again.
//
// # Write discipline
//
//   - One in-flight write per strain, keyed by the normalized name
//   - Every write is bounded by the store's write timeout and runs in a
//     single transaction; a timeout reports TIMEOUT_EXCEEDED and applies
//     nothing
//   - History timestamps strictly increase per strain; seq orders ties
//   - Change events are handed to the ChangeSink only after commit
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
