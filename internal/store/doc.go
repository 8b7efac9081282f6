// Package store provides SQLite-backed durable storage for the local world.
//
// The store plays the part of the chain: it holds the authoritative record
// of every table, plus two append-only logs:
//   - Updates: one row per record write, ordered by an autoincrement seq
//   - Writes: one row per submitted action, tracking pending/confirmed/failed
//
// # Ordering
//
// Every record carries a version that starts at 1 and increases by one on
// each write. SetRecord bumps the version and appends the update log row in
// the same transaction, so replaying the log in seq order yields
// non-decreasing versions per (component, key).
//
// All log queries use ORDER BY seq ASC. Wall-clock time is never stored.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Values are stored as RFC 8785 canonical JSON (ir.MarshalCanonical).
package store
