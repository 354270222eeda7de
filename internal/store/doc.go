// Package store provides SQLite-backed durable storage for kestrel.
//
// The store holds two kinds of records:
//   - History entries: operation outputs keyed by fingerprint, shared by
//     every run that loads them into a history.Cache
//   - Runs: one summary per finished run, with its failures
//
// # Critical Patterns
//
// First insert wins:
//   - history_entries uses fingerprint as PRIMARY KEY with
//     ON CONFLICT DO NOTHING, mirroring the in-memory cache
//
// Schema-scoped history:
//   - Each entry records the value-type schema digest it was written
//     under; LoadHistory ignores entries from other schemas
//
// Deterministic ordering:
//   - Queries order by seq (insertion order), never by wall time
//
// # Sharing the history file
//
// A simulate saves its cache while other kestrel invocations may be
// reading the same file. The file runs in WAL mode so those readers never
// block on a save, and at most one connection per process writes.
// Pragmas and the migration list live in store.go.
package store
