// Package history is the content-addressed cache of operation results.
//
// An entry maps an operation fingerprint to the deltas the operation
// produced, or to the model error it returned. Entries are immutable: the
// first insert for a fingerprint wins and later inserts are compared
// against it byte for byte. Two different payloads under one fingerprint
// mean an operation is not deterministic or its seed is incomplete; that is
// an IntegrityFault and the cache stops accepting writes.
//
// The cache is shared by every run of a session and is safe for concurrent
// use. It is split into 64 shards selected by the first fingerprint byte,
// each guarded by its own RWMutex, so concurrent workers rarely contend.
//
// Encode and Decode persist a cache as a binary stream. The stream is not
// self-describing: values are stored by type tag and decoded through the
// resource registry, and the header carries a digest of the registered
// tags so a stream written by a binary with different value types is
// rejected with ErrFormatMismatch instead of being misread.
package history
