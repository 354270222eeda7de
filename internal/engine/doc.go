// Package engine executes a Timeline version over a time window.
//
// ARCHITECTURE:
//
// Operation futures:
// Every scheduled operation in the window becomes a future, an explicit
// state machine (Pending, Suspended, Ready, then Completed, Failed or
// Cancelled) polled by worker goroutines. A poll resolves the declared
// upstreams one at a time. A read at key K resolves to the latest write
// slot with a key before K; if that slot is not resolved yet, the future
// registers on the slot's waiter list and suspends. The operation that
// resolves the slot wakes its waiters directly, so nothing is re-polled
// speculatively.
//
// Reactive instances:
// For each scheduled write of a resource a daemon subscribes to, the run
// reserves a potential daemon instance keyed directly after the trigger.
// The instance waits for the trigger, fires only if the trigger changed a
// subscribed value, and is then inserted into the run's Timeline version.
// Instances that do not fire resolve their write slots as skipped. Because
// the slots exist from the start, a reader never resolves past a trigger
// that has not decided yet.
//
// Caching:
// A ready future computes its fingerprint from its seed, its time (unless
// time-invariant) and the versions of the values it read, then looks up the
// history cache. A hit replays the recorded deltas or the recorded model
// error without calling Compute.
//
// Scheduling:
// Workers own deques of ready futures. The owner pops from the back and
// idle workers steal from the front. The pool is seeded in reverse key
// order so every worker starts on the earliest work it owns.
//
// CRITICAL PATTERNS:
//
// Write visibility follows key order only. Two runs of one Timeline
// version produce bit-identical timelines however the workers interleave.
//
// Model errors fail the operation and, through the failed slots, every
// operation that reads those writes. Conflicts are rejected before any
// computation starts; an integrity fault from the cache aborts the run.
package engine
