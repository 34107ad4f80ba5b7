// Package machine implements machine allocation and the machine lifecycle
// for the allocator service.
//
// A machine moves through a small state machine:
//
//	AVAILABLE ──allocate──▶ AWAITING_DROPOFF ──start ok──▶ RUNNING
//	                              │
//	                              └──start fault──▶ ERROR
//
// The Engine owns every transition. It reads and writes the authoritative
// Repository and keeps a Cache in step with it: the cache is written only
// after the store write it mirrors has succeeded, and entries are always
// overwritten, never merged.
//
// Two races are handled explicitly:
//
//   - Allocation claims a candidate with Repository.CompareAndSwap, so two
//     concurrent requests can never both move the same machine out of
//     AVAILABLE. The loser re-scans the location.
//   - Starts for the same machine are admitted one at a time per process.
//     Later callers see the committed RUNNING or ERROR status and are rejected
//     without calling the device again.
//
// Recovering a machine from ERROR or RUNNING is a maintenance operation and
// lives outside the Engine (see cmd/machinectl reset).
//
// Repository implementations:
//   - SQLiteRepository: the default, backed by internal/infrastructure/database
//   - BadgerRepository: an embedded key-value alternative
//
// Cache implementations:
//   - MemoryCache: unbounded map, the default
//   - RistrettoCache: bounded, admission-controlled
package machine
