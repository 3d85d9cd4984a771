// Package storage defines the capability-set contracts every quill backend
// implements, together with the shared data model and error taxonomy.
//
// A backend realizes three cooperating controllers over the same keyspace:
//
//   - QueueDirectory: queue existence, metadata, and point-in-time stats
//   - MessageStore: post/list/get/delete/pop plus garbage collection
//   - ClaimEngine: lease-based exclusive consumption
//
// # Data model
//
// A queue is identified by (project, name), where project is an opaque tenant
// string that may be empty. Messages belong to exactly one queue and carry a
// per-queue monotonically increasing marker assigned at post time. The marker
// doubles as the pagination cursor and as the uniqueness key that detects
// racing producers.
//
// Claims are not standalone records. A claim is materialized by stamping each
// covered message with {claim id, claim ttl, claim expiry}; release on expiry
// is a visibility filter, not a state transition. A message is active when it
// is unexpired and either unclaimed or claimed under an already-expired claim.
//
// # Concurrency
//
// Correctness under concurrent producers and consumers is delegated entirely
// to the backend's atomic primitives: unique-key-constrained insert for posts
// and conditional update for claim stamping. No in-process coordination is
// shared between callers beyond the backend itself.
package storage
