// Package pebbleback is the primary quill backend, storing queues, messages,
// and claim stamps in a single Pebble database.
//
// # Keyspace
//
//	qmeta/{project}/{queue}                 queue directory record
//	t/{project}/q/{queue}/msg/{marker}      message record, marker 8B big-endian
//	t/{project}/q/{queue}/id/{message_id}   message id -> marker index
//
// # Uniqueness and conflict detection
//
// The per-queue marker sequencer is a lock-free reverse scan for the highest
// message key. Because two producers may read the same base marker, the
// insert path performs its existence check and batch commit under a striped
// per-queue latch; a key that already exists at a computed marker is exactly
// the duplicate-key violation a database unique index would raise, and the
// post retry protocol resolves it by keeping the clean prefix and retrying
// the tail with fresh markers.
//
// # Claims
//
// Claims are stamped onto message records rather than stored as rows. Claim
// lookup therefore scans the queue's message range filtering on the claim
// id. That keeps posts and reads single-round-trip at the cost of
// scan-shaped claim reads, which is acceptable at per-queue message counts;
// a from-scratch engine with cheap secondary indexes might choose otherwise.
//
// # Garbage collection
//
// Expired messages are deleted in bounded batches, always preserving the
// highest-marker message so the sequencer never reissues an observed marker.
package pebbleback
