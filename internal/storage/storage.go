package storage

import "context"

// QueueDirectory provides queue CRUD and point-in-time statistics.
type QueueDirectory interface {
	// Create registers a queue. It is idempotent; created reports whether the
	// queue was newly registered. Metadata may be nil.
	Create(ctx context.Context, project, queue string, metadata map[string]interface{}) (created bool, err error)

	// Delete removes the queue and cascades to all of its messages. Deleting
	// a missing queue is a no-op.
	Delete(ctx context.Context, project, queue string) error

	// Exists reports whether the queue is registered.
	Exists(ctx context.Context, project, queue string) (bool, error)

	// GetMetadata returns the queue's metadata document.
	GetMetadata(ctx context.Context, project, queue string) (map[string]interface{}, error)

	// SetMetadata replaces the queue's metadata document.
	SetMetadata(ctx context.Context, project, queue string, metadata map[string]interface{}) error

	// List pages through the project's queues by name. marker is the exclusive
	// lower bound; the returned next marker resumes the listing.
	List(ctx context.Context, project, marker string, limit int) ([]Queue, string, error)

	// ListAll enumerates every queue across all projects. Used by the garbage
	// collector.
	ListAll(ctx context.Context) ([]QueueRef, error)

	// Stats computes free/claimed/total counts and oldest/newest free message
	// info via point-in-time queries.
	Stats(ctx context.Context, project, queue string) (QueueStats, error)
}

// MessageStore provides message CRUD, listing, and garbage collection.
type MessageStore interface {
	// Post inserts the batch, assigning each message a server-side marker and
	// expiry. Returned ids preserve batch order. Under exhausted marker
	// contention it returns a *ConflictError carrying the committed prefix.
	Post(ctx context.Context, project, queue string, messages []PostMessage, clientID string) ([]string, error)

	// List returns a page of active messages with marker as the exclusive
	// lower bound. Each call is independent given the marker.
	List(ctx context.Context, project, queue string, opts ListOptions) (ListResult, error)

	// Get returns a single unexpired message by id.
	Get(ctx context.Context, project, queue, messageID string) (Message, error)

	// GetMulti returns the subset of ids that exist and are unexpired,
	// skipping the rest.
	GetMulti(ctx context.Context, project, queue string, ids []string) ([]Message, error)

	// Delete removes a message. When claimID is non-empty the message must be
	// held by that live claim, otherwise ErrNotPermitted. Deleting a missing
	// message succeeds silently.
	Delete(ctx context.Context, project, queue, messageID, claimID string) error

	// BulkDelete removes each id unconditionally, ignoring missing ones.
	BulkDelete(ctx context.Context, project, queue string, ids []string) error

	// Pop atomically removes and returns up to limit oldest active messages.
	Pop(ctx context.Context, project, queue string, limit int) ([]Message, error)

	// CollectGarbage removes expired messages from the queue while preserving
	// the highest-marker message, and reports how many were deleted.
	CollectGarbage(ctx context.Context, project, queue string) (int, error)
}

// ClaimEngine provides lease-based consumption over a queue's messages.
type ClaimEngine interface {
	// Create claims up to limit oldest active messages for ttl seconds,
	// extending each covered message's expiry to at least the claim expiry
	// plus grace. A short read is not an error: partial claims stand.
	Create(ctx context.Context, project, queue string, ttl, grace int64, limit int) (string, []Message, error)

	// Get returns the claim metadata and the messages it still covers.
	Get(ctx context.Context, project, queue, claimID string) (ClaimMeta, []Message, error)

	// Update re-stamps all covered messages with a fresh expiry, applying the
	// same extend-if-needed rule as Create. Updating an expired or unknown
	// claim fails with ErrClaimDoesNotExist.
	Update(ctx context.Context, project, queue, claimID string, ttl, grace int64) error

	// Delete releases all covered messages immediately. Idempotent.
	Delete(ctx context.Context, project, queue, claimID string) error
}

// Backend bundles the three controllers over one physical store.
type Backend interface {
	Queues() QueueDirectory
	Messages() MessageStore
	Claims() ClaimEngine
	Close() error
}
