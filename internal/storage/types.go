package storage

import "encoding/json"

// PostMessage is one message submitted to MessageStore.Post.
type PostMessage struct {
	// TTL is the requested time to live in seconds.
	TTL int64 `json:"ttl"`
	// Body is an opaque JSON document.
	Body json.RawMessage `json:"body"`
}

// ClaimRef is the claim field stamped onto a message. An empty ID means the
// message is unclaimed; the expiry then holds the unclaimed sentinel
// (the post time), which keeps the visibility predicate branch-free.
type ClaimRef struct {
	ID        string `json:"id"`
	TTL       int64  `json:"ttl"`
	ExpiresMs int64  `json:"expires_ms"`
}

// LiveAt reports whether the claim holds the message at the given instant.
func (c ClaimRef) LiveAt(nowMs int64) bool {
	return c.ID != "" && c.ExpiresMs > nowMs
}

// Message is the stored representation shared by all backends.
type Message struct {
	ID        string          `json:"id"`
	Marker    uint64          `json:"marker"`
	TTL       int64           `json:"ttl"`
	CreatedMs int64           `json:"created_ms"`
	ExpiresMs int64           `json:"expires_ms"`
	ClientID  string          `json:"client_id"`
	Body      json.RawMessage `json:"body"`
	Claim     ClaimRef        `json:"claim"`
}

// ExpiredAt reports whether the message itself has expired.
func (m Message) ExpiredAt(nowMs int64) bool { return m.ExpiresMs <= nowMs }

// ActiveAt reports whether the message is visible to a plain listing:
// unexpired and not held by a live claim.
func (m Message) ActiveAt(nowMs int64) bool {
	return !m.ExpiredAt(nowMs) && !m.Claim.LiveAt(nowMs)
}

// ClaimedAt reports whether the message is held by a live claim.
func (m Message) ClaimedAt(nowMs int64) bool {
	return !m.ExpiredAt(nowMs) && m.Claim.LiveAt(nowMs)
}

// AgeSeconds returns the message age at the given instant.
func (m Message) AgeSeconds(nowMs int64) int64 {
	age := (nowMs - m.CreatedMs) / 1000
	if age < 0 {
		return 0
	}
	return age
}

// Queue is a directory entry.
type Queue struct {
	Project   string                 `json:"project"`
	Name      string                 `json:"name"`
	Metadata  map[string]interface{} `json:"metadata"`
	CreatedMs int64                  `json:"created_ms"`
}

// QueueRef names a queue without loading its metadata.
type QueueRef struct {
	Project string
	Name    string
}

// MessageStat describes the oldest or newest free message in a queue.
type MessageStat struct {
	ID         string `json:"id"`
	AgeSeconds int64  `json:"age"`
	CreatedMs  int64  `json:"created_ms"`
}

// QueueStats is a point-in-time view computed from the message store, never
// maintained as a running counter.
type QueueStats struct {
	Free    int64        `json:"free"`
	Claimed int64        `json:"claimed"`
	Total   int64        `json:"total"`
	Oldest  *MessageStat `json:"oldest,omitempty"`
	Newest  *MessageStat `json:"newest,omitempty"`
}

// ListOptions controls MessageStore.List.
type ListOptions struct {
	// Marker is the exclusive lower bound for forward-only pagination.
	Marker uint64
	// Limit caps the number of returned messages.
	Limit int
	// Echo includes the calling client's own messages.
	Echo bool
	// ClientID identifies the calling client for echo suppression.
	ClientID string
	// IncludeClaimed also returns messages held by live claims.
	IncludeClaimed bool
}

// ListResult bundles a page of messages with the marker to resume from. An
// empty Messages slice means the listing is exhausted; it is not an error.
type ListResult struct {
	Messages []Message `json:"messages"`
	Next     uint64    `json:"next"`
}

// ClaimMeta describes a live claim.
type ClaimMeta struct {
	ID         string `json:"id"`
	TTL        int64  `json:"ttl"`
	ExpiresMs  int64  `json:"expires_ms"`
	AgeSeconds int64  `json:"age"`
}
