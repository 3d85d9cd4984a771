// Package validation enforces configured bounds before any storage mutation.
// The storage core calls into a Validator but never embeds the limits itself,
// so limits stay reconfigurable without touching core logic.
package validation

import (
	"fmt"
	"regexp"

	"github.com/quillmq/quill/internal/config"
	"github.com/quillmq/quill/internal/storage"
)

// Validator checks names, TTLs, limits, and payload sizes against the bounds
// it was constructed with.
type Validator struct {
	queueName *regexp.Regexp
	limits    config.Limits
	claims    config.ClaimLimits
}

// New builds a Validator from configured limits.
func New(limits config.Limits, claims config.ClaimLimits) (*Validator, error) {
	re, err := regexp.Compile(limits.QueueNameRegex)
	if err != nil {
		return nil, fmt.Errorf("validation: queue name regex: %w", err)
	}
	return &Validator{queueName: re, limits: limits, claims: claims}, nil
}

// QueueName validates a queue name.
func (v *Validator) QueueName(name string) error {
	if !v.queueName.MatchString(name) {
		return &storage.ValidationError{Field: "queue", Reason: fmt.Sprintf("name %q does not match %s", name, v.queueName.String())}
	}
	return nil
}

// Overrides carries per-queue limit overrides read from the reserved
// underscore-prefixed queue metadata keys.
type Overrides struct {
	// DefaultTTL replaces the configured default message TTL when > 0.
	DefaultTTL int64
	// MaxPostSize replaces the configured per-message size cap when > 0.
	MaxPostSize int
}

// QueueOverrides extracts reserved keys from queue metadata. Unknown or
// malformed values are ignored; metadata is otherwise opaque.
func QueueOverrides(metadata map[string]interface{}) Overrides {
	var o Overrides
	if raw, ok := metadata["_default_message_ttl"]; ok {
		if f, ok := raw.(float64); ok && f > 0 {
			o.DefaultTTL = int64(f)
		}
	}
	if raw, ok := metadata["_max_messages_post_size"]; ok {
		if f, ok := raw.(float64); ok && f > 0 {
			o.MaxPostSize = int(f)
		}
	}
	return o
}

// MessageTTL validates a message TTL, substituting the default for zero.
func (v *Validator) MessageTTL(ttl int64) (int64, error) {
	if ttl == 0 {
		ttl = v.limits.DefaultMessageTTL
	}
	if ttl < v.limits.MinMessageTTL || ttl > v.limits.MaxMessageTTL {
		return 0, &storage.ValidationError{
			Field:  "ttl",
			Reason: fmt.Sprintf("%d out of range [%d, %d]", ttl, v.limits.MinMessageTTL, v.limits.MaxMessageTTL),
		}
	}
	return ttl, nil
}

// PostBatch validates a batch of messages to post, normalizing TTLs in place.
// Overrides from the target queue's reserved metadata keys take precedence
// over the configured defaults.
func (v *Validator) PostBatch(messages []storage.PostMessage, o Overrides) error {
	if len(messages) == 0 {
		return &storage.ValidationError{Field: "messages", Reason: "empty batch"}
	}
	if len(messages) > v.limits.MaxMessagesPerPost {
		return &storage.ValidationError{
			Field:  "messages",
			Reason: fmt.Sprintf("batch of %d exceeds limit %d", len(messages), v.limits.MaxMessagesPerPost),
		}
	}
	maxSize := v.limits.MaxMessageSize
	if o.MaxPostSize > 0 && o.MaxPostSize < maxSize {
		maxSize = o.MaxPostSize
	}
	for i := range messages {
		ttl := messages[i].TTL
		if ttl == 0 && o.DefaultTTL > 0 {
			ttl = o.DefaultTTL
		}
		ttl, err := v.MessageTTL(ttl)
		if err != nil {
			return err
		}
		messages[i].TTL = ttl
		if len(messages[i].Body) > maxSize {
			return &storage.ValidationError{
				Field:  "body",
				Reason: fmt.Sprintf("message %d of %d bytes exceeds limit %d", i, len(messages[i].Body), maxSize),
			}
		}
	}
	return nil
}

// PageLimit validates a listing or claim limit, substituting the page cap for
// zero.
func (v *Validator) PageLimit(limit int) (int, error) {
	if limit == 0 {
		return v.limits.MaxMessagesPerPage, nil
	}
	if limit < 0 || limit > v.limits.MaxMessagesPerPage {
		return 0, &storage.ValidationError{
			Field:  "limit",
			Reason: fmt.Sprintf("%d out of range [1, %d]", limit, v.limits.MaxMessagesPerPage),
		}
	}
	return limit, nil
}

// ClaimTTL validates a claim TTL.
func (v *Validator) ClaimTTL(ttl int64) error {
	if ttl < v.claims.MinTTL || ttl > v.claims.MaxTTL {
		return &storage.ValidationError{
			Field:  "claim_ttl",
			Reason: fmt.Sprintf("%d out of range [%d, %d]", ttl, v.claims.MinTTL, v.claims.MaxTTL),
		}
	}
	return nil
}

// ClaimGrace validates a claim grace period.
func (v *Validator) ClaimGrace(grace int64) error {
	if grace < 0 || grace > v.claims.MaxGrace {
		return &storage.ValidationError{
			Field:  "claim_grace",
			Reason: fmt.Sprintf("%d out of range [0, %d]", grace, v.claims.MaxGrace),
		}
	}
	return nil
}
