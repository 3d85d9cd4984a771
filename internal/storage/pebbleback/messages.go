package pebbleback

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/quillmq/quill/internal/metrics"
	"github.com/quillmq/quill/internal/storage"
	logpkg "github.com/quillmq/quill/pkg/log"
)

// MessageController implements storage.MessageStore.
type MessageController struct {
	c *core
}

var _ storage.MessageStore = (*MessageController)(nil)

// Post inserts the batch with server-assigned markers. The marker base is a
// lock-free point-in-time read, so a racing producer may take the same range
// first; the stripe latch then reports the first duplicate key, the committed
// prefix is kept, and the tail retries with fresh markers after a linear
// backoff with jitter. Only duplicate-marker conflicts are retried; any other
// storage error propagates immediately.
func (mc *MessageController) Post(ctx context.Context, project, queue string, messages []storage.PostMessage, clientID string) ([]string, error) {
	if len(messages) == 0 {
		return nil, nil
	}
	exists, err := mc.c.queueExists(project, queue)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, storage.ErrQueueDoesNotExist
	}

	ids := make([]string, 0, len(messages))
	pending := messages
	for attempt := 0; attempt < mc.c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			// Backpressure on hot queues: the sleep grows with the attempt
			// number and carries jitter to break up synchronized retry storms.
			select {
			case <-ctx.Done():
				return ids, ctx.Err()
			case <-time.After(mc.c.postSleep(attempt)):
			}
		}
		committed, conflicted, err := mc.insertBatch(ctx, project, queue, pending, clientID)
		ids = append(ids, committed...)
		if err != nil {
			return ids, err
		}
		if !conflicted {
			return ids, nil
		}
		pending = pending[len(committed):]
		metrics.PostConflictRetries.Inc()
		mc.c.logger.Debug("post marker conflict",
			logpkg.Str("queue", queue),
			logpkg.Int("attempt", attempt+1),
			logpkg.Int("remaining", len(pending)))
	}
	return ids, &storage.ConflictError{Succeeded: ids}
}

// insertBatch assigns markers starting from a fresh point-in-time read and
// commits the longest clean prefix of pending. conflicted reports whether a
// duplicate marker cut the batch short.
func (mc *MessageController) insertBatch(ctx context.Context, project, queue string, pending []storage.PostMessage, clientID string) (committed []string, conflicted bool, err error) {
	base, err := mc.c.nextMarker(project, queue)
	if err != nil {
		return nil, false, err
	}

	unlock := mc.c.locks.lock(project, queue)
	defer unlock()

	now := mc.c.nowMs()
	b := mc.c.db.newBatch()
	defer b.Close()

	for i := range pending {
		marker := base + uint64(i)
		if _, err := mc.c.db.get(msgKey(project, queue, marker)); err == nil {
			// Duplicate marker: a concurrent producer consumed this range
			// after our sequencer read. Everything before i is clean.
			conflicted = true
			break
		} else if !errors.Is(err, errNotFound) {
			return nil, false, err
		}
		mid := mc.c.gen.Next().String()
		m := storage.Message{
			ID:        mid,
			Marker:    marker,
			TTL:       pending[i].TTL,
			CreatedMs: now,
			ExpiresMs: now + pending[i].TTL*1000,
			ClientID:  clientID,
			Body:      pending[i].Body,
			Claim:     storage.ClaimRef{ExpiresMs: now}, // unclaimed sentinel
		}
		if err := putMessage(b, project, queue, m); err != nil {
			return nil, false, err
		}
		var mk [8]byte
		putMarker(mk[:], marker)
		if err := b.Set(idKey(project, queue, mid), mk[:], nil); err != nil {
			return nil, false, err
		}
		committed = append(committed, mid)
	}
	if len(committed) == 0 {
		return nil, conflicted, nil
	}
	if err := mc.c.db.commitBatch(ctx, b); err != nil {
		return nil, false, err
	}
	return committed, conflicted, nil
}

// postSleep computes the backoff before the given retry attempt: a linear
// ramp toward MaxRetrySleep plus uniform jitter up to MaxRetryJitter.
func (c *core) postSleep(attempt int) time.Duration {
	lin := time.Duration(int64(c.retry.MaxRetrySleep) * int64(attempt) / int64(c.retry.MaxAttempts))
	var jit time.Duration
	if c.retry.MaxRetryJitter > 0 {
		jit = time.Duration(rand.Int63n(int64(c.retry.MaxRetryJitter)))
	}
	return lin + jit
}

// List returns a page of messages after opts.Marker. Listing a queue that
// does not exist yields an empty page, matching the deleted-mid-listing case.
func (mc *MessageController) List(_ context.Context, project, queue string, opts storage.ListOptions) (storage.ListResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	lo := msgKey(project, queue, opts.Marker+1)
	hi := keyUpperBound(msgPrefix(project, queue))
	iter, err := mc.c.db.newIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return storage.ListResult{}, err
	}
	defer iter.Close()

	now := mc.c.nowMs()
	res := storage.ListResult{Next: opts.Marker}
	for ok := iter.First(); ok && len(res.Messages) < limit; ok = iter.Next() {
		m, okDec := decodeMessage(iter.Value())
		if !okDec {
			continue
		}
		if opts.IncludeClaimed {
			if m.ExpiredAt(now) {
				continue
			}
		} else if !m.ActiveAt(now) {
			continue
		}
		if !opts.Echo && opts.ClientID != "" && m.ClientID == opts.ClientID {
			continue
		}
		res.Messages = append(res.Messages, m)
		res.Next = m.Marker
	}
	return res, nil
}

// Get returns a single unexpired message by id.
func (mc *MessageController) Get(_ context.Context, project, queue, messageID string) (storage.Message, error) {
	m, err := mc.c.lookupByID(project, queue, messageID)
	if err != nil {
		return storage.Message{}, err
	}
	if m.ExpiredAt(mc.c.nowMs()) {
		return storage.Message{}, storage.ErrMessageDoesNotExist
	}
	return m, nil
}

// GetMulti returns the ids that resolve to unexpired messages, skipping the
// rest rather than failing the call.
func (mc *MessageController) GetMulti(ctx context.Context, project, queue string, ids []string) ([]storage.Message, error) {
	out := make([]storage.Message, 0, len(ids))
	for _, mid := range ids {
		m, err := mc.Get(ctx, project, queue, mid)
		if errors.Is(err, storage.ErrMessageDoesNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Delete removes a message, enforcing the claim guard when claimID is given.
// A missing message is a silent no-op.
func (mc *MessageController) Delete(ctx context.Context, project, queue, messageID, claimID string) error {
	unlock := mc.c.locks.lock(project, queue)
	defer unlock()

	m, err := mc.c.lookupByID(project, queue, messageID)
	if errors.Is(err, storage.ErrMessageDoesNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if claimID != "" {
		now := mc.c.nowMs()
		if !m.Claim.LiveAt(now) || m.Claim.ID != claimID {
			return storage.ErrNotPermitted
		}
	}
	b := mc.c.db.newBatch()
	defer b.Close()
	_ = b.Delete(msgKey(project, queue, m.Marker), nil)
	_ = b.Delete(idKey(project, queue, messageID), nil)
	return mc.c.db.commitBatch(ctx, b)
}

// BulkDelete removes each id unconditionally, ignoring missing ones.
func (mc *MessageController) BulkDelete(ctx context.Context, project, queue string, ids []string) error {
	b := mc.c.db.newBatch()
	defer b.Close()
	any := false
	for _, mid := range ids {
		m, err := mc.c.lookupByID(project, queue, mid)
		if errors.Is(err, storage.ErrMessageDoesNotExist) {
			continue
		}
		if err != nil {
			return err
		}
		_ = b.Delete(msgKey(project, queue, m.Marker), nil)
		_ = b.Delete(idKey(project, queue, mid), nil)
		any = true
	}
	if !any {
		return nil
	}
	return mc.c.db.commitBatch(ctx, b)
}

// Pop atomically removes and returns up to limit oldest active messages. It
// never returns a message it does not also delete.
func (mc *MessageController) Pop(ctx context.Context, project, queue string, limit int) ([]storage.Message, error) {
	if limit <= 0 {
		limit = 1
	}
	unlock := mc.c.locks.lock(project, queue)
	defer unlock()

	lo := msgPrefix(project, queue)
	iter, err := mc.c.db.newIter(&pebble.IterOptions{LowerBound: lo, UpperBound: keyUpperBound(lo)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	now := mc.c.nowMs()
	b := mc.c.db.newBatch()
	defer b.Close()
	var popped []storage.Message
	for ok := iter.First(); ok && len(popped) < limit; ok = iter.Next() {
		m, okDec := decodeMessage(iter.Value())
		if !okDec || !m.ActiveAt(now) {
			continue
		}
		_ = b.Delete(msgKey(project, queue, m.Marker), nil)
		_ = b.Delete(idKey(project, queue, m.ID), nil)
		popped = append(popped, m)
	}
	if len(popped) == 0 {
		return nil, nil
	}
	if err := mc.c.db.commitBatch(ctx, b); err != nil {
		return nil, err
	}
	return popped, nil
}

// lookupByID resolves a message through the id index. Missing index entries
// and stale entries both surface as ErrMessageDoesNotExist.
func (c *core) lookupByID(project, queue, messageID string) (storage.Message, error) {
	raw, err := c.db.get(idKey(project, queue, messageID))
	if errors.Is(err, errNotFound) {
		return storage.Message{}, storage.ErrMessageDoesNotExist
	}
	if err != nil {
		return storage.Message{}, err
	}
	if len(raw) < 8 {
		return storage.Message{}, storage.ErrMessageDoesNotExist
	}
	m, err := c.getMessage(project, queue, getMarker(raw))
	if errors.Is(err, errNotFound) {
		return storage.Message{}, storage.ErrMessageDoesNotExist
	}
	if err != nil {
		return storage.Message{}, err
	}
	if m.ID != messageID {
		return storage.Message{}, storage.ErrMessageDoesNotExist
	}
	return m, nil
}
