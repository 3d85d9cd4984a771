package pebbleback

import (
	"context"

	"github.com/cockroachdb/pebble"

	logpkg "github.com/quillmq/quill/pkg/log"
)

// gcBatchLimit caps the number of deletions per committed batch during a
// sweep, so a large backlog never pins one long-running write.
const gcBatchLimit = 1024

// gcCompactHint is the sweep size beyond which a compaction of the queue's
// message range is requested.
const gcCompactHint = 4096

type expiredRef struct {
	marker uint64
	id     string
}

// CollectGarbage deletes expired messages from the queue. The message with
// the highest marker is always preserved, expired or not: the marker
// sequencer derives the next marker from it, and removing it could hand a
// marker that a slower concurrent reader already observed to the next post.
// Queues below the configured threshold are left alone.
func (mc *MessageController) CollectGarbage(ctx context.Context, project, queue string) (int, error) {
	lo := msgPrefix(project, queue)
	iter, err := mc.c.db.newIter(&pebble.IterOptions{LowerBound: lo, UpperBound: keyUpperBound(lo)})
	if err != nil {
		return 0, err
	}

	now := mc.c.nowMs()
	var expired []expiredRef
	var head uint64
	empty := true
	for ok := iter.First(); ok; ok = iter.Next() {
		empty = false
		marker := markerFromMsgKey(iter.Key())
		head = marker
		m, okDec := decodeMessage(iter.Value())
		if !okDec {
			continue
		}
		if m.ExpiredAt(now) {
			expired = append(expired, expiredRef{marker: marker, id: m.ID})
		}
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}
	if empty {
		// Deleted concurrently; nothing to sweep.
		mc.c.logger.Debug("gc found empty queue", logpkg.Str("queue", queue))
		return 0, nil
	}
	if len(expired) < mc.c.gcThreshold {
		return 0, nil
	}
	// Never remove the head, even when expired.
	if n := len(expired); n > 0 && expired[n-1].marker == head {
		expired = expired[:n-1]
	}

	deleted := 0
	for len(expired) > 0 {
		n := len(expired)
		if n > gcBatchLimit {
			n = gcBatchLimit
		}
		b := mc.c.db.newBatch()
		for _, ref := range expired[:n] {
			_ = b.Delete(msgKey(project, queue, ref.marker), nil)
			_ = b.Delete(idKey(project, queue, ref.id), nil)
		}
		if err := mc.c.db.commitBatch(ctx, b); err != nil {
			b.Close()
			return deleted, err
		}
		b.Close()
		deleted += n
		expired = expired[n:]
	}
	if deleted >= gcCompactHint {
		_ = mc.c.db.compactRange(lo, keyUpperBound(lo))
	}
	return deleted, nil
}
