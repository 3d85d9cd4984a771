package pebbleback

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/cockroachdb/pebble"

	"github.com/quillmq/quill/internal/storage"
)

// QueueController implements storage.QueueDirectory.
type QueueController struct {
	c *core
}

var _ storage.QueueDirectory = (*QueueController)(nil)

// Create registers the queue if absent. An existing queue is left untouched.
func (qc *QueueController) Create(_ context.Context, project, queue string, metadata map[string]interface{}) (bool, error) {
	unlock := qc.c.locks.lock(project, queue)
	defer unlock()

	exists, err := qc.c.queueExists(project, queue)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	rec := storage.Queue{
		Project:   project,
		Name:      queue,
		Metadata:  metadata,
		CreatedMs: qc.c.nowMs(),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}
	if err := qc.c.db.set(qmetaKey(project, queue), raw); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes the directory record and every message in one atomic batch,
// so a post racing the delete observes either the full queue or none of it.
// Other queues' marker sequences are untouched. Idempotent.
func (qc *QueueController) Delete(ctx context.Context, project, queue string) error {
	unlock := qc.c.locks.lock(project, queue)
	defer unlock()

	b := qc.c.db.newBatch()
	defer b.Close()
	_ = b.Delete(qmetaKey(project, queue), nil)
	prefix := []byte(queuePrefix(project, queue))
	if err := b.DeleteRange(prefix, keyUpperBound(prefix), nil); err != nil {
		return err
	}
	return qc.c.db.commitBatch(ctx, b)
}

// Exists reports whether the queue is registered.
func (qc *QueueController) Exists(_ context.Context, project, queue string) (bool, error) {
	return qc.c.queueExists(project, queue)
}

// GetMetadata returns the queue's metadata document.
func (qc *QueueController) GetMetadata(_ context.Context, project, queue string) (map[string]interface{}, error) {
	rec, err := qc.c.getQueueRecord(project, queue)
	if err != nil {
		return nil, err
	}
	return rec.Metadata, nil
}

// SetMetadata replaces the queue's metadata document.
func (qc *QueueController) SetMetadata(_ context.Context, project, queue string, metadata map[string]interface{}) error {
	unlock := qc.c.locks.lock(project, queue)
	defer unlock()

	rec, err := qc.c.getQueueRecord(project, queue)
	if err != nil {
		return err
	}
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	rec.Metadata = metadata
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return qc.c.db.set(qmetaKey(project, queue), raw)
}

// List pages through the project's queues in name order. marker is the
// exclusive lower bound; next resumes the listing and is empty once the page
// came back short.
func (qc *QueueController) List(_ context.Context, project, marker string, limit int) ([]storage.Queue, string, error) {
	if limit <= 0 {
		limit = 10
	}
	prefix := qmetaProjectPrefix(project)
	lo := prefix
	if marker != "" {
		// Exclusive bound: one byte past the marker key.
		lo = append(append([]byte{}, qmetaKey(project, marker)...), 0x00)
	}
	iter, err := qc.c.db.newIter(&pebble.IterOptions{LowerBound: lo, UpperBound: keyUpperBound(prefix)})
	if err != nil {
		return nil, "", err
	}
	defer iter.Close()

	var out []storage.Queue
	for ok := iter.First(); ok && len(out) < limit; ok = iter.Next() {
		var rec storage.Queue
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].Name
	}
	return out, next, nil
}

// ListAll enumerates every queue across all projects for the garbage
// collector.
func (qc *QueueController) ListAll(_ context.Context) ([]storage.QueueRef, error) {
	iter, err := qc.c.db.newIter(&pebble.IterOptions{LowerBound: qmetaPrefix, UpperBound: keyUpperBound(qmetaPrefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []storage.QueueRef
	for ok := iter.First(); ok; ok = iter.Next() {
		project, queue, okKey := parseQmetaKey(iter.Key())
		if !okKey {
			continue
		}
		out = append(out, storage.QueueRef{Project: project, Name: queue})
	}
	return out, nil
}

// Stats computes point-in-time counts and oldest/newest free message info by
// scanning the queue's messages; nothing is maintained as a running counter.
func (qc *QueueController) Stats(_ context.Context, project, queue string) (storage.QueueStats, error) {
	if _, err := qc.c.getQueueRecord(project, queue); err != nil {
		return storage.QueueStats{}, err
	}
	lo := msgPrefix(project, queue)
	iter, err := qc.c.db.newIter(&pebble.IterOptions{LowerBound: lo, UpperBound: keyUpperBound(lo)})
	if err != nil {
		return storage.QueueStats{}, err
	}
	defer iter.Close()

	now := qc.c.nowMs()
	var stats storage.QueueStats
	for ok := iter.First(); ok; ok = iter.Next() {
		m, okDec := decodeMessage(iter.Value())
		if !okDec || m.ExpiredAt(now) {
			continue
		}
		if m.Claim.LiveAt(now) {
			stats.Claimed++
			continue
		}
		stats.Free++
		stat := &storage.MessageStat{ID: m.ID, AgeSeconds: m.AgeSeconds(now), CreatedMs: m.CreatedMs}
		if stats.Oldest == nil {
			stats.Oldest = stat
		}
		stats.Newest = stat
	}
	stats.Total = stats.Free + stats.Claimed
	return stats, nil
}

// getQueueRecord loads the directory record or reports the queue missing.
func (c *core) getQueueRecord(project, queue string) (storage.Queue, error) {
	raw, err := c.db.get(qmetaKey(project, queue))
	if errors.Is(err, errNotFound) {
		return storage.Queue{}, storage.ErrQueueDoesNotExist
	}
	if err != nil {
		return storage.Queue{}, err
	}
	var rec storage.Queue
	if err := json.Unmarshal(raw, &rec); err != nil {
		return storage.Queue{}, err
	}
	return rec, nil
}
