package memory

import (
	"context"

	"github.com/quillmq/quill/internal/storage"
)

type queueDirectory Backend

var _ storage.QueueDirectory = (*queueDirectory)(nil)

func (d *queueDirectory) b() *Backend { return (*Backend)(d) }

func (d *queueDirectory) Create(_ context.Context, project, queue string, metadata map[string]interface{}) (bool, error) {
	b := d.b()
	b.mu.Lock()
	defer b.mu.Unlock()

	k := queueKey{project: project, name: queue}
	if _, ok := b.queues[k]; ok {
		return false, nil
	}
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	b.queues[k] = &queueState{
		meta:      metadata,
		createdMs: b.nowMs(),
		byID:      map[string]int{},
	}
	return true, nil
}

func (d *queueDirectory) Delete(_ context.Context, project, queue string) error {
	b := d.b()
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.queues, queueKey{project: project, name: queue})
	return nil
}

func (d *queueDirectory) Exists(_ context.Context, project, queue string) (bool, error) {
	b := d.b()
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue(project, queue) != nil, nil
}

func (d *queueDirectory) GetMetadata(_ context.Context, project, queue string) (map[string]interface{}, error) {
	b := d.b()
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue(project, queue)
	if q == nil {
		return nil, storage.ErrQueueDoesNotExist
	}
	return q.meta, nil
}

func (d *queueDirectory) SetMetadata(_ context.Context, project, queue string, metadata map[string]interface{}) error {
	b := d.b()
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue(project, queue)
	if q == nil {
		return storage.ErrQueueDoesNotExist
	}
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	q.meta = metadata
	return nil
}

func (d *queueDirectory) List(_ context.Context, project, marker string, limit int) ([]storage.Queue, string, error) {
	if limit <= 0 {
		limit = 10
	}
	b := d.b()
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []storage.Queue
	for _, k := range b.sortedKeys() {
		if k.project != project {
			continue
		}
		if marker != "" && k.name <= marker {
			continue
		}
		q := b.queues[k]
		out = append(out, storage.Queue{
			Project:   k.project,
			Name:      k.name,
			Metadata:  q.meta,
			CreatedMs: q.createdMs,
		})
		if len(out) == limit {
			break
		}
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].Name
	}
	return out, next, nil
}

func (d *queueDirectory) ListAll(_ context.Context) ([]storage.QueueRef, error) {
	b := d.b()
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []storage.QueueRef
	for _, k := range b.sortedKeys() {
		out = append(out, storage.QueueRef{Project: k.project, Name: k.name})
	}
	return out, nil
}

func (d *queueDirectory) Stats(_ context.Context, project, queue string) (storage.QueueStats, error) {
	b := d.b()
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(project, queue)
	if q == nil {
		return storage.QueueStats{}, storage.ErrQueueDoesNotExist
	}
	now := b.nowMs()
	var stats storage.QueueStats
	for _, m := range q.msgs {
		if m.ExpiredAt(now) {
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
