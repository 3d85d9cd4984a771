package memory

import (
	"context"

	"github.com/quillmq/quill/internal/storage"
)

type messageStore Backend

var _ storage.MessageStore = (*messageStore)(nil)

func (s *messageStore) b() *Backend { return (*Backend)(s) }

func (s *messageStore) Post(_ context.Context, project, queue string, messages []storage.PostMessage, clientID string) ([]string, error) {
	if len(messages) == 0 {
		return nil, nil
	}
	b := s.b()
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(project, queue)
	if q == nil {
		return nil, storage.ErrQueueDoesNotExist
	}
	now := b.nowMs()
	ids := make([]string, 0, len(messages))
	for _, pm := range messages {
		q.next++
		m := storage.Message{
			ID:        b.gen.Next().String(),
			Marker:    q.next,
			TTL:       pm.TTL,
			CreatedMs: now,
			ExpiresMs: now + pm.TTL*1000,
			ClientID:  clientID,
			Body:      pm.Body,
			Claim:     storage.ClaimRef{ExpiresMs: now},
		}
		q.byID[m.ID] = len(q.msgs)
		q.msgs = append(q.msgs, m)
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (s *messageStore) List(_ context.Context, project, queue string, opts storage.ListOptions) (storage.ListResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	b := s.b()
	b.mu.Lock()
	defer b.mu.Unlock()

	res := storage.ListResult{Next: opts.Marker}
	q := b.queue(project, queue)
	if q == nil {
		return res, nil
	}
	now := b.nowMs()
	for _, m := range q.msgs {
		if len(res.Messages) == limit {
			break
		}
		if m.Marker <= opts.Marker {
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

func (s *messageStore) Get(_ context.Context, project, queue, messageID string) (storage.Message, error) {
	b := s.b()
	b.mu.Lock()
	defer b.mu.Unlock()
	return s.getLocked(project, queue, messageID)
}

func (s *messageStore) getLocked(project, queue, messageID string) (storage.Message, error) {
	b := s.b()
	q := b.queue(project, queue)
	if q == nil {
		return storage.Message{}, storage.ErrMessageDoesNotExist
	}
	i, ok := q.byID[messageID]
	if !ok {
		return storage.Message{}, storage.ErrMessageDoesNotExist
	}
	m := q.msgs[i]
	if m.ExpiredAt(b.nowMs()) {
		return storage.Message{}, storage.ErrMessageDoesNotExist
	}
	return m, nil
}

func (s *messageStore) GetMulti(_ context.Context, project, queue string, ids []string) ([]storage.Message, error) {
	b := s.b()
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]storage.Message, 0, len(ids))
	for _, mid := range ids {
		m, err := s.getLocked(project, queue, mid)
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *messageStore) Delete(_ context.Context, project, queue, messageID, claimID string) error {
	b := s.b()
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(project, queue)
	if q == nil {
		return nil
	}
	i, ok := q.byID[messageID]
	if !ok {
		return nil
	}
	if claimID != "" {
		m := q.msgs[i]
		if !m.Claim.LiveAt(b.nowMs()) || m.Claim.ID != claimID {
			return storage.ErrNotPermitted
		}
	}
	removeAt(q, i)
	return nil
}

func (s *messageStore) BulkDelete(_ context.Context, project, queue string, ids []string) error {
	b := s.b()
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(project, queue)
	if q == nil {
		return nil
	}
	for _, mid := range ids {
		if i, ok := q.byID[mid]; ok {
			removeAt(q, i)
		}
	}
	return nil
}

func (s *messageStore) Pop(_ context.Context, project, queue string, limit int) ([]storage.Message, error) {
	if limit <= 0 {
		limit = 1
	}
	b := s.b()
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(project, queue)
	if q == nil {
		return nil, nil
	}
	now := b.nowMs()
	var popped []storage.Message
	for _, m := range q.msgs {
		if len(popped) == limit {
			break
		}
		if m.ActiveAt(now) {
			popped = append(popped, m)
		}
	}
	for _, m := range popped {
		removeAt(q, q.byID[m.ID])
	}
	return popped, nil
}

// CollectGarbage drops expired messages, always keeping the highest-marker
// record so listing cursors held across a sweep stay monotonic.
func (s *messageStore) CollectGarbage(_ context.Context, project, queue string) (int, error) {
	b := s.b()
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(project, queue)
	if q == nil || len(q.msgs) == 0 {
		return 0, nil
	}
	now := b.nowMs()
	expired := 0
	for _, m := range q.msgs {
		if m.ExpiredAt(now) {
			expired++
		}
	}
	if expired < b.gcThreshold {
		return 0, nil
	}
	head := q.msgs[len(q.msgs)-1].Marker
	kept := q.msgs[:0]
	deleted := 0
	for _, m := range q.msgs {
		if m.ExpiredAt(now) && m.Marker != head {
			deleted++
			continue
		}
		kept = append(kept, m)
	}
	q.msgs = kept
	q.reindex()
	return deleted, nil
}

// removeAt deletes the message at index i, preserving marker order.
func removeAt(q *queueState, i int) {
	q.msgs = append(q.msgs[:i], q.msgs[i+1:]...)
	q.reindex()
}
