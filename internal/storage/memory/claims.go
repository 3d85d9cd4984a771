package memory

import (
	"context"

	"github.com/quillmq/quill/internal/storage"
	"github.com/quillmq/quill/pkg/id"
)

type claimEngine Backend

var _ storage.ClaimEngine = (*claimEngine)(nil)

func (e *claimEngine) b() *Backend { return (*Backend)(e) }

func (e *claimEngine) Create(_ context.Context, project, queue string, ttl, grace int64, limit int) (string, []storage.Message, error) {
	if limit <= 0 {
		limit = 10
	}
	b := e.b()
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(project, queue)
	if q == nil {
		return "", nil, storage.ErrQueueDoesNotExist
	}
	claimID := b.gen.Next().String()
	now := b.nowMs()
	claimExp := now + ttl*1000

	var claimed []storage.Message
	for i := range q.msgs {
		if len(claimed) == limit {
			break
		}
		if !q.msgs[i].ActiveAt(now) {
			continue
		}
		q.msgs[i].Claim = storage.ClaimRef{ID: claimID, TTL: ttl, ExpiresMs: claimExp}
		extendMessage(&q.msgs[i], claimExp, grace, now)
		claimed = append(claimed, q.msgs[i])
	}
	return claimID, claimed, nil
}

func (e *claimEngine) Get(_ context.Context, project, queue, claimID string) (storage.ClaimMeta, []storage.Message, error) {
	b := e.b()
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.nowMs()
	covered := e.coveredLocked(project, queue, claimID, now, true)
	if len(covered) == 0 {
		return storage.ClaimMeta{}, nil, storage.ErrClaimDoesNotExist
	}
	ref := covered[0].Claim
	meta := storage.ClaimMeta{ID: claimID, TTL: ref.TTL, ExpiresMs: ref.ExpiresMs}
	if parsed, err := id.Parse(claimID); err == nil {
		if age := (now - parsed.TimeMs()) / 1000; age > 0 {
			meta.AgeSeconds = age
		}
	}
	return meta, covered, nil
}

func (e *claimEngine) Update(_ context.Context, project, queue, claimID string, ttl, grace int64) error {
	if ttl <= 0 {
		return &storage.ValidationError{Field: "claim_ttl", Reason: "update would expire the claim immediately"}
	}
	b := e.b()
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(project, queue)
	if q == nil {
		return storage.ErrClaimDoesNotExist
	}
	now := b.nowMs()
	claimExp := now + ttl*1000
	touched := false
	for i := range q.msgs {
		m := &q.msgs[i]
		if m.Claim.ID != claimID || m.ExpiredAt(now) || !m.Claim.LiveAt(now) {
			continue
		}
		m.Claim = storage.ClaimRef{ID: claimID, TTL: ttl, ExpiresMs: claimExp}
		extendMessage(m, claimExp, grace, now)
		touched = true
	}
	if !touched {
		return storage.ErrClaimDoesNotExist
	}
	return nil
}

func (e *claimEngine) Delete(_ context.Context, project, queue, claimID string) error {
	b := e.b()
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(project, queue)
	if q == nil {
		return nil
	}
	now := b.nowMs()
	for i := range q.msgs {
		if q.msgs[i].Claim.ID == claimID {
			q.msgs[i].Claim = storage.ClaimRef{ExpiresMs: now}
		}
	}
	return nil
}

func (e *claimEngine) coveredLocked(project, queue, claimID string, nowMs int64, liveOnly bool) []storage.Message {
	b := e.b()
	q := b.queue(project, queue)
	if q == nil {
		return nil
	}
	var out []storage.Message
	for _, m := range q.msgs {
		if m.Claim.ID != claimID {
			continue
		}
		if liveOnly && (m.ExpiredAt(nowMs) || !m.Claim.LiveAt(nowMs)) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// extendMessage raises the message expiry to at least the claim expiry plus
// grace, matching the durable backends' claim semantics.
func extendMessage(m *storage.Message, claimExpMs, grace, nowMs int64) {
	want := claimExpMs + grace*1000
	if m.ExpiresMs < want {
		m.ExpiresMs = want
		m.TTL = (want - nowMs) / 1000
	}
}
