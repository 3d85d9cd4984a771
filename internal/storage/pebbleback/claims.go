package pebbleback

import (
	"context"

	"github.com/cockroachdb/pebble"

	"github.com/quillmq/quill/internal/storage"
	"github.com/quillmq/quill/pkg/id"
)

// ClaimController implements storage.ClaimEngine. A claim has no record of
// its own: it exists exactly as long as some unexpired message carries its
// id with a future claim expiry. Expiry is therefore a visibility filter and
// release-on-expiry needs no cleanup step.
type ClaimController struct {
	c *core
}

var _ storage.ClaimEngine = (*ClaimController)(nil)

// Create claims up to limit oldest active messages. Selection and stamping
// happen under the queue's stripe latch, and each candidate is re-checked at
// stamp time; a short read still succeeds with whatever was stamped, unlike
// the exhaustive retry in Post. Claims are advisory availability, not a
// guarantee of limit messages.
func (cc *ClaimController) Create(ctx context.Context, project, queue string, ttl, grace int64, limit int) (string, []storage.Message, error) {
	if limit <= 0 {
		limit = 10
	}
	exists, err := cc.c.queueExists(project, queue)
	if err != nil {
		return "", nil, err
	}
	if !exists {
		return "", nil, storage.ErrQueueDoesNotExist
	}

	claimID := cc.c.gen.Next().String()

	unlock := cc.c.locks.lock(project, queue)
	defer unlock()

	lo := msgPrefix(project, queue)
	iter, err := cc.c.db.newIter(&pebble.IterOptions{LowerBound: lo, UpperBound: keyUpperBound(lo)})
	if err != nil {
		return "", nil, err
	}
	defer iter.Close()

	now := cc.c.nowMs()
	claimExp := now + ttl*1000
	b := cc.c.db.newBatch()
	defer b.Close()

	var claimed []storage.Message
	for ok := iter.First(); ok && len(claimed) < limit; ok = iter.Next() {
		m, okDec := decodeMessage(iter.Value())
		if !okDec {
			continue
		}
		// Conditional stamp: only still-unclaimed (or claim-expired) live
		// messages are eligible at write time.
		if !m.ActiveAt(now) {
			continue
		}
		m.Claim = storage.ClaimRef{ID: claimID, TTL: ttl, ExpiresMs: claimExp}
		extendForClaim(&m, claimExp, grace, now)
		if err := putMessage(b, project, queue, m); err != nil {
			return "", nil, err
		}
		claimed = append(claimed, m)
	}
	if len(claimed) == 0 {
		return claimID, nil, nil
	}
	if err := cc.c.db.commitBatch(ctx, b); err != nil {
		return "", nil, err
	}
	return claimID, claimed, nil
}

// Get returns the claim metadata and covered messages, or
// ErrClaimDoesNotExist once the claim has expired or never was.
func (cc *ClaimController) Get(_ context.Context, project, queue, claimID string) (storage.ClaimMeta, []storage.Message, error) {
	now := cc.c.nowMs()
	covered, err := cc.coveredMessages(project, queue, claimID, now, true)
	if err != nil {
		return storage.ClaimMeta{}, nil, err
	}
	if len(covered) == 0 {
		return storage.ClaimMeta{}, nil, storage.ErrClaimDoesNotExist
	}
	return claimMetaAt(claimID, covered[0].Claim, now), covered, nil
}

// Update re-stamps every covered message with a fresh expiry. The liveness
// check runs before any mutation so a concurrently expired claim cannot be
// resurrected.
func (cc *ClaimController) Update(ctx context.Context, project, queue, claimID string, ttl, grace int64) error {
	if ttl <= 0 {
		return &storage.ValidationError{Field: "claim_ttl", Reason: "update would expire the claim immediately"}
	}
	unlock := cc.c.locks.lock(project, queue)
	defer unlock()

	now := cc.c.nowMs()
	covered, err := cc.coveredMessages(project, queue, claimID, now, true)
	if err != nil {
		return err
	}
	if len(covered) == 0 {
		return storage.ErrClaimDoesNotExist
	}

	claimExp := now + ttl*1000
	b := cc.c.db.newBatch()
	defer b.Close()
	for _, m := range covered {
		m.Claim = storage.ClaimRef{ID: claimID, TTL: ttl, ExpiresMs: claimExp}
		extendForClaim(&m, claimExp, grace, now)
		if err := putMessage(b, project, queue, m); err != nil {
			return err
		}
	}
	return cc.c.db.commitBatch(ctx, b)
}

// Delete clears the claim field from every message still referencing it,
// releasing them back to the active pool immediately. Idempotent: deleting
// twice, or deleting an already-expired claim, succeeds silently.
func (cc *ClaimController) Delete(ctx context.Context, project, queue, claimID string) error {
	unlock := cc.c.locks.lock(project, queue)
	defer unlock()

	now := cc.c.nowMs()
	covered, err := cc.coveredMessages(project, queue, claimID, now, false)
	if err != nil {
		return err
	}
	if len(covered) == 0 {
		return nil
	}
	b := cc.c.db.newBatch()
	defer b.Close()
	for _, m := range covered {
		m.Claim = storage.ClaimRef{ExpiresMs: now}
		if err := putMessage(b, project, queue, m); err != nil {
			return err
		}
	}
	return cc.c.db.commitBatch(ctx, b)
}

// coveredMessages scans the queue for messages referencing the claim. When
// liveOnly is set, only an unexpired claim over unexpired messages counts;
// Delete passes false so it can clear stale references too.
func (cc *ClaimController) coveredMessages(project, queue, claimID string, nowMs int64, liveOnly bool) ([]storage.Message, error) {
	lo := msgPrefix(project, queue)
	iter, err := cc.c.db.newIter(&pebble.IterOptions{LowerBound: lo, UpperBound: keyUpperBound(lo)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []storage.Message
	for ok := iter.First(); ok; ok = iter.Next() {
		m, okDec := decodeMessage(iter.Value())
		if !okDec || m.Claim.ID != claimID {
			continue
		}
		if liveOnly && (m.ExpiredAt(nowMs) || !m.Claim.LiveAt(nowMs)) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// extendForClaim raises the message expiry to at least the claim expiry plus
// grace, and refreshes the reported TTL to the new effective remaining life.
// A message that already outlives the claim is left untouched.
func extendForClaim(m *storage.Message, claimExpMs, grace, nowMs int64) {
	want := claimExpMs + grace*1000
	if m.ExpiresMs < want {
		m.ExpiresMs = want
		m.TTL = (want - nowMs) / 1000
	}
}

// claimMetaAt derives claim metadata from a stamped reference. Claim ids are
// creation-time sortable, so age comes from the id itself.
func claimMetaAt(claimID string, ref storage.ClaimRef, nowMs int64) storage.ClaimMeta {
	meta := storage.ClaimMeta{ID: claimID, TTL: ref.TTL, ExpiresMs: ref.ExpiresMs}
	if parsed, err := id.Parse(claimID); err == nil {
		if age := (nowMs - parsed.TimeMs()) / 1000; age > 0 {
			meta.AgeSeconds = age
		}
	}
	return meta
}
