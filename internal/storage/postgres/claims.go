package postgres

import (
	"context"

	"github.com/quillmq/quill/internal/storage"
	"github.com/quillmq/quill/pkg/id"
)

type claimEngine struct {
	b *Backend
}

var _ storage.ClaimEngine = (*claimEngine)(nil)

// Create stamps up to limit oldest active messages with a new claim in one
// conditional UPDATE. SKIP LOCKED keeps concurrent consumers from blocking on
// each other; they simply pick past one another's rows.
func (e *claimEngine) Create(ctx context.Context, project, queue string, ttl, grace int64, limit int) (string, []storage.Message, error) {
	if limit <= 0 {
		limit = 10
	}
	exists, err := (&queueDirectory{b: e.b}).Exists(ctx, project, queue)
	if err != nil {
		return "", nil, err
	}
	if !exists {
		return "", nil, storage.ErrQueueDoesNotExist
	}

	claimID := e.b.gen.Next().String()
	now := e.b.nowMs()
	claimExp := now + ttl*1000
	want := claimExp + grace*1000

	rows, err := e.b.pool.Query(ctx, `
		WITH picked AS (
			SELECT marker
			FROM messages
			WHERE project = $1 AND queue = $2 AND expires_ms > $3 AND claim_expires_ms <= $3
			ORDER BY marker
			FOR UPDATE SKIP LOCKED
			LIMIT $4
		)
		UPDATE messages m
		SET claim_id = $5,
		    claim_ttl = $6,
		    claim_expires_ms = $7,
		    ttl = CASE WHEN m.expires_ms < $8 THEN ($8 - $3) / 1000 ELSE m.ttl END,
		    expires_ms = GREATEST(m.expires_ms, $8)
		FROM picked
		WHERE m.project = $1 AND m.queue = $2 AND m.marker = picked.marker
		RETURNING m.marker, m.id, m.ttl, m.created_ms, m.expires_ms, m.client_id, m.body, m.claim_id, m.claim_ttl, m.claim_expires_ms
	`, project, queue, now, limit, claimID, ttl, claimExp, want)
	if err != nil {
		return "", nil, err
	}
	defer rows.Close()

	var claimed []storage.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return "", nil, err
		}
		claimed = append(claimed, m)
	}
	if err := rows.Err(); err != nil {
		return "", nil, err
	}
	// RETURNING order is not guaranteed; restore marker order.
	for i := 1; i < len(claimed); i++ {
		for j := i; j > 0 && claimed[j].Marker < claimed[j-1].Marker; j-- {
			claimed[j], claimed[j-1] = claimed[j-1], claimed[j]
		}
	}
	return claimID, claimed, nil
}

func (e *claimEngine) Get(ctx context.Context, project, queue, claimID string) (storage.ClaimMeta, []storage.Message, error) {
	now := e.b.nowMs()
	rows, err := e.b.pool.Query(ctx, `
		SELECT `+msgColumns+`
		FROM messages
		WHERE project = $1 AND queue = $2 AND claim_id = $3
		  AND expires_ms > $4 AND claim_expires_ms > $4
		ORDER BY marker
	`, project, queue, claimID, now)
	if err != nil {
		return storage.ClaimMeta{}, nil, err
	}
	defer rows.Close()

	var covered []storage.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return storage.ClaimMeta{}, nil, err
		}
		covered = append(covered, m)
	}
	if err := rows.Err(); err != nil {
		return storage.ClaimMeta{}, nil, err
	}
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

// Update renews the lease on every message the live claim still covers. The
// liveness predicate is part of the UPDATE itself, so an expired claim can
// never be resurrected by a late renewal.
func (e *claimEngine) Update(ctx context.Context, project, queue, claimID string, ttl, grace int64) error {
	if ttl <= 0 {
		return &storage.ValidationError{Field: "claim_ttl", Reason: "update would expire the claim immediately"}
	}
	now := e.b.nowMs()
	claimExp := now + ttl*1000
	want := claimExp + grace*1000

	tag, err := e.b.pool.Exec(ctx, `
		UPDATE messages
		SET claim_ttl = $4,
		    claim_expires_ms = $5,
		    ttl = CASE WHEN expires_ms < $7 THEN ($7 - $6) / 1000 ELSE ttl END,
		    expires_ms = GREATEST(expires_ms, $7)
		WHERE project = $1 AND queue = $2 AND claim_id = $3
		  AND expires_ms > $6 AND claim_expires_ms > $6
	`, project, queue, claimID, ttl, claimExp, now, want)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrClaimDoesNotExist
	}
	return nil
}

// Delete releases every message referencing the claim, stale references
// included. Idempotent.
func (e *claimEngine) Delete(ctx context.Context, project, queue, claimID string) error {
	_, err := e.b.pool.Exec(ctx, `
		UPDATE messages
		SET claim_id = '', claim_ttl = 0, claim_expires_ms = $4
		WHERE project = $1 AND queue = $2 AND claim_id = $3
	`, project, queue, claimID, e.b.nowMs())
	return err
}
