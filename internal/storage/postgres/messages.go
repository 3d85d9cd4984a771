package postgres

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quillmq/quill/internal/metrics"
	"github.com/quillmq/quill/internal/storage"
	logpkg "github.com/quillmq/quill/pkg/log"
)

type messageStore struct {
	b *Backend
}

var _ storage.MessageStore = (*messageStore)(nil)

const msgColumns = `marker, id, ttl, created_ms, expires_ms, client_id, body, claim_id, claim_ttl, claim_expires_ms`

func scanMessage(row pgx.Row) (storage.Message, error) {
	var m storage.Message
	err := row.Scan(&m.Marker, &m.ID, &m.TTL, &m.CreatedMs, &m.ExpiresMs,
		&m.ClientID, &m.Body, &m.Claim.ID, &m.Claim.TTL, &m.Claim.ExpiresMs)
	return m, err
}

// uniqueViolation reports whether err is a duplicate-key error, the signal
// that a concurrent producer took the marker range first.
func uniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Post inserts the batch with markers derived from a point-in-time MAX read.
// Each message commits individually so that when a duplicate marker cuts the
// batch short, the committed prefix stands and only the tail is retried with
// fresh markers.
func (s *messageStore) Post(ctx context.Context, project, queue string, messages []storage.PostMessage, clientID string) ([]string, error) {
	if len(messages) == 0 {
		return nil, nil
	}
	exists, err := (&queueDirectory{b: s.b}).Exists(ctx, project, queue)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, storage.ErrQueueDoesNotExist
	}

	ids := make([]string, 0, len(messages))
	pending := messages
	for attempt := 0; attempt < s.b.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ids, ctx.Err()
			case <-time.After(s.postSleep(attempt)):
			}
		}
		committed, conflicted, err := s.insertBatch(ctx, project, queue, pending, clientID)
		ids = append(ids, committed...)
		if err != nil {
			return ids, err
		}
		if !conflicted {
			return ids, nil
		}
		pending = pending[len(committed):]
		metrics.PostConflictRetries.Inc()
		s.b.logger.Debug("post marker conflict",
			logpkg.Str("queue", queue),
			logpkg.Int("attempt", attempt+1),
			logpkg.Int("remaining", len(pending)))
	}
	return ids, &storage.ConflictError{Succeeded: ids}
}

func (s *messageStore) insertBatch(ctx context.Context, project, queue string, pending []storage.PostMessage, clientID string) (committed []string, conflicted bool, err error) {
	var base uint64
	err = s.b.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(marker), 0) + 1 FROM messages WHERE project = $1 AND queue = $2
	`, project, queue).Scan(&base)
	if err != nil {
		return nil, false, err
	}

	now := s.b.nowMs()
	for i := range pending {
		mid := s.b.gen.Next().String()
		_, err := s.b.pool.Exec(ctx, `
			INSERT INTO messages (project, queue, marker, id, ttl, created_ms, expires_ms, client_id, body, claim_expires_ms)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $6)
		`, project, queue, base+uint64(i), mid, pending[i].TTL, now, now+pending[i].TTL*1000, clientID, pending[i].Body)
		if uniqueViolation(err) {
			return committed, true, nil
		}
		if err != nil {
			return committed, false, err
		}
		committed = append(committed, mid)
	}
	return committed, false, nil
}

func (s *messageStore) postSleep(attempt int) time.Duration {
	lin := time.Duration(int64(s.b.retry.MaxRetrySleep) * int64(attempt) / int64(s.b.retry.MaxAttempts))
	var jit time.Duration
	if s.b.retry.MaxRetryJitter > 0 {
		jit = time.Duration(rand.Int63n(int64(s.b.retry.MaxRetryJitter)))
	}
	return lin + jit
}

func (s *messageStore) List(ctx context.Context, project, queue string, opts storage.ListOptions) (storage.ListResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	now := s.b.nowMs()
	claimFilter := `AND claim_expires_ms <= $4`
	if opts.IncludeClaimed {
		claimFilter = ``
	}
	echoFilter := ``
	args := []interface{}{project, queue, opts.Marker, now, limit}
	if !opts.Echo && opts.ClientID != "" {
		echoFilter = `AND client_id <> $6`
		args = append(args, opts.ClientID)
	}
	rows, err := s.b.pool.Query(ctx, `
		SELECT `+msgColumns+`
		FROM messages
		WHERE project = $1 AND queue = $2 AND marker > $3 AND expires_ms > $4
		`+claimFilter+` `+echoFilter+`
		ORDER BY marker
		LIMIT $5
	`, args...)
	if err != nil {
		return storage.ListResult{}, err
	}
	defer rows.Close()

	res := storage.ListResult{Next: opts.Marker}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return storage.ListResult{}, err
		}
		res.Messages = append(res.Messages, m)
		res.Next = m.Marker
	}
	return res, rows.Err()
}

func (s *messageStore) Get(ctx context.Context, project, queue, messageID string) (storage.Message, error) {
	m, err := scanMessage(s.b.pool.QueryRow(ctx, `
		SELECT `+msgColumns+`
		FROM messages
		WHERE project = $1 AND queue = $2 AND id = $3 AND expires_ms > $4
	`, project, queue, messageID, s.b.nowMs()))
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.Message{}, storage.ErrMessageDoesNotExist
	}
	return m, err
}

func (s *messageStore) GetMulti(ctx context.Context, project, queue string, ids []string) ([]storage.Message, error) {
	rows, err := s.b.pool.Query(ctx, `
		SELECT `+msgColumns+`
		FROM messages
		WHERE project = $1 AND queue = $2 AND id = ANY($3) AND expires_ms > $4
		ORDER BY marker
	`, project, queue, ids, s.b.nowMs())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]storage.Message, 0, len(ids))
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *messageStore) Delete(ctx context.Context, project, queue, messageID, claimID string) error {
	if claimID == "" {
		_, err := s.b.pool.Exec(ctx, `
			DELETE FROM messages WHERE project = $1 AND queue = $2 AND id = $3
		`, project, queue, messageID)
		return err
	}
	// Claim guard: only the live holding claim may delete. The conditional
	// DELETE and the existence probe are separate statements, so a rejected
	// delete distinguishes "wrong claim" from "already gone".
	now := s.b.nowMs()
	tag, err := s.b.pool.Exec(ctx, `
		DELETE FROM messages
		WHERE project = $1 AND queue = $2 AND id = $3
		  AND claim_id = $4 AND claim_expires_ms > $5
	`, project, queue, messageID, claimID, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var one int
	err = s.b.pool.QueryRow(ctx, `
		SELECT 1 FROM messages WHERE project = $1 AND queue = $2 AND id = $3
	`, project, queue, messageID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	return storage.ErrNotPermitted
}

func (s *messageStore) BulkDelete(ctx context.Context, project, queue string, ids []string) error {
	_, err := s.b.pool.Exec(ctx, `
		DELETE FROM messages WHERE project = $1 AND queue = $2 AND id = ANY($3)
	`, project, queue, ids)
	return err
}

// Pop deletes and returns the oldest active messages in one statement, so a
// message is never returned without also being removed.
func (s *messageStore) Pop(ctx context.Context, project, queue string, limit int) ([]storage.Message, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := s.b.pool.Query(ctx, `
		WITH picked AS (
			SELECT marker
			FROM messages
			WHERE project = $1 AND queue = $2 AND expires_ms > $3 AND claim_expires_ms <= $3
			ORDER BY marker
			FOR UPDATE SKIP LOCKED
			LIMIT $4
		)
		DELETE FROM messages m
		USING picked
		WHERE m.project = $1 AND m.queue = $2 AND m.marker = picked.marker
		RETURNING m.marker, m.id, m.ttl, m.created_ms, m.expires_ms, m.client_id, m.body, m.claim_id, m.claim_ttl, m.claim_expires_ms
	`, project, queue, s.b.nowMs(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CollectGarbage deletes expired rows below the queue head. The head row is
// preserved even when expired so the next marker read stays monotonic.
func (s *messageStore) CollectGarbage(ctx context.Context, project, queue string) (int, error) {
	now := s.b.nowMs()
	var expired int
	err := s.b.pool.QueryRow(ctx, `
		SELECT count(*) FROM messages
		WHERE project = $1 AND queue = $2 AND expires_ms <= $3
	`, project, queue, now).Scan(&expired)
	if err != nil {
		return 0, err
	}
	if expired < s.b.gcThreshold {
		return 0, nil
	}
	tag, err := s.b.pool.Exec(ctx, `
		DELETE FROM messages
		WHERE project = $1 AND queue = $2 AND expires_ms <= $3
		  AND marker < (SELECT MAX(marker) FROM messages WHERE project = $1 AND queue = $2)
	`, project, queue, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
