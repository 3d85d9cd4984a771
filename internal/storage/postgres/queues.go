package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/quillmq/quill/internal/storage"
)

type queueDirectory struct {
	b *Backend
}

var _ storage.QueueDirectory = (*queueDirectory)(nil)

func (d *queueDirectory) Create(ctx context.Context, project, queue string, metadata map[string]interface{}) (bool, error) {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return false, err
	}
	tag, err := d.b.pool.Exec(ctx, `
		INSERT INTO queues (project, name, metadata, created_ms)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project, name) DO NOTHING
	`, project, queue, raw, d.b.nowMs())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (d *queueDirectory) Delete(ctx context.Context, project, queue string) error {
	// Directory record and messages go in one transaction so a racing post
	// sees either the full queue or none of it.
	tx, err := d.b.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM queues WHERE project = $1 AND name = $2`, project, queue); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE project = $1 AND queue = $2`, project, queue); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (d *queueDirectory) Exists(ctx context.Context, project, queue string) (bool, error) {
	var one int
	err := d.b.pool.QueryRow(ctx, `SELECT 1 FROM queues WHERE project = $1 AND name = $2`, project, queue).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (d *queueDirectory) GetMetadata(ctx context.Context, project, queue string) (map[string]interface{}, error) {
	var raw []byte
	err := d.b.pool.QueryRow(ctx, `SELECT metadata FROM queues WHERE project = $1 AND name = $2`, project, queue).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrQueueDoesNotExist
	}
	if err != nil {
		return nil, err
	}
	var md map[string]interface{}
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, err
	}
	return md, nil
}

func (d *queueDirectory) SetMetadata(ctx context.Context, project, queue string, metadata map[string]interface{}) error {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	tag, err := d.b.pool.Exec(ctx, `
		UPDATE queues SET metadata = $3 WHERE project = $1 AND name = $2
	`, project, queue, raw)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrQueueDoesNotExist
	}
	return nil
}

func (d *queueDirectory) List(ctx context.Context, project, marker string, limit int) ([]storage.Queue, string, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := d.b.pool.Query(ctx, `
		SELECT project, name, metadata, created_ms
		FROM queues
		WHERE project = $1 AND name > $2
		ORDER BY name
		LIMIT $3
	`, project, marker, limit)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var out []storage.Queue
	for rows.Next() {
		var q storage.Queue
		var raw []byte
		if err := rows.Scan(&q.Project, &q.Name, &raw, &q.CreatedMs); err != nil {
			return nil, "", err
		}
		if err := json.Unmarshal(raw, &q.Metadata); err != nil {
			return nil, "", err
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].Name
	}
	return out, next, nil
}

func (d *queueDirectory) ListAll(ctx context.Context) ([]storage.QueueRef, error) {
	rows, err := d.b.pool.Query(ctx, `SELECT project, name FROM queues ORDER BY project, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.QueueRef
	for rows.Next() {
		var r storage.QueueRef
		if err := rows.Scan(&r.Project, &r.Name); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *queueDirectory) Stats(ctx context.Context, project, queue string) (storage.QueueStats, error) {
	exists, err := d.Exists(ctx, project, queue)
	if err != nil {
		return storage.QueueStats{}, err
	}
	if !exists {
		return storage.QueueStats{}, storage.ErrQueueDoesNotExist
	}
	now := d.b.nowMs()
	var stats storage.QueueStats
	err = d.b.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE claim_expires_ms <= $3),
			count(*) FILTER (WHERE claim_expires_ms > $3)
		FROM messages
		WHERE project = $1 AND queue = $2 AND expires_ms > $3
	`, project, queue, now).Scan(&stats.Free, &stats.Claimed)
	if err != nil {
		return storage.QueueStats{}, err
	}
	stats.Total = stats.Free + stats.Claimed

	for _, q := range []struct {
		order string
		dst   **storage.MessageStat
	}{
		{"ASC", &stats.Oldest},
		{"DESC", &stats.Newest},
	} {
		var stat storage.MessageStat
		err := d.b.pool.QueryRow(ctx, `
			SELECT id, created_ms
			FROM messages
			WHERE project = $1 AND queue = $2 AND expires_ms > $3 AND claim_expires_ms <= $3
			ORDER BY marker `+q.order+`
			LIMIT 1
		`, project, queue, now).Scan(&stat.ID, &stat.CreatedMs)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return storage.QueueStats{}, err
		}
		stat.AgeSeconds = (now - stat.CreatedMs) / 1000
		*q.dst = &stat
	}
	return stats, nil
}
