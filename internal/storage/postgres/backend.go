// Package postgres provides a storage.Backend over PostgreSQL using pgx.
// Marker uniqueness rides on the messages primary key, so concurrent posts
// surface as unique violations that the message store retries, and claim
// stamping uses conditional UPDATEs with SKIP LOCKED so consumers never
// block each other.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quillmq/quill/internal/config"
	"github.com/quillmq/quill/internal/storage"
	"github.com/quillmq/quill/pkg/id"
	logpkg "github.com/quillmq/quill/pkg/log"
)

// Options configures Open.
type Options struct {
	DSN         string
	Retry       config.PostRetry
	GCThreshold int
	Logger      logpkg.Logger

	// NowMs overrides the clock, in unix milliseconds. All expiry predicates
	// are evaluated against this clock rather than the database's, so tests
	// can drive time.
	NowMs func() int64
}

// Backend implements storage.Backend over a pgx connection pool.
type Backend struct {
	pool        *pgxpool.Pool
	gen         *id.Generator
	nowMs       func() int64
	retry       config.PostRetry
	gcThreshold int
	logger      logpkg.Logger
}

var _ storage.Backend = (*Backend)(nil)

// Open connects to Postgres and applies the embedded migrations.
func Open(ctx context.Context, opts Options) (*Backend, error) {
	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	b := &Backend{
		pool:        pool,
		gen:         id.NewGenerator(),
		nowMs:       opts.NowMs,
		retry:       opts.Retry,
		gcThreshold: opts.GCThreshold,
		logger:      opts.Logger,
	}
	if b.nowMs == nil {
		b.nowMs = func() int64 { return time.Now().UnixMilli() }
	}
	if b.logger == nil {
		b.logger = logpkg.NewNop()
	}
	if b.retry.MaxAttempts <= 0 {
		b.retry = config.Default().Post
	}
	if b.gcThreshold <= 0 {
		b.gcThreshold = config.Default().GC.Threshold
	}
	if err := b.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) Queues() storage.QueueDirectory { return &queueDirectory{b: b} }
func (b *Backend) Messages() storage.MessageStore { return &messageStore{b: b} }
func (b *Backend) Claims() storage.ClaimEngine    { return &claimEngine{b: b} }

func (b *Backend) Close() error {
	b.pool.Close()
	return nil
}
