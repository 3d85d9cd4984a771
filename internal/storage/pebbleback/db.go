package pebbleback

import (
	"context"
	"errors"
	"time"

	"github.com/cockroachdb/pebble"
)

// FsyncMode defines durability behavior for write operations.
type FsyncMode int

const (
	FsyncModeUnspecified FsyncMode = iota
	// FsyncModeAlways requests a WAL fsync on each committed batch/write.
	FsyncModeAlways
	// FsyncModeInterval enables group-commit by allowing Pebble to coalesce WAL
	// syncs for operations within the configured interval.
	FsyncModeInterval
	// FsyncModeNever avoids forcing WAL syncs from the application. Pebble may
	// still sync based on its own policies. This mode trades durability latency
	// for throughput and should be used with care.
	FsyncModeNever
)

// MetricsHook is a minimal hook surface for storage observations.
type MetricsHook interface {
	ObserveWrite(elapsed time.Duration, bytes int)
	ObserveRead(elapsed time.Duration, bytes int)
	ObserveBatchCommit(elapsed time.Duration, numOps int, bytes int)
}

// NoopMetrics is used when no metrics hook is provided.
type NoopMetrics struct{}

func (NoopMetrics) ObserveWrite(time.Duration, int)            {}
func (NoopMetrics) ObserveRead(time.Duration, int)             {}
func (NoopMetrics) ObserveBatchCommit(time.Duration, int, int) {}

// dbOptions configures the Pebble wrapper.
type dbOptions struct {
	dataDir       string
	fsync         FsyncMode
	fsyncInterval time.Duration
	pebbleOptions *pebble.Options
	metrics       MetricsHook
}

// db wraps a Pebble database instance with fsync policy and basic helpers.
type db struct {
	inner     *pebble.DB
	writeSync bool
	metrics   MetricsHook
}

// errNotFound is the wrapper-level missing-key error.
var errNotFound = pebble.ErrNotFound

func openDB(opts dbOptions) (*db, error) {
	if opts.dataDir == "" {
		return nil, errors.New("pebbleback: data dir is required")
	}

	po := opts.pebbleOptions
	if po == nil {
		po = &pebble.Options{}
	}

	// Configure group-commit via WALMinSyncInterval when desired.
	switch opts.fsync {
	case FsyncModeAlways:
		// Force Sync on each write; WALMinSyncInterval left at default.
	case FsyncModeInterval:
		if opts.fsyncInterval <= 0 {
			opts.fsyncInterval = 5 * time.Millisecond
		}
		po.WALMinSyncInterval = func() time.Duration { return opts.fsyncInterval }
	case FsyncModeNever:
	default:
		// Default to small group-commit for a reasonable latency/throughput tradeoff.
		po.WALMinSyncInterval = func() time.Duration { return 5 * time.Millisecond }
	}

	inner, err := pebble.Open(opts.dataDir, po)
	if err != nil {
		return nil, err
	}

	metrics := opts.metrics
	if metrics == nil {
		metrics = NoopMetrics{}
	}

	return &db{
		inner:     inner,
		writeSync: opts.fsync == FsyncModeAlways,
		metrics:   metrics,
	}, nil
}

func (d *db) close() error {
	if d == nil || d.inner == nil {
		return nil
	}
	return d.inner.Close()
}

func (d *db) newBatch() *pebble.Batch {
	return d.inner.NewBatch()
}

// commitBatch commits the provided batch with the configured fsync policy.
func (d *db) commitBatch(_ context.Context, b *pebble.Batch) error {
	if b == nil {
		return errors.New("pebbleback: nil batch")
	}
	start := time.Now()
	size := b.Len()
	defer d.metrics.ObserveBatchCommit(time.Since(start), int(b.Count()), size)

	syncMode := pebble.NoSync
	if d.writeSync {
		syncMode = pebble.Sync
	}
	return b.Commit(syncMode)
}

// set writes a key using a small internal batch respecting fsync policy.
func (d *db) set(key, value []byte) error {
	b := d.inner.NewBatch()
	defer b.Close()
	if err := b.Set(key, value, nil); err != nil {
		return err
	}
	return d.commitBatch(context.Background(), b)
}

// get copies the value for the given key.
func (d *db) get(key []byte) ([]byte, error) {
	start := time.Now()
	val, closer, err := d.inner.Get(key)
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	buf := append([]byte(nil), val...)
	d.metrics.ObserveRead(time.Since(start), len(buf))
	return buf, nil
}

func (d *db) newIter(opts *pebble.IterOptions) (*pebble.Iterator, error) {
	return d.inner.NewIter(opts)
}

// compactRange requests compaction of the key range [start, end).
func (d *db) compactRange(start, end []byte) error {
	return d.inner.Compact(start, end, true)
}
