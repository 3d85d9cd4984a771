package pebbleback

import (
	"encoding/json"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/quillmq/quill/internal/config"
	"github.com/quillmq/quill/internal/storage"
	"github.com/quillmq/quill/pkg/id"
	logpkg "github.com/quillmq/quill/pkg/log"
)

// Options configures the pebble backend.
type Options struct {
	// DataDir is the path to the Pebble database directory.
	DataDir string
	// Fsync determines when to sync the WAL.
	Fsync FsyncMode
	// FsyncInterval controls group-commit when Fsync=FsyncModeInterval.
	FsyncInterval time.Duration
	// Retry tunes the duplicate-marker retry protocol in Post.
	Retry config.PostRetry
	// GCThreshold is the minimum expired-message count before a sweep deletes.
	GCThreshold int
	// Metrics observes read/write/commit latencies and sizes. Optional.
	Metrics MetricsHook
	// Logger receives backend logs. Optional.
	Logger logpkg.Logger
	// NowMs overrides the clock. Tests only.
	NowMs func() int64
}

// Backend implements storage.Backend over a single Pebble database.
type Backend struct {
	c *core
}

var _ storage.Backend = (*Backend)(nil)

// core is the state shared by the three controllers.
type core struct {
	db          *db
	logger      logpkg.Logger
	gen         *id.Generator
	nowMs       func() int64
	retry       config.PostRetry
	gcThreshold int
	locks       stripedLocks
}

// Open creates or opens the backend at the configured data directory.
func Open(opts Options) (*Backend, error) {
	d, err := openDB(dbOptions{
		dataDir:       opts.DataDir,
		fsync:         opts.Fsync,
		fsyncInterval: opts.FsyncInterval,
		metrics:       opts.Metrics,
	})
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewNop()
	}
	now := opts.NowMs
	if now == nil {
		now = func() int64 { return time.Now().UnixMilli() }
	}
	retry := opts.Retry
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 10
	}
	if retry.MaxRetrySleep <= 0 {
		retry.MaxRetrySleep = 100 * time.Millisecond
	}
	threshold := opts.GCThreshold
	if threshold < 0 {
		threshold = 0
	}
	return &Backend{c: &core{
		db:          d,
		logger:      logger,
		gen:         id.NewGenerator(),
		nowMs:       now,
		retry:       retry,
		gcThreshold: threshold,
	}}, nil
}

// Queues returns the queue directory controller.
func (b *Backend) Queues() storage.QueueDirectory { return &QueueController{c: b.c} }

// Messages returns the message store controller.
func (b *Backend) Messages() storage.MessageStore { return &MessageController{c: b.c} }

// Claims returns the claim engine controller.
func (b *Backend) Claims() storage.ClaimEngine { return &ClaimController{c: b.c} }

// Close closes the underlying database.
func (b *Backend) Close() error { return b.c.db.close() }

// stripedLocks serializes check-and-commit sections per queue. The stripe
// latch stands in for the unique-index latch a database engine would hold
// around a constrained insert; it is held only across the existence check and
// batch commit, never across the marker read.
type stripedLocks struct {
	mus [128]sync.Mutex
}

func (s *stripedLocks) lock(project, queue string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(project))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(queue))
	mu := &s.mus[h.Sum32()%uint32(len(s.mus))]
	mu.Lock()
	return mu.Unlock
}

// queueExists reports whether the directory record is present.
func (c *core) queueExists(project, queue string) (bool, error) {
	_, err := c.db.get(qmetaKey(project, queue))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, errNotFound) {
		return false, nil
	}
	return false, err
}

// nextMarker returns 1 + the highest existing marker, or 1 for an empty
// queue. It is a lock-free point-in-time read: two concurrent producers may
// observe the same value, which the post retry protocol resolves.
func (c *core) nextMarker(project, queue string) (uint64, error) {
	lo := msgPrefix(project, queue)
	iter, err := c.db.newIter(&pebble.IterOptions{LowerBound: lo, UpperBound: keyUpperBound(lo)})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	if !iter.Last() {
		return 1, nil
	}
	return markerFromMsgKey(iter.Key()) + 1, nil
}

// getMessage loads and decodes the record at a marker.
func (c *core) getMessage(project, queue string, marker uint64) (storage.Message, error) {
	raw, err := c.db.get(msgKey(project, queue, marker))
	if err != nil {
		return storage.Message{}, err
	}
	var m storage.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return storage.Message{}, err
	}
	return m, nil
}

// putMessage encodes the record into the batch under its marker key.
func putMessage(b *pebble.Batch, project, queue string, m storage.Message) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return b.Set(msgKey(project, queue, m.Marker), raw, nil)
}

// decodeMessage unmarshals an iterator value. The value must be copied out
// before the iterator advances.
func decodeMessage(val []byte) (storage.Message, bool) {
	var m storage.Message
	if err := json.Unmarshal(val, &m); err != nil {
		return storage.Message{}, false
	}
	return m, true
}
