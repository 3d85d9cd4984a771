// Package memory provides a storage.Backend held entirely in process memory.
// It is used by tests and by single-node deployments that can tolerate losing
// queues on restart. One mutex guards all state, so marker assignment never
// conflicts and posts never need the retry path durable backends have.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/quillmq/quill/internal/storage"
	"github.com/quillmq/quill/pkg/id"
	logpkg "github.com/quillmq/quill/pkg/log"
)

// Option configures a Backend.
type Option func(*Backend)

// WithNowMs injects the clock, in unix milliseconds. Tests use this to drive
// expiry deterministically.
func WithNowMs(now func() int64) Option {
	return func(b *Backend) { b.nowMs = now }
}

// WithLogger sets the backend logger.
func WithLogger(l logpkg.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// WithGCThreshold sets the minimum expired-message count before a sweep
// deletes anything.
func WithGCThreshold(n int) Option {
	return func(b *Backend) { b.gcThreshold = n }
}

type queueKey struct {
	project string
	name    string
}

// queueState holds one queue's directory record and messages. Messages live
// in a marker-ordered slice; markers are assigned from a counter that never
// rewinds, so append keeps the order.
type queueState struct {
	meta      map[string]interface{}
	createdMs int64
	next      uint64
	msgs      []storage.Message
	byID      map[string]int // index into msgs, rebuilt on deletion
}

func (q *queueState) reindex() {
	q.byID = make(map[string]int, len(q.msgs))
	for i, m := range q.msgs {
		q.byID[m.ID] = i
	}
}

// Backend implements storage.Backend over in-process maps.
type Backend struct {
	mu          sync.Mutex
	queues      map[queueKey]*queueState
	gen         *id.Generator
	nowMs       func() int64
	logger      logpkg.Logger
	gcThreshold int
}

var _ storage.Backend = (*Backend)(nil)

// New returns an empty in-memory backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		queues:      map[queueKey]*queueState{},
		gen:         id.NewGenerator(),
		nowMs:       func() int64 { return time.Now().UnixMilli() },
		logger:      logpkg.NewNop(),
		gcThreshold: 1,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Backend) Queues() storage.QueueDirectory { return (*queueDirectory)(b) }
func (b *Backend) Messages() storage.MessageStore { return (*messageStore)(b) }
func (b *Backend) Claims() storage.ClaimEngine    { return (*claimEngine)(b) }

// Close drops all state.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues = map[queueKey]*queueState{}
	return nil
}

// queue returns the state for an existing queue, or nil.
func (b *Backend) queue(project, name string) *queueState {
	return b.queues[queueKey{project: project, name: name}]
}

// sortedKeys returns all queue keys in (project, name) order for stable
// listings.
func (b *Backend) sortedKeys() []queueKey {
	keys := make([]queueKey, 0, len(b.queues))
	for k := range b.queues {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].project != keys[j].project {
			return keys[i].project < keys[j].project
		}
		return keys[i].name < keys[j].name
	})
	return keys
}
