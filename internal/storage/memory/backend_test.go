package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quillmq/quill/internal/storage"
)

type testClock struct {
	ms atomic.Int64
}

func newTestClock() *testClock {
	c := &testClock{}
	c.ms.Store(time.Now().UnixMilli())
	return c
}

func (c *testClock) now() int64              { return c.ms.Load() }
func (c *testClock) advance(d time.Duration) { c.ms.Add(d.Milliseconds()) }

func openTestBackend(t *testing.T) (*Backend, *testClock) {
	t.Helper()
	clk := newTestClock()
	b := New(WithNowMs(clk.now), WithGCThreshold(1))
	t.Cleanup(func() { _ = b.Close() })
	return b, clk
}

func postN(t *testing.T, b *Backend, project, queue, clientID string, n int, ttl int64) []string {
	t.Helper()
	batch := make([]storage.PostMessage, n)
	for i := range batch {
		batch[i] = storage.PostMessage{TTL: ttl, Body: json.RawMessage(fmt.Sprintf(`{"n": %d}`, i))}
	}
	ids, err := b.Messages().Post(context.Background(), project, queue, batch, clientID)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	return ids
}

func TestLifecycleScenario(t *testing.T) {
	b, clk := openTestBackend(t)
	ctx := context.Background()

	if created, err := b.Queues().Create(ctx, "480924", "fizbit", nil); err != nil || !created {
		t.Fatalf("create queue: created=%v err=%v", created, err)
	}
	postN(t, b, "480924", "fizbit", "producer", 10, 300)

	stats, err := b.Queues().Stats(ctx, "480924", "fizbit")
	if err != nil || stats.Free != 10 || stats.Claimed != 0 {
		t.Fatalf("stats after post = %+v (%v)", stats, err)
	}

	claimID, claimed, err := b.Claims().Create(ctx, "480924", "fizbit", 60, 30, 5)
	if err != nil || len(claimed) != 5 {
		t.Fatalf("claim: %d messages, %v", len(claimed), err)
	}
	stats, _ = b.Queues().Stats(ctx, "480924", "fizbit")
	if stats.Free != 5 || stats.Claimed != 5 {
		t.Fatalf("stats after claim = %+v", stats)
	}

	if err := b.Messages().Delete(ctx, "480924", "fizbit", claimed[0].ID, claimID); err != nil {
		t.Fatalf("delete claimed message: %v", err)
	}
	stats, _ = b.Queues().Stats(ctx, "480924", "fizbit")
	if stats.Claimed != 4 {
		t.Fatalf("claimed = %d after delete, want 4", stats.Claimed)
	}

	clk.advance(61 * time.Second)
	stats, _ = b.Queues().Stats(ctx, "480924", "fizbit")
	if stats.Free != 9 || stats.Claimed != 0 {
		t.Fatalf("stats after claim expiry = %+v", stats)
	}
}

func TestPostAssignsSequentialMarkers(t *testing.T) {
	b, _ := openTestBackend(t)
	ctx := context.Background()
	_, _ = b.Queues().Create(ctx, "p1", "orders", nil)

	ids := postN(t, b, "p1", "orders", "c", 3, 60)
	for i, mid := range ids {
		m, err := b.Messages().Get(ctx, "p1", "orders", mid)
		if err != nil {
			t.Fatalf("get %s: %v", mid, err)
		}
		if m.Marker != uint64(i+1) {
			t.Fatalf("marker = %d, want %d", m.Marker, i+1)
		}
	}
	if _, err := b.Messages().Post(ctx, "p1", "ghost", []storage.PostMessage{{TTL: 60}}, "c"); !errors.Is(err, storage.ErrQueueDoesNotExist) {
		t.Fatalf("post to missing queue: %v", err)
	}
}

func TestMarkersSurviveDeletion(t *testing.T) {
	b, _ := openTestBackend(t)
	ctx := context.Background()
	_, _ = b.Queues().Create(ctx, "p1", "seq", nil)

	ids := postN(t, b, "p1", "seq", "c", 3, 60)
	if err := b.Messages().BulkDelete(ctx, "p1", "seq", ids); err != nil {
		t.Fatalf("bulk delete: %v", err)
	}
	// The counter does not rewind when the queue drains.
	next := postN(t, b, "p1", "seq", "c", 1, 60)
	m, err := b.Messages().Get(ctx, "p1", "seq", next[0])
	if err != nil || m.Marker != 4 {
		t.Fatalf("marker after drain = %d (%v), want 4", m.Marker, err)
	}
}

func TestListEchoAndPagination(t *testing.T) {
	b, _ := openTestBackend(t)
	ctx := context.Background()
	_, _ = b.Queues().Create(ctx, "p1", "mixed", nil)
	postN(t, b, "p1", "mixed", "me", 3, 60)
	postN(t, b, "p1", "mixed", "them", 2, 60)

	res, err := b.Messages().List(ctx, "p1", "mixed", storage.ListOptions{Limit: 10, ClientID: "me"})
	if err != nil || len(res.Messages) != 2 {
		t.Fatalf("echo=false: %d messages, %v", len(res.Messages), err)
	}

	var seen int
	marker := uint64(0)
	for {
		res, err := b.Messages().List(ctx, "p1", "mixed", storage.ListOptions{Limit: 2, Echo: true, Marker: marker})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(res.Messages) == 0 {
			break
		}
		seen += len(res.Messages)
		marker = res.Next
	}
	if seen != 5 {
		t.Fatalf("paged %d messages, want 5", seen)
	}
}

func TestClaimExpiryAndRelease(t *testing.T) {
	b, clk := openTestBackend(t)
	ctx := context.Background()
	_, _ = b.Queues().Create(ctx, "p1", "lease", nil)
	postN(t, b, "p1", "lease", "c", 2, 600)

	claimID, claimed, err := b.Claims().Create(ctx, "p1", "lease", 60, 0, 2)
	if err != nil || len(claimed) != 2 {
		t.Fatalf("claim: %v", err)
	}
	meta, covered, err := b.Claims().Get(ctx, "p1", "lease", claimID)
	if err != nil || meta.ID != claimID || len(covered) != 2 {
		t.Fatalf("get claim: %+v, %d, %v", meta, len(covered), err)
	}

	clk.advance(61 * time.Second)
	if _, _, err := b.Claims().Get(ctx, "p1", "lease", claimID); !errors.Is(err, storage.ErrClaimDoesNotExist) {
		t.Fatalf("expired claim: %v", err)
	}
	res, _ := b.Messages().List(ctx, "p1", "lease", storage.ListOptions{Limit: 10, Echo: true})
	if len(res.Messages) != 2 {
		t.Fatalf("released %d, want 2", len(res.Messages))
	}
}

func TestClaimUpdateAndDelete(t *testing.T) {
	b, clk := openTestBackend(t)
	ctx := context.Background()
	_, _ = b.Queues().Create(ctx, "p1", "renew", nil)
	postN(t, b, "p1", "renew", "c", 2, 600)

	claimID, _, err := b.Claims().Create(ctx, "p1", "renew", 60, 0, 2)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	clk.advance(50 * time.Second)
	if err := b.Claims().Update(ctx, "p1", "renew", claimID, 60, 0); err != nil {
		t.Fatalf("update: %v", err)
	}
	clk.advance(30 * time.Second)
	if _, covered, err := b.Claims().Get(ctx, "p1", "renew", claimID); err != nil || len(covered) != 2 {
		t.Fatalf("renewed claim: %d, %v", len(covered), err)
	}
	var verr *storage.ValidationError
	if err := b.Claims().Update(ctx, "p1", "renew", claimID, 0, 0); !errors.As(err, &verr) {
		t.Fatalf("update ttl=0: %v", err)
	}
	if err := b.Claims().Delete(ctx, "p1", "renew", claimID); err != nil {
		t.Fatalf("delete claim: %v", err)
	}
	res, _ := b.Messages().List(ctx, "p1", "renew", storage.ListOptions{Limit: 10, Echo: true})
	if len(res.Messages) != 2 {
		t.Fatalf("released %d, want 2", len(res.Messages))
	}
}

func TestGCPreservesHead(t *testing.T) {
	b, clk := openTestBackend(t)
	ctx := context.Background()
	_, _ = b.Queues().Create(ctx, "p1", "sweep", nil)
	postN(t, b, "p1", "sweep", "c", 5, 60)

	clk.advance(61 * time.Second)
	deleted, err := b.Messages().CollectGarbage(ctx, "p1", "sweep")
	if err != nil || deleted != 4 {
		t.Fatalf("gc deleted %d (%v), want 4", deleted, err)
	}
	next := postN(t, b, "p1", "sweep", "c", 1, 60)
	m, err := b.Messages().Get(ctx, "p1", "sweep", next[0])
	if err != nil || m.Marker != 6 {
		t.Fatalf("post-gc marker = %d (%v), want 6", m.Marker, err)
	}
}

func TestPopAndDeleteGuard(t *testing.T) {
	b, _ := openTestBackend(t)
	ctx := context.Background()
	_, _ = b.Queues().Create(ctx, "p1", "drain", nil)
	postN(t, b, "p1", "drain", "c", 3, 300)

	claimID, claimed, err := b.Claims().Create(ctx, "p1", "drain", 60, 0, 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v", err)
	}
	if err := b.Messages().Delete(ctx, "p1", "drain", claimed[0].ID, "wrong"); !errors.Is(err, storage.ErrNotPermitted) {
		t.Fatalf("wrong claim id: %v", err)
	}

	popped, err := b.Messages().Pop(ctx, "p1", "drain", 5)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	// Pop skips the claimed message.
	if len(popped) != 2 {
		t.Fatalf("popped %d, want 2", len(popped))
	}
	if err := b.Messages().Delete(ctx, "p1", "drain", claimed[0].ID, claimID); err != nil {
		t.Fatalf("delete with claim: %v", err)
	}
}

func TestQueueListScopedToProject(t *testing.T) {
	b, _ := openTestBackend(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _ = b.Queues().Create(ctx, "p1", fmt.Sprintf("q-%d", i), nil)
	}
	_, _ = b.Queues().Create(ctx, "p2", "other", nil)

	page, next, err := b.Queues().List(ctx, "p1", "", 3)
	if err != nil || len(page) != 3 || next != "q-2" {
		t.Fatalf("page 1: %d queues next=%q err=%v", len(page), next, err)
	}
	page, next, err = b.Queues().List(ctx, "p1", next, 3)
	if err != nil || len(page) != 2 || next != "" {
		t.Fatalf("page 2: %d queues next=%q err=%v", len(page), next, err)
	}
	refs, _ := b.Queues().ListAll(ctx)
	if len(refs) != 6 {
		t.Fatalf("list all: %d refs, want 6", len(refs))
	}
}
