package pebbleback

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/quillmq/quill/internal/storage"
)

func TestQueueCreateIsIdempotent(t *testing.T) {
	be, _ := openTestBackend(t)
	ctx := context.Background()

	created, err := be.Queues().Create(ctx, "p1", "jobs", map[string]interface{}{"flavor": "bulk"})
	if err != nil || !created {
		t.Fatalf("create: created=%v err=%v", created, err)
	}
	// Re-creating leaves the original metadata in place.
	created, err = be.Queues().Create(ctx, "p1", "jobs", map[string]interface{}{"flavor": "other"})
	if err != nil || created {
		t.Fatalf("recreate: created=%v err=%v", created, err)
	}
	md, err := be.Queues().GetMetadata(ctx, "p1", "jobs")
	if err != nil {
		t.Fatalf("get metadata: %v", err)
	}
	if md["flavor"] != "bulk" {
		t.Fatalf("metadata overwritten: %v", md)
	}
}

func TestQueueMetadataRoundTrip(t *testing.T) {
	be, _ := openTestBackend(t)
	ctx := context.Background()
	mustCreateQueue(t, be, "p1", "cfg")

	md, err := be.Queues().GetMetadata(ctx, "p1", "cfg")
	if err != nil {
		t.Fatalf("get metadata: %v", err)
	}
	if md == nil || len(md) != 0 {
		t.Fatalf("fresh queue metadata = %v, want empty map", md)
	}
	if err := be.Queues().SetMetadata(ctx, "p1", "cfg", map[string]interface{}{"ttl_hint": float64(120)}); err != nil {
		t.Fatalf("set metadata: %v", err)
	}
	md, _ = be.Queues().GetMetadata(ctx, "p1", "cfg")
	if md["ttl_hint"] != float64(120) {
		t.Fatalf("metadata = %v", md)
	}
	if err := be.Queues().SetMetadata(ctx, "p1", "ghost", nil); !errors.Is(err, storage.ErrQueueDoesNotExist) {
		t.Fatalf("set on missing queue: %v", err)
	}
	if _, err := be.Queues().GetMetadata(ctx, "p1", "ghost"); !errors.Is(err, storage.ErrQueueDoesNotExist) {
		t.Fatalf("get on missing queue: %v", err)
	}
}

func TestQueueDeleteCascadesButIsolates(t *testing.T) {
	be, _ := openTestBackend(t)
	ctx := context.Background()
	mustCreateQueue(t, be, "p1", "doomed")
	mustCreateQueue(t, be, "p1", "bystander")
	doomedIDs := postN(t, be, "p1", "doomed", "c", 3, 60)
	postN(t, be, "p1", "bystander", "c", 2, 60)

	if err := be.Queues().Delete(ctx, "p1", "doomed"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	exists, _ := be.Queues().Exists(ctx, "p1", "doomed")
	if exists {
		t.Fatal("deleted queue still exists")
	}
	for _, mid := range doomedIDs {
		if _, err := be.Messages().Get(ctx, "p1", "doomed", mid); !errors.Is(err, storage.ErrMessageDoesNotExist) {
			t.Fatalf("message %s survived cascade: %v", mid, err)
		}
	}
	// The neighbor queue and its messages are untouched.
	res, _ := be.Messages().List(ctx, "p1", "bystander", storage.ListOptions{Limit: 10, Echo: true})
	if len(res.Messages) != 2 {
		t.Fatalf("bystander has %d messages, want 2", len(res.Messages))
	}
	// Idempotent.
	if err := be.Queues().Delete(ctx, "p1", "doomed"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	// Recreating starts the marker sequence over.
	mustCreateQueue(t, be, "p1", "doomed")
	fresh := postN(t, be, "p1", "doomed", "c", 1, 60)
	m, err := be.Messages().Get(ctx, "p1", "doomed", fresh[0])
	if err != nil || m.Marker != 1 {
		t.Fatalf("recreated queue marker = %d (%v), want 1", m.Marker, err)
	}
}

func TestQueueListPaginatesByName(t *testing.T) {
	be, _ := openTestBackend(t)
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		mustCreateQueue(t, be, "p1", fmt.Sprintf("q-%02d", i))
	}
	mustCreateQueue(t, be, "p2", "other-project")

	var names []string
	marker := ""
	for {
		page, next, err := be.Queues().List(ctx, "p1", marker, 3)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		for _, q := range page {
			if q.Project != "p1" {
				t.Fatalf("foreign queue %s/%s in listing", q.Project, q.Name)
			}
			names = append(names, q.Name)
		}
		if next == "" {
			break
		}
		marker = next
	}
	if len(names) != 7 {
		t.Fatalf("listed %d queues, want 7", len(names))
	}
	for i := 1; i < len(names); i++ {
		if names[i] <= names[i-1] {
			t.Fatalf("names out of order: %q after %q", names[i], names[i-1])
		}
	}
}

func TestQueueListAllSpansProjects(t *testing.T) {
	be, _ := openTestBackend(t)
	ctx := context.Background()
	mustCreateQueue(t, be, "p1", "a")
	mustCreateQueue(t, be, "p2", "a")
	mustCreateQueue(t, be, "p2", "b")

	refs, err := be.Queues().ListAll(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(refs) != 3 {
		t.Fatalf("listed %d refs, want 3", len(refs))
	}
	seen := map[string]bool{}
	for _, r := range refs {
		seen[r.Project+"/"+r.Name] = true
	}
	for _, want := range []string{"p1/a", "p2/a", "p2/b"} {
		if !seen[want] {
			t.Fatalf("missing %s in %v", want, refs)
		}
	}
}

func TestQueueStatsOldestNewest(t *testing.T) {
	be, clk := openTestBackend(t)
	ctx := context.Background()
	mustCreateQueue(t, be, "p1", "aged")

	first := postN(t, be, "p1", "aged", "c", 1, 600)
	clk.advance(30 * time.Second)
	last := postN(t, be, "p1", "aged", "c", 1, 600)

	stats, err := be.Queues().Stats(ctx, "p1", "aged")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Free != 2 || stats.Claimed != 0 || stats.Total != 2 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.Oldest == nil || stats.Oldest.ID != first[0] || stats.Oldest.AgeSeconds != 30 {
		t.Fatalf("oldest = %+v", stats.Oldest)
	}
	if stats.Newest == nil || stats.Newest.ID != last[0] || stats.Newest.AgeSeconds != 0 {
		t.Fatalf("newest = %+v", stats.Newest)
	}
	if _, err := be.Queues().Stats(ctx, "p1", "ghost"); !errors.Is(err, storage.ErrQueueDoesNotExist) {
		t.Fatalf("stats on missing queue: %v", err)
	}
}
