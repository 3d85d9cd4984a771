package pebbleback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quillmq/quill/internal/storage"
)

func TestGCPreservesHeadMessage(t *testing.T) {
	be, clk := openTestBackend(t)
	ctx := context.Background()
	mustCreateQueue(t, be, "p1", "sweep")
	ids := postN(t, be, "p1", "sweep", "c", 5, 60)

	clk.advance(61 * time.Second)
	deleted, err := be.Messages().CollectGarbage(ctx, "p1", "sweep")
	if err != nil {
		t.Fatalf("gc: %v", err)
	}
	if deleted != 4 {
		t.Fatalf("deleted %d, want 4 (head preserved)", deleted)
	}
	// The head record survives so the sequencer never reissues its marker.
	head, err := be.c.getMessage("p1", "sweep", 5)
	if err != nil {
		t.Fatalf("head record gone: %v", err)
	}
	if head.ID != ids[4] {
		t.Fatalf("head = %s, want %s", head.ID, ids[4])
	}
	// The next post continues the sequence past the preserved head.
	next := postN(t, be, "p1", "sweep", "c", 1, 60)
	m, err := be.Messages().Get(ctx, "p1", "sweep", next[0])
	if err != nil {
		t.Fatalf("get post-gc message: %v", err)
	}
	if m.Marker != 6 {
		t.Fatalf("post-gc marker = %d, want 6", m.Marker)
	}
}

func TestGCKeepsLiveMessages(t *testing.T) {
	be, clk := openTestBackend(t)
	ctx := context.Background()
	mustCreateQueue(t, be, "p1", "mixed")
	old := postN(t, be, "p1", "mixed", "c", 3, 60)
	clk.advance(61 * time.Second)
	fresh := postN(t, be, "p1", "mixed", "c", 3, 600)

	deleted, err := be.Messages().CollectGarbage(ctx, "p1", "mixed")
	if err != nil {
		t.Fatalf("gc: %v", err)
	}
	if deleted != 3 {
		t.Fatalf("deleted %d, want 3", deleted)
	}
	for _, mid := range old {
		if _, err := be.Messages().Get(ctx, "p1", "mixed", mid); !errors.Is(err, storage.ErrMessageDoesNotExist) {
			t.Fatalf("expired %s survived gc: %v", mid, err)
		}
	}
	for _, mid := range fresh {
		if _, err := be.Messages().Get(ctx, "p1", "mixed", mid); err != nil {
			t.Fatalf("live %s swept: %v", mid, err)
		}
	}
}

func TestGCHonorsThreshold(t *testing.T) {
	be, clk := openTestBackend(t)
	be.c.gcThreshold = 10
	ctx := context.Background()
	mustCreateQueue(t, be, "p1", "small")
	postN(t, be, "p1", "small", "c", 4, 60)
	postN(t, be, "p1", "small", "c", 1, 600)

	clk.advance(61 * time.Second)
	deleted, err := be.Messages().CollectGarbage(ctx, "p1", "small")
	if err != nil {
		t.Fatalf("gc: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("deleted %d below threshold, want 0", deleted)
	}
	// Expired records linger on disk but stay invisible to reads.
	res, _ := be.Messages().List(ctx, "p1", "small", storage.ListOptions{Limit: 10, Echo: true})
	if len(res.Messages) != 1 {
		t.Fatalf("listed %d, want 1", len(res.Messages))
	}
}

func TestGCEmptyAndMissingQueue(t *testing.T) {
	be, _ := openTestBackend(t)
	ctx := context.Background()
	mustCreateQueue(t, be, "p1", "empty")

	if deleted, err := be.Messages().CollectGarbage(ctx, "p1", "empty"); err != nil || deleted != 0 {
		t.Fatalf("gc empty queue: %d, %v", deleted, err)
	}
	if deleted, err := be.Messages().CollectGarbage(ctx, "p1", "ghost"); err != nil || deleted != 0 {
		t.Fatalf("gc missing queue: %d, %v", deleted, err)
	}
}

func TestGCSweepsClaimedExpired(t *testing.T) {
	be, clk := openTestBackend(t)
	ctx := context.Background()
	mustCreateQueue(t, be, "p1", "stale")
	postN(t, be, "p1", "stale", "c", 3, 60)

	// Claim two; everything, claims included, expires past the extended window.
	if _, claimed, err := be.Claims().Create(ctx, "p1", "stale", 30, 0, 2); err != nil || len(claimed) != 2 {
		t.Fatalf("claim: %v", err)
	}
	clk.advance(120 * time.Second)
	deleted, err := be.Messages().CollectGarbage(ctx, "p1", "stale")
	if err != nil {
		t.Fatalf("gc: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted %d, want 2 (head preserved)", deleted)
	}
}
