package gc

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quillmq/quill/internal/storage"
	"github.com/quillmq/quill/internal/storage/memory"
)

func TestSweepAllCoversEveryQueue(t *testing.T) {
	var ms atomic.Int64
	ms.Store(time.Now().UnixMilli())
	be := memory.New(memory.WithNowMs(ms.Load), memory.WithGCThreshold(1))
	t.Cleanup(func() { _ = be.Close() })
	ctx := context.Background()

	for _, q := range []storage.QueueRef{
		{Project: "p1", Name: "a"},
		{Project: "p1", Name: "b"},
		{Project: "p2", Name: "a"},
	} {
		if _, err := be.Queues().Create(ctx, q.Project, q.Name, nil); err != nil {
			t.Fatalf("create %v: %v", q, err)
		}
		batch := []storage.PostMessage{
			{TTL: 60, Body: json.RawMessage(`{}`)},
			{TTL: 60, Body: json.RawMessage(`{}`)},
			{TTL: 600, Body: json.RawMessage(`{}`)},
		}
		if _, err := be.Messages().Post(ctx, q.Project, q.Name, batch, "c"); err != nil {
			t.Fatalf("post %v: %v", q, err)
		}
	}
	ms.Add((61 * time.Second).Milliseconds())

	r := New(be, time.Minute, nil)
	r.SweepAll(ctx)

	for _, q := range []storage.QueueRef{{Project: "p1", Name: "a"}, {Project: "p1", Name: "b"}, {Project: "p2", Name: "a"}} {
		stats, err := be.Queues().Stats(ctx, q.Project, q.Name)
		if err != nil {
			t.Fatalf("stats %v: %v", q, err)
		}
		if stats.Free != 1 {
			t.Fatalf("queue %v free = %d after sweep, want 1", q, stats.Free)
		}
	}
}

type failingBackend struct {
	storage.Backend
	calls atomic.Int32
}

type failingMessages struct {
	storage.MessageStore
	calls *atomic.Int32
}

func (f *failingMessages) CollectGarbage(ctx context.Context, project, queue string) (int, error) {
	f.calls.Add(1)
	if queue == "broken" {
		return 0, errors.New("backend down")
	}
	return f.MessageStore.CollectGarbage(ctx, project, queue)
}

func (f *failingBackend) Messages() storage.MessageStore {
	return &failingMessages{MessageStore: f.Backend.Messages(), calls: &f.calls}
}

func TestSweepAllContinuesPastFailures(t *testing.T) {
	var ms atomic.Int64
	ms.Store(time.Now().UnixMilli())
	inner := memory.New(memory.WithNowMs(ms.Load), memory.WithGCThreshold(1))
	t.Cleanup(func() { _ = inner.Close() })
	be := &failingBackend{Backend: inner}
	ctx := context.Background()

	for _, name := range []string{"aaa", "broken", "zzz"} {
		if _, err := inner.Queues().Create(ctx, "p1", name, nil); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := inner.Messages().Post(ctx, "p1", name, []storage.PostMessage{
			{TTL: 60, Body: json.RawMessage(`{}`)},
			{TTL: 600, Body: json.RawMessage(`{}`)},
		}, "c"); err != nil {
			t.Fatalf("post %s: %v", name, err)
		}
	}
	ms.Add((61 * time.Second).Milliseconds())

	r := New(be, time.Minute, nil)
	r.SweepAll(ctx)

	if got := be.calls.Load(); got != 3 {
		t.Fatalf("gc visited %d queues, want 3", got)
	}
	// Queues after the failing one were still swept.
	stats, err := inner.Queues().Stats(ctx, "p1", "zzz")
	if err != nil || stats.Free != 1 {
		t.Fatalf("zzz stats = %+v (%v), want 1 free", stats, err)
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	be := memory.New()
	t.Cleanup(func() { _ = be.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	r := New(be, 10*time.Millisecond, nil)
	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop on context cancel")
	}
}
