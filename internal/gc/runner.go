// Package gc drives periodic garbage collection across every queue of every
// project. Deletion itself is a backend concern; the runner only decides when
// to sweep and survives any single queue failing.
package gc

import (
	"context"
	"math/rand"
	"time"

	"github.com/quillmq/quill/internal/metrics"
	"github.com/quillmq/quill/internal/storage"
	logpkg "github.com/quillmq/quill/pkg/log"
)

// Runner sweeps all queues on a jittered interval.
type Runner struct {
	backend  storage.Backend
	interval time.Duration
	logger   logpkg.Logger
	stopCh   chan struct{}
}

// New returns a runner. interval must be positive.
func New(backend storage.Backend, interval time.Duration, logger logpkg.Logger) *Runner {
	if logger == nil {
		logger = logpkg.NewNop()
	}
	return &Runner{
		backend:  backend,
		interval: interval,
		logger:   logger.With(logpkg.Component("gc")),
		stopCh:   make(chan struct{}),
	}
}

// Start blocks, sweeping until the context is cancelled or Stop is called.
// Callers run it in a goroutine.
func (r *Runner) Start(ctx context.Context) {
	r.logger.Info("garbage collector started", logpkg.F("interval", r.interval.String()))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("garbage collector stopped")
			return
		case <-r.stopCh:
			r.logger.Info("garbage collector stopped")
			return
		case <-time.After(r.tickInterval()):
			r.SweepAll(ctx)
		}
	}
}

// Stop terminates a Start loop. Safe to call once.
func (r *Runner) Stop() {
	close(r.stopCh)
}

// tickInterval adds up to 10% jitter so multiple instances sharing a store
// do not sweep in lockstep.
func (r *Runner) tickInterval() time.Duration {
	jitter := time.Duration(rand.Int63n(int64(r.interval)/10 + 1))
	return r.interval + jitter
}

// SweepAll runs one sweep over every queue. A failing queue is logged and
// skipped; storage errors never escape the runner.
func (r *Runner) SweepAll(ctx context.Context) {
	start := time.Now()
	refs, err := r.backend.Queues().ListAll(ctx)
	if err != nil {
		metrics.GCErrors.Inc()
		r.logger.Error("gc queue listing failed", logpkg.Err(err))
		return
	}
	total := 0
	for _, ref := range refs {
		if ctx.Err() != nil {
			return
		}
		n, err := r.backend.Messages().CollectGarbage(ctx, ref.Project, ref.Name)
		if err != nil {
			metrics.GCErrors.Inc()
			r.logger.Warn("gc sweep failed",
				logpkg.Str("project", ref.Project),
				logpkg.Str("queue", ref.Name),
				logpkg.Err(err))
			continue
		}
		total += n
	}
	metrics.GCDeleted.Add(float64(total))
	metrics.GCSweepDuration.Observe(time.Since(start).Seconds())
	if total > 0 {
		r.logger.Info("gc sweep finished",
			logpkg.Int("queues", len(refs)),
			logpkg.Int("deleted", total))
	}
}
