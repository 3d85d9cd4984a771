package serverrun

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	cfgpkg "github.com/quillmq/quill/internal/config"
	"github.com/quillmq/quill/internal/gc"
	"github.com/quillmq/quill/internal/runtime"
	httpserver "github.com/quillmq/quill/internal/server/http"
	"github.com/quillmq/quill/internal/storage/pebbleback"
	logpkg "github.com/quillmq/quill/pkg/log"
)

// Options configures Run.
type Options struct {
	Config        cfgpkg.Config
	Fsync         pebbleback.FsyncMode
	FsyncInterval time.Duration
	Logger        logpkg.Logger
}

// Run starts the HTTP server and the garbage collector and blocks until ctx
// is cancelled or a termination signal arrives.
func Run(ctx context.Context, opts Options) error {
	// Layer a local signal context over the caller's so signal delivery is
	// observed even when the caller passes context.Background().
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewNop()
	}

	rt, err := runtime.Open(sctx, runtime.Options{
		Config:        opts.Config,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	logger.Info("starting quill server",
		logpkg.Str("storage", opts.Config.Storage),
		logpkg.Str("http", opts.Config.HTTPAddr),
		logpkg.Str("gc_interval", opts.Config.GC.Interval.String()))

	collector := gc.New(rt.Backend(), opts.Config.GC.Interval, logger)
	hsrv := httpserver.New(rt, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		collector.Start(sctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hsrv.ListenAndServe(sctx, opts.Config.HTTPAddr); err != nil && sctx.Err() == nil {
			logger.Error("http server failed", logpkg.Err(err))
			stop()
		}
	}()

	<-sctx.Done()
	// Stop the servers before the runtime so in-flight handlers never see a
	// closed backend.
	hsrv.Close()
	wg.Wait()
	return nil
}
