package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	cfgpkg "github.com/quillmq/quill/internal/config"
	"github.com/quillmq/quill/internal/metrics"
	"github.com/quillmq/quill/internal/storage"
	"github.com/quillmq/quill/internal/storage/memory"
	"github.com/quillmq/quill/internal/storage/pebbleback"
	"github.com/quillmq/quill/internal/storage/postgres"
	"github.com/quillmq/quill/internal/validation"
	logpkg "github.com/quillmq/quill/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	Fsync  pebbleback.FsyncMode
	// FsyncInterval is the group-commit window when Fsync is interval mode.
	FsyncInterval time.Duration
	Logger        logpkg.Logger
}

// Runtime wires the selected storage backend, config, and validation for a
// single-node instance.
type Runtime struct {
	backend   storage.Backend
	config    cfgpkg.Config
	validator *validation.Validator
	logger    logpkg.Logger
}

// Open initializes the backend named by the config and returns a Runtime.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewNop()
	}
	cfg := opts.Config

	var backend storage.Backend
	var err error
	switch cfg.Storage {
	case cfgpkg.StoragePebble:
		backend, err = pebbleback.Open(pebbleback.Options{
			DataDir:       cfg.DataDir,
			Fsync:         opts.Fsync,
			FsyncInterval: opts.FsyncInterval,
			Retry:         cfg.Post,
			GCThreshold:   cfg.GC.Threshold,
			Metrics:       metrics.StorageHook{},
			Logger:        logger.With(logpkg.Component("pebbleback")),
		})
	case cfgpkg.StorageMemory:
		backend = memory.New(memory.WithLogger(logger.With(logpkg.Component("memory"))),
			memory.WithGCThreshold(cfg.GC.Threshold))
	case cfgpkg.StoragePostgres:
		backend, err = postgres.Open(ctx, postgres.Options{
			DSN:         cfg.PostgresDSN,
			Retry:       cfg.Post,
			GCThreshold: cfg.GC.Threshold,
			Logger:      logger.With(logpkg.Component("postgres")),
		})
	default:
		return nil, fmt.Errorf("runtime: unknown storage kind %q", cfg.Storage)
	}
	if err != nil {
		return nil, err
	}

	validator, err := validation.New(cfg.Limits, cfg.Claims)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return &Runtime{
		backend:   backend,
		config:    cfg,
		validator: validator,
		logger:    logger,
	}, nil
}

// Close closes the underlying backend.
func (r *Runtime) Close() error {
	if r.backend == nil {
		return nil
	}
	return r.backend.Close()
}

// CheckHealth performs a lightweight storage round trip.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.backend == nil {
		return errors.New("backend not open")
	}
	_, err := r.backend.Queues().ListAll(ctx)
	return err
}

// Backend returns the active storage backend.
func (r *Runtime) Backend() storage.Backend { return r.backend }

// Validator returns the request validator built from the config limits.
func (r *Runtime) Validator() *validation.Validator { return r.validator }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
