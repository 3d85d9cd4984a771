// Package runtime wires the configured storage backend, validation, and
// config into a single-node Quill instance. It exposes Open/Close, a basic
// health check, and accessors the transport and garbage collector build on.
//
// Example:
//
//	cfg := config.Default()
//	rt, _ := runtime.Open(ctx, runtime.Options{Config: cfg, Fsync: pebbleback.FsyncModeAlways})
//	defer rt.Close()
//	_ = rt.CheckHealth(ctx)
//	ids, _ := rt.Backend().Messages().Post(ctx, project, queue, batch, clientID)
package runtime
