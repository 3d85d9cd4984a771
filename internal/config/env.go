package config

import (
	"os"
	"strconv"
	"time"
)

// FromEnv overlays QUILL_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("QUILL_STORAGE"); v != "" {
		cfg.Storage = v
	}
	if v := os.Getenv("QUILL_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("QUILL_POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv("QUILL_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("QUILL_POST_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Post.MaxAttempts = n
		}
	}
	if v := os.Getenv("QUILL_GC_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.GC.Interval = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("QUILL_GC_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.GC.Threshold = n
		}
	}
}
