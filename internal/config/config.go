package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Storage kinds selectable at startup.
const (
	StoragePebble   = "pebble"
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config is the top-level configuration. It is constructed at process start
// and passed by value into each component's constructor; nothing reads it
// ambiently.
type Config struct {
	// Storage selects the backend: pebble | memory | postgres.
	Storage string `json:"storage"`
	// DataDir is where the pebble backend keeps its files.
	DataDir string `json:"dataDir"`
	// PostgresDSN is the connection string for the postgres backend.
	PostgresDSN string `json:"postgresDSN"`
	// HTTPAddr is the transport listen address.
	HTTPAddr string `json:"httpAddr"`

	Limits Limits      `json:"limits"`
	Post   PostRetry   `json:"post"`
	GC     GCSettings  `json:"gc"`
	Claims ClaimLimits `json:"claims"`
}

// Limits bounds values accepted by the validation layer.
type Limits struct {
	// QueueNameRegex constrains queue names.
	QueueNameRegex string `json:"queueNameRegex"`
	// MinMessageTTL / MaxMessageTTL bound message TTLs in seconds.
	MinMessageTTL int64 `json:"minMessageTTL"`
	MaxMessageTTL int64 `json:"maxMessageTTL"`
	// DefaultMessageTTL applies when a post omits the TTL.
	DefaultMessageTTL int64 `json:"defaultMessageTTL"`
	// MaxMessagesPerPage caps listing and claim limits.
	MaxMessagesPerPage int `json:"maxMessagesPerPage"`
	// MaxMessagesPerPost caps batch size on post.
	MaxMessagesPerPost int `json:"maxMessagesPerPost"`
	// MaxMessageSize caps a single message body in bytes.
	MaxMessageSize int `json:"maxMessageSize"`
}

// PostRetry tunes the duplicate-marker retry protocol in Post.
type PostRetry struct {
	// MaxAttempts bounds the retry loop.
	MaxAttempts int `json:"maxAttempts"`
	// MaxRetrySleep is the upper bound of the linear backoff component.
	MaxRetrySleep time.Duration `json:"maxRetrySleep"`
	// MaxRetryJitter is the upper bound of the random jitter component.
	MaxRetryJitter time.Duration `json:"maxRetryJitter"`
}

// GCSettings tunes the garbage collector.
type GCSettings struct {
	// Interval between sweeps over all queues.
	Interval time.Duration `json:"interval"`
	// Threshold is the minimum number of expired messages a queue must hold
	// before a sweep bothers deleting anything.
	Threshold int `json:"threshold"`
}

// ClaimLimits bounds claim parameters.
type ClaimLimits struct {
	MinTTL   int64 `json:"minTTL"`
	MaxTTL   int64 `json:"maxTTL"`
	MaxGrace int64 `json:"maxGrace"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Storage:  StoragePebble,
		DataDir:  DefaultDataDir(),
		HTTPAddr: ":8888",
		Limits: Limits{
			QueueNameRegex:     `^[A-Za-z0-9_-]{1,64}$`,
			MinMessageTTL:      60,
			MaxMessageTTL:      1209600,
			DefaultMessageTTL:  3600,
			MaxMessagesPerPage: 20,
			MaxMessagesPerPost: 20,
			MaxMessageSize:     256 << 10,
		},
		Post: PostRetry{
			MaxAttempts:    10,
			MaxRetrySleep:  100 * time.Millisecond,
			MaxRetryJitter: 30 * time.Millisecond,
		},
		GC: GCSettings{
			Interval:  60 * time.Second,
			Threshold: 100,
		},
		Claims: ClaimLimits{
			MinTTL:   60,
			MaxTTL:   43200,
			MaxGrace: 43200,
		},
	}
}

// Load reads configuration from a JSON file layered over defaults. An empty
// path returns defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
