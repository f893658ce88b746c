// Package config centralizes the tunables a StreamingContext and its states
// read: commit deadlines, coordination-store connection settings, and the
// ambient logging/metrics toggles.
package config

import (
	"time"

	"github.com/rkeytacked/nakadi/internal/logging"
)

// ZKConfig describes how to reach the coordination store.
type ZKConfig struct {
	// Addrs are the ZooKeeper ensemble host:port pairs.
	// Default: ["127.0.0.1:2181"]
	Addrs []string

	// Chroot names a subtree to namespace paths under, e.g. "/nakadi".
	// coordination.Dial does not take it, and ZKStore paths always start at
	// /subscriptions.
	// Default: "/nakadi"
	Chroot string

	// SessionTimeout is the ZooKeeper session timeout.
	// Default: 15s
	SessionTimeout time.Duration
}

// Config holds the closing-relevant and ambient configuration named in
// spec.md §6, plus the coordination-store and observability settings a
// runnable repository needs in addition.
type Config struct {
	// CommitTimeoutMS is the configured maximum time to wait for outstanding
	// commits. ClosingState does not read this field: it computes its wait
	// from the session's own topology.Session.CommitTimeoutMS.
	// Default: 60000 (60s)
	CommitTimeoutMS int64

	// KafkaPollTimeout is opaque to this subsystem; it is threaded through to
	// the out-of-scope poll/read path only.
	// Default: 1s
	KafkaPollTimeout time.Duration

	// TaskQueueIdleTimeout is the long wait the task loop uses between
	// spurious-wake checks (spec §4.2: "a long timeout (>= 1 hour)").
	// Default: 1h
	TaskQueueIdleTimeout time.Duration

	// ZK configures the coordination-store client.
	ZK ZKConfig

	// Logging configures the package-level logger.
	Logging logging.Config

	// MetricsEnabled records whether the prometheus collectors in
	// internal/metrics are to be registered; metrics.NewRegistry does not
	// consult it. Default: true
	MetricsEnabled bool
}

// Default centralizes default values, applied whenever a caller does not
// supply its own Config.
func Default() Config {
	return Config{
		CommitTimeoutMS:      60_000,
		KafkaPollTimeout:     time.Second,
		TaskQueueIdleTimeout: time.Hour,
		ZK: ZKConfig{
			Addrs:          []string{"127.0.0.1:2181"},
			Chroot:         "/nakadi",
			SessionTimeout: 15 * time.Second,
		},
		Logging:        logging.Config{Level: logging.InfoLevel},
		MetricsEnabled: true,
	}
}
