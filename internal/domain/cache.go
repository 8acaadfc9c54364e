package domain

import (
	"context"
	"time"
)

// LockManager provides distributed locking. Used as the single-instance
// guard: the process acquires a lock named after its strategy set at startup
// and exits if another instance already holds it.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams. Pub/sub carries JSON
// snapshots from strategies to the WebSocket hub; the stream side keeps an
// append-only journal of notification events for the dashboard.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// RateLimiter enforces request-rate limits shared across goroutines and
// process restarts. Allow counts a request against the key's sliding window;
// Wait blocks until a request is permitted or the context is cancelled.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}
