package domain

import (
	"context"
	"time"
)

// LockManager hands out exclusive, self-renewing leases. Acquire fails
// with ErrLockHeld while another holder is live; unlock is idempotent.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter reports whether one more call under key fits in limit
// calls per window, shared by every process on the same backend.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// SignalBus carries session events between processes: pub/sub for live
// listeners and a capped stream for late readers. Channels may be glob
// patterns on Subscribe.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// StreamMessage is one stream entry.
type StreamMessage struct {
	ID      string
	Payload []byte
}
