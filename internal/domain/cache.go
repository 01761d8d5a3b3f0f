package domain

import (
	"context"
	"time"
)

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// MarketViewCache keeps recently read market snapshots.
type MarketViewCache interface {
	Set(ctx context.Context, view MarketView, ttl time.Duration) error
	Get(ctx context.Context, marketID string) (MarketView, error)
	Invalidate(ctx context.Context, marketID string) error
}

// Channel names used on the signal bus.
const (
	ChannelTx          = "ch:tx"
	ChannelStepsPrefix = "ch:steps:"
	StreamRuns         = "stream:runs"
)

// StepsChannel returns the pub/sub channel carrying a run's step snapshots.
func StepsChannel(runID string) string { return ChannelStepsPrefix + runID }

// RateLimiter throttles callers by key.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
