// Package window provides the rolling-window counter behind the
// volume-detection heuristic: how many distinct trial registrations a
// single origin network address produced within the last N hours.
package window

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter counts distinct members per origin within a rolling window.
type Counter interface {
	// Record registers member under origin at the given time and returns
	// the number of distinct members seen from that origin within the
	// window ending at that time.
	Record(ctx context.Context, origin, member string, now time.Time) (int, error)
}

// Memory is the in-process Counter used in tests and single-node
// deployments.
type Memory struct {
	window time.Duration

	mu      sync.Mutex
	origins map[string]map[string]time.Time // origin -> member -> last seen
}

// NewMemory returns a Counter keeping per-origin members for the given
// window.
func NewMemory(window time.Duration) *Memory {
	return &Memory{
		window:  window,
		origins: make(map[string]map[string]time.Time),
	}
}

// Record implements Counter.
func (m *Memory) Record(ctx context.Context, origin, member string, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	members, ok := m.origins[origin]
	if !ok {
		members = make(map[string]time.Time)
		m.origins[origin] = members
	}
	members[member] = now

	cutoff := now.Add(-m.window)
	for id, seen := range members {
		if seen.Before(cutoff) {
			delete(members, id)
		}
	}
	return len(members), nil
}

// Redis is the shared Counter for multi-instance deployments, backed by a
// per-origin sorted set scored by observation time.
type Redis struct {
	client *redis.Client
	window time.Duration
	prefix string
}

// NewRedis returns a Counter over the given client.
func NewRedis(client *redis.Client, window time.Duration) *Redis {
	return &Redis{client: client, window: window, prefix: "entitlement:regwindow:"}
}

// Record implements Counter.
func (r *Redis) Record(ctx context.Context, origin, member string, now time.Time) (int, error) {
	key := r.prefix + origin
	cutoff := now.Add(-r.window)

	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", cutoff.UnixNano()))
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("record registration window: %w", err)
	}
	return int(card.Val()), nil
}
