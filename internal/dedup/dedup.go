// Package dedup remembers webhook message ids so provider retries are
// applied once.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper reports whether id was already seen within its window and
// records it otherwise. Forget releases an id whose processing failed so
// a redelivery is applied.
type Deduper interface {
	Seen(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

// Memory is a process-local Deduper.
type Memory struct {
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]time.Time
	calls   int
}

func NewMemory(window time.Duration) *Memory {
	if window <= 0 {
		window = time.Hour
	}
	return &Memory{window: window, now: time.Now, entries: make(map[string]time.Time)}
}

func (m *Memory) Seen(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.calls++
	if m.calls%256 == 0 {
		m.sweepLocked(now)
	}
	if at, ok := m.entries[id]; ok && now.Sub(at) < m.window {
		return true, nil
	}
	m.entries[id] = now
	return false, nil
}

func (m *Memory) Forget(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

func (m *Memory) sweepLocked(now time.Time) {
	for id, at := range m.entries {
		if now.Sub(at) >= m.window {
			delete(m.entries, id)
		}
	}
}

// Redis shares seen ids across coordinator replicas with SET NX.
type Redis struct {
	client *redis.Client
	prefix string
	window time.Duration
}

func NewRedis(client *redis.Client, prefix string, window time.Duration) *Redis {
	if window <= 0 {
		window = time.Hour
	}
	if prefix == "" {
		prefix = "zorder:webhook:"
	}
	return &Redis{client: client, prefix: prefix, window: window}
}

// OpenRedis parses a redis:// URL and verifies the connection.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func (r *Redis) Seen(ctx context.Context, id string) (bool, error) {
	set, err := r.client.SetNX(ctx, r.prefix+id, 1, r.window).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return !set, nil
}

func (r *Redis) Forget(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.prefix+id).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
