package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryWindow(t *testing.T) {
	m := NewMemory(time.Hour)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	seen, err := m.Seen(ctx, "wamid.1")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, _ = m.Seen(ctx, "wamid.1")
	assert.True(t, seen)

	now = now.Add(2 * time.Hour)
	seen, _ = m.Seen(ctx, "wamid.1")
	assert.False(t, seen, "entries expire after the window")
}

func TestMemoryForget(t *testing.T) {
	m := NewMemory(time.Hour)
	ctx := context.Background()

	_, _ = m.Seen(ctx, "wamid.2")
	require.NoError(t, m.Forget(ctx, "wamid.2"))

	seen, err := m.Seen(ctx, "wamid.2")
	require.NoError(t, err)
	assert.False(t, seen, "a forgotten id is processed again")

	assert.NoError(t, m.Forget(ctx, "never-seen"))
}

func TestMemorySweep(t *testing.T) {
	m := NewMemory(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = m.Seen(ctx, "old")
	now = now.Add(time.Hour)
	for i := 0; i < 256; i++ {
		_, _ = m.Seen(ctx, "fresh")
	}
	m.mu.Lock()
	_, stillThere := m.entries["old"]
	m.mu.Unlock()
	assert.False(t, stillThere)
}

func TestRedisUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	r := NewRedis(client, "", 0)
	_, err := r.Seen(context.Background(), "x")
	assert.Error(t, err)
	assert.Error(t, r.Forget(context.Background(), "x"))
}

func TestOpenRedisBadURL(t *testing.T) {
	_, err := OpenRedis(context.Background(), "not-a-url://")
	assert.Error(t, err)
}
