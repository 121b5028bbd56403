package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMemoryWindow(t *testing.T) {
	now := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	m := NewMemory(10, func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := m.Allow(ctx, "sign:alice", 2, time.Minute)
		require.NoError(t, err)
		require.True(t, d.Allowed)
		require.Equal(t, 1-i, d.Remaining)
	}
	d, err := m.Allow(ctx, "sign:alice", 2, time.Minute)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, now.Add(time.Minute), d.ResetAt)

	d, err = m.Allow(ctx, "sign:bob", 2, time.Minute)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	now = now.Add(time.Minute + time.Second)
	d, err = m.Allow(ctx, "sign:alice", 2, time.Minute)
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestMemoryDisabledAndCapacity(t *testing.T) {
	now := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	m := NewMemory(1, func() time.Time { return now })
	ctx := context.Background()

	d, err := m.Allow(ctx, "any", 0, time.Minute)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	_, err = m.Allow(ctx, "a", 5, time.Minute)
	require.NoError(t, err)
	_, err = m.Allow(ctx, "b", 5, time.Minute)
	require.ErrorIs(t, err, ErrCapacity)

	now = now.Add(2 * time.Minute)
	_, err = m.Allow(ctx, "b", 5, time.Minute)
	require.NoError(t, err)
}

func TestDecodeReply(t *testing.T) {
	now := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	d, err := decodeReply([]any{int64(3), int64(1500)}, 3, now)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Zero(t, d.Remaining)
	require.Equal(t, now.Add(1500*time.Millisecond), d.ResetAt)

	d, err = decodeReply([]any{int64(4), int64(-1)}, 3, now)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, now, d.ResetAt)

	_, err = decodeReply("OK", 3, now)
	require.Error(t, err)
}

func TestRedisRequiresClient(t *testing.T) {
	_, err := NewRedis(nil, "")
	require.Error(t, err)

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	defer client.Close()
	r, err := NewRedis(client, "")
	require.NoError(t, err)
	_, err = r.Allow(context.Background(), "k", 1, time.Second)
	require.Error(t, err)
}
