package dedupe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)

	seen, err := store.Seen(ctx, "notification", "01J")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, store.Mark(ctx, "notification", "01J"))
	seen, err = store.Seen(ctx, "notification", "01J")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = store.Seen(ctx, "audit", "01J")
	require.NoError(t, err)
	assert.False(t, seen, "subscribers are tracked independently")
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Mark(ctx, "audit", "01J"))
	now = now.Add(2 * time.Minute)

	seen, err := store.Seen(ctx, "audit", "01J")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestNewMemoryStoreDefaultTTL(t *testing.T) {
	assert.Equal(t, DefaultTTL, NewMemoryStore(0).ttl)
	assert.Equal(t, DefaultTTL, NewRedisStore(nil, -1).ttl)
}

type fakeRedis struct {
	redis.Cmdable
	keys map[string]time.Duration
	err  error
}

func (f *fakeRedis) Exists(ctx context.Context, keys ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.keys[k]; ok {
			n++
		}
	}
	cmd.SetVal(n)
	return cmd
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	if _, ok := f.keys[key]; ok {
		cmd.SetVal(false)
		return cmd
	}
	f.keys[key] = expiration
	cmd.SetVal(true)
	return cmd
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	client := &fakeRedis{keys: map[string]time.Duration{}}
	store := NewRedisStore(client, time.Hour)

	seen, err := store.Seen(ctx, "notification", "01J")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, store.Mark(ctx, "notification", "01J"))
	assert.Equal(t, time.Hour, client.keys["crmbus:dedupe:notification:01J"])

	seen, err = store.Seen(ctx, "notification", "01J")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestRedisStoreErrors(t *testing.T) {
	ctx := context.Background()
	store := NewRedisStore(&fakeRedis{err: errors.New("connection refused")}, time.Hour)

	_, err := store.Seen(ctx, "audit", "01J")
	assert.ErrorContains(t, err, "dedupe lookup")
	assert.ErrorContains(t, store.Mark(ctx, "audit", "01J"), "dedupe mark")
}
