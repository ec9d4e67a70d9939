package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	ID    string `json:"id"`
	Stock int    `json:"stock"`
}

func TestMemorySetGetDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	var got item
	assert.False(t, c.Get(ctx, "product:p1", &got))

	require.NoError(t, c.Set(ctx, "product:p1", item{ID: "p1", Stock: 3}, time.Minute))
	require.True(t, c.Get(ctx, "product:p1", &got))
	assert.Equal(t, item{ID: "p1", Stock: 3}, got)

	require.NoError(t, c.Delete(ctx, "product:p1", "missing"))
	assert.False(t, c.Get(ctx, "product:p1", &got))
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", item{ID: "a"}, time.Minute))
	require.NoError(t, c.Set(ctx, "forever", item{ID: "b"}, 0))

	now = now.Add(2 * time.Minute)

	var got item
	assert.False(t, c.Get(ctx, "k", &got))
	assert.True(t, c.Get(ctx, "forever", &got))
	assert.Equal(t, 1, c.Len())
}

func TestMemoryExpiryKeepsConcurrentSet(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	require.NoError(t, c.Set(ctx, "k", item{ID: "old"}, time.Minute))

	// the clock read in Get happens outside any lock; a writer lands there
	replaced := false
	c.now = func() time.Time {
		if !replaced {
			replaced = true
			require.NoError(t, c.Set(ctx, "k", item{ID: "new"}, 0))
		}
		return now.Add(2 * time.Minute)
	}

	var got item
	assert.False(t, c.Get(ctx, "k", &got))
	require.True(t, c.Get(ctx, "k", &got))
	assert.Equal(t, "new", got.ID)
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	names := []string{"a", "b"}
	require.NoError(t, c.Set(ctx, "names", names, time.Minute))
	names[0] = "changed"

	var got []string
	require.True(t, c.Get(ctx, "names", &got))
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestRedisUnavailable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewRedis(ctx, "127.0.0.1:1", "", 0, "shop:")
	assert.Error(t, err)

	// a client pointed at nothing behaves as a permanent miss
	r := NewRedisFromClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), "shop:")
	defer r.Close()
	var got item
	assert.False(t, r.Get(ctx, "product:p1", &got))
	assert.NoError(t, r.Delete(ctx))
}
