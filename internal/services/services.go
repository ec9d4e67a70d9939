package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gncyclemart/shop-api/internal/cache"
)

// now returns the timestamp written to created_at/updated_at columns.
// Times are always passed as parameters so both SQL dialects agree.
var now = func() time.Time { return time.Now().UTC() }

// Cache keys shared between services
const (
	keyCategories = "filters:categories"
	keyBrands     = "filters:brands"
	keyNames      = "filters:names"
	keyImages     = "images:carousel"
)

func productKey(id string) string {
	return "product:" + id
}

// placeholders returns "?, ?, ?" for n parameters.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// generations counts invalidations per cache key. A read-through fill that
// saw the counter move while it was reading drops what it just stored.
var generations = struct {
	sync.Mutex
	m map[string]uint64
}{m: make(map[string]uint64)}

func generation(key string) uint64 {
	generations.Lock()
	defer generations.Unlock()
	return generations.m[key]
}

// invalidate drops keys from c. A failed delete only leaves a stale entry
// until its TTL, so it is logged and ignored.
func invalidate(ctx context.Context, c cache.Cache, keys ...string) {
	// bump before deleting so a concurrent fill either reads fresh rows or
	// sees the new generation
	generations.Lock()
	for _, k := range keys {
		generations.m[k]++
	}
	generations.Unlock()

	if err := c.Delete(ctx, keys...); err != nil {
		zap.S().Warnw("cache invalidation failed", "keys", keys, "error", err)
	}
}

// fill stores value under key unless key was invalidated after gen was taken.
func fill(ctx context.Context, c cache.Cache, key string, gen uint64, value interface{}, ttl time.Duration) {
	if err := c.Set(ctx, key, value, ttl); err != nil {
		zap.S().Warnw("failed to cache value", "key", key, "error", err)
		return
	}
	if generation(key) != gen {
		if err := c.Delete(ctx, key); err != nil {
			zap.S().Warnw("cache invalidation failed", "keys", []string{key}, "error", err)
		}
	}
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
