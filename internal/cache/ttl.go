package cache

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Cache is a process-local cache for hot read paths.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V, ttl time.Duration)
	Delete(key K)
}

type ttlCache[K comparable, V any] struct {
	inner *ttlcache.Cache[K, V]
}

// NewTTLCache returns an in-memory cache whose entries expire individually.
// capacity bounds the number of entries; zero means unbounded.
func NewTTLCache[K comparable, V any](capacity uint64) Cache[K, V] {
	opts := []ttlcache.Option[K, V]{ttlcache.WithDisableTouchOnHit[K, V]()}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[K, V](capacity))
	}
	return &ttlCache[K, V]{inner: ttlcache.New[K, V](opts...)}
}

func (c *ttlCache[K, V]) Get(key K) (V, bool) {
	item := c.inner.Get(key)
	if item == nil || item.IsExpired() {
		var zero V
		return zero, false
	}
	return item.Value(), true
}

func (c *ttlCache[K, V]) Set(key K, value V, ttl time.Duration) {
	c.inner.Set(key, value, ttl)
}

func (c *ttlCache[K, V]) Delete(key K) {
	c.inner.Delete(key)
}
