package kmsenvelope

import (
	"crypto/sha256"
	"time"

	"phicore/internal/cachekit"
	"phicore/internal/primitives"
)

// dekCache caches plaintext DEKs behind their holder, keyed on
// SHA-256(object_key || wrapped_dek) per spec.md §4.2. It is never
// persisted; entries are evicted on TTL expiry or LRU overflow.
type dekCache struct {
	ttl   *cachekit.TTLCache[string, *primitives.Holder]
	ttlOf time.Duration
}

func newDEKCache(maxSize int, ttl time.Duration) *dekCache {
	return &dekCache{ttl: cachekit.NewTTLCache[string, *primitives.Holder](maxSize, ttl), ttlOf: ttl}
}

func cacheKey(objectKey string, wrapped []byte) string {
	h := sha256.New()
	h.Write([]byte(objectKey))
	h.Write(wrapped)
	return string(h.Sum(nil))
}

func (c *dekCache) get(objectKey string, wrapped []byte) (*primitives.Holder, bool) {
	return c.ttl.Get(cacheKey(objectKey, wrapped))
}

func (c *dekCache) put(objectKey string, wrapped []byte, plaintext []byte) *primitives.Holder {
	holder := primitives.NewHolder(plaintext)
	c.ttl.Add(cacheKey(objectKey, wrapped), holder)
	return holder
}

// invalidate unconditionally drops every cached entry, used by rotate_dek
// per spec.md §4.2 ("unconditionally invalidate the cache").
func (c *dekCache) invalidate() {
	c.ttl.Purge()
}
