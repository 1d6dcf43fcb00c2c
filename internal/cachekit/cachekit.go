// Package cachekit wraps github.com/hashicorp/golang-lru/v2 so the DEK
// cache (C2, TTL + LRU) and the authorization check cache (C4, LRU with
// wholesale invalidation) share one generic implementation instead of two
// bespoke ones.
package cachekit

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// TTLCache is a size-bounded, TTL-expiring cache. It backs the C2 DEK cache:
// "entry {dek, cached_at, ttl}; eviction policy: first expired, otherwise
// one entry at random on overflow" — expirable.LRU evicts the oldest entry
// on overflow, which satisfies the spec's looser "otherwise evict one entry"
// clause without requiring true randomness.
type TTLCache[K comparable, V any] struct {
	lru *expirable.LRU[K, V]
}

// NewTTLCache returns a cache capped at maxSize entries, each expiring ttl
// after insertion.
func NewTTLCache[K comparable, V any](maxSize int, ttl time.Duration) *TTLCache[K, V] {
	return &TTLCache[K, V]{lru: expirable.NewLRU[K, V](maxSize, nil, ttl)}
}

func (c *TTLCache[K, V]) Get(key K) (V, bool) { return c.lru.Get(key) }
func (c *TTLCache[K, V]) Add(key K, val V)    { c.lru.Add(key, val) }
func (c *TTLCache[K, V]) Remove(key K)        { c.lru.Remove(key) }
func (c *TTLCache[K, V]) Purge()              { c.lru.Purge() }
func (c *TTLCache[K, V]) Len() int            { return c.lru.Len() }

// InvalidateAllCache is a plain LRU with no TTL, invalidated wholesale on
// any upstream mutation. It backs the C4 authorization check cache: "the
// check cache ... invalidation clears the whole map on any tuple/schema
// mutation (simpler than pinpoint invalidation and safe because writes are
// infrequent vs checks)".
type InvalidateAllCache[K comparable, V any] struct {
	lru *lru.Cache[K, V]
}

func NewInvalidateAllCache[K comparable, V any](maxSize int) *InvalidateAllCache[K, V] {
	c, _ := lru.New[K, V](maxSize)
	return &InvalidateAllCache[K, V]{lru: c}
}

func (c *InvalidateAllCache[K, V]) Get(key K) (V, bool) { return c.lru.Get(key) }
func (c *InvalidateAllCache[K, V]) Add(key K, val V)    { c.lru.Add(key, val) }
func (c *InvalidateAllCache[K, V]) Purge()              { c.lru.Purge() }
func (c *InvalidateAllCache[K, V]) Len() int            { return c.lru.Len() }
