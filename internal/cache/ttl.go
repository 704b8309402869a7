// Package cache holds small in-process caches for hot lookups such as API
// key authentication.
package cache

import (
	"sync"
	"time"
)

// Cache is a keyed store whose entries expire.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V)
	Delete(key K)
}

type entry[V any] struct {
	value   V
	expires time.Time
}

// TTL expires every entry a fixed duration after it was set.
// A zero TTL keeps entries until deleted.
type TTL[K comparable, V any] struct {
	mu    sync.RWMutex
	ttl   time.Duration
	items map[K]entry[V]
	now   func() time.Time
}

func NewTTL[K comparable, V any](ttl time.Duration) *TTL[K, V] {
	return &TTL[K, V]{ttl: ttl, items: make(map[K]entry[V]), now: time.Now}
}

func (c *TTL[K, V]) Get(key K) (V, bool) {
	var zero V
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return zero, false
	}
	if !e.expires.IsZero() && c.now().After(e.expires) {
		c.Delete(key)
		return zero, false
	}
	return e.value, true
}

func (c *TTL[K, V]) Set(key K, value V) {
	var exp time.Time
	if c.ttl > 0 {
		exp = c.now().Add(c.ttl)
	}
	c.mu.Lock()
	c.items[key] = entry[V]{value: value, expires: exp}
	c.mu.Unlock()
}

func (c *TTL[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// DeleteFunc drops every entry whose value matches.
func (c *TTL[K, V]) DeleteFunc(match func(V) bool) {
	c.mu.Lock()
	for k, e := range c.items {
		if match(e.value) {
			delete(c.items, k)
		}
	}
	c.mu.Unlock()
}

// Purge removes expired entries and returns how many were dropped.
func (c *TTL[K, V]) Purge() int {
	now := c.now()
	n := 0
	c.mu.Lock()
	for k, e := range c.items {
		if !e.expires.IsZero() && now.After(e.expires) {
			delete(c.items, k)
			n++
		}
	}
	c.mu.Unlock()
	return n
}

// Len counts stored entries, including expired ones not yet purged.
func (c *TTL[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Noop never stores anything.
type Noop[K comparable, V any] struct{}

func (Noop[K, V]) Get(K) (V, bool) {
	var zero V
	return zero, false
}
func (Noop[K, V]) Set(K, V) {}
func (Noop[K, V]) Delete(K) {}
