// Package cache holds the bounded LRU structures used for per-project
// resources.
package cache

import "container/list"

// LRU is a fixed-capacity least-recently-used map. It is not safe for
// concurrent use; callers hold their own lock.
type LRU[K comparable, V any] struct {
	capacity int
	ll       *list.List
	items    map[K]*list.Element
}

type lruItem[K comparable, V any] struct {
	key   K
	value V
}

func NewLRU[K comparable, V any](capacity int) *LRU[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	return &LRU[K, V]{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[K]*list.Element, capacity),
	}
}

// Get returns the value for key and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		return el.Value.(*lruItem[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Peek returns the value for key without touching recency.
func (c *LRU[K, V]) Peek(key K) (V, bool) {
	if el, ok := c.items[key]; ok {
		return el.Value.(*lruItem[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Put inserts or replaces key as most recently used. When the insert
// overflows capacity the least recently used entry is removed and returned.
func (c *LRU[K, V]) Put(key K, value V) (evictedKey K, evicted V, ok bool) {
	if el, exists := c.items[key]; exists {
		el.Value.(*lruItem[K, V]).value = value
		c.ll.MoveToFront(el)
		return evictedKey, evicted, false
	}

	if c.ll.Len() >= c.capacity {
		evictedKey, evicted, ok = c.RemoveOldest()
	}
	c.items[key] = c.ll.PushFront(&lruItem[K, V]{key: key, value: value})
	return evictedKey, evicted, ok
}

// Remove deletes key if present.
func (c *LRU[K, V]) Remove(key K) (V, bool) {
	el, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.ll.Remove(el)
	delete(c.items, key)
	return el.Value.(*lruItem[K, V]).value, true
}

// RemoveOldest deletes and returns the least recently used entry.
func (c *LRU[K, V]) RemoveOldest() (K, V, bool) {
	el := c.ll.Back()
	if el == nil {
		var k K
		var v V
		return k, v, false
	}
	item := el.Value.(*lruItem[K, V])
	c.ll.Remove(el)
	delete(c.items, item.key)
	return item.key, item.value, true
}

// Keys lists keys from least to most recently used.
func (c *LRU[K, V]) Keys() []K {
	keys := make([]K, 0, c.ll.Len())
	for el := c.ll.Back(); el != nil; el = el.Prev() {
		keys = append(keys, el.Value.(*lruItem[K, V]).key)
	}
	return keys
}

func (c *LRU[K, V]) Len() int {
	return c.ll.Len()
}

func (c *LRU[K, V]) Cap() int {
	return c.capacity
}
