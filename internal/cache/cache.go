// Package cache is a bounded key/value store whose entries carry their own
// timestamp and TTL, so callers can tell a fresh value from a stale one.
package cache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Entry is a cached value with the time it was stored and how long it
// stays fresh. A zero TTL never goes stale.
type Entry[V any] struct {
	Value    V
	StoredAt time.Time
	TTL      time.Duration
}

// IsStale reports whether the entry has outlived its TTL at now.
func (e Entry[V]) IsStale(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.Sub(e.StoredAt) >= e.TTL
}

// Store is a size-bounded LRU of entries. It is safe for concurrent use.
type Store[K comparable, V any] struct {
	lru *lru.Cache[K, Entry[V]]
	ttl time.Duration
	now func() time.Time
}

// New creates a store holding at most size entries, each fresh for ttl.
func New[K comparable, V any](size int, ttl time.Duration) (*Store[K, V], error) {
	if size <= 0 {
		size = 128
	}
	c, err := lru.New[K, Entry[V]](size)
	if err != nil {
		return nil, err
	}
	return &Store[K, V]{lru: c, ttl: ttl, now: time.Now}, nil
}

// SetClock replaces the time source. Tests only.
func (s *Store[K, V]) SetClock(now func() time.Time) {
	s.now = now
}

// Put stores v under k with the store's TTL.
func (s *Store[K, V]) Put(k K, v V) {
	s.lru.Add(k, Entry[V]{Value: v, StoredAt: s.now(), TTL: s.ttl})
}

// Get returns the value for k, whether it is still fresh, and whether it
// exists at all. Stale entries are returned, not evicted; the caller
// decides whether to refresh.
func (s *Store[K, V]) Get(k K) (v V, fresh bool, ok bool) {
	e, ok := s.lru.Get(k)
	if !ok {
		return v, false, false
	}
	return e.Value, !e.IsStale(s.now()), true
}

// Delete removes k.
func (s *Store[K, V]) Delete(k K) {
	s.lru.Remove(k)
}

// Len returns the number of cached entries.
func (s *Store[K, V]) Len() int {
	return s.lru.Len()
}
