// Package cache provides the content-addressed, single-flighted caches that
// back each stage of the operation pipeline (parse, validate, normalize,
// plan).
package cache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Stats is a point-in-time copy of a Stage's hit/miss counters, returned by
// Stage.Stats. The counters behind it are atomic, so Stage.Stats is safe to
// call concurrently with GetOrCompute.
type Stats struct {
	Hits   uint64
	Misses uint64
}

// Stage is a bounded, single-flighted, optionally TTL'd cache from a string
// key to a value of type V. Only one caller computes the value for a given
// key at a time; concurrent callers for the same key block on that result.
type Stage[V any] struct {
	name  string
	ttl   time.Duration
	lru   *lru.Cache[string, entry[V]]
	group singleflight.Group
	hits  atomicCounter
	miss  atomicCounter
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// NewStage builds a cache for one pipeline stage. size is the max number of
// entries (LRU-evicted beyond that); ttl of zero means entries never expire
// on their own (still subject to LRU eviction).
func NewStage[V any](name string, size int, ttl time.Duration) *Stage[V] {
	c, err := lru.New[string, entry[V]](size)
	if err != nil {
		// size <= 0 is a programmer error, not a runtime condition.
		panic(err)
	}
	return &Stage[V]{name: name, ttl: ttl, lru: c}
}

// Name returns the stage's name, for metrics/log labeling.
func (s *Stage[V]) Name() string { return s.name }

// GetOrCompute returns the cached value for key, computing it via fn on a
// miss. Concurrent callers for the same key observe the leader's result
// (single-flight); a cancelled waiter does not cancel the leader.
func (s *Stage[V]) GetOrCompute(key string, fn func() (V, error)) (V, error) {
	if v, ok := s.lookup(key); ok {
		s.hits.add(1)
		return v, nil
	}

	result, err, _ := s.group.Do(key, func() (any, error) {
		// Re-check under single-flight in case another leader just filled it.
		if v, ok := s.lookup(key); ok {
			return v, nil
		}
		v, err := fn()
		if err != nil {
			return v, err
		}
		s.lru.Add(key, entry[V]{value: v, expiresAt: s.expiry()})
		return v, nil
	})

	if err != nil {
		var zero V
		return zero, err
	}

	s.miss.add(1)
	return result.(V), nil
}

func (s *Stage[V]) expiry() time.Time {
	if s.ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(s.ttl)
}

func (s *Stage[V]) lookup(key string) (V, bool) {
	e, ok := s.lru.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		s.lru.Remove(key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Stats returns a point-in-time snapshot of hit/miss counters.
func (s *Stage[V]) Stats() Stats {
	return Stats{Hits: s.hits.load(), Misses: s.miss.load()}
}

// Len reports the number of entries currently resident.
func (s *Stage[V]) Len() int { return s.lru.Len() }

// Purge evicts every entry, e.g. on supergraph hot-reload when cached plans
// are no longer valid against the new federation graph.
func (s *Stage[V]) Purge() { s.lru.Purge() }
