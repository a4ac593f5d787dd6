// Package cache provides the orchestrator's ResultCache: a bounded,
// time-windowed mapping from a canonicalized query key to a previously
// aggregated response.
package cache

import (
	"encoding/json"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Entry is one cached value plus the time it was stored, letting callers
// compute age and enforce TTL without trusting the backend to do it.
type Entry struct {
	Value    []byte
	StoredAt time.Time
}

// Backend is the storage surface a ResultCache is built on. Grounded on
// the teacher's per-topic/per-pipe mutex partitioning in internal/broker,
// generalized from "one mutex per topic" to "one mutex per key shard" —
// and kept narrow enough that a Redis-backed implementation (redis.go)
// satisfies it too.
type Backend interface {
	Get(key string) (Entry, bool)
	Set(key string, e Entry)
	Delete(key string)
	Len() int
	// Keys returns every key currently stored, used by prune() to find
	// expired and (if still over cap) oldest entries. Backends for which
	// enumeration is expensive (e.g. Redis) may return a best-effort
	// subset rather than failing.
	Keys() []string
}

const defaultShardCount = 16

// shardedMapBackend is the default in-process Backend: shardCount
// independently-locked maps, selected by hashing the key, so concurrent
// Get/Set across different keys rarely contend on the same mutex.
type shardedMapBackend struct {
	shards []*shard
}

type shard struct {
	mu   sync.RWMutex
	data map[string]Entry
}

// NewShardedBackend builds the default sharded in-process Backend. A
// non-positive shardCount defaults to 16.
func NewShardedBackend(shardCount int) Backend {
	if shardCount <= 0 {
		shardCount = defaultShardCount
	}
	b := &shardedMapBackend{shards: make([]*shard, shardCount)}
	for i := range b.shards {
		b.shards[i] = &shard{data: make(map[string]Entry)}
	}
	return b
}

func (b *shardedMapBackend) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return b.shards[int(h.Sum32())%len(b.shards)]
}

func (b *shardedMapBackend) Get(key string) (Entry, bool) {
	s := b.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[key]
	return e, ok
}

func (b *shardedMapBackend) Set(key string, e Entry) {
	s := b.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = e
}

func (b *shardedMapBackend) Delete(key string) {
	s := b.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

func (b *shardedMapBackend) Len() int {
	total := 0
	for _, s := range b.shards {
		s.mu.RLock()
		total += len(s.data)
		s.mu.RUnlock()
	}
	return total
}

func (b *shardedMapBackend) Keys() []string {
	var out []string
	for _, s := range b.shards {
		s.mu.RLock()
		for k := range s.data {
			out = append(out, k)
		}
		s.mu.RUnlock()
	}
	return out
}

// ResultCache is the query-facing cache: TTL and size cap are config
// parameters (spec.md §6: cache.ttl_seconds, cache.max_entries), not
// per-entry choices.
type ResultCache struct {
	backend    Backend
	ttl        time.Duration
	maxEntries int

	mu sync.Mutex // serializes prune() against itself; Get/Set delegate to backend's own locking

	hits   atomic.Int64
	misses atomic.Int64
}

// NewResultCache wraps backend with the given TTL and size cap. A
// non-positive ttl defaults to one hour; a non-positive maxEntries
// defaults to 1000, matching spec.md §6's defaults.
func NewResultCache(backend Backend, ttl time.Duration, maxEntries int) *ResultCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &ResultCache{backend: backend, ttl: ttl, maxEntries: maxEntries}
}

// Get returns the cached value and its age if present and not expired.
// An expired entry is treated as absent and proactively deleted — the
// cache never returns an entry whose stored_at + ttl < now, per spec.md
// §4.7's invariant.
func (c *ResultCache) Get(key string) (value []byte, age time.Duration, ok bool) {
	e, found := c.backend.Get(key)
	if !found {
		c.misses.Add(1)
		return nil, 0, false
	}
	age = time.Since(e.StoredAt)
	if age > c.ttl {
		c.backend.Delete(key)
		c.misses.Add(1)
		return nil, 0, false
	}
	c.hits.Add(1)
	return e.Value, age, true
}

// Put stores value under key, stamped with the current time, then prunes
// if the cache is over its size cap.
func (c *ResultCache) Put(key string, value []byte) {
	c.backend.Set(key, Entry{Value: value, StoredAt: time.Now()})
	if c.backend.Len() > c.maxEntries {
		c.prune()
	}
}

// prune drops expired entries first; if the cache is still over cap,
// drops the oldest remaining entries until it isn't. Matches spec.md
// §9's resolution of the cache-eviction Open Question (prune-expired,
// then oldest-by-insertion-time, not LRU-by-access) and its REDESIGN
// FLAGS note that a cap check alone (without a guaranteed oldest-evict
// fallback) is a latent bug in the source behavior.
func (c *ResultCache) prune() {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.backend.Keys()
	type aged struct {
		key      string
		storedAt time.Time
	}
	live := make([]aged, 0, len(keys))
	now := time.Now()
	for _, k := range keys {
		e, ok := c.backend.Get(k)
		if !ok {
			continue
		}
		if now.Sub(e.StoredAt) > c.ttl {
			c.backend.Delete(k)
			continue
		}
		live = append(live, aged{key: k, storedAt: e.StoredAt})
	}

	if len(live) <= c.maxEntries {
		return
	}

	sort.Slice(live, func(i, j int) bool { return live[i].storedAt.Before(live[j].storedAt) })
	toEvict := len(live) - c.maxEntries
	for i := 0; i < toEvict; i++ {
		c.backend.Delete(live[i].key)
	}
}

// Hits and Misses expose the counters the orchestrator reports in its
// query log's cache_hit_rate field.
func (c *ResultCache) Hits() int64   { return c.hits.Load() }
func (c *ResultCache) Misses() int64 { return c.misses.Load() }

// Marshal and Unmarshal are small helpers so callers can store arbitrary
// JSON-serializable responses without each reimplementing the same two
// lines.
func Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }
func Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
