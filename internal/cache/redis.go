package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores entries in Redis, for multi-process deployments
// that need the ResultCache shared across more than one orchestrator.
// Grounded on etalazz-vsa/internal/ratelimiter/persistence.RedisPersister's
// idempotent-write pattern, simplified from its SETNX+Lua commit-marker
// scheme down to plain SET-with-TTL + GET: cache entries are whole-value
// overwrites with no idempotency requirement (unlike the persister's
// ledger entries, which must never double-apply), so no Lua script is
// needed here.
type RedisBackend struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
}

// NewRedisBackend builds a Backend over an existing go-redis client. ttl
// is passed to every SET as a native Redis expiry (PX), so Redis itself
// enforces TTL independent of ResultCache.Get's own age check — belt and
// suspenders against clock skew between processes sharing the cache.
func NewRedisBackend(client redis.Cmdable, ttl time.Duration, keyPrefix string) *RedisBackend {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisBackend{client: client, ttl: ttl, prefix: keyPrefix}
}

func (b *RedisBackend) key(key string) string {
	return fmt.Sprintf("%sresultcache:%s", b.prefix, key)
}

func (b *RedisBackend) Get(key string) (Entry, bool) {
	ctx := context.Background()
	data, err := b.client.Get(ctx, b.key(key)).Bytes()
	if err != nil {
		return Entry{}, false
	}
	storedAt := time.Now()
	if ns, err := b.client.HGet(ctx, b.key(key)+":meta", "stored_at").Int64(); err == nil {
		storedAt = time.Unix(0, ns)
	}
	// A missing/expired metadata hash (shouldn't happen since both share
	// a TTL) falls back to "freshly stored" rather than discarding the
	// entry outright.
	return Entry{Value: data, StoredAt: storedAt}, true
}

func (b *RedisBackend) Set(key string, e Entry) {
	ctx := context.Background()
	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.key(key), e.Value, b.ttl)
	pipe.HSet(ctx, b.key(key)+":meta", "stored_at", e.StoredAt.UnixNano())
	pipe.Expire(ctx, b.key(key)+":meta", b.ttl)
	_, _ = pipe.Exec(ctx)
}

func (b *RedisBackend) Delete(key string) {
	ctx := context.Background()
	b.client.Del(ctx, b.key(key), b.key(key)+":meta")
}

// Len is best-effort: it scans for the backend's key prefix rather than
// tracking a counter, since Redis has no O(1) "count matching my prefix"
// primitive. Used only by ResultCache.Put's cap check; an approximate
// count is acceptable there; spec.md doesn't require exact cap enforcement
// across a distributed cache.
func (b *RedisBackend) Len() int {
	return len(b.scanKeys())
}

func (b *RedisBackend) Keys() []string {
	var out []string
	for _, k := range b.scanKeys() {
		out = append(out, k[len(b.prefix+"resultcache:"):])
	}
	return out
}

func (b *RedisBackend) scanKeys() []string {
	ctx := context.Background()
	var keys []string
	var cursor uint64
	pattern := b.prefix + "resultcache:*"
	for {
		var batch []string
		var err error
		batch, cursor, err = b.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return keys
		}
		for _, k := range batch {
			if len(k) >= 5 && k[len(k)-5:] == ":meta" {
				continue
			}
			keys = append(keys, k)
		}
		if cursor == 0 {
			break
		}
	}
	return keys
}
