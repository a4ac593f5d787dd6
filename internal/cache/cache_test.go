package cache

import (
	"fmt"
	"testing"
	"time"
)

func TestPutThenGetReturnsValueAndAge(t *testing.T) {
	c := NewResultCache(NewShardedBackend(4), time.Hour, 100)
	c.Put("k1", []byte("hello"))

	value, age, ok := c.Get("k1")
	if !ok {
		t.Fatalf("expected hit")
	}
	if string(value) != "hello" {
		t.Fatalf("unexpected value: %s", value)
	}
	if age < 0 {
		t.Fatalf("expected non-negative age, got %v", age)
	}
	if c.Hits() != 1 || c.Misses() != 0 {
		t.Fatalf("expected 1 hit 0 misses, got hits=%d misses=%d", c.Hits(), c.Misses())
	}
}

func TestGetMissIncrementsMisses(t *testing.T) {
	c := NewResultCache(NewShardedBackend(4), time.Hour, 100)
	if _, _, ok := c.Get("absent"); ok {
		t.Fatalf("expected miss")
	}
	if c.Misses() != 1 {
		t.Fatalf("expected 1 miss, got %d", c.Misses())
	}
}

func TestExpiredEntryIsTreatedAsAbsent(t *testing.T) {
	c := NewResultCache(NewShardedBackend(4), time.Millisecond, 100)
	c.Put("k1", []byte("hello"))
	time.Sleep(5 * time.Millisecond)

	if _, _, ok := c.Get("k1"); ok {
		t.Fatalf("expected expired entry to be absent")
	}
}

func TestPruneDropsExpiredBeforeOldest(t *testing.T) {
	backend := NewShardedBackend(4)
	c := NewResultCache(backend, 10*time.Millisecond, 2)

	c.Put("expired", []byte("1"))
	time.Sleep(15 * time.Millisecond)
	c.Put("fresh-1", []byte("2"))
	c.Put("fresh-2", []byte("3")) // triggers prune: over cap of 2

	if _, _, ok := c.Get("expired"); ok {
		t.Fatalf("expected expired entry to be pruned")
	}
	if backend.Len() > 2 {
		t.Fatalf("expected backend size <= 2 after prune, got %d", backend.Len())
	}
}

func TestPruneEvictsOldestWhenStillOverCapAfterExpiry(t *testing.T) {
	backend := NewShardedBackend(4)
	c := NewResultCache(backend, time.Hour, 2)

	for i := 0; i < 5; i++ {
		c.Put(fmt.Sprintf("k%d", i), []byte("v"))
		time.Sleep(time.Millisecond)
	}

	if backend.Len() > 2 {
		t.Fatalf("expected size capped at 2, got %d", backend.Len())
	}
	// The most recently inserted key must have survived eviction.
	if _, _, ok := c.Get("k4"); !ok {
		t.Fatalf("expected most recent entry to survive eviction")
	}
}

func TestShardedBackendDistributesAcrossShards(t *testing.T) {
	backend := NewShardedBackend(8).(*shardedMapBackend)
	for i := 0; i < 100; i++ {
		backend.Set(fmt.Sprintf("key-%d", i), Entry{Value: []byte("v"), StoredAt: time.Now()})
	}
	if backend.Len() != 100 {
		t.Fatalf("expected 100 entries, got %d", backend.Len())
	}
}
