package embedding

import (
	"context"
	"sync"
	"testing"
)

func TestLocalHashEmbedderIsDeterministic(t *testing.T) {
	e := NewLocalHashEmbedder("local-hash", 32)
	ctx := context.Background()

	a, err := e.Encode(ctx, "AI funding for manufacturing")
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	b, err := e.Encode(ctx, "AI funding for manufacturing")
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if len(a) != 32 {
		t.Fatalf("expected 32 dims, got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected deterministic output, diverged at index %d", i)
		}
	}
}

func TestLocalHashEmbedderDistinguishesText(t *testing.T) {
	e := NewLocalHashEmbedder("local-hash", 64)
	ctx := context.Background()

	vecs, err := e.EncodeBatch(ctx, []string{"clinical trials funding", "robotics manufacturing grants"}, 0)
	if err != nil {
		t.Fatalf("encode batch failed: %v", err)
	}
	if equalVectors(vecs[0], vecs[1]) {
		t.Fatalf("expected distinct vectors for distinct text")
	}
}

func TestLocalHashEmbedderBatchRespectsBatchSize(t *testing.T) {
	e := NewLocalHashEmbedder("local-hash", 16)
	ctx := context.Background()
	texts := []string{"a", "b", "c", "d", "e"}

	vecs, err := e.EncodeBatch(ctx, texts, 2)
	if err != nil {
		t.Fatalf("encode batch failed: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("expected %d vectors, got %d", len(texts), len(vecs))
	}
}

func equalVectors(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPoolReusesInstancePerModel(t *testing.T) {
	calls := 0
	var mu sync.Mutex
	pool := NewPool(func(model string) (Embedder, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return NewLocalHashEmbedder(model, 16), nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := pool.Get("shared-model"); err != nil {
				t.Errorf("get failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if calls != 1 {
		t.Fatalf("expected factory to run once, ran %d times", calls)
	}
	if pool.Len() != 1 {
		t.Fatalf("expected 1 pooled model, got %d", pool.Len())
	}
}

func TestPoolSeparatesDistinctModels(t *testing.T) {
	pool := NewPool(func(model string) (Embedder, error) {
		return NewLocalHashEmbedder(model, 16), nil
	})

	a, _ := pool.Get("model-a")
	b, _ := pool.Get("model-b")
	if a.ModelName() == b.ModelName() {
		t.Fatalf("expected distinct models to produce distinct embedders")
	}
	if pool.Len() != 2 {
		t.Fatalf("expected 2 pooled models, got %d", pool.Len())
	}
}
