package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryCollection is a brute-force flat index: cosine distance computed
// against every stored vector. Grounded on the teacher's
// vectorstore_agent.FlatIndex, generalized from a single global index to
// one instance per {silo, domain} namespace with a richer metadata filter
// and a stored document string per record.
type MemoryCollection struct {
	name string

	mu         sync.RWMutex
	vectors    map[string][]float32
	documents  map[string]string
	metadatas  map[string]map[string]interface{}
	dimensions int
}

// NewMemoryCollection creates an empty flat index for the given namespace.
func NewMemoryCollection(silo, domain string) *MemoryCollection {
	return &MemoryCollection{
		name:      CollectionName(silo, domain),
		vectors:   make(map[string][]float32),
		documents: make(map[string]string),
		metadatas: make(map[string]map[string]interface{}),
	}
}

func (m *MemoryCollection) Name() string { return m.name }

func (m *MemoryCollection) Upsert(_ context.Context, ids []string, vectors [][]float32, documents []string, metadatas []map[string]interface{}) error {
	if len(ids) != len(vectors) || len(ids) != len(documents) || len(ids) != len(metadatas) {
		return fmt.Errorf("vectorstore: upsert slices must have equal length, got ids=%d vectors=%d documents=%d metadatas=%d",
			len(ids), len(vectors), len(documents), len(metadatas))
	}
	if len(ids) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dimensions == 0 && len(vectors) > 0 {
		m.dimensions = len(vectors[0])
	}

	for i, id := range ids {
		if len(vectors[i]) != m.dimensions {
			return fmt.Errorf("vectorstore: vector dimension mismatch for id %s: expected %d, got %d", id, m.dimensions, len(vectors[i]))
		}
		m.vectors[id] = vectors[i]
		m.documents[id] = documents[i]
		m.metadatas[id] = metadatas[i]
	}
	return nil
}

func (m *MemoryCollection) Query(_ context.Context, vector []float32, k int, where map[string]interface{}) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if k <= 0 {
		k = 1
	}

	type scored struct {
		id       string
		distance float64
	}
	var candidates []scored
	for id, vec := range m.vectors {
		if where != nil && !matchesFilter(m.metadatas[id], where) {
			continue
		}
		candidates = append(candidates, scored{id: id, distance: cosineDistance(vector, vec)})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].distance < candidates[j].distance })

	if k > len(candidates) {
		k = len(candidates)
	}
	out := make([]Match, k)
	for i := 0; i < k; i++ {
		id := candidates[i].id
		out[i] = Match{
			ID:       id,
			Distance: candidates[i].distance,
			Document: m.documents[id],
			Metadata: m.metadatas[id],
		}
	}
	return out, nil
}

func (m *MemoryCollection) Get(_ context.Context, limit int) ([]map[string]interface{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.metadatas) {
		limit = len(m.metadatas)
	}
	out := make([]map[string]interface{}, 0, limit)
	for _, meta := range m.metadatas {
		if len(out) >= limit {
			break
		}
		out = append(out, meta)
	}
	return out, nil
}

// Size reports the number of stored records, used by tests to verify
// idempotent re-indexing.
func (m *MemoryCollection) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vectors)
}

func matchesFilter(meta map[string]interface{}, where map[string]interface{}) bool {
	if meta == nil {
		return len(where) == 0
	}
	for k, want := range where {
		got, ok := meta[k]
		if !ok || fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}

// cosineDistance returns 1 - cosine_similarity, so 0 means identical and
// larger means less similar, matching the "smaller = more similar"
// contract of VectorCollection.Query.
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	similarity := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return 1 - similarity
}
