// Package vectorstore defines the VectorCollection contract each agent
// holds exactly one of, plus two implementations: an in-memory flat index
// for tests and small silos, and a Qdrant-gRPC-backed index for production
// deployments.
package vectorstore

import "context"

// Match is a single hit returned by Query: distance is non-negative,
// smaller meaning more similar.
type Match struct {
	ID       string
	Distance float64
	Document string
	Metadata map[string]interface{}
}

// VectorCollection is a thin handle over an external vector index scoped
// to one {silo, domain} pair. Two agents never share a collection.
type VectorCollection interface {
	// Name returns the collection's namespace, "{silo}_{domain}".
	Name() string

	// Upsert inserts or overwrites len(ids) records. Idempotent by id.
	Upsert(ctx context.Context, ids []string, vectors [][]float32, documents []string, metadatas []map[string]interface{}) error

	// Query returns the k nearest neighbors of vector, optionally filtered
	// by an equality conjunction over the flat metadata map.
	Query(ctx context.Context, vector []float32, k int, where map[string]interface{}) ([]Match, error)

	// Get returns up to limit raw metadata records, for bulk dumps.
	Get(ctx context.Context, limit int) ([]map[string]interface{}, error)
}

// CollectionName builds the `{silo}_{domain}` namespace shared by both
// implementations.
func CollectionName(silo, domain string) string {
	return silo + "_" + domain
}
