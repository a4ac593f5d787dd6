package vectorstore

import (
	"context"
	"testing"
)

func TestUpsertThenQueryReturnsClosestFirst(t *testing.T) {
	c := NewMemoryCollection("UK", "IUK")
	ctx := context.Background()

	err := c.Upsert(ctx,
		[]string{"g1", "g2", "g3"},
		[][]float32{{1, 0, 0}, {0, 1, 0}, {0.9, 0.1, 0}},
		[]string{"doc1", "doc2", "doc3"},
		[]map[string]interface{}{
			{"domain": "IUK"},
			{"domain": "IUK"},
			{"domain": "IUK"},
		},
	)
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	matches, err := c.Query(ctx, []float32{1, 0, 0}, 2, nil)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].ID != "g1" {
		t.Fatalf("expected g1 as closest match, got %s", matches[0].ID)
	}
	if matches[0].Distance > matches[1].Distance {
		t.Fatalf("expected ascending distance order, got %v then %v", matches[0].Distance, matches[1].Distance)
	}
}

func TestQueryAppliesMetadataFilter(t *testing.T) {
	c := NewMemoryCollection("UK", "IUK")
	ctx := context.Background()

	_ = c.Upsert(ctx,
		[]string{"g1", "g2"},
		[][]float32{{1, 0}, {1, 0}},
		[]string{"doc1", "doc2"},
		[]map[string]interface{}{
			{"silo": "UK"},
			{"silo": "EU"},
		},
	)

	matches, err := c.Query(ctx, []float32{1, 0}, 5, map[string]interface{}{"silo": "EU"})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "g2" {
		t.Fatalf("expected only g2 to match filter, got %+v", matches)
	}
}

func TestUpsertIsIdempotentByID(t *testing.T) {
	c := NewMemoryCollection("UK", "IUK")
	ctx := context.Background()

	insert := func() {
		_ = c.Upsert(ctx,
			[]string{"g1"},
			[][]float32{{1, 0}},
			[]string{"doc"},
			[]map[string]interface{}{{"v": 1}},
		)
	}
	insert()
	insert()

	if c.Size() != 1 {
		t.Fatalf("expected size 1 after re-indexing same id twice, got %d", c.Size())
	}
}

func TestEmptyUpsertIsNoop(t *testing.T) {
	c := NewMemoryCollection("UK", "IUK")
	if err := c.Upsert(context.Background(), nil, nil, nil, nil); err != nil {
		t.Fatalf("expected empty upsert to succeed, got %v", err)
	}
	if c.Size() != 0 {
		t.Fatalf("expected size 0, got %d", c.Size())
	}
}

func TestGetReturnsBoundedRecords(t *testing.T) {
	c := NewMemoryCollection("UK", "IUK")
	ctx := context.Background()
	_ = c.Upsert(ctx,
		[]string{"g1", "g2", "g3"},
		[][]float32{{1, 0}, {0, 1}, {1, 1}},
		[]string{"d1", "d2", "d3"},
		[]map[string]interface{}{{"a": 1}, {"a": 2}, {"a": 3}},
	)

	records, err := c.Get(ctx, 2)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
}

func TestNameIsSiloUnderscoreDomain(t *testing.T) {
	c := NewMemoryCollection("UK", "innovate_uk")
	if c.Name() != "UK_innovate_uk" {
		t.Fatalf("unexpected collection name: %s", c.Name())
	}
}
