package agent

import (
	"context"
	"fmt"
	"sort"

	"github.com/tenzoki/agen/grantmesh/internal/grant"
)

const (
	semanticWeight      = 0.7
	keywordWeight       = 0.3
	overfetchMultiplier = 3
)

// IndexError records a single grant's ingestion failure without aborting
// the rest of a batch, per spec.md §7.
type IndexError struct {
	GrantID string
	Message string
}

// IndexOne builds the canonical document, encodes it once, flattens the
// grant's metadata, and upserts a single record.
func (a *Agent) IndexOne(ctx context.Context, g grant.Grant) error {
	g.OwningAgentID = a.ID
	g.Silo = a.Silo
	g.Domain = a.Domain

	doc := a.BuildDocument(g)
	vec, err := a.Embedder.Encode(ctx, doc)
	if err != nil {
		return fmt.Errorf("index_one %s: encode: %w", g.GrantID, err)
	}

	meta := grant.FlattenMetadata(g)
	if err := a.Collection.Upsert(ctx, []string{g.GrantID}, [][]float32{vec}, []string{doc}, []map[string]interface{}{meta}); err != nil {
		return fmt.Errorf("index_one %s: upsert: %w", g.GrantID, err)
	}

	a.Counters.GrantsIndexed.Add(1)
	a.Counters.touch()
	return nil
}

// IndexBatch prepares every grant, encodes the whole batch in one call,
// and issues a single upsert. Malformed grants are skipped and reported in
// errs rather than aborting the batch; ids preserves input order for the
// grants that succeeded.
func (a *Agent) IndexBatch(ctx context.Context, grants []grant.Grant, batchSize int) (ids []string, errs []IndexError) {
	if len(grants) == 0 {
		return nil, nil
	}

	docs := make([]string, 0, len(grants))
	prepared := make([]grant.Grant, 0, len(grants))
	for _, g := range grants {
		if g.GrantID == "" {
			errs = append(errs, IndexError{GrantID: g.GrantID, Message: "grant_id is required"})
			continue
		}
		g.OwningAgentID = a.ID
		g.Silo = a.Silo
		g.Domain = a.Domain
		prepared = append(prepared, g)
		docs = append(docs, a.BuildDocument(g))
	}
	if len(prepared) == 0 {
		return nil, errs
	}

	vectors, err := a.Embedder.EncodeBatch(ctx, docs, batchSize)
	if err != nil {
		for _, g := range prepared {
			errs = append(errs, IndexError{GrantID: g.GrantID, Message: err.Error()})
		}
		return nil, errs
	}

	metas := make([]map[string]interface{}, len(prepared))
	for i, g := range prepared {
		metas[i] = grant.FlattenMetadata(g)
	}

	ids = make([]string, len(prepared))
	for i, g := range prepared {
		ids[i] = g.GrantID
	}

	if err := a.Collection.Upsert(ctx, ids, vectors, docs, metas); err != nil {
		for _, g := range prepared {
			errs = append(errs, IndexError{GrantID: g.GrantID, Message: err.Error()})
		}
		return nil, errs
	}

	a.Counters.GrantsIndexed.Add(int64(len(prepared)))
	a.Counters.touch()
	return ids, errs
}

// SearchResult is a grant enriched with the three hybrid-search scores.
type SearchResult struct {
	grant.Grant
	SemanticScore float64
	KeywordScore  float64
	CombinedScore float64
}

// Search blends semantic similarity and lexical token overlap, per
// spec.md §4.4's hybrid search algorithm.
func (a *Agent) Search(ctx context.Context, query string, maxResults int, where map[string]interface{}) ([]SearchResult, error) {
	if maxResults <= 0 {
		maxResults = 10
	}

	queryVec, err := a.Embedder.Encode(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: encode query: %w", err)
	}
	queryTokens := grant.Tokenize(query)

	matches, err := a.Collection.Query(ctx, queryVec, maxResults*overfetchMultiplier, where)
	if err != nil {
		return nil, fmt.Errorf("search: query collection: %w", err)
	}

	results := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		g := grant.UnflattenMetadata(m.Metadata)
		if g.GrantID == "" {
			g.GrantID = m.ID
		}

		semantic := clamp01(1 - m.Distance)
		recordTokens := grant.Tokenize(g.Title + " " + g.Description)
		keyword := overlapRatio(queryTokens, recordTokens)
		combined := semanticWeight*semantic + keywordWeight*keyword

		results = append(results, SearchResult{
			Grant:         g,
			SemanticScore: semantic,
			KeywordScore:  keyword,
			CombinedScore: combined,
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].CombinedScore > results[j].CombinedScore })

	if len(results) > maxResults {
		results = results[:maxResults]
	}

	a.Counters.QueriesHandled.Add(1)
	a.Counters.touch()
	return results, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func overlapRatio(query, record map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	overlap := 0
	for tok := range query {
		if _, ok := record[tok]; ok {
			overlap++
		}
	}
	return float64(overlap) / float64(len(query))
}

// Fetch returns up to limit raw grant records from the collection.
func (a *Agent) Fetch(ctx context.Context, limit int) ([]grant.Grant, error) {
	records, err := a.Collection.Get(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	grants := make([]grant.Grant, len(records))
	for i, rec := range records {
		grants[i] = grant.UnflattenMetadata(rec)
	}
	return grants, nil
}
