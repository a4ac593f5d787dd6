package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/tenzoki/agen/grantmesh/internal/cache"
	"github.com/tenzoki/agen/grantmesh/internal/embedding"
	"github.com/tenzoki/agen/grantmesh/internal/envelope"
	"github.com/tenzoki/agen/grantmesh/internal/grant"
	"github.com/tenzoki/agen/grantmesh/internal/routing"
	"github.com/tenzoki/agen/grantmesh/internal/vectorstore"
	"github.com/tenzoki/agen/grantmesh/public/agent"
)

// mustDate parses an RFC3339 date used by the fixture grants below; it
// panics on a malformed literal, which only a typo in this file could
// cause.
func mustDate(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

// newFixtureMesh builds the three-agent registry spec.md §8's end-to-end
// scenarios are written against: IUK (UK/innovate_uk), NIHR (UK/nihr), HE
// (EU/horizon_europe), pre-indexed with g1/g2/g3.
func newFixtureMesh(t *testing.T) []*agent.Agent {
	t.Helper()
	pool := embedding.NewPool(func(model string) (embedding.Embedder, error) {
		return embedding.NewLocalHashEmbedder(model, 32), nil
	})
	ring := envelope.NewRingBuffer(256)

	iuk, err := agent.NewInnovateUKAgent("iuk-1", pool, "local-hash", vectorstore.NewMemoryCollection("UK", "innovate_uk"), ring)
	if err != nil {
		t.Fatalf("NewInnovateUKAgent: %v", err)
	}
	nihr, err := agent.NewNIHRAgent("nihr-1", pool, "local-hash", vectorstore.NewMemoryCollection("UK", "nihr"), ring)
	if err != nil {
		t.Fatalf("NewNIHRAgent: %v", err)
	}
	he, err := agent.NewHorizonEuropeAgent("he-1", pool, "local-hash", vectorstore.NewMemoryCollection("EU", "horizon_europe"), ring)
	if err != nil {
		t.Fatalf("NewHorizonEuropeAgent: %v", err)
	}

	ctx := context.Background()
	for _, a := range []*agent.Agent{iuk, nihr, he} {
		if err := a.Initialize(ctx); err != nil {
			t.Fatalf("initialize %s: %v", a.ID, err)
		}
	}

	if err := iuk.IndexOne(ctx, grant.Grant{
		GrantID: "g1", Title: "Smart Grants Spring", Description: "Funding for SMEs building AI products.",
		Sectors: []string{"AI", "Digital"}, Deadline: mustDate("2025-03-31"),
	}); err != nil {
		t.Fatalf("index g1: %v", err)
	}
	if err := nihr.IndexOne(ctx, grant.Grant{
		GrantID: "g2", Title: "Research for Patient Benefit", Description: "Clinical trial support funding.",
		Sectors: []string{"Clinical"}, Deadline: mustDate("2025-05-31"),
	}); err != nil {
		t.Fatalf("index g2: %v", err)
	}
	if err := he.IndexOne(ctx, grant.Grant{
		GrantID: "g3", Title: "EIC Accelerator 2025", Description: "Deep-tech consortium funding across the EU.",
		Sectors: []string{"AI"}, Deadline: mustDate("2025-06-30"),
	}); err != nil {
		t.Fatalf("index g3: %v", err)
	}

	return []*agent.Agent{iuk, nihr, he}
}

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	agents := newFixtureMesh(t)
	rc := cache.NewResultCache(cache.NewShardedBackend(4), time.Hour, 100)
	embedder := embedding.NewLocalHashEmbedder("local-hash", 32)
	return New("orchestrator-1", agents, routing.SiloRouting, "silo", rc, embedder, DefaultConfig())
}

func TestQuerySiloFilterHonored(t *testing.T) {
	o := newTestOrchestrator(t)
	resp, err := o.Query(context.Background(), Request{
		Query: "AI funding", MaxResults: 10, Filters: Filters{Silos: []string{"UK"}},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(resp.AgentsQueried) != 2 {
		t.Fatalf("expected 2 agents queried, got %v", resp.AgentsQueried)
	}
	for _, g := range resp.Grants {
		if g.GrantID == "g3" {
			t.Fatalf("expected g3 excluded from UK-filtered results, got %+v", resp.Grants)
		}
	}
}

func TestQueryKeywordRoutingAfterStrategySwap(t *testing.T) {
	o := newTestOrchestrator(t)
	o.SetStrategy(routing.KeywordRouting(routing.KeywordTriggers{
		"horizon_europe": {"horizon"},
	}), "keyword")

	resp, err := o.Query(context.Background(), Request{Query: "horizon opportunities", MaxResults: 10})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(resp.AgentsQueried) != 1 || resp.AgentsQueried[0] != "he-1" {
		t.Fatalf("expected only he-1 queried, got %v", resp.AgentsQueried)
	}
	if len(resp.Grants) == 0 || resp.Grants[0].GrantID != "g3" {
		t.Fatalf("expected g3 as top result, got %+v", resp.Grants)
	}
}

func TestQueryServesSecondCallFromCache(t *testing.T) {
	o := newTestOrchestrator(t)
	req := Request{Query: "AI Research", MaxResults: 10}

	first, err := o.Query(context.Background(), req)
	if err != nil {
		t.Fatalf("first Query: %v", err)
	}
	if first.FromCache {
		t.Fatalf("expected first call to miss cache")
	}

	second, err := o.Query(context.Background(), req)
	if err != nil {
		t.Fatalf("second Query: %v", err)
	}
	if !second.FromCache {
		t.Fatalf("expected second call to be served from cache")
	}
	if len(second.Grants) != len(first.Grants) {
		t.Fatalf("cached grants mismatch: got %d want %d", len(second.Grants), len(first.Grants))
	}
}

func TestQueryDecomposesUKAndEUConnective(t *testing.T) {
	o := newTestOrchestrator(t)
	resp, err := o.Query(context.Background(), Request{Query: "grants in the UK and EU for AI research", MaxResults: 10})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !resp.Decomposed || resp.SubQueryCount != 2 {
		t.Fatalf("expected a 2-way decomposition, got decomposed=%v count=%d", resp.Decomposed, resp.SubQueryCount)
	}
	seen := make(map[string]bool)
	for _, g := range resp.Grants {
		seen[g.GrantID] = true
	}
	if !seen["g1"] || !seen["g3"] {
		t.Fatalf("expected both g1 (UK) and g3 (EU) in merged results, got %+v", resp.Grants)
	}
}

func TestQueryRejectsEmptyQuery(t *testing.T) {
	o := newTestOrchestrator(t)
	if _, err := o.Query(context.Background(), Request{Query: "   "}); err == nil {
		t.Fatalf("expected an error for an empty query")
	}
}

func TestQueryAgentSourceAlwaysInAgentsQueried(t *testing.T) {
	o := newTestOrchestrator(t)
	resp, err := o.Query(context.Background(), Request{Query: "research funding", MaxResults: 10})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	queried := make(map[string]bool)
	for _, id := range resp.AgentsQueried {
		queried[id] = true
	}
	for _, g := range resp.Grants {
		if !queried[g.AgentSource] {
			t.Fatalf("grant %s has agent_source %s not present in agents_queried %v", g.GrantID, g.AgentSource, resp.AgentsQueried)
		}
	}
}

func TestQueryCountersAccumulate(t *testing.T) {
	o := newTestOrchestrator(t)
	for i := 0; i < 3; i++ {
		if _, err := o.Query(context.Background(), Request{Query: "funding", MaxResults: 5}); err != nil {
			t.Fatalf("Query %d: %v", i, err)
		}
	}
	if o.TotalQueries() != 3 {
		t.Fatalf("expected 3 total queries, got %d", o.TotalQueries())
	}
	if o.AverageLatencyMS() < 0 {
		t.Fatalf("expected a non-negative average latency, got %f", o.AverageLatencyMS())
	}
}
