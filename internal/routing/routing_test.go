package routing

import (
	"testing"

	"github.com/tenzoki/agen/grantmesh/internal/embedding"
	"github.com/tenzoki/agen/grantmesh/internal/envelope"
	"github.com/tenzoki/agen/grantmesh/internal/vectorstore"
	"github.com/tenzoki/agen/grantmesh/public/agent"
)

func testAgents(t *testing.T) []*agent.Agent {
	t.Helper()
	emb := embedding.NewLocalHashEmbedder("local-hash", 16)
	ring := envelope.NewRingBuffer(16)
	mk := func(id, silo, domain string) *agent.Agent {
		coll := vectorstore.NewMemoryCollection(silo, domain)
		return agent.New(id, domain, silo, coll, emb, ring)
	}
	return []*agent.Agent{
		mk("iuk", "UK", "innovate_uk"),
		mk("nihr", "UK", "nihr"),
		mk("he", "EU", "horizon_europe"),
	}
}

func TestSiloRoutingFiltersBySiloAndDomain(t *testing.T) {
	agents := testAgents(t)
	selected := SiloRouting("", Filters{Silos: []string{"UK"}}, agents)
	if len(selected) != 2 {
		t.Fatalf("expected 2 UK agents, got %d", len(selected))
	}
	for _, a := range selected {
		if a.Silo != "UK" {
			t.Fatalf("expected only UK agents, got %s", a.Silo)
		}
	}
}

func TestSiloRoutingEmptyFiltersMatchesAll(t *testing.T) {
	agents := testAgents(t)
	selected := SiloRouting("", Filters{}, agents)
	if len(selected) != len(agents) {
		t.Fatalf("expected all agents, got %d", len(selected))
	}
}

func TestSiloRoutingNoMatchFallsBackToAll(t *testing.T) {
	agents := testAgents(t)
	selected := SiloRouting("", Filters{Silos: []string{"APAC"}}, agents)
	if len(selected) != len(agents) {
		t.Fatalf("expected fallback to all agents, got %d", len(selected))
	}
}

func TestKeywordRoutingMatchesTriggerPhrase(t *testing.T) {
	agents := testAgents(t)
	strategy := KeywordRouting(KeywordTriggers{
		"horizon_europe": {"horizon", "eu consortium"},
		"nihr":           {"clinical trial"},
	})

	selected := strategy("horizon opportunities", Filters{}, agents)
	if len(selected) != 1 || selected[0].Domain != "horizon_europe" {
		t.Fatalf("expected only horizon_europe agent, got %v", domainsOf(selected))
	}
}

func TestKeywordRoutingNoMatchFallsBackToAll(t *testing.T) {
	agents := testAgents(t)
	strategy := KeywordRouting(KeywordTriggers{"horizon_europe": {"horizon"}})
	selected := strategy("generic funding search", Filters{}, agents)
	if len(selected) != len(agents) {
		t.Fatalf("expected fallback to all agents, got %d", len(selected))
	}
}

func TestBroadcastRoutingAlwaysSelectsAll(t *testing.T) {
	agents := testAgents(t)
	selected := BroadcastRouting("anything", Filters{Silos: []string{"UK"}}, agents)
	if len(selected) != len(agents) {
		t.Fatalf("expected all agents regardless of filters, got %d", len(selected))
	}
}

func TestRendezvousRoutingSelectsBoundedDeterministicSubset(t *testing.T) {
	agents := testAgents(t)
	strategy := RendezvousRouting(2)

	first := strategy("ai research grants", Filters{}, agents)
	second := strategy("ai research grants", Filters{}, agents)
	if len(first) != 2 {
		t.Fatalf("expected width=2 subset, got %d", len(first))
	}
	if domainsOf(first)[0] != domainsOf(second)[0] || domainsOf(first)[1] != domainsOf(second)[1] {
		t.Fatalf("expected deterministic subset across calls: %v vs %v", domainsOf(first), domainsOf(second))
	}
}

func TestRendezvousRoutingFallsBackWhenWidthExceedsAgents(t *testing.T) {
	agents := testAgents(t)
	strategy := RendezvousRouting(10)
	selected := strategy("anything", Filters{}, agents)
	if len(selected) != len(agents) {
		t.Fatalf("expected fallback to all agents, got %d", len(selected))
	}
}

func domainsOf(agents []*agent.Agent) []string {
	out := make([]string, len(agents))
	for i, a := range agents {
		out[i] = a.Domain
	}
	return out
}
