// Package routing selects which agents a query is dispatched to. Every
// strategy is a pure function over the current agent registry — no
// strategy holds state of its own, so swapping strategies at runtime
// (spec.md §9's "routing.strategy" config key) never requires rebuilding
// the registry.
package routing

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"

	"github.com/tenzoki/agen/grantmesh/public/agent"
)

// Filters narrows which agents a query may be routed to. An empty slice
// for either field means "any" — SiloRouting's match rule.
type Filters struct {
	Silos   []string
	Domains []string
}

// Strategy selects a subset of agents for a query. Strategies never
// mutate agents or return an empty slice while agents exist — an empty
// match always falls back to the full registry per spec.md §4.5.
type Strategy func(query string, filters Filters, agents []*agent.Agent) []*agent.Agent

// SiloRouting is the default strategy: an agent passes when both its silo
// and domain are in the requested sets (an empty set in either dimension
// means "any"). No match at all falls back to every agent.
func SiloRouting(_ string, filters Filters, agents []*agent.Agent) []*agent.Agent {
	matched := make([]*agent.Agent, 0, len(agents))
	for _, a := range agents {
		if !matches(filters.Silos, a.Silo) {
			continue
		}
		if !matches(filters.Domains, a.Domain) {
			continue
		}
		matched = append(matched, a)
	}
	if len(matched) == 0 {
		return agents
	}
	return matched
}

func matches(allowed []string, value string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, v := range allowed {
		if strings.EqualFold(v, value) {
			return true
		}
	}
	return false
}

// KeywordTriggers maps a domain name to the trigger phrases that route a
// query to it, per spec.md §6's `routing.keyword_triggers` config key.
type KeywordTriggers map[string][]string

// KeywordRouting builds a Strategy bound to a fixed trigger table. The
// lowercased query is scanned for any domain's trigger phrase; every
// agent whose domain triggered is selected. No trigger match falls back
// to every agent, matching SiloRouting's empty-result behavior.
func KeywordRouting(triggers KeywordTriggers) Strategy {
	return func(query string, _ Filters, agents []*agent.Agent) []*agent.Agent {
		q := strings.ToLower(query)
		triggeredDomains := make(map[string]struct{})
		for domain, phrases := range triggers {
			for _, phrase := range phrases {
				if phrase == "" {
					continue
				}
				if strings.Contains(q, strings.ToLower(phrase)) {
					triggeredDomains[domain] = struct{}{}
					break
				}
			}
		}
		if len(triggeredDomains) == 0 {
			return agents
		}

		matched := make([]*agent.Agent, 0, len(agents))
		for _, a := range agents {
			if _, ok := triggeredDomains[a.Domain]; ok {
				matched = append(matched, a)
			}
		}
		if len(matched) == 0 {
			return agents
		}
		return matched
	}
}

// BroadcastRouting always selects every registered agent.
func BroadcastRouting(_ string, _ Filters, agents []*agent.Agent) []*agent.Agent {
	return agents
}

// RendezvousRouting selects a deterministic subset of width agents by
// highest-random-weight (rendezvous) hashing over each agent's
// (silo,domain) key: it looks up "query:0", "query:1", ... and keeps each
// newly won agent until width distinct agents are picked. Opt-in strategy for deployments that want bounded fan-out without full
// broadcast; falls back to every agent when width >= len(agents).
//
// RendezvousRouting is not in spec.md's base three (Silo/Keyword/
// Broadcast) — it's the supplemental strategy SPEC_FULL.md adds on top.
func RendezvousRouting(width int) Strategy {
	return func(query string, _ Filters, agents []*agent.Agent) []*agent.Agent {
		if width <= 0 || width >= len(agents) {
			return agents
		}

		keys := make([]string, len(agents))
		byKey := make(map[string]*agent.Agent, len(agents))
		for i, a := range agents {
			k := a.Silo + "/" + a.Domain
			keys[i] = k
			byKey[k] = a
		}

		r := rendezvous.New(keys, func(s string) uint64 { return xxhash.Sum64String(s) })
		picked := make([]*agent.Agent, 0, width)
		seen := make(map[string]struct{}, width)
		for attempt := 0; len(picked) < width && len(seen) < len(keys); attempt++ {
			k := r.Lookup(query + ":" + strconv.Itoa(attempt))
			if _, already := seen[k]; already {
				continue
			}
			seen[k] = struct{}{}
			picked = append(picked, byKey[k])
		}
		return picked
	}
}
