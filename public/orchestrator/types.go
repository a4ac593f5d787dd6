// Package orchestrator implements the mesh's query-facing coordinator: it
// decomposes complex queries, selects agents via a RoutingStrategy, fans
// out SEARCH envelopes, re-ranks and merges the replies, and serves
// repeat queries from a ResultCache.
//
// Grounded on tenzoki-agen/code/cellorg/public/agent.AgentFramework's
// dispatch loop, generalized from "read one message off a broker socket"
// to "fan a single request out to many in-process agents and merge the
// replies."
package orchestrator

import (
	"github.com/tenzoki/agen/grantmesh/internal/grant"
)

// Filters narrows which agents a query is routed to. An empty slice in
// either field means "any", matching routing.Filters.
type Filters struct {
	Silos   []string `json:"silos,omitempty"`
	Domains []string `json:"domains,omitempty"`
}

// Request is the orchestrator-facing query shape, the inbound half of
// spec.md §4.6's query() contract.
type Request struct {
	Query      string  `json:"query"`
	MaxResults int     `json:"max_results,omitempty"`
	Filters    Filters `json:"filters,omitempty"`
	UserID     string  `json:"user_id,omitempty"`
}

// AgentError records one agent's fan-out failure after retries are
// exhausted; it never excludes the query from producing a response, per
// spec.md §7's propagation policy.
type AgentError struct {
	AgentID string `json:"agent_id"`
	Message string `json:"error_message"`
}

// Response is the outbound shape of a served query, per spec.md §4.6 step
// 7's assembly contract.
type Response struct {
	Query            string         `json:"query"`
	AgentsQueried    []string       `json:"agents_queried"`
	TotalResults     int            `json:"total_results"`
	Grants           []grant.Scored `json:"grants"`
	ExpertHint       string         `json:"expert_hint,omitempty"`
	ProcessingTimeMS int64          `json:"processing_time_ms"`
	FromCache        bool           `json:"from_cache,omitempty"`
	CacheAgeSeconds  float64        `json:"cache_age_seconds,omitempty"`
	Decomposed       bool           `json:"decomposed,omitempty"`
	SubQueryCount    int            `json:"sub_query_count,omitempty"`
	Errors           []AgentError  `json:"errors,omitempty"`
}
