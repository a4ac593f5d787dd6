package orchestrator

import (
	"sort"
	"strings"

	"github.com/tenzoki/agen/grantmesh/internal/grant"
)

// connectiveIndicators flag a query joining more than one concern, the
// first half of spec.md §4.6 step 2's "connective/geographic/domain
// indicators trigger decompose" rule.
var connectiveIndicators = []string{" and ", " as well as ", " plus ", " & "}

// geoIndicators maps a silo name to the phrases that mention it. A query
// that mentions two or more silos alongside a connective is split into one
// sub-query per mentioned silo.
var geoIndicators = map[string][]string{
	"UK": {"uk", "united kingdom", "britain"},
	"EU": {"eu", "europe", "european union"},
}

// domainIndicators maps a domain name to the phrases that mention it,
// used the same way as geoIndicators when fewer than two silos are
// mentioned but two or more domains are.
var domainIndicators = map[string][]string{
	"innovate_uk":    {"innovate uk"},
	"nihr":           {"nihr"},
	"horizon_europe": {"horizon europe", "horizon 2020"},
}

// decompose splits req into narrower sub-queries when its text both joins
// concerns with a connective and names two or more silos or domains.
// Returns nil when req should be executed as a single query. Matches
// spec.md §4.6 step 2: sub-queries carry the original filters narrowed by
// exactly one of the mentioned silos or domains, executed in parallel and
// merged afterward.
func decompose(req Request) []Request {
	q := " " + strings.ToLower(req.Query) + " "

	hasConnective := false
	for _, c := range connectiveIndicators {
		if strings.Contains(q, c) {
			hasConnective = true
			break
		}
	}
	if !hasConnective {
		return nil
	}

	var silos []string
	for silo, phrases := range geoIndicators {
		if containsAny(q, phrases) {
			silos = append(silos, silo)
		}
	}
	sort.Strings(silos)

	if len(silos) >= 2 {
		subs := make([]Request, len(silos))
		for i, silo := range silos {
			sub := req
			sub.Filters.Silos = appendUnique(req.Filters.Silos, silo)
			subs[i] = sub
		}
		return subs
	}

	var domains []string
	for domain, phrases := range domainIndicators {
		if containsAny(q, phrases) {
			domains = append(domains, domain)
		}
	}
	sort.Strings(domains)

	if len(domains) >= 2 {
		subs := make([]Request, len(domains))
		for i, domain := range domains {
			sub := req
			sub.Filters.Domains = appendUnique(req.Filters.Domains, domain)
			subs[i] = sub
		}
		return subs
	}

	return nil
}

func containsAny(haystack string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(haystack, p) {
			return true
		}
	}
	return false
}

func appendUnique(existing []string, v string) []string {
	for _, e := range existing {
		if strings.EqualFold(e, v) {
			return existing
		}
	}
	out := make([]string, len(existing), len(existing)+1)
	copy(out, existing)
	return append(out, v)
}

// mergeResponses unions sub-responses' grants, deduping by grant id
// (falling back to title when a grant id is empty), re-sorting by
// (-relevance_score, deadline ascending), and summing processing times —
// spec.md §4.6 step 2's merge contract.
func mergeResponses(query string, subs []Response) Response {
	seen := make(map[string]struct{})
	var grants []grant.Scored
	agentSet := make(map[string]struct{})
	var errs []AgentError
	var hint string
	var totalMS int64

	for _, r := range subs {
		totalMS += r.ProcessingTimeMS
		if hint == "" {
			hint = r.ExpertHint
		}
		for _, a := range r.AgentsQueried {
			agentSet[a] = struct{}{}
		}
		errs = append(errs, r.Errors...)
		for _, g := range r.Grants {
			key := g.GrantID
			if key == "" {
				key = "title:" + strings.ToLower(g.Title)
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			grants = append(grants, g)
		}
	}

	sort.Slice(grants, func(i, j int) bool {
		if grants[i].RelevanceScore != grants[j].RelevanceScore {
			return grants[i].RelevanceScore > grants[j].RelevanceScore
		}
		return grants[i].Deadline.Before(grants[j].Deadline)
	})

	agents := make([]string, 0, len(agentSet))
	for a := range agentSet {
		agents = append(agents, a)
	}
	sort.Strings(agents)

	return Response{
		Query:            query,
		AgentsQueried:    agents,
		TotalResults:     len(grants),
		Grants:           grants,
		ExpertHint:       hint,
		ProcessingTimeMS: totalMS,
		Decomposed:       true,
		SubQueryCount:    len(subs),
		Errors:           errs,
	}
}
