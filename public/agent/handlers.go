package agent

import (
	"context"

	"github.com/tenzoki/agen/grantmesh/internal/envelope"
)

func registerDefaultHandlers(a *Agent) {
	a.Handlers[envelope.IntentSearch] = handleSearch
	a.Handlers[envelope.IntentStatus] = handleStatus
	a.Handlers[envelope.IntentFetch] = handleFetch
	a.Capabilities = []string{"search", "status", "fetch"}
}

func handleSearch(ctx context.Context, a *Agent, env *envelope.Envelope) *envelope.Envelope {
	var req envelope.SearchQueryPayload
	if err := env.UnmarshalContext(&req); err != nil {
		return env.Fail("invalid search payload: "+err.Error(), envelope.ErrInvalidMessage)
	}

	results, err := a.Search(ctx, req.Query, req.MaxResults, req.Filters)
	if err != nil {
		a.Counters.Errors.Add(1)
		return env.Fail(err.Error(), envelope.ErrUpstreamUnavailable)
	}

	grants := make([]interface{}, len(results))
	for i, r := range results {
		grants[i] = r
	}

	return env.Reply(map[string]interface{}{
		"results":  grants,
		"total":    len(grants),
		"agent_id": a.ID,
		"domain":   a.Domain,
	})
}

func handleStatus(ctx context.Context, a *Agent, env *envelope.Envelope) *envelope.Envelope {
	return env.Reply(map[string]interface{}{
		"agent_id":        a.ID,
		"domain":          a.Domain,
		"silo":            a.Silo,
		"state":           string(a.State()),
		"queries_handled": a.Counters.QueriesHandled.Load(),
		"grants_indexed":  a.Counters.GrantsIndexed.Load(),
		"errors":          a.Counters.Errors.Load(),
		"capabilities":    a.Capabilities,
	})
}

func handleFetch(ctx context.Context, a *Agent, env *envelope.Envelope) *envelope.Envelope {
	var req envelope.FetchQueryPayload
	if err := env.UnmarshalContext(&req); err != nil {
		return env.Fail("invalid fetch payload: "+err.Error(), envelope.ErrInvalidMessage)
	}

	grants, err := a.Fetch(ctx, req.Limit)
	if err != nil {
		a.Counters.Errors.Add(1)
		return env.Fail(err.Error(), envelope.ErrUpstreamUnavailable)
	}

	records := make([]map[string]interface{}, len(grants))
	for i, g := range grants {
		records[i] = map[string]interface{}{
			"grant_id":    g.GrantID,
			"title":       g.Title,
			"description": g.Description,
			"provider":    g.Provider,
			"silo":        g.Silo,
			"domain":      g.Domain,
		}
	}

	return env.Reply(map[string]interface{}{"records": records})
}
