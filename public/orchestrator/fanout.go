package orchestrator

import (
	"context"
	"time"

	"github.com/tenzoki/agen/grantmesh/internal/envelope"
	"github.com/tenzoki/agen/grantmesh/internal/grant"
	"github.com/tenzoki/agen/grantmesh/public/agent"
)

// searchWire mirrors handleSearch's Reply shape, letting fanOut decode a
// SEARCH RESPONSE's Context back into the same agent.SearchResult values
// the agent produced, rather than walking a generic map.
type searchWire struct {
	Results []agent.SearchResult `json:"results"`
	Total   int                  `json:"total"`
	AgentID string               `json:"agent_id"`
	Domain  string               `json:"domain"`
}

// callResult is one agent's outcome, fed back to the fanOut collector
// over a channel.
type callResult struct {
	agentID string
	scored  []grant.Scored
	err     error
}

// fanOut dispatches a SEARCH envelope to every agent in selected, bounded
// to maxInFlight concurrent calls, retrying each via callOneWithRetry. A
// single failing agent never aborts the others — its failure is recorded
// in the returned errs slice, per spec.md §7. Silo/domain narrowing is a
// routing concern handled by agent selection, not forwarded here as a
// collection-level filter.
func (o *Orchestrator) fanOut(ctx context.Context, selected []*agent.Agent, query string, maxResults int, hint string) ([]grant.Scored, []AgentError) {
	if len(selected) == 0 {
		return nil, nil
	}

	maxInFlight := o.cfg.MaxInFlight
	if maxInFlight <= 0 || maxInFlight > len(selected) {
		maxInFlight = len(selected)
	}
	sem := make(chan struct{}, maxInFlight)
	results := make(chan callResult, len(selected))

	for _, a := range selected {
		a := a
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			scored, err := o.callOneWithRetry(ctx, a, query, maxResults, hint)
			results <- callResult{agentID: a.ID, scored: scored, err: err}
		}()
	}

	var grants []grant.Scored
	var errs []AgentError
	for range selected {
		r := <-results
		if r.err != nil {
			errs = append(errs, AgentError{AgentID: r.agentID, Message: r.err.Error()})
			if o.metrics != nil {
				o.metrics.FanoutErrorsTotal.Inc()
			}
			continue
		}
		grants = append(grants, r.scored...)
		if o.metrics != nil {
			o.metrics.AgentQueriesTotal.WithLabelValues(r.agentID).Inc()
		}
	}
	return grants, errs
}

// callOneWithRetry calls a single agent with a per-attempt timeout,
// retrying on error or timeout with exponential backoff, up to
// cfg.MaxRetries total attempts — matching the original orchestrator's
// `for attempt in range(max_retries)` loop. The wait before each retry
// starts at cfg.BackoffBase and doubles, so the defaults (3 attempts, 1s
// base) wait 1s and then 2s.
func (o *Orchestrator) callOneWithRetry(ctx context.Context, a *agent.Agent, query string, maxResults int, hint string) ([]grant.Scored, error) {
	attempts := o.cfg.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}
	backoff := o.cfg.BackoffBase

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		scored, err := o.callOnce(ctx, a, query, maxResults, hint)
		if err == nil {
			return scored, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// callOnce issues a single SEARCH envelope to a and waits for either its
// reply or the per-agent timeout, whichever comes first. a.Handle runs
// in-process, so the timeout race is cooperative: a slow handler keeps
// running, but its result is discarded once the timeout fires.
func (o *Orchestrator) callOnce(ctx context.Context, a *agent.Agent, query string, maxResults int, hint string) ([]grant.Scored, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.FanoutTimeout)
	defer cancel()

	env := envelope.NewSearchQuery(o.id, a.ID, query, maxResults, nil)
	if hint != "" {
		env.Metadata["sme_context"] = hint
	}

	done := make(chan *envelope.Envelope, 1)
	go func() { done <- a.Handle(callCtx, env) }()

	select {
	case <-callCtx.Done():
		return nil, callCtx.Err()
	case resp := <-done:
		if resp.Kind == envelope.KindError {
			return nil, errorFromEnvelope(resp)
		}
		var wire searchWire
		if err := resp.UnmarshalContext(&wire); err != nil {
			return nil, err
		}
		scored := make([]grant.Scored, len(wire.Results))
		for i, r := range wire.Results {
			scored[i] = grant.Scored{
				Grant:         r.Grant,
				SemanticScore: r.SemanticScore,
				KeywordScore:  r.KeywordScore,
				CombinedScore: r.CombinedScore,
				// RelevanceScore starts as a fallback equal to this agent's
				// own combined_score; Orchestrator.rerank overwrites it with
				// a freshly computed cross-agent cosine similarity once all
				// agents have replied.
				RelevanceScore: r.CombinedScore,
				AgentSource:    a.ID,
			}
		}
		return scored, nil
	}
}

func errorFromEnvelope(env *envelope.Envelope) error {
	if msg, ok := env.Context["message"].(string); ok && msg != "" {
		return &fanoutError{msg}
	}
	return &fanoutError{"agent returned an error envelope"}
}

type fanoutError struct{ msg string }

func (e *fanoutError) Error() string { return e.msg }
