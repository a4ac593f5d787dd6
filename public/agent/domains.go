package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/tenzoki/agen/grantmesh/internal/embedding"
	"github.com/tenzoki/agen/grantmesh/internal/envelope"
	"github.com/tenzoki/agen/grantmesh/internal/vectorstore"
)

// New constructors below are plain functions returning populated *Agent
// values — domain specializations are data (a BuildDocument closure plus
// extra table entries), never new types, per spec.md §9's capability
// polymorphism design note.

// NewDomainAgent resolves modelName from pool, builds a collection-backed
// agent, and registers the default handler set. Funding-body constructors
// build on top of this and add ANALYZE/VALIDATE.
func NewDomainAgent(id, domain, silo string, pool *embedding.Pool, modelName string, collection vectorstore.VectorCollection, ring *envelope.RingBuffer) (*Agent, error) {
	embedder, err := pool.Get(modelName)
	if err != nil {
		return nil, fmt.Errorf("domain agent %s: resolve embedder: %w", id, err)
	}
	return New(id, domain, silo, collection, embedder, ring), nil
}

// NewInnovateUKAgent builds an Innovate UK (IUK) agent: SME-oriented
// eligibility analysis on top of the default handlers.
func NewInnovateUKAgent(id string, pool *embedding.Pool, modelName string, collection vectorstore.VectorCollection, ring *envelope.RingBuffer) (*Agent, error) {
	a, err := NewDomainAgent(id, "innovate_uk", "UK", pool, modelName, collection, ring)
	if err != nil {
		return nil, err
	}
	a.Handlers[envelope.IntentAnalyze] = analyzeEligibility("UK-registered SMEs with a technology-readiness level of 4 or higher")
	a.Capabilities = append(a.Capabilities, "analyze")
	return a, nil
}

// NewNIHRAgent builds a National Institute for Health and Care Research
// agent: clinical-trial eligibility analysis plus grant validation.
func NewNIHRAgent(id string, pool *embedding.Pool, modelName string, collection vectorstore.VectorCollection, ring *envelope.RingBuffer) (*Agent, error) {
	a, err := NewDomainAgent(id, "nihr", "UK", pool, modelName, collection, ring)
	if err != nil {
		return nil, err
	}
	a.Handlers[envelope.IntentAnalyze] = analyzeEligibility("NHS-affiliated research organizations running a registered clinical trial")
	a.Handlers[envelope.IntentValidate] = validateByPrefix("nihr-")
	a.Capabilities = append(a.Capabilities, "analyze", "validate")
	return a, nil
}

// NewHorizonEuropeAgent builds a Horizon Europe (HE) agent: EU-consortium
// eligibility analysis plus grant validation.
func NewHorizonEuropeAgent(id string, pool *embedding.Pool, modelName string, collection vectorstore.VectorCollection, ring *envelope.RingBuffer) (*Agent, error) {
	a, err := NewDomainAgent(id, "horizon_europe", "EU", pool, modelName, collection, ring)
	if err != nil {
		return nil, err
	}
	a.Handlers[envelope.IntentAnalyze] = analyzeEligibility("a consortium of at least three legal entities from three different EU member states")
	a.Handlers[envelope.IntentValidate] = validateByPrefix("he-")
	a.Capabilities = append(a.Capabilities, "analyze", "validate")
	return a, nil
}

// analyzeEligibility returns an ANALYZE handler that always answers with a
// fixed eligibility hint string for its funding body. Real deployments
// would inspect req.Query/req.Filters against a rules engine; the mesh's
// core only needs the hint-propagation contract, not the rules themselves.
func analyzeEligibility(hint string) Handler {
	return func(ctx context.Context, a *Agent, env *envelope.Envelope) *envelope.Envelope {
		var req envelope.AnalyzeQueryPayload
		if err := env.UnmarshalContext(&req); err != nil {
			return env.Fail("invalid analyze payload: "+err.Error(), envelope.ErrInvalidMessage)
		}
		return env.Reply(map[string]interface{}{"hint": hint})
	}
}

// validateByPrefix returns a VALIDATE handler that accepts grant ids
// carrying the agent's own id prefix and rejects everything else —
// grounded on the "idempotent by grant_id, never cross-agent" ownership
// invariant: an agent can only meaningfully validate ids it indexed.
func validateByPrefix(prefix string) Handler {
	return func(ctx context.Context, a *Agent, env *envelope.Envelope) *envelope.Envelope {
		var req envelope.ValidateQueryPayload
		if err := env.UnmarshalContext(&req); err != nil {
			return env.Fail("invalid validate payload: "+err.Error(), envelope.ErrInvalidMessage)
		}

		valid := strings.HasPrefix(strings.ToLower(req.GrantID), prefix)
		var reasons []string
		if !valid {
			reasons = []string{fmt.Sprintf("grant_id %q is not owned by %s", req.GrantID, a.ID)}
		}
		return env.Reply(map[string]interface{}{
			"grant_id": req.GrantID,
			"valid":    valid,
			"reasons":  reasons,
		})
	}
}

// NewExpertHintsAgent builds a lightweight agent that only answers
// ANALYZE queries with a query-shape-derived hint, used by the
// orchestrator's optional expert-hints pass (spec.md §4.6 step 3). It
// owns no vector collection of its own.
func NewExpertHintsAgent(id string, ring *envelope.RingBuffer) *Agent {
	a := &Agent{
		ID:         id,
		Domain:     "expert_hints",
		Silo:       "*",
		Handlers:   make(map[envelope.Intent]Handler),
		RingBuffer: ring,
	}
	a.state.Store(StateActive)
	a.Handlers[envelope.IntentAnalyze] = func(ctx context.Context, a *Agent, env *envelope.Envelope) *envelope.Envelope {
		var req envelope.AnalyzeQueryPayload
		if err := env.UnmarshalContext(&req); err != nil {
			return env.Fail("invalid analyze payload: "+err.Error(), envelope.ErrInvalidMessage)
		}
		return env.Reply(map[string]interface{}{"hint": deriveHint(req.Query)})
	}
	a.Capabilities = []string{"analyze"}
	return a
}

// deriveHint produces a short free-text hint from the shape of the query,
// standing in for a real meta-agent's reasoning pass.
func deriveHint(query string) string {
	q := strings.ToLower(query)
	switch {
	case strings.Contains(q, "clinical") || strings.Contains(q, "health"):
		return "prioritize NHS and clinical-trial eligible providers"
	case strings.Contains(q, "ai") || strings.Contains(q, "digital"):
		return "prioritize technology-readiness and digital-sector providers"
	case strings.Contains(q, "research") || strings.Contains(q, "horizon"):
		return "prioritize multi-national research consortia"
	default:
		return ""
	}
}
