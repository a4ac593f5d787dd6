package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tenzoki/agen/grantmesh/internal/cache"
	"github.com/tenzoki/agen/grantmesh/internal/embedding"
	"github.com/tenzoki/agen/grantmesh/internal/envelope"
	"github.com/tenzoki/agen/grantmesh/internal/grant"
	"github.com/tenzoki/agen/grantmesh/internal/metrics"
	"github.com/tenzoki/agen/grantmesh/internal/querylog"
	"github.com/tenzoki/agen/grantmesh/internal/routing"
	"github.com/tenzoki/agen/grantmesh/public/agent"
)

// Version is stamped on every query-log record, per spec.md §4.6 step 9.
const Version = "grantmesh-orchestrator/1"

// Config holds the orchestrator's timing and concurrency parameters,
// populated from internal/config.Config by the caller (cmd/meshd) so this
// package stays independent of the YAML loader.
type Config struct {
	FanoutTimeout time.Duration
	MaxRetries    int
	BackoffBase   time.Duration
	MaxInFlight   int
}

// DefaultConfig returns spec.md §5's documented defaults: 5s per-agent
// timeout, 3 total attempts at a 1s backoff base, 32 max in-flight agent
// calls.
func DefaultConfig() Config {
	return Config{
		FanoutTimeout: 5 * time.Second,
		MaxRetries:    3,
		BackoffBase:   time.Second,
		MaxInFlight:   32,
	}
}

// Orchestrator is the mesh's single query-facing coordinator. It owns no
// VectorCollection of its own — every search is delegated to the
// registered agents — and holds no per-query state between calls beyond
// the shared ResultCache and counters.
type Orchestrator struct {
	id string

	mu     sync.RWMutex
	agents []*agent.Agent

	expertHints *agent.Agent

	strategyMu   sync.RWMutex
	strategy     routing.Strategy
	strategyName string

	resultCache *cache.ResultCache
	embedder    embedding.Embedder
	log         *querylog.Logger
	metrics     *metrics.Registry

	cfg Config

	totalQueries atomic.Int64

	latencyMu  sync.Mutex
	avgLatency float64
}

// New builds an Orchestrator addressed as id, serving the given agents
// with strategy (named strategyName, recorded on every query-log line) as
// its initial RoutingStrategy and resultCache as its ResultCache. embedder
// is used only for the re-ranking pass — a nil embedder disables it and
// relevance_score falls back to the agent's own combined_score. The query
// log and metrics registry are attached separately (SetQueryLog,
// SetMetrics) and may be left unset; every optional dependency is checked
// before use.
func New(id string, agents []*agent.Agent, strategy routing.Strategy, strategyName string, resultCache *cache.ResultCache, embedder embedding.Embedder, cfg Config) *Orchestrator {
	if cfg.FanoutTimeout <= 0 {
		cfg = DefaultConfig()
	}
	return &Orchestrator{
		id:           id,
		agents:       append([]*agent.Agent{}, agents...),
		strategy:     strategy,
		strategyName: strategyName,
		resultCache:  resultCache,
		embedder:     embedder,
		cfg:          cfg,
	}
}

// SetExpertHints registers the agent consulted for the expert-hints pass.
// A nil value (the default) disables the pass entirely.
func (o *Orchestrator) SetExpertHints(a *agent.Agent) { o.expertHints = a }

// SetQueryLog attaches the query-log writer. Logging is skipped silently
// when none is attached.
func (o *Orchestrator) SetQueryLog(l *querylog.Logger) { o.log = l }

// SetMetrics attaches the Prometheus registry counters are recorded
// against. Recording is skipped silently when none is attached.
func (o *Orchestrator) SetMetrics(m *metrics.Registry) { o.metrics = m }

// SetStrategy swaps the active RoutingStrategy at runtime, per spec.md
// §6's routing.strategy config key being hot-swappable without rebuilding
// the agent registry. name is recorded on subsequent query-log records.
func (o *Orchestrator) SetStrategy(s routing.Strategy, name string) {
	o.strategyMu.Lock()
	defer o.strategyMu.Unlock()
	o.strategy = s
	o.strategyName = name
}

func (o *Orchestrator) currentStrategy() (routing.Strategy, string) {
	o.strategyMu.RLock()
	defer o.strategyMu.RUnlock()
	return o.strategy, o.strategyName
}

// RegisterAgent adds a to the registry under the registry lock, so it may
// run alongside Query; a query that has already selected its agents does
// not see the new one.
func (o *Orchestrator) RegisterAgent(a *agent.Agent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.agents = append(o.agents, a)
}

// TotalQueries reports how many top-level Query calls have completed.
func (o *Orchestrator) TotalQueries() int64 { return o.totalQueries.Load() }

// AverageLatencyMS reports the running mean of processing_time_ms across
// every completed Query call, per spec.md §4.6 step 10.
func (o *Orchestrator) AverageLatencyMS() float64 {
	o.latencyMu.Lock()
	defer o.latencyMu.Unlock()
	return o.avgLatency
}

// Query serves a single request end to end: cache lookup, optional
// decomposition, expert-hints pass, agent selection, fan-out, re-ranking,
// cache store, logging, and counters — spec.md §4.6's ten numbered steps.
func (o *Orchestrator) Query(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("orchestrator: query is required")
	}
	if req.MaxResults <= 0 {
		req.MaxResults = 10
	}

	start := time.Now()
	key := cacheKey(req)

	if o.resultCache != nil {
		if raw, age, ok := o.resultCache.Get(key); ok {
			var resp Response
			if err := json.Unmarshal(raw, &resp); err == nil {
				resp.FromCache = true
				resp.CacheAgeSeconds = age.Seconds()
				o.recordCacheHit(true)
				o.logQuery(resp, req, start, true)
				o.recordCompletion(resp.ProcessingTimeMS)
				return &resp, nil
			}
			// Corrupt cache entry: discarded, fall through to a live query.
		}
		o.recordCacheHit(false)
	}

	var resp Response
	if subs := decompose(req); subs != nil {
		subResps := make([]Response, len(subs))
		var wg sync.WaitGroup
		for i, sub := range subs {
			i, sub := i, sub
			wg.Add(1)
			go func() {
				defer wg.Done()
				subResps[i] = o.querySingle(ctx, sub)
			}()
		}
		wg.Wait()
		resp = mergeResponses(req.Query, subResps)
	} else {
		resp = o.querySingle(ctx, req)
		resp.ProcessingTimeMS = time.Since(start).Milliseconds()
	}

	if o.resultCache != nil {
		if raw, err := json.Marshal(resp); err == nil {
			o.resultCache.Put(key, raw)
		}
	}

	o.logQuery(resp, req, start, false)
	o.recordCompletion(resp.ProcessingTimeMS)

	return &resp, nil
}

// querySingle runs the expert-hints pass, agent selection, and fan-out
// for exactly one (already-narrowed) request — no cache lookup, no
// decomposition. Used both for a non-decomposed top-level query and for
// each sub-query of a decomposed one.
func (o *Orchestrator) querySingle(ctx context.Context, req Request) Response {
	subStart := time.Now()
	hint := o.expertHint(ctx, req)

	selected := o.selectAgents(req.Query, req.Filters)
	agentIDs := make([]string, len(selected))
	for i, a := range selected {
		agentIDs[i] = a.ID
	}

	// Silo/domain narrowing already happened above, in which agents were
	// selected — the collection's own `where` clause is a metadata-equality
	// filter keyed on singular scalar fields (silo, domain), not the plural
	// membership filters a routing.Filters carries, so nothing is
	// forwarded here.
	grants, errs := o.fanOut(ctx, selected, req.Query, req.MaxResults, hint)
	o.rerank(ctx, req.Query, grants)

	sort.Slice(grants, func(i, j int) bool {
		if grants[i].RelevanceScore != grants[j].RelevanceScore {
			return grants[i].RelevanceScore > grants[j].RelevanceScore
		}
		return grants[i].Deadline.Before(grants[j].Deadline)
	})
	if len(grants) > req.MaxResults {
		grants = grants[:req.MaxResults]
	}

	return Response{
		Query:            req.Query,
		AgentsQueried:    agentIDs,
		TotalResults:     len(grants),
		Grants:           grants,
		ExpertHint:       hint,
		ProcessingTimeMS: time.Since(subStart).Milliseconds(),
		Errors:           errs,
	}
}

// expertHint consults the expert-hints agent, if configured. Failure is
// silent — the metadata key is simply omitted — per spec.md §7's
// propagation policy for this specific pass.
func (o *Orchestrator) expertHint(ctx context.Context, req Request) string {
	if o.expertHints == nil {
		return ""
	}
	env := envelope.NewAnalyzeQuery(o.id, o.expertHints.ID, req.Query, map[string]interface{}{
		"silos":   req.Filters.Silos,
		"domains": req.Filters.Domains,
	})
	resp := o.expertHints.Handle(ctx, env)
	if resp.Kind == envelope.KindError {
		return ""
	}
	var payload envelope.AnalyzeResponsePayload
	if err := resp.UnmarshalContext(&payload); err != nil {
		return ""
	}
	return payload.Hint
}

// selectAgents snapshots the registry and applies the current
// RoutingStrategy.
func (o *Orchestrator) selectAgents(query string, filters Filters) []*agent.Agent {
	o.mu.RLock()
	agents := append([]*agent.Agent{}, o.agents...)
	o.mu.RUnlock()

	if len(agents) == 0 {
		return nil
	}
	strategy, _ := o.currentStrategy()
	if strategy == nil {
		strategy = routing.SiloRouting
	}
	return strategy(query, routing.Filters{Silos: filters.Silos, Domains: filters.Domains}, agents)
}

// rerank is spec.md §4.6 step 6's re-ranking pass: the query is encoded
// once, then every grant's relevance_score is overwritten with the cosine
// similarity between that query vector and a freshly computed embedding of
// the grant's own (title + description) document — not the agent's
// combined_score, which only ever compared against that agent's private
// index. A nil embedder (no re-ranking configured) leaves combined_score
// as the fallback relevance_score set by fanOut.
func (o *Orchestrator) rerank(ctx context.Context, query string, grants []grant.Scored) {
	if o.embedder == nil || len(grants) == 0 {
		return
	}
	queryVec, err := o.embedder.Encode(ctx, query)
	if err != nil {
		return
	}
	for i := range grants {
		docVec, err := o.embedder.Encode(ctx, grants[i].Title+" "+grants[i].Description)
		if err != nil {
			continue
		}
		grants[i].RelevanceScore = cosineSimilarity(queryVec, docVec)
	}
}

// cosineSimilarity returns the cosine similarity of a and b, in [-1, 1].
// Mismatched or zero-length vectors have no defined similarity and report
// 0 rather than panicking or dividing by zero.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func (o *Orchestrator) recordCacheHit(hit bool) {
	if o.metrics == nil {
		return
	}
	if hit {
		o.metrics.CacheHitsTotal.Inc()
	} else {
		o.metrics.CacheMissesTotal.Inc()
	}
}

func (o *Orchestrator) recordCompletion(latencyMS int64) {
	o.totalQueries.Add(1)
	if o.metrics != nil {
		o.metrics.QueriesTotal.Inc()
	}

	o.latencyMu.Lock()
	n := float64(o.totalQueries.Load())
	o.avgLatency += (float64(latencyMS) - o.avgLatency) / n
	o.latencyMu.Unlock()
}

func (o *Orchestrator) logQuery(resp Response, req Request, start time.Time, cacheHit bool) {
	if o.log == nil {
		return
	}
	errMsg := ""
	if len(resp.Errors) > 0 {
		parts := make([]string, len(resp.Errors))
		for i, e := range resp.Errors {
			parts[i] = e.AgentID + ": " + e.Message
		}
		errMsg = strings.Join(parts, "; ")
	}
	_, strategyName := o.currentStrategy()

	var hitRate float64
	if o.resultCache != nil {
		if total := o.resultCache.Hits() + o.resultCache.Misses(); total > 0 {
			hitRate = float64(o.resultCache.Hits()) / float64(total)
		}
	}

	o.log.Append(querylog.Record{
		Timestamp:     start,
		Query:         req.Query,
		Filters:       querylog.Filters{Silos: req.Filters.Silos, Domains: req.Filters.Domains},
		AgentsQueried: resp.AgentsQueried,
		ResultCount:   resp.TotalResults,
		LatencyMS:     resp.ProcessingTimeMS,
		CacheHit:      cacheHit,
		Error:         errMsg,

		RoutingStrategy:     strategyName,
		CacheHitRate:        hitRate,
		OrchestratorVersion: Version,
	})
}

// cacheKey canonicalizes the request into a deterministic hash: the
// normalized query text, max_results, and sorted, lowercased filter
// values. Matches spec.md §4.6 step 1's
// hash(normalize(q), max_results, canonicalize(filters)) contract.
func cacheKey(req Request) string {
	silos := append([]string{}, req.Filters.Silos...)
	domains := append([]string{}, req.Filters.Domains...)
	for i := range silos {
		silos[i] = strings.ToLower(silos[i])
	}
	for i := range domains {
		domains[i] = strings.ToLower(domains[i])
	}
	sort.Strings(silos)
	sort.Strings(domains)

	normalized := strings.Join(strings.Fields(strings.ToLower(req.Query)), " ")
	canonical := fmt.Sprintf("%s|%d|%s|%s", normalized, req.MaxResults, strings.Join(silos, ","), strings.Join(domains, ","))

	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
