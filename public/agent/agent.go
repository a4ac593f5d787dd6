// Package agent provides the in-process base runtime shared by every
// domain agent in the mesh: lifecycle, handler dispatch, counters, and the
// hybrid search and indexing paths built on top of a VectorCollection.
//
// Grounded on tenzoki-agen/code/cellorg/public/agent.BaseAgent's identity,
// logging, and lifecycle conventions, with the TCP/support-service/VFS
// machinery removed — agents here are called directly in-process by the
// orchestrator rather than addressed over a broker socket.
package agent

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/tenzoki/agen/grantmesh/internal/embedding"
	"github.com/tenzoki/agen/grantmesh/internal/envelope"
	"github.com/tenzoki/agen/grantmesh/internal/grant"
	"github.com/tenzoki/agen/grantmesh/internal/vectorstore"
)

// State is the agent's lifecycle state.
type State string

const (
	StateInitializing State = "initializing"
	StateActive       State = "active"
	StateOffline      State = "offline"
)

// Handler services one envelope and returns the response envelope (a
// RESPONSE or ERROR). Handlers never panic across the dispatch boundary —
// Agent.Handle recovers and converts a panic into a PROCESSING_ERROR.
type Handler func(ctx context.Context, a *Agent, env *envelope.Envelope) *envelope.Envelope

// BuildDocument assembles the canonical text a grant is embedded from.
// Domain constructors may override the default (grant.BuildDocument) to
// fold in funding-body-specific fields.
type BuildDocumentFunc func(g grant.Grant) string

// Counters are the per-agent atomics spec.md §5 requires to be updated
// only by that agent, never cross-agent.
type Counters struct {
	QueriesHandled atomic.Int64
	GrantsIndexed  atomic.Int64
	Errors         atomic.Int64
	lastUpdated    atomic.Int64 // unix nanos
}

func (c *Counters) touch() { c.lastUpdated.Store(time.Now().UnixNano()) }

// LastUpdated returns the time of the most recent counter update, or the
// zero time if none yet.
func (c *Counters) LastUpdated() time.Time {
	ns := c.lastUpdated.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Agent owns exactly one VectorCollection and services envelopes through
// its handler table. Domain specializations are built by populating
// BuildDocument and the Handlers map at construction time — values, not
// types, per the capability-polymorphism design.
type Agent struct {
	ID     string
	Domain string
	Silo   string

	Collection vectorstore.VectorCollection
	Embedder   embedding.Embedder
	RingBuffer *envelope.RingBuffer

	Handlers      map[envelope.Intent]Handler
	BuildDocument BuildDocumentFunc
	Capabilities  []string

	OnInitialize func(*Agent) error
	OnShutdown   func(*Agent)

	Counters Counters

	state atomic.Value // State

	debug bool
}

// New constructs an agent in the "initializing" state with the default
// SEARCH/STATUS/FETCH handlers registered. Domain constructors (see
// domains.go) should call New, then add ANALYZE/VALIDATE handlers and
// override BuildDocument before calling Initialize.
func New(id, domain, silo string, collection vectorstore.VectorCollection, embedder embedding.Embedder, ringBuffer *envelope.RingBuffer) *Agent {
	a := &Agent{
		ID:            id,
		Domain:        domain,
		Silo:          silo,
		Collection:    collection,
		Embedder:      embedder,
		RingBuffer:    ringBuffer,
		Handlers:      make(map[envelope.Intent]Handler),
		BuildDocument: grant.BuildDocument,
	}
	a.state.Store(StateInitializing)
	registerDefaultHandlers(a)
	return a
}

// State returns the agent's current lifecycle state.
func (a *Agent) State() State {
	return a.state.Load().(State)
}

// Initialize invokes OnInitialize, then transitions to active. The
// embedder and collection are the ones injected at construction (see
// NewDomainAgent); Initialize does not check them.
func (a *Agent) Initialize(ctx context.Context) error {
	if a.OnInitialize != nil {
		if err := a.OnInitialize(a); err != nil {
			return err
		}
	}
	a.state.Store(StateActive)
	a.logInfo("initialized: domain=%s silo=%s", a.Domain, a.Silo)
	return nil
}

// Shutdown invokes OnShutdown and transitions to offline.
func (a *Agent) Shutdown() {
	if a.OnShutdown != nil {
		a.OnShutdown(a)
	}
	a.state.Store(StateOffline)
	a.logInfo("shut down")
}

// Handle validates env, dispatches it to the registered handler for its
// intent, and records the exchange in the ring buffer. Any handler panic
// is converted to a PROCESSING_ERROR rather than propagating.
func (a *Agent) Handle(ctx context.Context, env *envelope.Envelope) (resp *envelope.Envelope) {
	if a.RingBuffer != nil {
		a.RingBuffer.Append(env)
	}

	if err := env.Validate(); err != nil {
		a.Counters.Errors.Add(1)
		return env.Fail(err.Error(), envelope.ErrInvalidMessage)
	}

	handler, ok := a.Handlers[env.Intent]
	if !ok {
		a.Counters.Errors.Add(1)
		return env.Fail("no handler for intent "+string(env.Intent), envelope.ErrNoHandler)
	}

	defer func() {
		if r := recover(); r != nil {
			a.Counters.Errors.Add(1)
			a.logError("handler panic: %v", r)
			resp = env.Fail("internal error", envelope.ErrProcessingError)
		}
	}()

	resp = handler(ctx, a, env)
	if a.RingBuffer != nil {
		a.RingBuffer.Append(resp)
	}
	return resp
}

func (a *Agent) logInfo(format string, args ...interface{}) {
	log.Printf("agent %s: "+format, append([]interface{}{a.ID}, args...)...)
}

func (a *Agent) logDebug(format string, args ...interface{}) {
	if a.debug {
		log.Printf("agent %s [debug]: "+format, append([]interface{}{a.ID}, args...)...)
	}
}

func (a *Agent) logError(format string, args ...interface{}) {
	log.Printf("agent %s [error]: "+format, append([]interface{}{a.ID}, args...)...)
}

// SetDebug toggles debug-level logging, matching BaseAgent.Debug's role.
func (a *Agent) SetDebug(debug bool) { a.debug = debug }
