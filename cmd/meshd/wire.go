package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/redis/go-redis/v9"

	"github.com/tenzoki/agen/grantmesh/internal/cache"
	"github.com/tenzoki/agen/grantmesh/internal/config"
	"github.com/tenzoki/agen/grantmesh/internal/embedding"
	"github.com/tenzoki/agen/grantmesh/internal/envelope"
	"github.com/tenzoki/agen/grantmesh/internal/metrics"
	"github.com/tenzoki/agen/grantmesh/internal/querylog"
	"github.com/tenzoki/agen/grantmesh/internal/routing"
	"github.com/tenzoki/agen/grantmesh/internal/vectorstore"
	"github.com/tenzoki/agen/grantmesh/public/agent"
	"github.com/tenzoki/agen/grantmesh/public/orchestrator"
)

// defaultDimensions matches all-MiniLM-L6-v2, spec.md §6's default model.
const defaultDimensions = 384

// meshRuntime bundles everything buildMesh assembles so serve.go and
// query.go can share one wiring path.
type meshRuntime struct {
	orchestrator *orchestrator.Orchestrator
	metrics      *metrics.Registry
	close        func()
}

// buildMesh loads cfg, resolves the embedder pool and each domain agent's
// VectorCollection (Qdrant if qdrantAddr is set, the in-process memory
// collection otherwise), wires the ResultCache (Redis-backed if redisAddr
// is set), and returns a ready-to-query Orchestrator.
func buildMesh(ctx context.Context, cfgPath, qdrantAddr, redisAddr string) (*meshRuntime, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	ring := envelope.NewRingBuffer(1000)
	apiKey := os.Getenv("GRANTMESH_EMBEDDER_API_KEY")
	pool := embedding.NewPool(embedding.DefaultFactory(apiKey, defaultDimensions, 30*time.Second))

	collectionFor := func(silo, domain string) (vectorstore.VectorCollection, error) {
		if qdrantAddr == "" {
			return vectorstore.NewMemoryCollection(silo, domain), nil
		}
		conn, err := grpc.DialContext(ctx, qdrantAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("dial qdrant at %s: %w", qdrantAddr, err)
		}
		closers = append(closers, func() { conn.Close() })
		return vectorstore.NewQdrantCollection(ctx, conn, silo, domain, defaultDimensions)
	}

	iukColl, err := collectionFor("UK", "innovate_uk")
	if err != nil {
		closeAll()
		return nil, err
	}
	nihrColl, err := collectionFor("UK", "nihr")
	if err != nil {
		closeAll()
		return nil, err
	}
	heColl, err := collectionFor("EU", "horizon_europe")
	if err != nil {
		closeAll()
		return nil, err
	}

	iuk, err := agent.NewInnovateUKAgent("iuk-1", pool, cfg.Embedder.ModelName, iukColl, ring)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("build innovate_uk agent: %w", err)
	}
	nihr, err := agent.NewNIHRAgent("nihr-1", pool, cfg.Embedder.ModelName, nihrColl, ring)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("build nihr agent: %w", err)
	}
	he, err := agent.NewHorizonEuropeAgent("he-1", pool, cfg.Embedder.ModelName, heColl, ring)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("build horizon_europe agent: %w", err)
	}

	agents := []*agent.Agent{iuk, nihr, he}
	for _, a := range agents {
		if err := a.Initialize(ctx); err != nil {
			closeAll()
			return nil, fmt.Errorf("initialize agent %s: %w", a.ID, err)
		}
	}

	var backend cache.Backend
	if redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		closers = append(closers, func() { rdb.Close() })
		backend = cache.NewRedisBackend(rdb, time.Duration(cfg.Cache.TTLSeconds)*time.Second, "grantmesh")
	} else {
		backend = cache.NewShardedBackend(16)
	}
	resultCache := cache.NewResultCache(backend, time.Duration(cfg.Cache.TTLSeconds)*time.Second, cfg.Cache.MaxEntries)

	rerankEmbedder, err := pool.Get(cfg.Embedder.ModelName)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("build re-ranking embedder: %w", err)
	}

	orch := orchestrator.New("orchestrator-1", agents, resolveStrategy(cfg.Routing), cfg.Routing.Strategy, resultCache, rerankEmbedder, orchestrator.Config{
		FanoutTimeout: time.Duration(cfg.Fanout.TimeoutSeconds) * time.Second,
		MaxRetries:    cfg.Fanout.MaxRetries,
		BackoffBase:   time.Duration(cfg.Fanout.BackoffBaseSeconds) * time.Second,
		MaxInFlight:   32,
	})
	orch.SetExpertHints(agent.NewExpertHintsAgent("expert-hints-1", ring))

	metricsReg := metrics.NewRegistry()
	orch.SetMetrics(metricsReg)

	if cfg.Log.EnableQueryLogging() {
		qlog, err := querylog.Open(cfg.Log.QueryLogPath, 1024)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("open query log: %w", err)
		}
		orch.SetQueryLog(qlog)
		closers = append(closers, func() { qlog.Close() })
	}

	return &meshRuntime{orchestrator: orch, metrics: metricsReg, close: closeAll}, nil
}

// resolveStrategy maps the configured routing.strategy name to a
// routing.Strategy value. An unrecognized name can't reach here —
// config.Load already rejects it — so this defaults to SiloRouting only
// as a defensive fallback.
func resolveStrategy(rc config.RoutingConfig) routing.Strategy {
	switch rc.Strategy {
	case "keyword":
		return routing.KeywordRouting(routing.KeywordTriggers(rc.KeywordTriggers))
	case "broadcast":
		return routing.BroadcastRouting
	case "rendezvous":
		return routing.RendezvousRouting(2)
	default:
		return routing.SiloRouting
	}
}
