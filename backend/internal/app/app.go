// Package app wires configured components for the server and worker binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"kgraph/backend/internal/extraction"
	"kgraph/backend/internal/graph"
	"kgraph/backend/internal/metrics"
	"kgraph/backend/internal/pipeline"
	"kgraph/backend/internal/tablestore"
	"kgraph/backend/pkg/config"
	"kgraph/backend/pkg/logger"
)

// Graph is the opened graph store
type Graph struct {
	Store    graph.Store
	Backend  string
	Degraded bool

	// Table is set for the postgres and sqlite backends
	Table *tablestore.Store

	closers []func() error
}

// Close releases every connection the graph holds
func (g *Graph) Close() error {
	var errs []error
	for i := len(g.closers) - 1; i >= 0; i-- {
		errs = append(errs, g.closers[i]())
	}
	return errors.Join(errs...)
}

func (g *Graph) onClose(fn func() error) {
	g.closers = append(g.closers, fn)
}

// OpenGraph opens the configured backend. When it cannot be reached the
// in-memory graph is used instead and the result is marked Degraded.
func OpenGraph(ctx context.Context, cfg *config.Config, m *metrics.Collector) *Graph {
	log := logger.Named("app")

	g, err := openBackend(ctx, cfg)
	if err != nil {
		log.Warn("Graph backend unreachable, using in-memory graph",
			zap.String("backend", cfg.GraphBackend),
			zap.Error(err),
		)
		g = &Graph{Store: graph.NewMemoryGraph(), Backend: "memory", Degraded: true}
	}

	g.Store = metrics.InstrumentStore(g.Store, m)
	log.Info("Graph store ready", zap.String("backend", g.Backend), zap.Bool("degraded", g.Degraded))
	return g
}

func openBackend(ctx context.Context, cfg *config.Config) (*Graph, error) {
	switch cfg.GraphBackend {
	case "postgres", "sqlite":
		db, err := tablestore.Open(cfg.GraphBackend, cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		store := tablestore.New(db)
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to migrate %s: %w", cfg.GraphBackend, err)
		}
		g := &Graph{Store: store, Backend: cfg.GraphBackend, Table: store}
		g.onClose(store.Close)
		return g, nil

	case "neo4j":
		driver, err := neo4j.NewDriverWithContext(
			cfg.Neo4jURI,
			neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
		}
		if err := driver.VerifyConnectivity(ctx); err != nil {
			_ = driver.Close(ctx)
			return nil, fmt.Errorf("failed to verify Neo4j connectivity: %w", err)
		}
		repo := graph.NewRepository(driver)
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = repo.Close()
			return nil, err
		}
		g := &Graph{Store: repo, Backend: "neo4j"}
		g.onClose(repo.Close)
		return g, nil
	}
	return &Graph{Store: graph.NewMemoryGraph(), Backend: "memory"}, nil
}

// NewExtractor builds the configured extraction provider
func NewExtractor(cfg *config.Config) (extraction.Extractor, error) {
	breaker := extraction.BreakerConfig{
		MinRequests:  cfg.BreakerMinRequests,
		FailureRatio: cfg.BreakerFailRatio,
		OpenTimeout:  cfg.BreakerOpenTimeout,
	}

	switch cfg.ExtractionProvider {
	case "openai":
		return extraction.NewAdapter(extraction.NewOpenAICompleter(cfg.LiteLLMURL, cfg.ExtractionAPIKey, cfg.ModelID), breaker), nil
	case "anthropic":
		return extraction.NewAdapter(extraction.NewAnthropicCompleter(cfg.AnthropicAPIKey, cfg.AnthropicModel), breaker), nil
	case "static":
		raw, err := os.ReadFile(cfg.ExtractionStaticFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read static extraction payload: %w", err)
		}
		return extraction.NewStatic(string(raw))
	}
	return nil, fmt.Errorf("unknown extraction provider %q", cfg.ExtractionProvider)
}

// LoadPolicies overlays the optional policy file onto the default policies
func LoadPolicies(cfg *config.Config) (pipeline.Policies, error) {
	pf, err := config.LoadPolicyFile(cfg.PipelinePolicyFile)
	if err != nil {
		return nil, err
	}
	return pipeline.PoliciesFromFile(pf)
}

// OpenCheckpoints opens the configured checkpoint store. Table checkpoints
// share the graph's database; a degraded graph has none, so local mode falls
// back to memory and temporal mode fails.
func OpenCheckpoints(ctx context.Context, cfg *config.Config, g *Graph) (pipeline.CheckpointStore, func() error, error) {
	noop := func() error { return nil }

	switch cfg.CheckpointBackend {
	case "redis":
		rdb, err := pipeline.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, noop, err
		}
		return pipeline.NewRedisCheckpoints(rdb, "", cfg.CheckpointTTL), rdb.Close, nil

	case "table":
		if g.Table != nil {
			return tablestore.NewCheckpoints(g.Table.DB()), noop, nil
		}
		if cfg.PipelineMode == "temporal" {
			return nil, noop, fmt.Errorf("table checkpoints need the %s database, which is unreachable", cfg.GraphBackend)
		}
		logger.Named("app").Warn("Table checkpoints unavailable, keeping runs in memory")
	}
	return pipeline.NewMemoryCheckpoints(), noop, nil
}
