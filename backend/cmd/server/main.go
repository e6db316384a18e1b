package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"kgraph/backend/internal/app"
	"kgraph/backend/internal/httpapi"
	"kgraph/backend/internal/metrics"
	"kgraph/backend/internal/pipeline"
	"kgraph/backend/internal/pipeline/temporalrun"
	"kgraph/backend/internal/query"
	"kgraph/backend/pkg/config"
	"kgraph/backend/pkg/logger"
	"kgraph/backend/pkg/tracing"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}

	// Initialize logger
	if err := logger.Init(cfg.Env, cfg.LogLevel); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting HTTP API server...",
		zap.String("graph_backend", cfg.GraphBackend),
		zap.String("pipeline_mode", cfg.PipelineMode),
	)

	shutdownTracing, err := tracing.Init(cfg.TracingEnabled, "kgraph-server", cfg.Env)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	ctx := context.Background()
	collector := metrics.NewCollector("kgraph")

	g := app.OpenGraph(ctx, cfg, collector)
	defer g.Close()

	checkpoints, closeCheckpoints, err := app.OpenCheckpoints(ctx, cfg, g)
	if err != nil {
		log.Fatal("Failed to open checkpoint store", zap.Error(err))
	}
	defer closeCheckpoints()

	policies, err := app.LoadPolicies(cfg)
	if err != nil {
		log.Fatal("Failed to load pipeline policies", zap.Error(err))
	}

	runner, closeRunner, err := newRunner(ctx, cfg, g, checkpoints, policies, collector)
	if err != nil {
		log.Fatal("Failed to create pipeline runner", zap.Error(err))
	}
	defer closeRunner()

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpapi.NewRouter(httpapi.Options{
		Runner:         runner,
		Engine:         query.NewEngine(g.Store, collector),
		Metrics:        collector,
		GraphBackend:   g.Backend,
		Degraded:       g.Degraded,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.String("port", cfg.Port))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("Failed to flush traces", zap.Error(err))
	}

	log.Info("Server exited")
}

// newRunner runs pipelines in process, or submits them to Temporal workers
func newRunner(ctx context.Context, cfg *config.Config, g *app.Graph, checkpoints pipeline.CheckpointStore, policies pipeline.Policies, m *metrics.Collector) (pipeline.Runner, func(), error) {
	if cfg.PipelineMode == "temporal" {
		c, err := temporalrun.Dial(ctx, cfg.TemporalHostPort, cfg.TemporalNamespace)
		if err != nil {
			return nil, func() {}, err
		}
		return temporalrun.NewRunner(c, checkpoints, policies, cfg.TemporalTaskQueue), c.Close, nil
	}

	extractor, err := app.NewExtractor(cfg)
	if err != nil {
		return nil, func() {}, err
	}
	steps := pipeline.NewSteps(extractor, g.Store)
	return pipeline.NewOrchestrator(steps, checkpoints, policies, m), func() {}, nil
}
