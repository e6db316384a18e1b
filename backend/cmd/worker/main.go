package main

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"kgraph/backend/internal/app"
	"kgraph/backend/internal/metrics"
	"kgraph/backend/internal/pipeline"
	"kgraph/backend/internal/pipeline/temporalrun"
	"kgraph/backend/pkg/config"
	"kgraph/backend/pkg/logger"
	"kgraph/backend/pkg/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}

	if err := logger.Init(cfg.Env, cfg.LogLevel); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting pipeline worker...",
		zap.String("task_queue", cfg.TemporalTaskQueue),
		zap.Int("concurrency", cfg.WorkerConcurrency),
	)

	shutdownTracing, err := tracing.Init(cfg.TracingEnabled, "kgraph-worker", cfg.Env)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer shutdownTracing(context.Background())

	ctx := context.Background()
	collector := metrics.NewCollector("kgraph_worker")

	g := app.OpenGraph(ctx, cfg, collector)
	defer g.Close()
	if g.Degraded {
		// activities on other workers would write to a different graph
		log.Fatal("Worker requires a reachable graph backend", zap.String("backend", cfg.GraphBackend))
	}

	checkpoints, closeCheckpoints, err := app.OpenCheckpoints(ctx, cfg, g)
	if err != nil {
		log.Fatal("Failed to open checkpoint store", zap.Error(err))
	}
	defer closeCheckpoints()

	extractor, err := app.NewExtractor(cfg)
	if err != nil {
		log.Fatal("Failed to create extractor", zap.Error(err))
	}

	c, err := temporalrun.Dial(ctx, cfg.TemporalHostPort, cfg.TemporalNamespace)
	if err != nil {
		log.Fatal("Failed to connect to Temporal", zap.Error(err))
	}
	defer c.Close()

	w := temporalrun.NewWorker(c, cfg.TemporalTaskQueue, &temporalrun.Activities{
		Steps:       pipeline.NewSteps(extractor, g.Store),
		Checkpoints: checkpoints,
	}, cfg.WorkerConcurrency)

	log.Info("Worker is running. Press CTRL-C to exit.")
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Error("Worker stopped", zap.Error(err))
	}
	log.Info("Worker exited")
}
