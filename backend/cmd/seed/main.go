package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"kgraph/backend/internal/app"
	"kgraph/backend/internal/pipeline"
	"kgraph/backend/pkg/config"
	"kgraph/backend/pkg/logger"
)

// SeedFile lists the texts to run through the pipeline, per user
type SeedFile struct {
	Users []SeedUser `yaml:"users"`
}

// SeedUser is one user's texts, processed in order
type SeedUser struct {
	ID    string   `yaml:"id"`
	Texts []string `yaml:"texts"`
}

func main() {
	file := flag.String("file", "", "YAML file of users and texts to seed")
	schemaOnly := flag.Bool("schema-only", false, "Create tables or constraints and exit")
	flag.Parse()

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
	log.Info("Starting graph seeding...", zap.String("backend", cfg.GraphBackend))

	ctx := context.Background()

	// Opening the backend migrates the tables or ensures the Neo4j constraints
	g := app.OpenGraph(ctx, cfg, nil)
	defer g.Close()
	if g.Degraded {
		log.Fatal("Graph backend unreachable", zap.String("backend", cfg.GraphBackend))
	}
	if *schemaOnly {
		log.Info("Schema ready")
		return
	}

	if *file == "" {
		log.Fatal("-file is required unless -schema-only is set")
	}
	seed, err := loadSeedFile(*file)
	if err != nil {
		log.Fatal("Failed to load seed file", zap.Error(err))
	}

	extractor, err := app.NewExtractor(cfg)
	if err != nil {
		log.Fatal("Failed to create extractor", zap.Error(err))
	}
	policies, err := app.LoadPolicies(cfg)
	if err != nil {
		log.Fatal("Failed to load pipeline policies", zap.Error(err))
	}

	orch := pipeline.NewOrchestrator(pipeline.NewSteps(extractor, g.Store), pipeline.NewMemoryCheckpoints(), policies, nil)
	failed := seedAll(ctx, orch, seed, log)

	log.Info("Seeding complete", zap.Int("failed", failed))
	if failed > 0 {
		os.Exit(1)
	}
}

func loadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}
	for i, u := range seed.Users {
		if u.ID == "" {
			return nil, fmt.Errorf("users[%d]: id is required", i)
		}
	}
	return &seed, nil
}

// seedAll submits every text and returns how many runs failed
func seedAll(ctx context.Context, runner pipeline.Runner, seed *SeedFile, log *zap.Logger) int {
	failed := 0
	for _, u := range seed.Users {
		for i, text := range u.Texts {
			summary, err := runner.Start(ctx, pipeline.Request{UserID: u.ID, Text: text})
			if err != nil {
				failed++
				log.Warn("Seed text failed", zap.String("user_id", u.ID), zap.Int("index", i), zap.Error(err))
				continue
			}
			log.Info("Seeded text",
				zap.String("user_id", u.ID),
				zap.String("run_id", summary.RunID),
				zap.Int("nodes_created", summary.NodesCreated),
				zap.Int("edges_created", summary.EdgesCreated),
			)
		}
	}
	return failed
}
