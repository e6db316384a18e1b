package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgraph/backend/internal/app"
	"kgraph/backend/internal/graph"
	"kgraph/backend/internal/pipeline"
	"kgraph/backend/pkg/config"
)

func TestNewRunner_Local(t *testing.T) {
	cfg := &config.Config{
		ExtractionProvider: "openai",
		LiteLLMURL:         "http://localhost:4000",
		ModelID:            "gpt-4o-mini",
		PipelineMode:       "local",
		BreakerMinRequests: 5,
		BreakerFailRatio:   0.8,
	}
	g := &app.Graph{Store: graph.NewMemoryGraph(), Backend: "memory"}

	runner, closeFn, err := newRunner(context.Background(), cfg, g, pipeline.NewMemoryCheckpoints(), nil, nil)
	require.NoError(t, err)
	defer closeFn()

	assert.IsType(t, &pipeline.Orchestrator{}, runner)
}

func TestNewRunner_UnknownProvider(t *testing.T) {
	cfg := &config.Config{ExtractionProvider: "bard", PipelineMode: "local"}
	g := &app.Graph{Store: graph.NewMemoryGraph(), Backend: "memory"}

	_, _, err := newRunner(context.Background(), cfg, g, pipeline.NewMemoryCheckpoints(), nil, nil)
	assert.Error(t, err)
}
