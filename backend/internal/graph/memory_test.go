package graph_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgraph/backend/internal/graph"
	"kgraph/backend/internal/graph/graphtest"
)

func TestMemoryGraph_Contract(t *testing.T) {
	graphtest.Run(t, func(t *testing.T) graph.Store {
		return graph.NewMemoryGraph()
	})
}

func TestMemoryGraph_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	g := graph.NewMemoryGraph()

	_, err := g.UpsertNode(ctx, "u1", graph.NodeUpsert{ID: "rodeo", Type: graph.NodeTypeMainTopic, ContextType: graph.ContextLearning})
	require.NoError(t, err)

	node, err := g.GetNode(ctx, "u1", "rodeo")
	require.NoError(t, err)
	node.Weight = 99
	node.ContextTypes[0] = graph.ContextNeutral

	again, err := g.GetNode(ctx, "u1", "rodeo")
	require.NoError(t, err)
	assert.Equal(t, 1, again.Weight)
	assert.Equal(t, []graph.ContextType{graph.ContextLearning}, again.ContextTypes)
}

func TestMemoryGraph_RejectsUnknownTypes(t *testing.T) {
	ctx := context.Background()
	g := graph.NewMemoryGraph()

	_, err := g.UpsertNode(ctx, "u1", graph.NodeUpsert{ID: "x", Type: "planet"})
	assert.Error(t, err)

	_, err = g.UpsertNode(ctx, "u1", graph.NodeUpsert{ID: "x", Type: graph.NodeTypeEntity, Sentiment: "ecstatic"})
	assert.Error(t, err)

	_, err = g.UpsertNode(ctx, "u1", graph.NodeUpsert{ID: "   ", Type: graph.NodeTypeEntity})
	assert.Error(t, err)
}

func TestMemoryGraph_SummaryIsOneSnapshot(t *testing.T) {
	ctx := context.Background()
	g := graph.NewMemoryGraph()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < graph.SummaryTopN-1; i++ {
			_, err := g.UpsertNode(ctx, "u1", graph.NodeUpsert{ID: fmt.Sprintf("topic %d", i), Type: graph.NodeTypeMainTopic})
			assert.NoError(t, err)
		}
	}()

	for {
		select {
		case <-done:
			s, err := g.Summary(ctx, "u1")
			require.NoError(t, err)
			assert.Len(t, s.TopTopics, graph.SummaryTopN-1)
			return
		default:
		}
		s, err := g.Summary(ctx, "u1")
		require.NoError(t, err)
		// below the cap, every node is a top topic
		require.Len(t, s.TopTopics, s.TotalNodes)
		require.Equal(t, s.TotalNodes, s.NodesByType[graph.NodeTypeMainTopic])
	}
}
