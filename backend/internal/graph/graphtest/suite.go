// Package graphtest holds the behavioral test suite shared by every
// graph.Store implementation.
package graphtest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgraph/backend/internal/graph"
	kgerrors "kgraph/backend/pkg/errors"
)

// Factory returns an empty store for one subtest
type Factory func(t *testing.T) graph.Store

// Run executes the full store contract against stores built by newStore
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s graph.Store)
	}{
		{"NormalizedIdentity", testNormalizedIdentity},
		{"WeightMonotonic", testWeightMonotonic},
		{"ContextAccumulation", testContextAccumulation},
		{"TypeFixedSentimentLastWrite", testTypeFixedSentimentLastWrite},
		{"ConcurrentUpsertsKeepEveryIncrement", testConcurrentUpserts},
		{"EdgeIdentityIgnoresOrientation", testEdgeIdentity},
		{"EdgeRequiresNodes", testEdgeRequiresNodes},
		{"RelatedTopicsEitherEndpoint", testRelatedTopicsEitherEndpoint},
		{"TopTopicsOrdering", testTopTopics},
		{"UserInterests", testUserInterests},
		{"EdgesInCreationOrder", testEdgesOrder},
		{"TokensApplyOnce", testTokens},
		{"TextSourceAppendOnly", testTextSource},
		{"TextSourceIDsPerUser", testTextSourcePerUser},
		{"Summary", testSummary},
		{"UserIsolation", testUserIsolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func upsert(t *testing.T, s graph.Store, user, id string, typ graph.NodeType, sent graph.Sentiment, ctxType graph.ContextType) graph.UpsertResult {
	t.Helper()
	res, err := s.UpsertNode(context.Background(), user, graph.NodeUpsert{
		ID:          id,
		Type:        typ,
		Sentiment:   sent,
		ContextType: ctxType,
	})
	require.NoError(t, err)
	return res
}

func link(t *testing.T, s graph.Store, user, from, to, rel string) graph.UpsertResult {
	t.Helper()
	res, err := s.UpsertEdge(context.Background(), user, graph.EdgeUpsert{
		SourceID:     from,
		TargetID:     to,
		RelationType: rel,
	})
	require.NoError(t, err)
	return res
}

func testNormalizedIdentity(t *testing.T, s graph.Store) {
	ctx := context.Background()
	first := upsert(t, s, "u1", "Rodeo ", graph.NodeTypeMainTopic, graph.SentimentNeutral, "")
	upsert(t, s, "u1", "rodeo", graph.NodeTypeMainTopic, graph.SentimentNeutral, "")
	upsert(t, s, "u1", "ROdeo", graph.NodeTypeMainTopic, graph.SentimentNeutral, "")

	assert.True(t, first.Created)
	node, err := s.GetNode(ctx, "u1", "rodeo")
	require.NoError(t, err)
	assert.Equal(t, "rodeo", node.ID)
	assert.Equal(t, 3, node.Weight)

	summary, err := s.Summary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalNodes)
}

func testWeightMonotonic(t *testing.T, s graph.Store) {
	ctx := context.Background()
	upsert(t, s, "u1", "horses", graph.NodeTypeSubtopic, graph.SentimentNeutral, "")

	const n = 7
	prev := 1
	for i := 0; i < n; i++ {
		res := upsert(t, s, "u1", "horses", graph.NodeTypeSubtopic, graph.SentimentNeutral, "")
		assert.False(t, res.Created)
		assert.Equal(t, prev+1, res.Weight)
		prev = res.Weight
	}

	node, err := s.GetNode(ctx, "u1", "horses")
	require.NoError(t, err)
	assert.Equal(t, 1+n, node.Weight)
}

func testContextAccumulation(t *testing.T, s graph.Store) {
	ctx := context.Background()
	for _, c := range []graph.ContextType{graph.ContextLearning, graph.ContextDiscussing, graph.ContextLearning, graph.ContextCuriousAbout} {
		upsert(t, s, "u1", "saddle", graph.NodeTypeEntity, graph.SentimentNeutral, c)
	}

	node, err := s.GetNode(ctx, "u1", "saddle")
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]graph.ContextType{graph.ContextLearning, graph.ContextDiscussing, graph.ContextCuriousAbout},
		node.ContextTypes,
	)
}

func testTypeFixedSentimentLastWrite(t *testing.T, s graph.Store) {
	ctx := context.Background()
	upsert(t, s, "u1", "go", graph.NodeTypeMainTopic, graph.SentimentPositive, "")
	upsert(t, s, "u1", "go", graph.NodeTypeEntity, graph.SentimentNegative, "")

	node, err := s.GetNode(ctx, "u1", "go")
	require.NoError(t, err)
	assert.Equal(t, graph.NodeTypeMainTopic, node.Type)
	assert.Equal(t, graph.SentimentNegative, node.Sentiment)
	assert.False(t, node.LastSeen.Before(node.FirstSeen))
}

func testConcurrentUpserts(t *testing.T, s graph.Store) {
	ctx := context.Background()
	upsert(t, s, "u1", "a", graph.NodeTypeMainTopic, graph.SentimentNeutral, "")
	upsert(t, s, "u1", "b", graph.NodeTypeMainTopic, graph.SentimentNeutral, "")

	const workers = 8
	const perWorker = 5

	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker*2)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := s.UpsertNode(ctx, "u1", graph.NodeUpsert{ID: "shared", Type: graph.NodeTypeEntity, Sentiment: graph.SentimentNeutral}); err != nil {
					errs <- err
				}
				if _, err := s.UpsertEdge(ctx, "u1", graph.EdgeUpsert{SourceID: "a", TargetID: "b", RelationType: "related_to"}); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	node, err := s.GetNode(ctx, "u1", "shared")
	require.NoError(t, err)
	assert.Equal(t, workers*perWorker, node.Weight)

	edges, err := s.Edges(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, workers*perWorker, edges[0].Weight)
}

func testEdgeIdentity(t *testing.T, s graph.Store) {
	ctx := context.Background()
	upsert(t, s, "u1", "rodeo", graph.NodeTypeMainTopic, graph.SentimentNeutral, "")
	upsert(t, s, "u1", "horses", graph.NodeTypeSubtopic, graph.SentimentNeutral, "")

	first := link(t, s, "u1", "rodeo", "horses", "related_to")
	second := link(t, s, "u1", "Horses", "rodeo", "Related To")
	other := link(t, s, "u1", "rodeo", "horses", graph.RelationSubtopicOf)

	assert.True(t, first.Created)
	assert.False(t, second.Created)
	assert.Equal(t, 2, second.Weight)
	assert.True(t, other.Created)

	edges, err := s.Edges(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, "rodeo", edges[0].SourceID)
	assert.Equal(t, "horses", edges[0].TargetID)
	assert.Equal(t, "related_to", edges[0].RelationType)
	assert.Equal(t, 2, edges[0].Weight)
}

func testEdgeRequiresNodes(t *testing.T, s graph.Store) {
	ctx := context.Background()
	upsert(t, s, "u1", "rodeo", graph.NodeTypeMainTopic, graph.SentimentNeutral, "")

	_, err := s.UpsertEdge(ctx, "u1", graph.EdgeUpsert{SourceID: "rodeo", TargetID: "ghost", RelationType: "related_to"})
	assert.True(t, kgerrors.IsKind(err, kgerrors.KindConstraintViolation), "got %v", err)

	_, err = s.UpsertEdge(ctx, "u1", graph.EdgeUpsert{SourceID: "rodeo", TargetID: "Rodeo", RelationType: "related_to"})
	assert.True(t, kgerrors.IsKind(err, kgerrors.KindConstraintViolation), "got %v", err)
}

func testRelatedTopicsEitherEndpoint(t *testing.T, s graph.Store) {
	ctx := context.Background()
	for _, id := range []string{"horses", "rodeo", "saddle", "stable"} {
		upsert(t, s, "u1", id, graph.NodeTypeEntity, graph.SentimentNeutral, "")
	}
	upsert(t, s, "u1", "stable", graph.NodeTypeEntity, graph.SentimentNeutral, "")

	link(t, s, "u1", "horses", "rodeo", "related_to")
	link(t, s, "u1", "saddle", "horses", "used_with")
	link(t, s, "u1", "saddle", "horses", "used_with")
	link(t, s, "u1", "stable", "horses", "related_to")

	rows, err := s.RelatedTopics(ctx, "u1", "horses", 10)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "saddle", rows[0].Topic)
	assert.Equal(t, 2, rows[0].ConnectionStrength)
	assert.Equal(t, "used_with", rows[0].RelationType)
	// equal strength: heavier node first
	assert.Equal(t, "stable", rows[1].Topic)
	assert.Equal(t, 2, rows[1].Weight)
	assert.Equal(t, "rodeo", rows[2].Topic)

	limited, err := s.RelatedTopics(ctx, "u1", "horses", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	fromRodeo, err := s.RelatedTopics(ctx, "u1", "rodeo", 10)
	require.NoError(t, err)
	require.Len(t, fromRodeo, 1)
	assert.Equal(t, "horses", fromRodeo[0].Topic)
}

func testTopTopics(t *testing.T, s graph.Store) {
	ctx := context.Background()
	upsert(t, s, "u1", "a", graph.NodeTypeMainTopic, graph.SentimentNeutral, "")
	upsert(t, s, "u1", "a", graph.NodeTypeMainTopic, graph.SentimentNeutral, "")
	upsert(t, s, "u1", "a", graph.NodeTypeMainTopic, graph.SentimentNeutral, "")
	upsert(t, s, "u1", "b", graph.NodeTypeSubtopic, graph.SentimentNeutral, "")
	upsert(t, s, "u1", "c", graph.NodeTypeSubtopic, graph.SentimentNeutral, "")
	upsert(t, s, "u1", "d", graph.NodeTypeEntity, graph.SentimentNeutral, "")
	link(t, s, "u1", "c", "d", "related_to")

	rows, err := s.TopTopics(ctx, "u1", 3)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "a", rows[0].Topic)
	assert.Equal(t, 3, rows[0].Weight)
	// b, c, d share weight 1; c and d have a connection
	assert.Equal(t, "c", rows[1].Topic)
	assert.Equal(t, 1, rows[1].Connections)
	assert.Equal(t, "d", rows[2].Topic)
}

func testUserInterests(t *testing.T, s graph.Store) {
	ctx := context.Background()
	upsert(t, s, "u1", "rodeo", graph.NodeTypeMainTopic, graph.SentimentPositive, graph.ContextExperiencedIn)
	upsert(t, s, "u1", "taxes", graph.NodeTypeMainTopic, graph.SentimentNegative, graph.ContextDiscussing)
	upsert(t, s, "u1", "chess", graph.NodeTypeMainTopic, graph.SentimentNeutral, graph.ContextCuriousAbout)
	upsert(t, s, "u1", "chess", graph.NodeTypeMainTopic, graph.SentimentNegative, graph.ContextDiscussing)
	upsert(t, s, "u1", "weather", graph.NodeTypeEntity, graph.SentimentNeutral, graph.ContextNeutral)

	rows, err := s.UserInterests(ctx, "u1", 10)
	require.NoError(t, err)

	var ids []string
	for _, r := range rows {
		ids = append(ids, r.Topic)
	}
	// chess stays an interest through its accumulated curious_about context
	assert.Equal(t, []string{"chess", "rodeo"}, ids)
}

func testEdgesOrder(t *testing.T, s graph.Store) {
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		upsert(t, s, "u1", id, graph.NodeTypeEntity, graph.SentimentNeutral, "")
	}
	link(t, s, "u1", "b", "c", "related_to")
	link(t, s, "u1", "a", "b", "related_to")
	link(t, s, "u1", "c", "a", "related_to")
	link(t, s, "u1", "b", "c", "related_to")

	edges, err := s.Edges(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, edges, 3)
	assert.Equal(t, [2]string{"b", "c"}, [2]string{edges[0].SourceID, edges[0].TargetID})
	assert.Equal(t, [2]string{"a", "b"}, [2]string{edges[1].SourceID, edges[1].TargetID})
	assert.Equal(t, [2]string{"c", "a"}, [2]string{edges[2].SourceID, edges[2].TargetID})
}

func testTokens(t *testing.T, s graph.Store) {
	ctx := context.Background()
	in := graph.NodeUpsert{ID: "rodeo", Type: graph.NodeTypeMainTopic, Sentiment: graph.SentimentPositive, Token: "run-1/persist_nodes/0"}

	first, err := s.UpsertNode(ctx, "u1", in)
	require.NoError(t, err)
	replay, err := s.UpsertNode(ctx, "u1", in)
	require.NoError(t, err)

	assert.True(t, first.Created)
	assert.True(t, replay.Skipped)
	assert.Equal(t, 1, replay.Weight)

	// same token under another user is independent
	other, err := s.UpsertNode(ctx, "u2", in)
	require.NoError(t, err)
	assert.True(t, other.Created)

	upsert(t, s, "u1", "horses", graph.NodeTypeSubtopic, graph.SentimentNeutral, "")
	edge := graph.EdgeUpsert{SourceID: "rodeo", TargetID: "horses", RelationType: graph.RelationSubtopicOf, Token: "run-1/persist_edges/0"}
	_, err = s.UpsertEdge(ctx, "u1", edge)
	require.NoError(t, err)
	edgeReplay, err := s.UpsertEdge(ctx, "u1", edge)
	require.NoError(t, err)
	assert.True(t, edgeReplay.Skipped)

	edges, err := s.Edges(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, 1, edges[0].Weight)
}

func testTextSource(t *testing.T, s graph.Store) {
	ctx := context.Background()
	src := graph.TextSource{
		ID:          "text-1",
		UserID:      "u1",
		Content:     "I love horseback riding and went to a rodeo",
		Length:      43,
		RunID:       "run-1",
		DurationMs:  120,
		Counts:      graph.ExtractionCounts{MainTopics: 1, Subtopics: 1},
		Sentiment:   graph.SentimentPositive,
		ContextType: graph.ContextExperiencedIn,
	}
	require.NoError(t, s.RecordTextSource(ctx, src))

	err := s.RecordTextSource(ctx, src)
	assert.True(t, kgerrors.IsKind(err, kgerrors.KindDuplicateID), "got %v", err)

	got, err := s.GetTextSource(ctx, "u1", "text-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, 43, got.Length)
	assert.Equal(t, 1, got.Counts.Subtopics)
	assert.Equal(t, graph.ContextExperiencedIn, got.ContextType)

	_, err = s.GetTextSource(ctx, "u2", "text-1")
	assert.True(t, kgerrors.IsKind(err, kgerrors.KindNotFound), "got %v", err)
}

func testTextSourcePerUser(t *testing.T, s graph.Store) {
	ctx := context.Background()
	require.NoError(t, s.RecordTextSource(ctx, graph.TextSource{ID: "note-1", UserID: "alice", Content: "rodeo", Length: 5, RunID: "run-a"}))
	require.NoError(t, s.RecordTextSource(ctx, graph.TextSource{ID: "note-1", UserID: "bob", Content: "horses", Length: 6, RunID: "run-b"}))

	alice, err := s.GetTextSource(ctx, "alice", "note-1")
	require.NoError(t, err)
	assert.Equal(t, "run-a", alice.RunID)

	bob, err := s.GetTextSource(ctx, "bob", "note-1")
	require.NoError(t, err)
	assert.Equal(t, "run-b", bob.RunID)
	assert.Equal(t, "horses", bob.Content)

	err = s.RecordTextSource(ctx, graph.TextSource{ID: "note-1", UserID: "bob", Content: "again", Length: 5, RunID: "run-c"})
	assert.True(t, kgerrors.IsKind(err, kgerrors.KindDuplicateID), "got %v", err)
}

func testSummary(t *testing.T, s graph.Store) {
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		id := fmt.Sprintf("topic %d", i)
		for j := 0; j <= i; j++ {
			upsert(t, s, "u1", id, graph.NodeTypeMainTopic, graph.SentimentNeutral, "")
		}
	}
	upsert(t, s, "u1", "sub", graph.NodeTypeSubtopic, graph.SentimentNeutral, "")
	link(t, s, "u1", "topic 6", "sub", graph.RelationSubtopicOf)

	summary, err := s.Summary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 8, summary.TotalNodes)
	assert.Equal(t, 1, summary.TotalEdges)
	assert.Equal(t, 7, summary.NodesByType[graph.NodeTypeMainTopic])
	assert.Equal(t, 1, summary.NodesByType[graph.NodeTypeSubtopic])
	require.Len(t, summary.TopTopics, graph.SummaryTopN)
	assert.Equal(t, "topic 6", summary.TopTopics[0].Topic)
	assert.Equal(t, 7, summary.TopTopics[0].Weight)

	empty, err := s.Summary(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, empty.TotalNodes)
	assert.Empty(t, empty.TopTopics)
}

func testUserIsolation(t *testing.T, s graph.Store) {
	ctx := context.Background()
	upsert(t, s, "u1", "rodeo", graph.NodeTypeMainTopic, graph.SentimentNeutral, "")
	upsert(t, s, "u2", "horses", graph.NodeTypeMainTopic, graph.SentimentNeutral, "")

	_, err := s.GetNode(ctx, "u2", "rodeo")
	assert.True(t, kgerrors.IsKind(err, kgerrors.KindNotFound), "got %v", err)

	// u2 cannot link to u1's node
	_, err = s.UpsertEdge(ctx, "u2", graph.EdgeUpsert{SourceID: "horses", TargetID: "rodeo"})
	assert.True(t, kgerrors.IsKind(err, kgerrors.KindConstraintViolation), "got %v", err)
}
