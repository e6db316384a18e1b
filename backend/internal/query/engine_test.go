package query

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgraph/backend/internal/graph"
	"kgraph/backend/internal/metrics"
	kgerrors "kgraph/backend/pkg/errors"
)

func seed(t *testing.T) *graph.MemoryGraph {
	t.Helper()
	ctx := context.Background()
	g := graph.NewMemoryGraph()

	nodes := []graph.NodeUpsert{
		{ID: "rodeo", Type: graph.NodeTypeMainTopic, Sentiment: graph.SentimentPositive, ContextType: graph.ContextExperiencedIn},
		{ID: "rodeo", Type: graph.NodeTypeMainTopic, Sentiment: graph.SentimentPositive},
		{ID: "rodeo", Type: graph.NodeTypeMainTopic, Sentiment: graph.SentimentPositive},
		{ID: "horses", Type: graph.NodeTypeSubtopic, Sentiment: graph.SentimentNeutral},
		{ID: "horses", Type: graph.NodeTypeSubtopic, Sentiment: graph.SentimentNeutral},
		{ID: "saddle", Type: graph.NodeTypeEntity, Sentiment: graph.SentimentNeutral, ContextType: graph.ContextCuriousAbout},
		{ID: "taxes", Type: graph.NodeTypeMainTopic, Sentiment: graph.SentimentNegative},
		{ID: "island", Type: graph.NodeTypeEntity, Sentiment: graph.SentimentNeutral},
	}
	for _, n := range nodes {
		_, err := g.UpsertNode(ctx, "u1", n)
		require.NoError(t, err)
	}

	edges := []graph.EdgeUpsert{
		{SourceID: "horses", TargetID: "rodeo", RelationType: "part_of"},
		{SourceID: "horses", TargetID: "rodeo", RelationType: "part_of"},
		{SourceID: "rodeo", TargetID: "horses", RelationType: graph.RelationSubtopicOf},
		{SourceID: "horses", TargetID: "saddle", RelationType: "uses"},
		{SourceID: "rodeo", TargetID: "taxes", RelationType: graph.RelationMentionedWith},
	}
	for _, e := range edges {
		_, err := g.UpsertEdge(ctx, "u1", e)
		require.NoError(t, err)
	}
	return g
}

func TestRelatedTopics(t *testing.T) {
	e := NewEngine(seed(t), nil)

	res := e.Execute(context.Background(), Request{UserID: "u1", Params: RelatedTopicsParams{Topic: "Horses"}})
	require.False(t, res.Failed(), res.Error)
	assert.Equal(t, TypeRelatedTopics, res.QueryType)

	rows := res.Data.([]graph.RelatedTopic)
	require.Len(t, rows, 3)
	assert.Equal(t, graph.RelatedTopic{Topic: "rodeo", Type: graph.NodeTypeMainTopic, Weight: 3, ConnectionStrength: 2, RelationType: "part_of"}, rows[0])
	assert.Equal(t, "rodeo", rows[1].Topic)
	assert.Equal(t, graph.RelationSubtopicOf, rows[1].RelationType)
	assert.Equal(t, "saddle", rows[2].Topic)
}

func TestRelatedTopics_ReachedFromEitherEndpoint(t *testing.T) {
	e := NewEngine(seed(t), nil)

	res := e.Execute(context.Background(), Request{UserID: "u1", Params: RelatedTopicsParams{Topic: "taxes"}})
	require.False(t, res.Failed(), res.Error)
	rows := res.Data.([]graph.RelatedTopic)
	require.Len(t, rows, 1)
	assert.Equal(t, "rodeo", rows[0].Topic)
}

func TestRelatedTopics_Limit(t *testing.T) {
	e := NewEngine(seed(t), nil)

	res := e.Execute(context.Background(), Request{UserID: "u1", Params: RelatedTopicsParams{Topic: "horses", Limit: 1}})
	require.False(t, res.Failed(), res.Error)
	assert.Len(t, res.Data.([]graph.RelatedTopic), 1)
}

func TestRelatedTopics_UnknownTopic(t *testing.T) {
	e := NewEngine(seed(t), nil)

	res := e.Execute(context.Background(), Request{UserID: "u1", Params: RelatedTopicsParams{Topic: "bogus"}})
	assert.Equal(t, "Topic not found: bogus", res.Error)
	assert.Nil(t, res.Data)

	isolated := e.Execute(context.Background(), Request{UserID: "u1", Params: RelatedTopicsParams{Topic: "island"}})
	require.False(t, isolated.Failed())
	assert.Empty(t, isolated.Data.([]graph.RelatedTopic))
}

func TestTopTopics(t *testing.T) {
	e := NewEngine(seed(t), nil)

	res := e.Execute(context.Background(), Request{UserID: "u1", Params: TopTopicsParams{Limit: 3}})
	require.False(t, res.Failed(), res.Error)

	rows := res.Data.([]graph.RankedNode)
	require.Len(t, rows, 3)
	assert.Equal(t, "rodeo", rows[0].Topic)
	assert.Equal(t, "horses", rows[1].Topic)
	// saddle and taxes tie on weight and connections; ids break the tie
	assert.Equal(t, "saddle", rows[2].Topic)
}

func TestTopTopics_DefaultLimit(t *testing.T) {
	g := graph.NewMemoryGraph()
	for i := 0; i < 15; i++ {
		_, err := g.UpsertNode(context.Background(), "u1", graph.NodeUpsert{
			ID:   string(rune('a' + i)),
			Type: graph.NodeTypeEntity,
		})
		require.NoError(t, err)
	}
	e := NewEngine(g, nil)

	res := e.Execute(context.Background(), Request{UserID: "u1", Params: TopTopicsParams{}})
	assert.Len(t, res.Data.([]graph.RankedNode), DefaultLimit)
}

func TestTopicPath(t *testing.T) {
	e := NewEngine(seed(t), nil)
	ctx := context.Background()

	tests := []struct {
		name     string
		from, to string
		want     PathResult
	}{
		{"two hops", "rodeo", "saddle", PathResult{Found: true, Path: []string{"rodeo", "horses", "saddle"}, Length: 2}},
		{"reverse direction", "saddle", "taxes", PathResult{Found: true, Path: []string{"saddle", "horses", "rodeo", "taxes"}, Length: 3}},
		{"same node", "Rodeo", "rodeo", PathResult{Found: true, Path: []string{"rodeo"}, Length: 0}},
		{"disconnected", "rodeo", "island", PathResult{Found: false}},
		{"unknown endpoint", "rodeo", "unrelated", PathResult{Found: false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.Execute(ctx, Request{UserID: "u1", Params: TopicPathParams{From: tt.from, To: tt.to}})
			require.False(t, res.Failed(), res.Error)
			assert.Equal(t, tt.want, res.Data)
		})
	}
}

func TestUserInterests(t *testing.T) {
	e := NewEngine(seed(t), nil)

	res := e.Execute(context.Background(), Request{UserID: "u1", Params: UserInterestsParams{}})
	require.False(t, res.Failed(), res.Error)

	var topics []string
	for _, n := range res.Data.([]graph.RankedNode) {
		topics = append(topics, n.Topic)
	}
	assert.Equal(t, []string{"rodeo", "saddle"}, topics)
}

func TestGraphSummary(t *testing.T) {
	e := NewEngine(seed(t), nil)

	res := e.Execute(context.Background(), Request{UserID: "u1", Params: GraphSummaryParams{}})
	require.False(t, res.Failed(), res.Error)

	summary := res.Data.(*graph.Summary)
	assert.Equal(t, 5, summary.TotalNodes)
	assert.Equal(t, 4, summary.TotalEdges)
	assert.Equal(t, 2, summary.NodesByType[graph.NodeTypeMainTopic])
	assert.Equal(t, 1, summary.NodesByType[graph.NodeTypeSubtopic])
	assert.Equal(t, 2, summary.NodesByType[graph.NodeTypeEntity])
	require.NotEmpty(t, summary.TopTopics)
	assert.Equal(t, "rodeo", summary.TopTopics[0].Topic)
}

func TestExecute_InvalidRequests(t *testing.T) {
	e := NewEngine(seed(t), nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
		want string
	}{
		{"missing user", Request{Params: TopTopicsParams{}}, "Missing required parameter: userId"},
		{"missing params", Request{UserID: "u1"}, "Missing query parameters"},
		{"missing topic", Request{UserID: "u1", Params: RelatedTopicsParams{}}, "Missing required parameter: topic"},
		{"missing path end", Request{UserID: "u1", Params: TopicPathParams{From: "rodeo"}}, "Missing required parameter: to"},
		{"limit too large", Request{UserID: "u1", Params: TopTopicsParams{Limit: 1000}}, "Invalid parameter limit: must be lte 100"},
		{"negative limit", Request{UserID: "u1", Params: UserInterestsParams{Limit: -1}}, "Invalid parameter limit: must be gte 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.Execute(ctx, tt.req)
			assert.Equal(t, tt.want, res.Error)
			assert.Equal(t, kgerrors.KindInvalidQuery, res.ErrorKind)
			assert.Nil(t, res.Data)
		})
	}
}

func TestExecuteRaw(t *testing.T) {
	e := NewEngine(seed(t), nil)
	ctx := context.Background()

	res := e.ExecuteRaw(ctx, "u1", "bogus", nil)
	assert.Equal(t, "Unknown query type: bogus", res.Error)

	res = e.ExecuteRaw(ctx, "u1", "related_topics", json.RawMessage(`{"topic":"rodeo","limit":2,"extra":true}`))
	require.False(t, res.Failed(), res.Error)
	assert.Len(t, res.Data.([]graph.RelatedTopic), 2)

	res = e.ExecuteRaw(ctx, "u1", "top_topics", json.RawMessage(`{"limit":"five"}`))
	assert.Contains(t, res.Error, "Invalid params for top_topics")

	res = e.ExecuteRaw(ctx, "u1", "graph_summary", json.RawMessage(`null`))
	assert.False(t, res.Failed(), res.Error)
}

func TestResultJSON(t *testing.T) {
	e := NewEngine(seed(t), nil)

	res := e.Execute(context.Background(), Request{UserID: "u1", Params: TopicPathParams{From: "rodeo", To: "island"}})
	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"queryType":"topic_path","data":{"found":false,"length":0}}`, string(raw))

	res = e.ExecuteRaw(context.Background(), "u1", "bogus", nil)
	raw, err = json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"queryType":"bogus","error":"Unknown query type: bogus","errorKind":"InvalidQuery"}`, string(raw))
}

type brokenStore struct {
	graph.Store
}

func (brokenStore) TopTopics(ctx context.Context, userID string, limit int) ([]graph.RankedNode, error) {
	return nil, kgerrors.TransientStore("test", errors.New("connection refused"))
}

func TestExecute_StoreErrorsBecomeResults(t *testing.T) {
	collector := metrics.NewCollector("test")
	e := NewEngine(brokenStore{Store: graph.NewMemoryGraph()}, collector)

	res := e.Execute(context.Background(), Request{UserID: "u1", Params: TopTopicsParams{}})
	assert.True(t, res.Failed())
	assert.Equal(t, kgerrors.KindTransientStore, res.ErrorKind)
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.Queries.WithLabelValues("top_topics", "error")))
}

func TestParseRequest(t *testing.T) {
	req, err := ParseRequest("u1", "topic_path", json.RawMessage(`{"from":"a","to":"b"}`))
	require.NoError(t, err)
	assert.Equal(t, TopicPathParams{From: "a", To: "b"}, req.Params)

	_, err = ParseRequest("u1", "nope", nil)
	assert.True(t, kgerrors.IsKind(err, kgerrors.KindInvalidQuery))
}
