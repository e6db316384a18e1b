package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgraph/backend/internal/extraction"
	"kgraph/backend/internal/graph"
)

func TestPlanNodes(t *testing.T) {
	k := &extraction.Knowledge{
		MainTopics:  []string{"rodeo"},
		Subtopics:   []string{"bull riding"},
		Entities:    []string{"cheyenne"},
		Relations:   []extraction.Relation{{From: "rodeo", To: "wyoming", Type: "held_in"}},
		Sentiment:   graph.SentimentPositive,
		ContextType: graph.ContextInterestedIn,
	}

	nodes := planNodes("run-1", k)
	require.Len(t, nodes, 4)

	assert.Equal(t, "rodeo", nodes[0].ID)
	assert.Equal(t, graph.NodeTypeMainTopic, nodes[0].Type)
	assert.Equal(t, graph.NodeTypeSubtopic, nodes[1].Type)
	assert.Equal(t, graph.NodeTypeEntity, nodes[2].Type)
	assert.Equal(t, "wyoming", nodes[3].ID)
	assert.Equal(t, graph.NodeTypeEntity, nodes[3].Type)

	for i, n := range nodes {
		assert.Equal(t, graph.SentimentPositive, n.Sentiment)
		assert.Equal(t, graph.ContextInterestedIn, n.ContextType)
		assert.Equal(t, token("run-1", StepPersistNodes, i), n.Token)
	}
}

func TestPlanNodes_LabelInSeveralLists(t *testing.T) {
	k := &extraction.Knowledge{
		MainTopics: []string{"rodeo"},
		Subtopics:  []string{"rodeo", "horses"},
		Entities:   []string{"rodeo"},
		Relations:  []extraction.Relation{{From: "horses", To: "rodeo", Type: "part_of"}},
	}

	nodes := planNodes("run-1", k)
	require.Len(t, nodes, 2)
	assert.Equal(t, "rodeo", nodes[0].ID)
	assert.Equal(t, graph.NodeTypeMainTopic, nodes[0].Type)
	assert.Equal(t, "horses", nodes[1].ID)
	assert.Equal(t, graph.NodeTypeSubtopic, nodes[1].Type)
	assert.Equal(t, token("run-1", StepPersistNodes, 1), nodes[1].Token)
}

func TestPlanEdges(t *testing.T) {
	k := &extraction.Knowledge{
		MainTopics: []string{"rodeo", "ranching"},
		Subtopics:  []string{"horses"},
		Entities:   []string{"cheyenne", "calgary", "cheyenne stampede"},
		Relations: []extraction.Relation{
			{From: "rodeo", To: "horses", Type: "involves"},
			{From: "rodeo", To: "rodeo", Type: "is"},
		},
	}

	edges := planEdges("run-1", k)

	var got [][3]string
	for _, e := range edges {
		got = append(got, [3]string{e.SourceID, e.TargetID, e.RelationType})
	}
	assert.Equal(t, [][3]string{
		{"rodeo", "horses", "involves"},
		{"rodeo", "horses", graph.RelationSubtopicOf},
		{"ranching", "horses", graph.RelationSubtopicOf},
		{"cheyenne", "calgary", graph.RelationMentionedWith},
		{"cheyenne", "cheyenne stampede", graph.RelationMentionedWith},
		{"calgary", "cheyenne stampede", graph.RelationMentionedWith},
	}, got)

	tokens := make(map[string]struct{})
	for _, e := range edges {
		tokens[e.Token] = struct{}{}
	}
	assert.Len(t, tokens, len(edges))
}

func TestPlanIsDeterministic(t *testing.T) {
	k := rodeoKnowledge()
	assert.Equal(t, planNodes("r", k), planNodes("r", k))
	assert.Equal(t, planEdges("r", k), planEdges("r", k))
}
