package pipeline

import (
	"fmt"

	"kgraph/backend/internal/extraction"
	"kgraph/backend/internal/graph"
)

// token ties one planned mutation of a run to its effect in the store
func token(runID string, step Step, i int) string {
	return fmt.Sprintf("%s/%s/%d", runID, step, i)
}

// planNodes lists node upserts in write order: main topics, subtopics,
// entities, then relation endpoints not named in any list (as entities).
// A label is one mention per text; the first list naming it sets its type.
func planNodes(runID string, k *extraction.Knowledge) []graph.NodeUpsert {
	var out []graph.NodeUpsert
	seen := make(map[string]struct{})

	add := func(id string, t graph.NodeType) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, graph.NodeUpsert{
			ID:          id,
			Type:        t,
			Sentiment:   k.Sentiment,
			ContextType: k.ContextType,
			Token:       token(runID, StepPersistNodes, len(out)),
		})
	}

	for _, id := range k.MainTopics {
		add(id, graph.NodeTypeMainTopic)
	}
	for _, id := range k.Subtopics {
		add(id, graph.NodeTypeSubtopic)
	}
	for _, id := range k.Entities {
		add(id, graph.NodeTypeEntity)
	}
	for _, r := range k.Relations {
		add(r.From, graph.NodeTypeEntity)
		add(r.To, graph.NodeTypeEntity)
	}
	return out
}

// planEdges lists edge upserts in write order: explicit relations, then
// subtopic_of for every (main topic, subtopic) pair, then mentioned_with for
// every entity pair. Self-loops are dropped.
func planEdges(runID string, k *extraction.Knowledge) []graph.EdgeUpsert {
	var out []graph.EdgeUpsert

	add := func(from, to, rel string) {
		if from == to {
			return
		}
		out = append(out, graph.EdgeUpsert{
			SourceID:     from,
			TargetID:     to,
			RelationType: rel,
			Token:        token(runID, StepPersistEdges, len(out)),
		})
	}

	for _, r := range k.Relations {
		add(r.From, r.To, r.Type)
	}
	for _, main := range k.MainTopics {
		for _, sub := range k.Subtopics {
			add(main, sub, graph.RelationSubtopicOf)
		}
	}
	for i := 0; i < len(k.Entities); i++ {
		for j := i + 1; j < len(k.Entities); j++ {
			add(k.Entities[i], k.Entities[j], graph.RelationMentionedWith)
		}
	}
	return out
}
