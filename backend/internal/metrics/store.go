package metrics

import (
	"context"

	"kgraph/backend/internal/graph"
)

// InstrumentedStore counts upserts passing through a graph.Store
type InstrumentedStore struct {
	graph.Store
	collector *Collector
}

// InstrumentStore wraps s; a nil collector returns s unchanged
func InstrumentStore(s graph.Store, c *Collector) graph.Store {
	if c == nil {
		return s
	}
	return &InstrumentedStore{Store: s, collector: c}
}

// UpsertNode implements graph.Store
func (s *InstrumentedStore) UpsertNode(ctx context.Context, userID string, in graph.NodeUpsert) (graph.UpsertResult, error) {
	res, err := s.Store.UpsertNode(ctx, userID, in)
	s.collector.RecordUpsert("node", upsertOutcome(res, err))
	return res, err
}

// UpsertEdge implements graph.Store
func (s *InstrumentedStore) UpsertEdge(ctx context.Context, userID string, in graph.EdgeUpsert) (graph.UpsertResult, error) {
	res, err := s.Store.UpsertEdge(ctx, userID, in)
	s.collector.RecordUpsert("edge", upsertOutcome(res, err))
	return res, err
}

func upsertOutcome(res graph.UpsertResult, err error) string {
	switch {
	case err != nil:
		return "error"
	case res.Skipped:
		return "skipped"
	case res.Created:
		return "created"
	}
	return "updated"
}
