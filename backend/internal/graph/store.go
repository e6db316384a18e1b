package graph

import (
	"context"

	kgerrors "kgraph/backend/pkg/errors"
)

// Store is the durable repository of per-user knowledge graphs. Every call
// is keyed by userID and atomic on its own.
type Store interface {
	// UpsertNode creates the node with weight 1 or increments it, overwrites
	// sentiment, adds the context type and refreshes lastSeen.
	UpsertNode(ctx context.Context, userID string, in NodeUpsert) (UpsertResult, error)
	// UpsertEdge creates or increments the edge between two existing nodes.
	UpsertEdge(ctx context.Context, userID string, in EdgeUpsert) (UpsertResult, error)
	// RecordTextSource appends an audit record; a reused id fails with DuplicateId.
	RecordTextSource(ctx context.Context, src TextSource) error
	GetTextSource(ctx context.Context, userID, id string) (*TextSource, error)

	GetNode(ctx context.Context, userID, id string) (*Node, error)
	RelatedTopics(ctx context.Context, userID, id string, limit int) ([]RelatedTopic, error)
	TopTopics(ctx context.Context, userID string, limit int) ([]RankedNode, error)
	UserInterests(ctx context.Context, userID string, limit int) ([]RankedNode, error)
	// Edges lists a user's edges in creation order
	Edges(ctx context.Context, userID string) ([]Edge, error)
	Summary(ctx context.Context, userID string) (*Summary, error)
}

// PrepareNodeUpsert normalizes and checks a node upsert before it reaches a backend
func PrepareNodeUpsert(op, userID string, in NodeUpsert) (NodeUpsert, error) {
	in.ID = Normalize(in.ID)
	if userID == "" {
		return in, kgerrors.ConstraintViolation(op, "user id is required")
	}
	if in.ID == "" {
		return in, kgerrors.ConstraintViolation(op, "node id is empty after normalization")
	}
	if !ValidNodeType(in.Type) {
		return in, kgerrors.ConstraintViolation(op, "unknown node type "+string(in.Type))
	}
	if in.Sentiment == "" {
		in.Sentiment = SentimentNeutral
	}
	if !ValidSentiment(in.Sentiment) {
		return in, kgerrors.ConstraintViolation(op, "unknown sentiment "+string(in.Sentiment))
	}
	return in, nil
}

// PrepareEdgeUpsert normalizes and checks an edge upsert before it reaches a backend
func PrepareEdgeUpsert(op, userID string, in EdgeUpsert) (EdgeUpsert, error) {
	in.SourceID = Normalize(in.SourceID)
	in.TargetID = Normalize(in.TargetID)
	in.RelationType = NormalizeRelationType(in.RelationType)
	if userID == "" {
		return in, kgerrors.ConstraintViolation(op, "user id is required")
	}
	if in.SourceID == "" || in.TargetID == "" {
		return in, kgerrors.ConstraintViolation(op, "edge endpoints must not be empty")
	}
	if in.SourceID == in.TargetID {
		return in, kgerrors.ConstraintViolation(op, "self-referencing edge on "+in.SourceID)
	}
	return in, nil
}
