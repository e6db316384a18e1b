package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	kgerrors "kgraph/backend/pkg/errors"
	"kgraph/backend/pkg/logger"
)

const constraintValidationFailed = "Neo.ClientError.Schema.ConstraintValidationFailed"

// Repository is the Neo4j-backed Store. Nodes are :KGNode keyed by
// "<userId>/<id>", edges are :RELATES relationships, audit records are
// :KGTextSource keyed the same way and applied mutation tokens are :KGMutation.
type Repository struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
	now    func() time.Time
}

var _ Store = (*Repository)(nil)

// NewRepository creates a new graph repository
func NewRepository(driver neo4j.DriverWithContext) *Repository {
	return &Repository{
		driver: driver,
		logger: logger.Named("graph.neo4j"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Close closes the Neo4j driver connection
func (r *Repository) Close() error {
	return r.driver.Close(context.Background())
}

// EnsureSchema creates the uniqueness constraints the upserts rely on
func (r *Repository) EnsureSchema(ctx context.Context) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	stmts := []string{
		"CREATE CONSTRAINT kg_node_uid_unique IF NOT EXISTS FOR (n:KGNode) REQUIRE n.uid IS UNIQUE",
		// text source ids are only unique within a user
		"DROP CONSTRAINT kg_text_source_id_unique IF EXISTS",
		"CREATE CONSTRAINT kg_text_source_uid_unique IF NOT EXISTS FOR (s:KGTextSource) REQUIRE s.uid IS UNIQUE",
		"CREATE CONSTRAINT kg_mutation_key_unique IF NOT EXISTS FOR (m:KGMutation) REQUIRE m.key IS UNIQUE",
		"CREATE INDEX kg_node_user IF NOT EXISTS FOR (n:KGNode) ON (n.user_id)",
	}
	for _, q := range stmts {
		res, err := session.Run(ctx, q, nil)
		if err != nil {
			return r.wrap("neo4j.EnsureSchema", err)
		}
		if _, err := res.Consume(ctx); err != nil {
			return r.wrap("neo4j.EnsureSchema", err)
		}
	}

	r.logger.Info("Graph schema ensured")
	return nil
}

func nodeUID(userID, id string) string {
	return userID + "/" + id
}

// claimToken marks a mutation token as applied inside tx. It returns false
// when the token had been applied before.
func claimToken(ctx context.Context, tx neo4j.ManagedTransaction, userID, token string) (bool, error) {
	if token == "" {
		return true, nil
	}

	result, err := tx.Run(ctx, `
		MERGE (m:KGMutation {key: $key})
		ON CREATE SET m.fresh = true, m.user_id = $userId, m.applied_at = datetime()
		ON MATCH SET m.fresh = false
		RETURN m.fresh AS fresh
	`, map[string]interface{}{
		"key":    userID + "\x00" + token,
		"userId": userID,
	})
	if err != nil {
		return false, err
	}
	record, err := result.Single(ctx)
	if err != nil {
		return false, err
	}
	fresh, _ := record.Get("fresh")
	b, _ := fresh.(bool)
	return b, nil
}

// UpsertNode implements Store
func (r *Repository) UpsertNode(ctx context.Context, userID string, in NodeUpsert) (UpsertResult, error) {
	const op = "neo4j.UpsertNode"
	in, err := PrepareNodeUpsert(op, userID, in)
	if err != nil {
		return UpsertResult{}, err
	}

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	uid := nodeUID(userID, in.ID)
	out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		fresh, err := claimToken(ctx, tx, userID, in.Token)
		if err != nil {
			return nil, err
		}
		if !fresh {
			weight, err := readWeight(ctx, tx, "MATCH (n:KGNode {uid: $uid}) RETURN n.weight AS weight", map[string]interface{}{"uid": uid})
			return UpsertResult{Skipped: true, Weight: weight}, err
		}

		result, err := tx.Run(ctx, `
			MERGE (n:KGNode {uid: $uid})
			ON CREATE SET
				n.user_id = $userId,
				n.id = $id,
				n.node_type = $nodeType,
				n.weight = 1,
				n.sentiment = $sentiment,
				n.context_types = CASE WHEN $contextType = '' THEN [] ELSE [$contextType] END,
				n.first_seen = $now,
				n.last_seen = $now
			ON MATCH SET
				n.weight = n.weight + 1,
				n.sentiment = $sentiment,
				n.last_seen = $now,
				n.context_types = CASE
					WHEN $contextType = '' OR $contextType IN n.context_types THEN n.context_types
					ELSE n.context_types + $contextType
				END
			RETURN n.weight AS weight
		`, map[string]interface{}{
			"uid":         uid,
			"userId":      userID,
			"id":          in.ID,
			"nodeType":    string(in.Type),
			"sentiment":   string(in.Sentiment),
			"contextType": string(in.ContextType),
			"now":         r.now(),
		})
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		weight := getIntFromRecord(record, "weight")
		return UpsertResult{Created: weight == 1, Weight: weight}, nil
	})
	if err != nil {
		return UpsertResult{}, r.wrap(op, err)
	}

	res := out.(UpsertResult)
	r.logger.Debug("Node upserted",
		zap.String("user_id", userID),
		zap.String("node_id", in.ID),
		zap.Int("weight", res.Weight),
		zap.Bool("skipped", res.Skipped),
	)
	return res, nil
}

var errMissingEndpoint = errors.New("edge endpoint node does not exist")

// UpsertEdge implements Store. Both endpoints are locked before the MERGE
// so concurrent upserts of the same pair never create a duplicate edge.
func (r *Repository) UpsertEdge(ctx context.Context, userID string, in EdgeUpsert) (UpsertResult, error) {
	const op = "neo4j.UpsertEdge"
	in, err := PrepareEdgeUpsert(op, userID, in)
	if err != nil {
		return UpsertResult{}, err
	}

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	params := map[string]interface{}{
		"sourceUid":    nodeUID(userID, in.SourceID),
		"targetUid":    nodeUID(userID, in.TargetID),
		"userId":       userID,
		"sourceId":     in.SourceID,
		"targetId":     in.TargetID,
		"relationType": in.RelationType,
		"now":          r.now(),
	}

	out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		fresh, err := claimToken(ctx, tx, userID, in.Token)
		if err != nil {
			return nil, err
		}

		result, err := tx.Run(ctx, `
			MATCH (a:KGNode {uid: $sourceUid})
			MATCH (b:KGNode {uid: $targetUid})
			RETURN count(*) AS found
		`, params)
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		if getIntFromRecord(record, "found") == 0 {
			return nil, errMissingEndpoint
		}

		if !fresh {
			weight, err := readWeight(ctx, tx, `
				MATCH (:KGNode {uid: $sourceUid})-[e:RELATES {relation_type: $relationType}]-(:KGNode {uid: $targetUid})
				RETURN e.weight AS weight
			`, params)
			return UpsertResult{Skipped: true, Weight: weight}, err
		}

		result, err = tx.Run(ctx, `
			MATCH (a:KGNode {uid: $sourceUid})
			MATCH (b:KGNode {uid: $targetUid})
			SET a._lock = true, b._lock = true
			MERGE (a)-[e:RELATES {relation_type: $relationType}]-(b)
			ON CREATE SET
				e.user_id = $userId,
				e.source_id = $sourceId,
				e.target_id = $targetId,
				e.weight = 1,
				e.created_at = $now,
				e.last_updated = $now
			ON MATCH SET
				e.weight = e.weight + 1,
				e.last_updated = $now
			REMOVE a._lock, b._lock
			RETURN e.weight AS weight
		`, params)
		if err != nil {
			return nil, err
		}
		record, err = result.Single(ctx)
		if err != nil {
			return nil, err
		}
		weight := getIntFromRecord(record, "weight")
		return UpsertResult{Created: weight == 1, Weight: weight}, nil
	})
	if errors.Is(err, errMissingEndpoint) {
		return UpsertResult{}, kgerrors.ConstraintViolation(op, fmt.Sprintf("edge %s -> %s references a missing node", in.SourceID, in.TargetID))
	}
	if err != nil {
		return UpsertResult{}, r.wrap(op, err)
	}
	return out.(UpsertResult), nil
}

func readWeight(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]interface{}) (int, error) {
	result, err := tx.Run(ctx, query, params)
	if err != nil {
		return 0, err
	}
	if !result.Next(ctx) {
		return 0, result.Err()
	}
	return getIntFromRecord(result.Record(), "weight"), nil
}

// RecordTextSource implements Store
func (r *Repository) RecordTextSource(ctx context.Context, src TextSource) error {
	const op = "neo4j.RecordTextSource"
	if src.ID == "" || src.UserID == "" {
		return kgerrors.ConstraintViolation(op, "text source id and user id are required")
	}
	if src.CreatedAt.IsZero() {
		src.CreatedAt = r.now()
	}

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			CREATE (s:KGTextSource {
				uid: $uid,
				id: $id,
				user_id: $userId,
				content: $content,
				length: $length,
				run_id: $runId,
				duration_ms: $durationMs,
				main_topics: $mainTopics,
				subtopics: $subtopics,
				entities: $entities,
				relations: $relations,
				sentiment: $sentiment,
				context_type: $contextType,
				created_at: $createdAt
			})
		`, map[string]interface{}{
			"uid":         nodeUID(src.UserID, src.ID),
			"id":          src.ID,
			"userId":      src.UserID,
			"content":     src.Content,
			"length":      src.Length,
			"runId":       src.RunID,
			"durationMs":  src.DurationMs,
			"mainTopics":  src.Counts.MainTopics,
			"subtopics":   src.Counts.Subtopics,
			"entities":    src.Counts.Entities,
			"relations":   src.Counts.Relations,
			"sentiment":   string(src.Sentiment),
			"contextType": string(src.ContextType),
			"createdAt":   src.CreatedAt,
		})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		if isConstraintError(err) {
			return kgerrors.DuplicateID(op, src.ID)
		}
		return r.wrap(op, err)
	}
	return nil
}

// GetTextSource implements Store
func (r *Repository) GetTextSource(ctx context.Context, userID, id string) (*TextSource, error) {
	const op = "neo4j.GetTextSource"
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (s:KGTextSource {uid: $uid})
		RETURN s.id AS id, s.user_id AS user_id, s.content AS content, s.length AS length,
			s.run_id AS run_id, s.duration_ms AS duration_ms,
			s.main_topics AS main_topics, s.subtopics AS subtopics,
			s.entities AS entities, s.relations AS relations,
			s.sentiment AS sentiment, s.context_type AS context_type, s.created_at AS created_at
	`, map[string]interface{}{"uid": nodeUID(userID, id)})
	if err != nil {
		return nil, r.wrap(op, err)
	}
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, r.wrap(op, err)
		}
		return nil, kgerrors.NotFound(op, "text source "+id)
	}

	rec := result.Record()
	return &TextSource{
		ID:         getStringFromRecord(rec, "id"),
		UserID:     getStringFromRecord(rec, "user_id"),
		Content:    getStringFromRecord(rec, "content"),
		Length:     getIntFromRecord(rec, "length"),
		RunID:      getStringFromRecord(rec, "run_id"),
		DurationMs: getInt64FromRecord(rec, "duration_ms"),
		Counts: ExtractionCounts{
			MainTopics: getIntFromRecord(rec, "main_topics"),
			Subtopics:  getIntFromRecord(rec, "subtopics"),
			Entities:   getIntFromRecord(rec, "entities"),
			Relations:  getIntFromRecord(rec, "relations"),
		},
		Sentiment:   Sentiment(getStringFromRecord(rec, "sentiment")),
		ContextType: ContextType(getStringFromRecord(rec, "context_type")),
		CreatedAt:   getTimeFromRecord(rec, "created_at"),
	}, nil
}

// GetNode implements Store
func (r *Repository) GetNode(ctx context.Context, userID, id string) (*Node, error) {
	const op = "neo4j.GetNode"
	id = Normalize(id)

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (n:KGNode {uid: $uid})
		RETURN n.id AS id, n.node_type AS node_type, n.weight AS weight, n.sentiment AS sentiment,
			n.context_types AS context_types, n.first_seen AS first_seen, n.last_seen AS last_seen
	`, map[string]interface{}{"uid": nodeUID(userID, id)})
	if err != nil {
		return nil, r.wrap(op, err)
	}
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, r.wrap(op, err)
		}
		return nil, kgerrors.NotFound(op, "node "+id)
	}

	rec := result.Record()
	return &Node{
		UserID:       userID,
		ID:           getStringFromRecord(rec, "id"),
		Type:         NodeType(getStringFromRecord(rec, "node_type")),
		Weight:       getIntFromRecord(rec, "weight"),
		Sentiment:    Sentiment(getStringFromRecord(rec, "sentiment")),
		ContextTypes: getContextTypesFromRecord(rec, "context_types"),
		FirstSeen:    getTimeFromRecord(rec, "first_seen"),
		LastSeen:     getTimeFromRecord(rec, "last_seen"),
	}, nil
}

// RelatedTopics implements Store
func (r *Repository) RelatedTopics(ctx context.Context, userID, id string, limit int) ([]RelatedTopic, error) {
	const op = "neo4j.RelatedTopics"
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (n:KGNode {uid: $uid})-[e:RELATES]-(m:KGNode)
		RETURN m.id AS topic, m.node_type AS node_type, m.weight AS weight,
			e.weight AS strength, e.relation_type AS relation_type
	`, map[string]interface{}{"uid": nodeUID(userID, Normalize(id))})
	if err != nil {
		return nil, r.wrap(op, err)
	}

	rows := []RelatedTopic{}
	for result.Next(ctx) {
		rec := result.Record()
		rows = append(rows, RelatedTopic{
			Topic:              getStringFromRecord(rec, "topic"),
			Type:               NodeType(getStringFromRecord(rec, "node_type")),
			Weight:             getIntFromRecord(rec, "weight"),
			ConnectionStrength: getIntFromRecord(rec, "strength"),
			RelationType:       getStringFromRecord(rec, "relation_type"),
		})
	}
	if err := result.Err(); err != nil {
		return nil, r.wrap(op, err)
	}

	SortRelated(rows)
	return Truncate(rows, limit), nil
}

// TopTopics implements Store
func (r *Repository) TopTopics(ctx context.Context, userID string, limit int) ([]RankedNode, error) {
	return r.rank(ctx, "neo4j.TopTopics", userID, "", limit)
}

// UserInterests implements Store
func (r *Repository) UserInterests(ctx context.Context, userID string, limit int) ([]RankedNode, error) {
	return r.rank(ctx, "neo4j.UserInterests", userID,
		"AND (n.sentiment = 'positive' OR any(c IN n.context_types WHERE c IN $interestContexts))", limit)
}

func (r *Repository) rank(ctx context.Context, op, userID, filter string, limit int) ([]RankedNode, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	interest := make([]string, 0, len(InterestContexts))
	for _, c := range InterestContexts {
		interest = append(interest, string(c))
	}

	query := fmt.Sprintf(`
		MATCH (n:KGNode)
		WHERE n.user_id = $userId %s
		RETURN n.id AS topic, n.node_type AS node_type, n.weight AS weight,
			n.sentiment AS sentiment, n.context_types AS context_types,
			size([(n)-[:RELATES]-() | 1]) AS connections
		ORDER BY weight DESC, connections DESC, topic ASC
	`, filter)
	params := map[string]interface{}{
		"userId":           userID,
		"interestContexts": interest,
	}
	if limit > 0 {
		query += " LIMIT $limit"
		params["limit"] = limit
	}

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, r.wrap(op, err)
	}

	rows := []RankedNode{}
	for result.Next(ctx) {
		rec := result.Record()
		rows = append(rows, RankedNode{
			Topic:        getStringFromRecord(rec, "topic"),
			Type:         NodeType(getStringFromRecord(rec, "node_type")),
			Weight:       getIntFromRecord(rec, "weight"),
			Connections:  getIntFromRecord(rec, "connections"),
			Sentiment:    Sentiment(getStringFromRecord(rec, "sentiment")),
			ContextTypes: getContextTypesFromRecord(rec, "context_types"),
		})
	}
	if err := result.Err(); err != nil {
		return nil, r.wrap(op, err)
	}
	return rows, nil
}

// Edges implements Store
func (r *Repository) Edges(ctx context.Context, userID string) ([]Edge, error) {
	const op = "neo4j.Edges"
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (:KGNode {user_id: $userId})-[e:RELATES]->(:KGNode)
		RETURN e.source_id AS source_id, e.target_id AS target_id, e.relation_type AS relation_type,
			e.weight AS weight, e.last_updated AS last_updated
		ORDER BY e.created_at ASC, source_id ASC, target_id ASC
	`, map[string]interface{}{"userId": userID})
	if err != nil {
		return nil, r.wrap(op, err)
	}

	edges := []Edge{}
	for result.Next(ctx) {
		rec := result.Record()
		edges = append(edges, Edge{
			UserID:       userID,
			SourceID:     getStringFromRecord(rec, "source_id"),
			TargetID:     getStringFromRecord(rec, "target_id"),
			RelationType: getStringFromRecord(rec, "relation_type"),
			Weight:       getIntFromRecord(rec, "weight"),
			LastUpdated:  getTimeFromRecord(rec, "last_updated"),
		})
	}
	if err := result.Err(); err != nil {
		return nil, r.wrap(op, err)
	}
	return edges, nil
}

// Summary implements Store
func (r *Repository) Summary(ctx context.Context, userID string) (*Summary, error) {
	const op = "neo4j.Summary"
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	summary := &Summary{NodesByType: map[NodeType]int{}}

	result, err := session.Run(ctx, `
		MATCH (n:KGNode {user_id: $userId})
		RETURN n.node_type AS node_type, count(n) AS total
	`, map[string]interface{}{"userId": userID})
	if err != nil {
		return nil, r.wrap(op, err)
	}
	for result.Next(ctx) {
		rec := result.Record()
		total := getIntFromRecord(rec, "total")
		summary.NodesByType[NodeType(getStringFromRecord(rec, "node_type"))] = total
		summary.TotalNodes += total
	}
	if err := result.Err(); err != nil {
		return nil, r.wrap(op, err)
	}

	result, err = session.Run(ctx, `
		MATCH (:KGNode {user_id: $userId})-[e:RELATES]->(:KGNode)
		RETURN count(e) AS total
	`, map[string]interface{}{"userId": userID})
	if err != nil {
		return nil, r.wrap(op, err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return nil, r.wrap(op, err)
	}
	summary.TotalEdges = getIntFromRecord(record, "total")

	top, err := r.TopTopics(ctx, userID, SummaryTopN)
	if err != nil {
		return nil, err
	}
	summary.TopTopics = top
	return summary, nil
}

func isConstraintError(err error) bool {
	var neoErr *neo4j.Neo4jError
	return errors.As(err, &neoErr) && neoErr.Code == constraintValidationFailed
}

// wrap maps driver errors onto the store error kinds
func (r *Repository) wrap(op string, err error) error {
	if kgerrors.KindOf(err) != "" {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return kgerrors.New(kgerrors.KindCanceled, op, "operation canceled", err)
	}
	if isConstraintError(err) {
		return kgerrors.New(kgerrors.KindConstraintViolation, op, "constraint validation failed", err)
	}
	if neo4j.IsConnectivityError(err) {
		r.logger.Warn("Neo4j connectivity error", zap.String("op", op), zap.Error(err))
	}
	return kgerrors.TransientStore(op, err)
}
