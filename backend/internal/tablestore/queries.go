package tablestore

import (
	"context"
	"database/sql"

	"gorm.io/gorm"

	"kgraph/backend/internal/graph"
	kgerrors "kgraph/backend/pkg/errors"
)

// GetNode implements graph.Store
func (s *Store) GetNode(ctx context.Context, userID, id string) (*graph.Node, error) {
	const op = "table.GetNode"
	id = graph.Normalize(id)
	db := s.db.WithContext(ctx)

	var row nodeRow
	res := db.Where("user_id = ? AND id = ?", userID, id).Limit(1).Find(&row)
	if res.Error != nil {
		return nil, wrap(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, kgerrors.NotFound(op, "node "+id)
	}

	contexts, err := s.contexts(db, userID, []string{id})
	if err != nil {
		return nil, wrap(op, err)
	}

	return &graph.Node{
		UserID:       row.UserID,
		ID:           row.ID,
		Type:         graph.NodeType(row.NodeType),
		Weight:       row.Weight,
		Sentiment:    graph.Sentiment(row.Sentiment),
		ContextTypes: graph.SortContexts(contexts[id]),
		FirstSeen:    row.FirstSeen.UTC(),
		LastSeen:     row.LastSeen.UTC(),
	}, nil
}

// contexts loads the context-type sets of the given nodes
func (s *Store) contexts(db *gorm.DB, userID string, ids []string) (map[string]map[graph.ContextType]struct{}, error) {
	out := make(map[string]map[graph.ContextType]struct{}, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var rows []nodeContextRow
	if err := db.Where("user_id = ? AND node_id IN ?", userID, ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		set, ok := out[r.NodeID]
		if !ok {
			set = make(map[graph.ContextType]struct{})
			out[r.NodeID] = set
		}
		set[graph.ContextType(r.ContextType)] = struct{}{}
	}
	return out, nil
}

type relatedRow struct {
	Topic              string
	NodeType           string
	Weight             int
	ConnectionStrength int
	RelationType       string
}

// RelatedTopics implements graph.Store. Edges are matched on either endpoint.
func (s *Store) RelatedTopics(ctx context.Context, userID, id string, limit int) ([]graph.RelatedTopic, error) {
	const op = "table.RelatedTopics"
	id = graph.Normalize(id)

	var rows []relatedRow
	err := s.db.WithContext(ctx).Raw(`
		SELECT n.id AS topic, n.node_type, n.weight,
			e.weight AS connection_strength, e.relation_type
		FROM edges e
		JOIN nodes n ON n.user_id = e.user_id
			AND n.id = CASE WHEN e.source_id = ? THEN e.target_id ELSE e.source_id END
		WHERE e.user_id = ? AND (e.source_id = ? OR e.target_id = ?)`,
		id, userID, id, id,
	).Scan(&rows).Error
	if err != nil {
		return nil, wrap(op, err)
	}

	out := make([]graph.RelatedTopic, 0, len(rows))
	for _, r := range rows {
		out = append(out, graph.RelatedTopic{
			Topic:              r.Topic,
			Type:               graph.NodeType(r.NodeType),
			Weight:             r.Weight,
			ConnectionStrength: r.ConnectionStrength,
			RelationType:       r.RelationType,
		})
	}
	graph.SortRelated(out)
	return graph.Truncate(out, limit), nil
}

// TopTopics implements graph.Store over the node_stats view
func (s *Store) TopTopics(ctx context.Context, userID string, limit int) ([]graph.RankedNode, error) {
	return s.rank(s.db.WithContext(ctx), "table.TopTopics", "node_stats", userID, limit)
}

// UserInterests implements graph.Store over the interest_nodes view
func (s *Store) UserInterests(ctx context.Context, userID string, limit int) ([]graph.RankedNode, error) {
	return s.rank(s.db.WithContext(ctx), "table.UserInterests", "interest_nodes", userID, limit)
}

func (s *Store) rank(db *gorm.DB, op, view, userID string, limit int) ([]graph.RankedNode, error) {
	q := db.Table(view).
		Select("user_id, id, node_type, weight, sentiment, connections").
		Where("user_id = ?", userID).
		Order("weight DESC, connections DESC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []statsRow
	if err := q.Scan(&rows).Error; err != nil {
		return nil, wrap(op, err)
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	contexts, err := s.contexts(db, userID, ids)
	if err != nil {
		return nil, wrap(op, err)
	}

	out := make([]graph.RankedNode, 0, len(rows))
	for _, r := range rows {
		out = append(out, graph.RankedNode{
			Topic:        r.ID,
			Type:         graph.NodeType(r.NodeType),
			Weight:       r.Weight,
			Connections:  r.Connections,
			Sentiment:    graph.Sentiment(r.Sentiment),
			ContextTypes: graph.SortContexts(contexts[r.ID]),
		})
	}
	return out, nil
}

// Edges implements graph.Store
func (s *Store) Edges(ctx context.Context, userID string) ([]graph.Edge, error) {
	var rows []edgeRow
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, wrap("table.Edges", err)
	}

	out := make([]graph.Edge, 0, len(rows))
	for _, r := range rows {
		out = append(out, graph.Edge{
			UserID:       r.UserID,
			SourceID:     r.SourceID,
			TargetID:     r.TargetID,
			RelationType: r.RelationType,
			Weight:       r.Weight,
			LastUpdated:  r.LastUpdated.UTC(),
		})
	}
	return out, nil
}

type typeCount struct {
	NodeType string
	Total    int
}

// Summary implements graph.Store
func (s *Store) Summary(ctx context.Context, userID string) (*graph.Summary, error) {
	const op = "table.Summary"
	summary := &graph.Summary{NodesByType: map[graph.NodeType]int{}}

	// counts and top topics come from one snapshot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var counts []typeCount
		if err := tx.Model(&nodeRow{}).
			Select("node_type, COUNT(*) AS total").
			Where("user_id = ?", userID).
			Group("node_type").
			Scan(&counts).Error; err != nil {
			return err
		}
		for _, c := range counts {
			summary.NodesByType[graph.NodeType(c.NodeType)] = c.Total
			summary.TotalNodes += c.Total
		}

		var edges int64
		if err := tx.Model(&edgeRow{}).Where("user_id = ?", userID).Count(&edges).Error; err != nil {
			return err
		}
		summary.TotalEdges = int(edges)

		top, err := s.rank(tx, op, "node_stats", userID, graph.SummaryTopN)
		if err != nil {
			return err
		}
		summary.TopTopics = top
		return nil
	}, s.snapshotTx())
	if err != nil {
		return nil, wrap(op, err)
	}
	return summary, nil
}

// snapshotTx asks Postgres for one snapshot across statements; SQLite
// transactions are already serializable.
func (s *Store) snapshotTx() *sql.TxOptions {
	if s.db.Dialector.Name() == "sqlite" {
		return nil
	}
	return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
}
