package tablestore

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"kgraph/backend/internal/graph"
	kgerrors "kgraph/backend/pkg/errors"
)

// UpsertNode implements graph.Store. The increment is a single
// INSERT .. ON CONFLICT statement, so concurrent upserts never lose a count.
func (s *Store) UpsertNode(ctx context.Context, userID string, in graph.NodeUpsert) (graph.UpsertResult, error) {
	const op = "table.UpsertNode"
	in, err := graph.PrepareNodeUpsert(op, userID, in)
	if err != nil {
		return graph.UpsertResult{}, err
	}

	var res graph.UpsertResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		fresh, err := claim(tx, userID, in.Token, now)
		if err != nil {
			return err
		}
		if !fresh {
			res.Skipped = true
			return tx.Raw("SELECT weight FROM nodes WHERE user_id = ? AND id = ?", userID, in.ID).Scan(&res.Weight).Error
		}

		if err := tx.Raw(`
			INSERT INTO nodes (user_id, id, node_type, weight, sentiment, first_seen, last_seen)
			VALUES (?, ?, ?, 1, ?, ?, ?)
			ON CONFLICT (user_id, id) DO UPDATE SET
				weight = nodes.weight + 1,
				sentiment = excluded.sentiment,
				last_seen = excluded.last_seen
			RETURNING weight`,
			userID, in.ID, string(in.Type), string(in.Sentiment), now, now,
		).Scan(&res.Weight).Error; err != nil {
			return err
		}
		res.Created = res.Weight == 1

		if in.ContextType != "" {
			row := nodeContextRow{UserID: userID, NodeID: in.ID, ContextType: string(in.ContextType)}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return graph.UpsertResult{}, wrap(op, err)
	}

	s.logger.Debug("Node upserted",
		zap.String("user_id", userID),
		zap.String("node_id", in.ID),
		zap.Int("weight", res.Weight),
		zap.Bool("skipped", res.Skipped),
	)
	return res, nil
}

// UpsertEdge implements graph.Store
func (s *Store) UpsertEdge(ctx context.Context, userID string, in graph.EdgeUpsert) (graph.UpsertResult, error) {
	const op = "table.UpsertEdge"
	in, err := graph.PrepareEdgeUpsert(op, userID, in)
	if err != nil {
		return graph.UpsertResult{}, err
	}
	pair := graph.PairKey(in.SourceID, in.TargetID)

	var res graph.UpsertResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var found int64
		if err := tx.Model(&nodeRow{}).
			Where("user_id = ? AND id IN ?", userID, []string{in.SourceID, in.TargetID}).
			Count(&found).Error; err != nil {
			return err
		}
		if found != 2 {
			return kgerrors.ConstraintViolation(op, fmt.Sprintf("edge %s -> %s references a missing node", in.SourceID, in.TargetID))
		}

		now := s.now()
		fresh, err := claim(tx, userID, in.Token, now)
		if err != nil {
			return err
		}
		if !fresh {
			res.Skipped = true
			return tx.Raw(
				"SELECT weight FROM edges WHERE user_id = ? AND pair_key = ? AND relation_type = ?",
				userID, pair, in.RelationType,
			).Scan(&res.Weight).Error
		}

		if err := tx.Raw(`
			INSERT INTO edges (user_id, pair_key, relation_type, source_id, target_id, weight, created_at, last_updated)
			VALUES (?, ?, ?, ?, ?, 1, ?, ?)
			ON CONFLICT (user_id, pair_key, relation_type) DO UPDATE SET
				weight = edges.weight + 1,
				last_updated = excluded.last_updated
			RETURNING weight`,
			userID, pair, in.RelationType, in.SourceID, in.TargetID, now, now,
		).Scan(&res.Weight).Error; err != nil {
			return err
		}
		res.Created = res.Weight == 1
		return nil
	})
	if err != nil {
		return graph.UpsertResult{}, wrap(op, err)
	}
	return res, nil
}

// RecordTextSource implements graph.Store. Content goes to text_sources,
// run metadata and counts to extraction_audit, in one transaction.
func (s *Store) RecordTextSource(ctx context.Context, src graph.TextSource) error {
	const op = "table.RecordTextSource"
	if src.ID == "" || src.UserID == "" {
		return kgerrors.ConstraintViolation(op, "text source id and user id are required")
	}
	if src.CreatedAt.IsZero() {
		src.CreatedAt = s.now()
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&textSourceRow{}).Where("user_id = ? AND id = ?", src.UserID, src.ID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return kgerrors.DuplicateID(op, src.ID)
		}

		if err := tx.Create(&textSourceRow{
			ID:        src.ID,
			UserID:    src.UserID,
			Content:   src.Content,
			Length:    src.Length,
			CreatedAt: src.CreatedAt,
		}).Error; err != nil {
			return err
		}
		return tx.Create(&auditRow{
			TextSourceID: src.ID,
			UserID:       src.UserID,
			RunID:        src.RunID,
			DurationMs:   src.DurationMs,
			MainTopics:   src.Counts.MainTopics,
			Subtopics:    src.Counts.Subtopics,
			Entities:     src.Counts.Entities,
			Relations:    src.Counts.Relations,
			Sentiment:    string(src.Sentiment),
			ContextType:  string(src.ContextType),
			CreatedAt:    src.CreatedAt,
		}).Error
	})
	err = wrap(op, err)
	if kgerrors.IsKind(err, kgerrors.KindDuplicateID) {
		return kgerrors.DuplicateID(op, src.ID)
	}
	return err
}

// GetTextSource implements graph.Store
func (s *Store) GetTextSource(ctx context.Context, userID, id string) (*graph.TextSource, error) {
	const op = "table.GetTextSource"
	db := s.db.WithContext(ctx)

	var src textSourceRow
	res := db.Where("user_id = ? AND id = ?", userID, id).Limit(1).Find(&src)
	if res.Error != nil {
		return nil, wrap(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, kgerrors.NotFound(op, "text source "+id)
	}

	var audit auditRow
	if err := db.Where("user_id = ? AND text_source_id = ?", userID, id).Limit(1).Find(&audit).Error; err != nil {
		return nil, wrap(op, err)
	}

	return &graph.TextSource{
		ID:         src.ID,
		UserID:     src.UserID,
		Content:    src.Content,
		Length:     src.Length,
		RunID:      audit.RunID,
		DurationMs: audit.DurationMs,
		Counts: graph.ExtractionCounts{
			MainTopics: audit.MainTopics,
			Subtopics:  audit.Subtopics,
			Entities:   audit.Entities,
			Relations:  audit.Relations,
		},
		Sentiment:   graph.Sentiment(audit.Sentiment),
		ContextType: graph.ContextType(audit.ContextType),
		CreatedAt:   src.CreatedAt,
	}, nil
}
