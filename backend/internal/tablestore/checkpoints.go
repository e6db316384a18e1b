package tablestore

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"kgraph/backend/internal/pipeline"
	kgerrors "kgraph/backend/pkg/errors"
)

// Checkpoints stores pipeline runs in the pipeline_runs table. Step and
// status are kept in their own columns for listing; the full run is JSON.
type Checkpoints struct {
	db *gorm.DB
}

var _ pipeline.CheckpointStore = (*Checkpoints)(nil)

// NewCheckpoints uses a database already migrated by Store.Migrate
func NewCheckpoints(db *gorm.DB) *Checkpoints {
	return &Checkpoints{db: db}
}

// Save implements pipeline.CheckpointStore
func (c *Checkpoints) Save(ctx context.Context, run pipeline.Run) error {
	state, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", run.ID, err)
	}

	row := runRow{
		ID:        run.ID,
		UserID:    run.UserID,
		Step:      string(run.Step),
		Status:    string(run.Status),
		State:     string(state),
		CreatedAt: run.StartedAt,
		UpdatedAt: run.UpdatedAt,
	}
	err = c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"step", "status", "state", "updated_at"}),
	}).Create(&row).Error
	return wrap("table.checkpoints.Save", err)
}

// Load implements pipeline.CheckpointStore
func (c *Checkpoints) Load(ctx context.Context, runID string) (pipeline.Run, error) {
	const op = "table.checkpoints.Load"

	var row runRow
	res := c.db.WithContext(ctx).Where("id = ?", runID).Limit(1).Find(&row)
	if res.Error != nil {
		return pipeline.Run{}, wrap(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return pipeline.Run{}, kgerrors.NotFound(op, "run "+runID)
	}

	var run pipeline.Run
	if err := json.Unmarshal([]byte(row.State), &run); err != nil {
		return pipeline.Run{}, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return run, nil
}
