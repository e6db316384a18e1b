// Package temporalrun runs pipeline steps as Temporal activities. The
// workflow mirrors the in-process orchestrator: one activity per step, a
// checkpoint activity after each, and each step's retry policy mapped onto
// the activity retry policy.
package temporalrun

import (
	"context"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"kgraph/backend/internal/pipeline"
	kgerrors "kgraph/backend/pkg/errors"
)

// Registered names
const (
	WorkflowName       = "kgraph_pipeline_run"
	ActivityStep       = "kgraph_pipeline_step"
	ActivityCheckpoint = "kgraph_pipeline_checkpoint"
)

// Activities binds the pipeline steps and checkpoint store to a worker
type Activities struct {
	Steps       pipeline.Executor
	Checkpoints pipeline.CheckpointStore
}

// Step executes run.Step once. Temporal owns the retries.
func (a *Activities) Step(ctx context.Context, run pipeline.Run) (pipeline.Run, error) {
	next, err := a.Steps.Execute(ctx, run)
	if err != nil {
		activity.GetLogger(ctx).Warn("Pipeline step failed",
			"run_id", run.ID,
			"step", string(run.Step),
			"attempt", activity.GetInfo(ctx).Attempt,
			"error", err,
		)
		return pipeline.Run{}, activityError(err)
	}
	if next.Attempts == nil {
		next.Attempts = map[pipeline.Step]int{}
	}
	next.Attempts[run.Step] = int(activity.GetInfo(ctx).Attempt)
	return next, nil
}

// Checkpoint saves run
func (a *Activities) Checkpoint(ctx context.Context, run pipeline.Run) error {
	if err := a.Checkpoints.Save(ctx, run); err != nil {
		return activityError(err)
	}
	return nil
}

// activityError carries the error kind as the application error type so the
// workflow can report it, and stops retries for kinds that cannot succeed
func activityError(err error) error {
	kind := string(kgerrors.KindOf(err))
	if !kgerrors.IsRetryable(err) {
		return temporal.NewNonRetryableApplicationError(err.Error(), kind, err)
	}
	return temporal.NewApplicationErrorWithCause(err.Error(), kind, err)
}
