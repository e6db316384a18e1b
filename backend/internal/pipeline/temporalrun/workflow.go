package temporalrun

import (
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"kgraph/backend/internal/pipeline"
	kgerrors "kgraph/backend/pkg/errors"
)

// Input starts or resumes one run
type Input struct {
	Run      pipeline.Run      `json:"run"`
	Policies pipeline.Policies `json:"policies"`
}

var checkpointOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 30 * time.Second,
	RetryPolicy: &temporal.RetryPolicy{
		InitialInterval:    200 * time.Millisecond,
		BackoffCoefficient: 2,
		MaximumInterval:    5 * time.Second,
		MaximumAttempts:    5,
	},
}

// Workflow drives in.Run from its saved step to done
func Workflow(ctx workflow.Context, in Input) (*pipeline.Summary, error) {
	log := workflow.GetLogger(ctx)
	run := in.Run
	if run.Attempts == nil {
		run.Attempts = map[pipeline.Step]int{}
	}

	for run.Step != pipeline.StepDone {
		if run.Step == pipeline.StepInit {
			run.Step = run.Step.Next()
			if err := checkpoint(ctx, &run); err != nil {
				return nil, terminate(ctx, run, pipeline.StepInit, err)
			}
			continue
		}

		step := run.Step
		actx := workflow.WithActivityOptions(ctx, stepOptions(in.Policies.For(step)))

		var next pipeline.Run
		if err := workflow.ExecuteActivity(actx, ActivityStep, run).Get(actx, &next); err != nil {
			return nil, terminate(ctx, run, step, err)
		}

		next.Step = step.Next()
		if err := checkpoint(ctx, &next); err != nil {
			return nil, terminate(ctx, run, step, err)
		}
		run = next
	}

	finished := workflow.Now(ctx).UTC()
	run.Status = pipeline.StatusSucceeded
	run.FinishedAt = &finished
	if err := checkpoint(ctx, &run); err != nil {
		log.Warn("Failed to checkpoint finished run", "run_id", run.ID, "error", err)
	}

	log.Info("Pipeline run succeeded", "run_id", run.ID, "user_id", run.UserID)
	return run.Summary(), nil
}

// stepOptions maps a step policy onto activity options
func stepOptions(p pipeline.RetryPolicy) workflow.ActivityOptions {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	initial := p.InitialDelay
	if initial <= 0 {
		initial = time.Millisecond
	}
	coefficient := 1.0
	if p.Backoff == pipeline.BackoffExponential {
		coefficient = 2.0
	}

	retry := &temporal.RetryPolicy{
		InitialInterval:    initial,
		BackoffCoefficient: coefficient,
		MaximumAttempts:    int32(p.MaxAttempts),
	}
	if p.MaxDelay > 0 {
		retry.MaximumInterval = max(p.MaxDelay, initial)
	} else if coefficient == 1.0 {
		retry.MaximumInterval = initial
	}

	return workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy:         retry,
	}
}

func checkpoint(ctx workflow.Context, run *pipeline.Run) error {
	run.UpdatedAt = workflow.Now(ctx).UTC()
	actx := workflow.WithActivityOptions(ctx, checkpointOptions)
	if err := workflow.ExecuteActivity(actx, ActivityCheckpoint, *run).Get(actx, nil); err != nil {
		return fmt.Errorf("checkpoint run %s at %s: %w", run.ID, run.Step, err)
	}
	return nil
}

// terminate records the failure and returns the workflow error. The error
// type is the failure kind.
func terminate(ctx workflow.Context, run pipeline.Run, step pipeline.Step, err error) error {
	status := pipeline.StatusFailed
	kind := failureKind(step, err)
	if temporal.IsCanceledError(err) || ctx.Err() != nil {
		status = pipeline.StatusCanceled
		kind = kgerrors.KindCanceled
		ctx, _ = workflow.NewDisconnectedContext(ctx)
	}

	finished := workflow.Now(ctx).UTC()
	run.Status = status
	run.FailedStep = step
	run.Error = err.Error()
	run.ErrorKind = kind
	run.FinishedAt = &finished

	if saveErr := checkpoint(ctx, &run); saveErr != nil {
		workflow.GetLogger(ctx).Warn("Failed to checkpoint terminated run", "run_id", run.ID, "error", saveErr)
	}

	workflow.GetLogger(ctx).Error("Pipeline run terminated",
		"run_id", run.ID,
		"status", string(status),
		"step", string(step),
		"error_kind", string(kind),
		"error", err,
	)
	return temporal.NewApplicationErrorWithCause(
		fmt.Sprintf("pipeline run %s %s at %s", run.ID, status, step),
		string(kind),
		err,
	)
}

func failureKind(step pipeline.Step, err error) kgerrors.Kind {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) && appErr.Type() != "" {
		return kgerrors.Kind(appErr.Type())
	}
	var timeoutErr *temporal.TimeoutError
	if errors.As(err, &timeoutErr) {
		if step == pipeline.StepExtract {
			return kgerrors.KindServiceUnavailable
		}
		return kgerrors.KindTransientStore
	}
	return kgerrors.KindOf(err)
}

type registry interface {
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)
	RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions)
}

// Register adds the workflow and activities to a worker or test environment
func Register(r registry, acts *Activities) {
	r.RegisterWorkflowWithOptions(Workflow, workflow.RegisterOptions{Name: WorkflowName})
	r.RegisterActivityWithOptions(acts.Step, activity.RegisterOptions{Name: ActivityStep})
	r.RegisterActivityWithOptions(acts.Checkpoint, activity.RegisterOptions{Name: ActivityCheckpoint})
}
