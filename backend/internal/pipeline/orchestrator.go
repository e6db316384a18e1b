package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"kgraph/backend/internal/metrics"
	kgerrors "kgraph/backend/pkg/errors"
	"kgraph/backend/pkg/logger"
	"kgraph/backend/pkg/tracing"
)

// Request submits one text for processing
type Request struct {
	UserID string `json:"userId"`
	Text   string `json:"text"`
	TextID string `json:"textId,omitempty"`
	Format string `json:"format,omitempty"`
}

// Runner starts and resumes pipeline runs
type Runner interface {
	Start(ctx context.Context, req Request) (*Summary, error)
	Resume(ctx context.Context, runID string) (*Summary, error)
	Get(ctx context.Context, runID string) (Run, error)
}

// Orchestrator drives runs through the step sequence in process,
// checkpointing after every step.
type Orchestrator struct {
	steps       Executor
	checkpoints CheckpointStore
	policies    Policies
	metrics     *metrics.Collector
	logger      *zap.Logger
	tracer      trace.Tracer

	newID func() string
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

var _ Runner = (*Orchestrator)(nil)

// NewOrchestrator creates an orchestrator. A nil collector disables metrics.
func NewOrchestrator(steps Executor, checkpoints CheckpointStore, policies Policies, m *metrics.Collector) *Orchestrator {
	if policies == nil {
		policies = DefaultPolicies()
	}
	return &Orchestrator{
		steps:       steps,
		checkpoints: checkpoints,
		policies:    policies,
		metrics:     m,
		logger:      logger.Named("pipeline"),
		tracer:      tracing.Tracer("kgraph/pipeline"),
		newID:       uuid.NewString,
		now:         func() time.Time { return time.Now().UTC() },
		sleep:       sleepContext,
	}
}

// NewRun validates req and builds the initial state of its run
func NewRun(req Request, newID func() string, now time.Time) (Run, error) {
	const op = "pipeline.NewRun"
	if strings.TrimSpace(req.UserID) == "" {
		return Run{}, kgerrors.InvalidInput(op, "userId is required")
	}
	text, err := Preprocess(req.Text, req.Format)
	if err != nil {
		return Run{}, err
	}
	if text == "" {
		return Run{}, kgerrors.InvalidInput(op, "text is required")
	}

	run := Run{
		ID:        newID(),
		UserID:    req.UserID,
		TextID:    req.TextID,
		Text:      text,
		Step:      StepInit,
		Status:    StatusRunning,
		Attempts:  map[Step]int{},
		StartedAt: now,
		UpdatedAt: now,
	}
	if run.TextID == "" {
		run.TextID = newID()
	}
	return run, nil
}

// Start creates a run for req and drives it to completion
func (o *Orchestrator) Start(ctx context.Context, req Request) (*Summary, error) {
	run, err := NewRun(req, o.newID, o.now())
	if err != nil {
		return nil, err
	}

	if err := o.checkpoint(ctx, &run); err != nil {
		return nil, err
	}

	o.logger.Info("Pipeline run started",
		zap.String("run_id", run.ID),
		zap.String("user_id", run.UserID),
		zap.String("text_id", run.TextID),
		zap.Int("text_length", len(run.Text)),
	)
	return o.drive(ctx, run)
}

// Resume continues a checkpointed run from its saved step. A run that
// already succeeded returns its summary; a failed or canceled run returns
// its recorded failure.
func (o *Orchestrator) Resume(ctx context.Context, runID string) (*Summary, error) {
	run, err := o.checkpoints.Load(ctx, runID)
	if err != nil {
		return nil, err
	}

	if run.Status.Terminal() {
		return run.Result()
	}

	o.logger.Info("Pipeline run resumed",
		zap.String("run_id", run.ID),
		zap.String("step", string(run.Step)),
	)
	return o.drive(ctx, run)
}

// Get returns the checkpointed state of a run
func (o *Orchestrator) Get(ctx context.Context, runID string) (Run, error) {
	return o.checkpoints.Load(ctx, runID)
}

func (o *Orchestrator) drive(ctx context.Context, run Run) (*Summary, error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.String("user.id", run.UserID),
	))
	defer span.End()

	if run.Attempts == nil {
		run.Attempts = map[Step]int{}
	}

	for run.Step != StepDone {
		if run.Step == StepInit {
			run.Step = run.Step.Next()
			if err := o.checkpoint(ctx, &run); err != nil {
				return nil, o.fail(ctx, run, StepInit, err)
			}
			continue
		}

		if err := ctx.Err(); err != nil {
			return nil, o.cancel(ctx, run, run.Step, err)
		}

		step := run.Step
		next, err := o.runStep(ctx, run)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if canceled(ctx, err) {
				return nil, o.cancel(ctx, next, step, err)
			}
			return nil, o.fail(ctx, next, step, err)
		}

		next.Step = step.Next()
		if err := o.checkpoint(ctx, &next); err != nil {
			return nil, o.fail(ctx, run, step, err)
		}
		run = next
	}

	finished := o.now()
	run.Status = StatusSucceeded
	run.FinishedAt = &finished
	if err := o.checkpoint(ctx, &run); err != nil {
		o.logger.Warn("Failed to checkpoint finished run", zap.String("run_id", run.ID), zap.Error(err))
	}
	o.metrics.RecordRun(string(StatusSucceeded))

	summary := run.Summary()
	o.logger.Info("Pipeline run succeeded",
		zap.String("run_id", run.ID),
		zap.String("user_id", run.UserID),
		zap.Int("nodes_created", summary.NodesCreated),
		zap.Int("nodes_updated", summary.NodesUpdated),
		zap.Int("edges_created", summary.EdgesCreated),
		zap.Int("edges_updated", summary.EdgesUpdated),
		zap.Int64("duration_ms", summary.DurationMs),
	)
	span.SetStatus(codes.Ok, "")
	return summary, nil
}

// runStep executes run.Step under its retry policy. On failure the run is
// returned as it was before the step.
func (o *Orchestrator) runStep(ctx context.Context, run Run) (Run, error) {
	step := run.Step
	policy := o.policies.For(step)

	ctx, span := o.tracer.Start(ctx, "pipeline."+string(step), trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.Int("policy.max_attempts", policy.MaxAttempts),
	))
	defer span.End()

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := o.sleep(ctx, policy.Delay(attempt-1)); err != nil {
				return run, err
			}
		}

		run.Attempts[step]++
		start := time.Now()
		next, err := o.attempt(ctx, policy, run)
		elapsed := time.Since(start)

		if err == nil {
			o.metrics.RecordStepAttempt(string(step), "success", elapsed)
			span.SetAttributes(attribute.Int("attempts", attempt))
			return next, nil
		}

		lastErr = err
		o.metrics.RecordStepAttempt(string(step), "failure", elapsed)
		o.logger.Warn("Pipeline step attempt failed",
			zap.String("run_id", run.ID),
			zap.String("step", string(step)),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", policy.MaxAttempts),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)

		if ctx.Err() != nil || !kgerrors.IsRetryable(err) {
			break
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return run, lastErr
}

type attemptResult struct {
	run Run
	err error
}

// attempt runs one try of a step, bounded by the policy timeout. A step that
// ignores its context is abandoned when the timeout fires.
func (o *Orchestrator) attempt(ctx context.Context, policy RetryPolicy, run Run) (Run, error) {
	actx, cancel := ctx, context.CancelFunc(func() {})
	if policy.Timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, policy.Timeout)
	}
	defer cancel()

	done := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult{run: run, err: fmt.Errorf("step %s panicked: %v", run.Step, r)}
			}
		}()
		next, err := o.steps.Execute(actx, run)
		done <- attemptResult{run: next, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
			return run, timeoutError(run.Step, policy.Timeout)
		}
		return res.run, res.err
	case <-actx.Done():
		if err := ctx.Err(); err != nil {
			return run, err
		}
		return run, timeoutError(run.Step, policy.Timeout)
	}
}

func timeoutError(step Step, timeout time.Duration) error {
	op := "pipeline." + string(step)
	msg := fmt.Sprintf("step exceeded its %s timeout", timeout)
	if step == StepExtract {
		return kgerrors.New(kgerrors.KindServiceUnavailable, op, msg, context.DeadlineExceeded)
	}
	return kgerrors.New(kgerrors.KindTransientStore, op, msg, context.DeadlineExceeded)
}

func canceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || kgerrors.IsKind(err, kgerrors.KindCanceled)
}

// checkpoint saves run even when ctx was canceled after the step committed
func (o *Orchestrator) checkpoint(ctx context.Context, run *Run) error {
	run.UpdatedAt = o.now()
	if err := o.checkpoints.Save(context.WithoutCancel(ctx), *run); err != nil {
		return fmt.Errorf("checkpoint run %s at %s: %w", run.ID, run.Step, err)
	}
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, run Run, step Step, err error) error {
	return o.terminate(ctx, run, step, StatusFailed, err)
}

func (o *Orchestrator) cancel(ctx context.Context, run Run, step Step, cause error) error {
	err := kgerrors.New(kgerrors.KindCanceled, "pipeline."+string(step), "run canceled", cause)
	return o.terminate(ctx, run, step, StatusCanceled, err)
}

func (o *Orchestrator) terminate(ctx context.Context, run Run, step Step, status Status, err error) error {
	finished := o.now()
	run.Status = status
	run.FailedStep = step
	run.Error = err.Error()
	run.ErrorKind = kgerrors.KindOf(err)
	run.FinishedAt = &finished

	if saveErr := o.checkpoint(ctx, &run); saveErr != nil {
		o.logger.Warn("Failed to checkpoint terminated run", zap.String("run_id", run.ID), zap.Error(saveErr))
	}
	o.metrics.RecordRun(string(status))

	o.logger.Error("Pipeline run terminated",
		zap.String("run_id", run.ID),
		zap.String("user_id", run.UserID),
		zap.String("status", string(status)),
		zap.String("step", string(step)),
		zap.String("error_kind", string(run.ErrorKind)),
		zap.Error(err),
	)
	return &RunError{RunID: run.ID, Step: step, Status: status, Err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
