package temporalrun

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"kgraph/backend/internal/pipeline"
	"kgraph/backend/pkg/logger"
)

// Runner implements pipeline.Runner by starting workflows. Worker and
// runner must share a durable checkpoint store.
type Runner struct {
	client      client.Client
	checkpoints pipeline.CheckpointStore
	policies    pipeline.Policies
	taskQueue   string
	logger      *zap.Logger

	newID func() string
	now   func() time.Time
}

var _ pipeline.Runner = (*Runner)(nil)

// NewRunner creates a runner submitting to taskQueue
func NewRunner(c client.Client, checkpoints pipeline.CheckpointStore, policies pipeline.Policies, taskQueue string) *Runner {
	if policies == nil {
		policies = pipeline.DefaultPolicies()
	}
	return &Runner{
		client:      c,
		checkpoints: checkpoints,
		policies:    policies,
		taskQueue:   taskQueue,
		logger:      logger.Named("pipeline.temporal"),
		newID:       uuid.NewString,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Start implements pipeline.Runner
func (r *Runner) Start(ctx context.Context, req pipeline.Request) (*pipeline.Summary, error) {
	run, err := pipeline.NewRun(req, r.newID, r.now())
	if err != nil {
		return nil, err
	}
	if err := r.checkpoints.Save(ctx, run); err != nil {
		return nil, fmt.Errorf("checkpoint run %s: %w", run.ID, err)
	}
	return r.execute(ctx, run)
}

// Resume implements pipeline.Runner. A workflow still running under the
// run id is joined rather than started again.
func (r *Runner) Resume(ctx context.Context, runID string) (*pipeline.Summary, error) {
	run, err := r.checkpoints.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return run.Result()
	}
	return r.execute(ctx, run)
}

// Get implements pipeline.Runner
func (r *Runner) Get(ctx context.Context, runID string) (pipeline.Run, error) {
	return r.checkpoints.Load(ctx, runID)
}

func (r *Runner) execute(ctx context.Context, run pipeline.Run) (*pipeline.Summary, error) {
	we, err := r.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        run.ID,
		TaskQueue: r.taskQueue,
	}, WorkflowName, Input{Run: run, Policies: r.policies})
	if err != nil {
		return nil, fmt.Errorf("start workflow %s: %w", run.ID, err)
	}

	r.logger.Info("Pipeline workflow started",
		zap.String("run_id", run.ID),
		zap.String("workflow_run_id", we.GetRunID()),
		zap.String("step", string(run.Step)),
	)

	var summary pipeline.Summary
	if err := we.Get(ctx, &summary); err != nil {
		// the workflow checkpoints its failure before returning
		if latest, loadErr := r.checkpoints.Load(ctx, run.ID); loadErr == nil && latest.Status.Terminal() {
			return latest.Result()
		}
		return nil, fmt.Errorf("workflow %s: %w", run.ID, err)
	}
	return &summary, nil
}

// Dial connects to the Temporal frontend
func Dial(ctx context.Context, hostPort, namespace string) (client.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	c, err := client.DialContext(dialCtx, client.Options{
		HostPort:  hostPort,
		Namespace: namespace,
		Logger:    zapLogger{logger.Named("temporal").Sugar()},
	})
	if err != nil {
		return nil, fmt.Errorf("temporal dial failed (address=%s namespace=%s): %w", hostPort, namespace, err)
	}
	return c, nil
}

// NewWorker creates a worker with the pipeline workflow and activities registered
func NewWorker(c client.Client, taskQueue string, acts *Activities, concurrency int) worker.Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	w := worker.New(c, taskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: max(concurrency, 2),
	})
	Register(w, acts)
	return w
}

// zapLogger adapts zap to the Temporal SDK logger
type zapLogger struct {
	s *zap.SugaredLogger
}

func (l zapLogger) Debug(msg string, keyvals ...interface{}) { l.s.Debugw(msg, keyvals...) }
func (l zapLogger) Info(msg string, keyvals ...interface{})  { l.s.Infow(msg, keyvals...) }
func (l zapLogger) Warn(msg string, keyvals ...interface{})  { l.s.Warnw(msg, keyvals...) }
func (l zapLogger) Error(msg string, keyvals ...interface{}) { l.s.Errorw(msg, keyvals...) }
