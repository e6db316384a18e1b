package pipeline

import (
	"context"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"kgraph/backend/internal/extraction"
	"kgraph/backend/internal/graph"
	kgerrors "kgraph/backend/pkg/errors"
	"kgraph/backend/pkg/logger"
)

// Executor runs the current step of a run and returns the updated run. It
// must not advance run.Step; that is the caller's job after checkpointing.
type Executor interface {
	Execute(ctx context.Context, run Run) (Run, error)
}

// Steps implements every pipeline step against an extractor and a store.
// Each step rebuilds what it needs from the run it is handed.
type Steps struct {
	extractor extraction.Extractor
	store     graph.Store
	logger    *zap.Logger
	now       func() time.Time
}

var _ Executor = (*Steps)(nil)

// NewSteps creates the step executor
func NewSteps(extractor extraction.Extractor, store graph.Store) *Steps {
	return &Steps{
		extractor: extractor,
		store:     store,
		logger:    logger.Named("pipeline.steps"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Execute implements Executor
func (s *Steps) Execute(ctx context.Context, run Run) (Run, error) {
	switch run.Step {
	case StepExtract:
		return s.extract(ctx, run)
	case StepValidate:
		return s.validate(ctx, run)
	case StepPersistNodes:
		return s.persistNodes(ctx, run)
	case StepPersistEdges:
		return s.persistEdges(ctx, run)
	case StepPersistAudit:
		return s.persistAudit(ctx, run)
	case StepComputeInsights:
		return s.computeInsights(ctx, run)
	}
	return run, kgerrors.InvalidInput("pipeline.Execute", "no executable step "+string(run.Step))
}

func (s *Steps) extract(ctx context.Context, run Run) (Run, error) {
	k, err := s.extractor.Extract(ctx, run.Text)
	if err != nil {
		return run, err
	}
	run.Knowledge = k
	return run, nil
}

func (s *Steps) validate(ctx context.Context, run Run) (Run, error) {
	const op = "pipeline.validate"
	if run.Knowledge == nil {
		return run, kgerrors.InvalidInput(op, "run has no extraction result")
	}
	if run.Knowledge.IsEmpty() {
		return run, kgerrors.EmptyExtraction(op)
	}

	// a text id this user already recorded fails here, before any graph writes
	existing, err := s.store.GetTextSource(ctx, run.UserID, run.TextID)
	switch {
	case kgerrors.IsKind(err, kgerrors.KindNotFound):
		return run, nil
	case err != nil:
		return run, err
	case existing.RunID != run.ID:
		return run, kgerrors.DuplicateID(op, run.TextID)
	}
	return run, nil
}

func requireKnowledge(op string, run Run) error {
	if run.Knowledge == nil {
		return kgerrors.InvalidInput(op, "run has no extraction result")
	}
	return nil
}

// created reports whether an upsert made the record, including one made by
// an earlier attempt whose token is now skipped
func created(res graph.UpsertResult) bool {
	if res.Skipped {
		return res.Weight == 1
	}
	return res.Created
}

func (s *Steps) persistNodes(ctx context.Context, run Run) (Run, error) {
	const op = "pipeline.persist_nodes"
	if err := requireKnowledge(op, run); err != nil {
		return run, err
	}

	run.Tally.NodesCreated, run.Tally.NodesUpdated = 0, 0
	for _, in := range planNodes(run.ID, run.Knowledge) {
		if err := ctx.Err(); err != nil {
			return run, err
		}
		res, err := s.store.UpsertNode(ctx, run.UserID, in)
		if err != nil {
			return run, err
		}
		if created(res) {
			run.Tally.NodesCreated++
		} else {
			run.Tally.NodesUpdated++
		}
	}
	return run, nil
}

func (s *Steps) persistEdges(ctx context.Context, run Run) (Run, error) {
	const op = "pipeline.persist_edges"
	if err := requireKnowledge(op, run); err != nil {
		return run, err
	}

	run.Tally.EdgesCreated, run.Tally.EdgesUpdated = 0, 0
	for _, in := range planEdges(run.ID, run.Knowledge) {
		if err := ctx.Err(); err != nil {
			return run, err
		}
		res, err := s.store.UpsertEdge(ctx, run.UserID, in)
		if err != nil {
			return run, err
		}
		if created(res) {
			run.Tally.EdgesCreated++
		} else {
			run.Tally.EdgesUpdated++
		}
	}
	return run, nil
}

func (s *Steps) persistAudit(ctx context.Context, run Run) (Run, error) {
	const op = "pipeline.persist_audit"
	if err := requireKnowledge(op, run); err != nil {
		return run, err
	}

	src := graph.TextSource{
		ID:          run.TextID,
		UserID:      run.UserID,
		Content:     run.Text,
		Length:      utf8.RuneCountInString(run.Text),
		RunID:       run.ID,
		DurationMs:  s.now().Sub(run.StartedAt).Milliseconds(),
		Counts:      run.Knowledge.Counts(),
		Sentiment:   run.Knowledge.Sentiment,
		ContextType: run.Knowledge.ContextType,
	}

	err := s.store.RecordTextSource(ctx, src)
	if kgerrors.IsKind(err, kgerrors.KindDuplicateID) {
		// a previous attempt of this run may have committed before failing
		existing, getErr := s.store.GetTextSource(ctx, run.UserID, run.TextID)
		if getErr == nil && existing.RunID == run.ID {
			s.logger.Info("Audit record already written by this run",
				zap.String("run_id", run.ID),
				zap.String("text_id", run.TextID),
			)
			return run, nil
		}
	}
	return run, err
}

func (s *Steps) computeInsights(ctx context.Context, run Run) (Run, error) {
	var insights Insights

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		top, err := s.store.TopTopics(gctx, run.UserID, graph.SummaryTopN)
		insights.TopTopics = top
		return err
	})
	g.Go(func() error {
		interests, err := s.store.UserInterests(gctx, run.UserID, graph.SummaryTopN)
		insights.Interests = interests
		return err
	})
	if err := g.Wait(); err != nil {
		return run, err
	}

	run.Insights = &insights
	return run, nil
}
