package query

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"kgraph/backend/internal/graph"
	"kgraph/backend/internal/metrics"
	kgerrors "kgraph/backend/pkg/errors"
	"kgraph/backend/pkg/logger"
	"kgraph/backend/pkg/tracing"
)

// Result is the outcome of one query. Exactly one of Data and Error is set.
//
// Data holds []graph.RelatedTopic for related_topics, []graph.RankedNode for
// top_topics and user_interests, PathResult for topic_path and
// *graph.Summary for graph_summary.
type Result struct {
	QueryType Type          `json:"queryType"`
	Data      any           `json:"data,omitempty"`
	Error     string        `json:"error,omitempty"`
	ErrorKind kgerrors.Kind `json:"errorKind,omitempty"`
}

// PathResult is the answer to topic_path. Path is empty when Found is false.
type PathResult struct {
	Found  bool     `json:"found"`
	Path   []string `json:"path,omitempty"`
	Length int      `json:"length"`
}

// Failed reports whether the result carries an error
func (r Result) Failed() bool {
	return r.Error != ""
}

// Engine runs queries against a graph store
type Engine struct {
	store   graph.Store
	metrics *metrics.Collector
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewEngine creates a query engine. A nil collector disables metrics.
func NewEngine(store graph.Store, m *metrics.Collector) *Engine {
	return &Engine{
		store:   store,
		metrics: m,
		logger:  logger.Named("query"),
		tracer:  tracing.Tracer("kgraph/query"),
	}
}

// ExecuteRaw parses loose input and executes it
func (e *Engine) ExecuteRaw(ctx context.Context, userID, queryType string, params json.RawMessage) Result {
	req, err := ParseRequest(userID, queryType, params)
	if err != nil {
		e.metrics.RecordQuery("unknown", "invalid", 0)
		return failure(Type(queryType), err)
	}
	return e.Execute(ctx, req)
}

// Execute runs req. It never returns an error; failures are in Result.Error.
func (e *Engine) Execute(ctx context.Context, req Request) Result {
	var qt Type
	if req.Params != nil {
		qt = req.Params.QueryType()
	}

	ctx, span := e.tracer.Start(ctx, "query."+string(qt), trace.WithAttributes(
		attribute.String("user.id", req.UserID),
	))
	defer span.End()

	start := time.Now()
	res := e.execute(ctx, req)
	res.QueryType = qt

	outcome := "success"
	switch {
	case res.ErrorKind == kgerrors.KindInvalidQuery || res.ErrorKind == kgerrors.KindNotFound:
		outcome = "invalid"
	case res.Failed():
		outcome = "error"
		e.logger.Warn("Query failed",
			zap.String("user_id", req.UserID),
			zap.String("query_type", string(qt)),
			zap.String("error", res.Error),
		)
	}
	e.metrics.RecordQuery(string(qt), outcome, time.Since(start))
	return res
}

func (e *Engine) execute(ctx context.Context, req Request) Result {
	if err := req.Validate(); err != nil {
		return failure("", err)
	}

	switch p := req.Params.(type) {
	case RelatedTopicsParams:
		return e.relatedTopics(ctx, req.UserID, p)
	case TopTopicsParams:
		rows, err := e.store.TopTopics(ctx, req.UserID, limitOrDefault(p.Limit))
		return ranked(rows, err)
	case TopicPathParams:
		return e.topicPath(ctx, req.UserID, p)
	case UserInterestsParams:
		rows, err := e.store.UserInterests(ctx, req.UserID, limitOrDefault(p.Limit))
		return ranked(rows, err)
	case GraphSummaryParams:
		summary, err := e.store.Summary(ctx, req.UserID)
		if err != nil {
			return failure("", err)
		}
		return Result{Data: summary}
	}
	return failure("", kgerrors.InvalidQuery("Unsupported query parameters"))
}

func (e *Engine) relatedTopics(ctx context.Context, userID string, p RelatedTopicsParams) Result {
	if _, err := e.store.GetNode(ctx, userID, p.Topic); err != nil {
		if kgerrors.IsKind(err, kgerrors.KindNotFound) {
			return topicNotFound(p.Topic)
		}
		return failure("", err)
	}

	rows, err := e.store.RelatedTopics(ctx, userID, p.Topic, limitOrDefault(p.Limit))
	if err != nil {
		return failure("", err)
	}
	if rows == nil {
		rows = []graph.RelatedTopic{}
	}
	return Result{Data: rows}
}

func (e *Engine) topicPath(ctx context.Context, userID string, p TopicPathParams) Result {
	from, to := graph.Normalize(p.From), graph.Normalize(p.To)
	for _, id := range []string{from, to} {
		if _, err := e.store.GetNode(ctx, userID, id); err != nil {
			if kgerrors.IsKind(err, kgerrors.KindNotFound) {
				return Result{Data: PathResult{Found: false}}
			}
			return failure("", err)
		}
	}

	edges, err := e.store.Edges(ctx, userID)
	if err != nil {
		return failure("", err)
	}

	path, found := graph.ShortestPath(graph.BuildAdjacency(edges), from, to)
	if !found {
		return Result{Data: PathResult{Found: false}}
	}
	return Result{Data: PathResult{Found: true, Path: path, Length: len(path) - 1}}
}

func ranked(rows []graph.RankedNode, err error) Result {
	if err != nil {
		return failure("", err)
	}
	if rows == nil {
		rows = []graph.RankedNode{}
	}
	return Result{Data: rows}
}

func topicNotFound(topic string) Result {
	return Result{
		Error:     "Topic not found: " + topic,
		ErrorKind: kgerrors.KindNotFound,
	}
}

func failure(qt Type, err error) Result {
	res := Result{QueryType: qt, ErrorKind: kgerrors.KindOf(err)}
	var kgErr *kgerrors.Error
	if errors.As(err, &kgErr) && kgErr.Kind == kgerrors.KindInvalidQuery {
		res.Error = kgErr.Message
	} else {
		res.Error = err.Error()
	}
	return res
}
