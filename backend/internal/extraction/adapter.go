// Package extraction calls the external text-analysis service and turns its
// output into validated, normalized Knowledge.
package extraction

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	kgerrors "kgraph/backend/pkg/errors"
	"kgraph/backend/pkg/logger"
)

// Extractor maps text to structured knowledge
type Extractor interface {
	Extract(ctx context.Context, text string) (*Knowledge, error)
}

// Completer sends one system+user prompt to a model and returns its raw text
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// CompleterFunc adapts a function to Completer
type CompleterFunc func(ctx context.Context, system, user string) (string, error)

// Complete implements Completer
func (f CompleterFunc) Complete(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

// BreakerConfig controls when the adapter stops calling a failing service
type BreakerConfig struct {
	MinRequests  uint32
	FailureRatio float64
	OpenTimeout  time.Duration
}

// DefaultBreakerConfig mirrors the service defaults
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MinRequests:  5,
		FailureRatio: 0.8,
		OpenTimeout:  60 * time.Second,
	}
}

// Adapter is the Extractor used by the pipeline. It does not retry; retries
// belong to the pipeline step policy.
type Adapter struct {
	completer Completer
	breaker   *gobreaker.CircuitBreaker
	logger    *zap.Logger
}

var _ Extractor = (*Adapter)(nil)

// NewAdapter wraps a completer with a circuit breaker
func NewAdapter(completer Completer, cfg BreakerConfig) *Adapter {
	log := logger.Named("extraction")
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "extraction",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			// a cancelled caller says nothing about the service
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &Adapter{
		completer: completer,
		breaker:   cb,
		logger:    log,
	}
}

// Extract calls the service once, then parses, validates and normalizes
// its output.
func (a *Adapter) Extract(ctx context.Context, text string) (*Knowledge, error) {
	const op = "extraction.Extract"
	if strings.TrimSpace(text) == "" {
		return nil, kgerrors.InvalidInput(op, "text must not be empty")
	}

	start := time.Now()
	out, err := a.breaker.Execute(func() (interface{}, error) {
		return a.completer.Complete(ctx, SystemPrompt, text)
	})
	if err != nil {
		return nil, a.classify(ctx, op, err)
	}

	raw, _ := out.(string)
	k, err := Parse(raw)
	if err != nil {
		a.logger.Warn("Extraction output rejected",
			zap.Error(err),
			zap.Int("response_length", len(raw)),
		)
		return nil, err
	}

	normalized := k.Normalized()
	a.logger.Debug("Extraction completed",
		zap.Duration("latency", time.Since(start)),
		zap.Int("main_topics", len(normalized.MainTopics)),
		zap.Int("subtopics", len(normalized.Subtopics)),
		zap.Int("entities", len(normalized.Entities)),
		zap.Int("relations", len(normalized.Relations)),
	)
	return &normalized, nil
}

func (a *Adapter) classify(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		a.logger.Warn("Extraction rejected by open circuit", zap.Error(err))
		return kgerrors.ServiceUnavailable(op, err)
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return kgerrors.New(kgerrors.KindCanceled, op, "extraction canceled", err)
	case kgerrors.KindOf(err) != "":
		return err
	}
	a.logger.Error("Extraction service call failed", zap.Error(err))
	return kgerrors.ServiceUnavailable(op, err)
}
