// Package pipeline turns submitted text into graph mutations through a
// checkpointed sequence of independently retried steps.
package pipeline

import (
	"fmt"
	"time"

	"kgraph/backend/internal/extraction"
	"kgraph/backend/internal/graph"
	kgerrors "kgraph/backend/pkg/errors"
)

// Step is one state of a pipeline run
type Step string

const (
	StepInit            Step = "init"
	StepExtract         Step = "extract"
	StepValidate        Step = "validate"
	StepPersistNodes    Step = "persist_nodes"
	StepPersistEdges    Step = "persist_edges"
	StepPersistAudit    Step = "persist_audit"
	StepComputeInsights Step = "compute_insights"
	StepDone            Step = "done"
)

// Sequence lists the executable steps in order
var Sequence = []Step{
	StepExtract,
	StepValidate,
	StepPersistNodes,
	StepPersistEdges,
	StepPersistAudit,
	StepComputeInsights,
}

// Next returns the step that follows s; done is terminal
func (s Step) Next() Step {
	if s == StepInit {
		return Sequence[0]
	}
	for i, step := range Sequence {
		if step == s && i+1 < len(Sequence) {
			return Sequence[i+1]
		}
	}
	return StepDone
}

// Valid reports whether s is one of the executable steps
func (s Step) Valid() bool {
	for _, step := range Sequence {
		if step == s {
			return true
		}
	}
	return false
}

// Status is the lifecycle state of a run
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Terminal reports whether no further steps will execute
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

// Tally counts what the persistence steps did
type Tally struct {
	NodesCreated int `json:"nodesCreated"`
	NodesUpdated int `json:"nodesUpdated"`
	EdgesCreated int `json:"edgesCreated"`
	EdgesUpdated int `json:"edgesUpdated"`
}

// Insights is the post-write snapshot returned to the caller
type Insights struct {
	TopTopics []graph.RankedNode `json:"topTopics"`
	Interests []graph.RankedNode `json:"interests"`
}

// Run is the checkpointed state of one pipeline run. Step is the next step
// to execute; everything a step needs is carried here.
type Run struct {
	ID        string                `json:"id"`
	UserID    string                `json:"userId"`
	TextID    string                `json:"textId"`
	Text      string                `json:"text"`
	Step      Step                  `json:"step"`
	Status    Status                `json:"status"`
	Knowledge *extraction.Knowledge `json:"knowledge,omitempty"`
	Tally     Tally                 `json:"tally"`
	Insights  *Insights             `json:"insights,omitempty"`
	Attempts  map[Step]int          `json:"attempts"`

	FailedStep Step          `json:"failedStep,omitempty"`
	Error      string        `json:"error,omitempty"`
	ErrorKind  kgerrors.Kind `json:"errorKind,omitempty"`
	StartedAt  time.Time     `json:"startedAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
	FinishedAt *time.Time    `json:"finishedAt,omitempty"`
}

// Summary is the result of a successful run
type Summary struct {
	RunID        string   `json:"runId"`
	UserID       string   `json:"userId"`
	TextID       string   `json:"textId"`
	NodesCreated int      `json:"nodesCreated"`
	NodesUpdated int      `json:"nodesUpdated"`
	EdgesCreated int      `json:"edgesCreated"`
	EdgesUpdated int      `json:"edgesUpdated"`
	DurationMs   int64    `json:"durationMs"`
	Insights     Insights `json:"insights"`
}

// Summary builds the caller-facing summary of a finished run
func (r Run) Summary() *Summary {
	end := r.UpdatedAt
	if r.FinishedAt != nil {
		end = *r.FinishedAt
	}
	s := &Summary{
		RunID:        r.ID,
		UserID:       r.UserID,
		TextID:       r.TextID,
		NodesCreated: r.Tally.NodesCreated,
		NodesUpdated: r.Tally.NodesUpdated,
		EdgesCreated: r.Tally.EdgesCreated,
		EdgesUpdated: r.Tally.EdgesUpdated,
		DurationMs:   end.Sub(r.StartedAt).Milliseconds(),
	}
	if r.Insights != nil {
		s.Insights = *r.Insights
	}
	return s
}

// Result reports a terminal run the way Start reported it
func (r Run) Result() (*Summary, error) {
	switch r.Status {
	case StatusSucceeded:
		return r.Summary(), nil
	case StatusFailed, StatusCanceled:
		return nil, &RunError{
			RunID:  r.ID,
			Step:   r.FailedStep,
			Status: r.Status,
			Err:    kgerrors.New(r.ErrorKind, "pipeline."+string(r.FailedStep), r.Error, nil),
		}
	}
	return nil, kgerrors.InvalidInput("pipeline.Result", "run "+r.ID+" is still "+string(r.Status))
}

// RunError is the terminal failure of a run
type RunError struct {
	RunID  string
	Step   Step
	Status Status
	Err    error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("pipeline run %s %s at %s: %v", e.RunID, e.Status, e.Step, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}
