package pipeline

import (
	"context"
	"encoding/json"
	"sync"

	kgerrors "kgraph/backend/pkg/errors"
)

// CheckpointStore durably records run state between steps
type CheckpointStore interface {
	Save(ctx context.Context, run Run) error
	Load(ctx context.Context, runID string) (Run, error)
}

// MemoryCheckpoints keeps checkpoints in process memory. Runs are stored
// serialized so that callers never share maps or pointers with the store.
type MemoryCheckpoints struct {
	mu   sync.RWMutex
	runs map[string][]byte
}

var _ CheckpointStore = (*MemoryCheckpoints)(nil)

// NewMemoryCheckpoints creates an empty checkpoint store
func NewMemoryCheckpoints() *MemoryCheckpoints {
	return &MemoryCheckpoints{runs: make(map[string][]byte)}
}

// Save implements CheckpointStore
func (m *MemoryCheckpoints) Save(ctx context.Context, run Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.runs[run.ID] = data
	m.mu.Unlock()
	return nil
}

// Load implements CheckpointStore
func (m *MemoryCheckpoints) Load(ctx context.Context, runID string) (Run, error) {
	m.mu.RLock()
	data, ok := m.runs[runID]
	m.mu.RUnlock()
	if !ok {
		return Run{}, kgerrors.NotFound("checkpoints.Load", "run "+runID)
	}

	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return Run{}, err
	}
	return run, nil
}
