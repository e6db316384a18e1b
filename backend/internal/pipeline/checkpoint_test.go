package pipeline

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kgerrors "kgraph/backend/pkg/errors"
)

func sampleRun() Run {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return Run{
		ID:        uuid.NewString(),
		UserID:    "u1",
		TextID:    "t1",
		Text:      "rodeo",
		Step:      StepPersistEdges,
		Status:    StatusRunning,
		Knowledge: rodeoKnowledge(),
		Tally:     Tally{NodesCreated: 2},
		Attempts:  map[Step]int{StepExtract: 2, StepValidate: 1},
		StartedAt: now,
		UpdatedAt: now,
	}
}

// checkpointContract exercises any CheckpointStore
func checkpointContract(t *testing.T, store CheckpointStore) {
	ctx := context.Background()

	_, err := store.Load(ctx, "does-not-exist")
	assert.True(t, kgerrors.IsKind(err, kgerrors.KindNotFound))

	run := sampleRun()
	require.NoError(t, store.Save(ctx, run))

	loaded, err := store.Load(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Step, loaded.Step)
	assert.Equal(t, run.Tally, loaded.Tally)
	assert.Equal(t, run.Attempts, loaded.Attempts)
	assert.Equal(t, run.Knowledge.MainTopics, loaded.Knowledge.MainTopics)
	assert.True(t, run.StartedAt.Equal(loaded.StartedAt))

	// later saves replace earlier ones
	run.Step = StepDone
	run.Status = StatusSucceeded
	require.NoError(t, store.Save(ctx, run))
	loaded, err = store.Load(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, loaded.Status)
}

func TestMemoryCheckpoints(t *testing.T) {
	checkpointContract(t, NewMemoryCheckpoints())
}

func TestMemoryCheckpoints_NoSharedState(t *testing.T) {
	store := NewMemoryCheckpoints()
	ctx := context.Background()

	run := sampleRun()
	require.NoError(t, store.Save(ctx, run))
	run.Attempts[StepExtract] = 99

	loaded, err := store.Load(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Attempts[StepExtract])
}

func TestRedisCheckpoints(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	rdb, err := DialRedis(context.Background(), addr, os.Getenv("REDIS_PASSWORD"), 0)
	require.NoError(t, err)
	defer rdb.Close()

	checkpointContract(t, NewRedisCheckpoints(rdb, "kgraph:test:"+uuid.NewString(), time.Minute))
}
