package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	kgerrors "kgraph/backend/pkg/errors"
)

// RedisCheckpoints stores each run as one JSON value under "<prefix>:<runId>"
type RedisCheckpoints struct {
	rdb    goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ CheckpointStore = (*RedisCheckpoints)(nil)

// NewRedisCheckpoints wraps an existing client. ttl 0 keeps runs forever.
func NewRedisCheckpoints(rdb goredis.UniversalClient, prefix string, ttl time.Duration) *RedisCheckpoints {
	if prefix == "" {
		prefix = "kgraph:run"
	}
	return &RedisCheckpoints{rdb: rdb, prefix: prefix, ttl: ttl}
}

// DialRedis connects and pings a Redis server
func DialRedis(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func (r *RedisCheckpoints) key(runID string) string {
	return r.prefix + ":" + runID
}

// Save implements CheckpointStore
func (r *RedisCheckpoints) Save(ctx context.Context, run Run) error {
	raw, err := json.Marshal(run)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, r.key(run.ID), raw, r.ttl).Err(); err != nil {
		return kgerrors.TransientStore("checkpoints.redis.Save", err)
	}
	return nil
}

// Load implements CheckpointStore
func (r *RedisCheckpoints) Load(ctx context.Context, runID string) (Run, error) {
	raw, err := r.rdb.Get(ctx, r.key(runID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return Run{}, kgerrors.NotFound("checkpoints.redis.Load", "run "+runID)
	}
	if err != nil {
		return Run{}, kgerrors.TransientStore("checkpoints.redis.Load", err)
	}

	var run Run
	if err := json.Unmarshal(raw, &run); err != nil {
		return Run{}, fmt.Errorf("decode checkpoint %s: %w", runID, err)
	}
	return run, nil
}
