package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/stemsi/exam-runner/internal/config"
)

// Queue appends JSON payloads to a Redis list drained by a worker.
type Queue struct {
	rdb *redis.Client
}

func NewQueue(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

// Enqueue pushes v onto the named queue.
func (q *Queue) Enqueue(ctx context.Context, queue string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", queue, err)
	}
	if err := q.rdb.RPush(ctx, queue, data).Err(); err != nil {
		return fmt.Errorf("push %s: %w", queue, err)
	}
	return nil
}

// Depths returns the pending length of every worker queue.
func (q *Queue) Depths(ctx context.Context) (map[string]int64, error) {
	names := []string{
		config.WorkerKey.PersistAnswersQueue,
		config.WorkerKey.PersistViolationsQueue,
		config.WorkerKey.PersistResultsQueue,
	}

	pipe := q.rdb.Pipeline()
	cmds := make([]*redis.IntCmd, len(names))
	for i, name := range names {
		cmds[i] = pipe.LLen(ctx, name)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("queue depths: %w", err)
	}

	out := make(map[string]int64, len(names))
	for i, name := range names {
		out[name] = cmds[i].Val()
	}
	return out, nil
}
