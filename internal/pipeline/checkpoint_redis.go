package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisCheckpointPrefix = "checkpoint:"

// RedisCheckpoints stores run state as JSON strings that expire after ttl.
type RedisCheckpoints struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCheckpoints(client *redis.Client, ttl time.Duration) *RedisCheckpoints {
	return &RedisCheckpoints{client: client, ttl: ttl}
}

func (r *RedisCheckpoints) Load(ctx context.Context, runId string) (*Run, error) {
	data, err := r.client.Get(ctx, redisCheckpointPrefix+runId).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("error loading checkpoint: %w", err)
	}
	return decodeRun(data)
}

func (r *RedisCheckpoints) Save(ctx context.Context, run *Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, redisCheckpointPrefix+run.RunId, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("error saving checkpoint: %w", err)
	}
	return nil
}

func (r *RedisCheckpoints) Delete(ctx context.Context, runId string) error {
	return r.client.Del(ctx, redisCheckpointPrefix+runId).Err()
}
