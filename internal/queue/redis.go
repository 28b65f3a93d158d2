package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultRedisKey = "baradar:pdf:tasks"

// Redis keeps tasks in a list so they survive a restart of the API.
type Redis struct {
	client *redis.Client
	key    string
	poll   time.Duration
	logger *zap.Logger
}

var _ Queue = (*Redis)(nil)

func NewRedis(addr, password string, db int, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		key:    DefaultRedisKey,
		poll:   5 * time.Second,
		logger: logger,
	}
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Enqueue(ctx context.Context, task Task) error {
	payload, err := encodeTask(task)
	if err != nil {
		return err
	}
	if err := r.client.RPush(ctx, r.key, payload).Err(); err != nil {
		return fmt.Errorf("failed to push task %s: %w", task.JobID, err)
	}
	return nil
}

func (r *Redis) Dequeue(ctx context.Context) (Task, error) {
	for {
		res, err := r.client.BLPop(ctx, r.poll, r.key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case errors.Is(err, redis.ErrClosed):
			return Task{}, ErrClosed
		case err != nil:
			if ctx.Err() != nil {
				return Task{}, ctx.Err()
			}
			return Task{}, fmt.Errorf("failed to pop task: %w", err)
		}
		// res is [key, value]
		task, err := decodeTask(res[1])
		if err != nil {
			r.logger.Error("dropping malformed task", zap.Error(err))
			continue
		}
		return task, nil
	}
}

func (r *Redis) Len(ctx context.Context) (int64, error) {
	return r.client.LLen(ctx, r.key).Result()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
