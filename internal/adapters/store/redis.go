package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/TeneoProtocolAI/agent-network/internal/core/domain"
)

// RedisStore keeps the snapshot, goal and memo cache in Redis. Every write is
// a single SET so readers never see a partial snapshot.
type RedisStore struct {
	cli *redis.Client
}

// NewRedisStore connects using a redis:// URL and pings the server.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{cli: cli}, nil
}

var _ domain.SnapshotStore = (*RedisStore)(nil)

func (r *RedisStore) get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.cli.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

func (r *RedisStore) GetState(ctx context.Context) ([]byte, error) {
	return r.get(ctx, StateKey)
}

func (r *RedisStore) PutState(ctx context.Context, state *domain.NetworkState, ttl time.Duration) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := r.cli.Set(ctx, StateKey, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", StateKey, err)
	}
	return nil
}

func (r *RedisStore) GetGoal(ctx context.Context) (*domain.NetworkGoal, error) {
	data, err := r.get(ctx, GoalKey)
	if err != nil {
		return nil, err
	}
	return decodeGoal(data)
}

func (r *RedisStore) PutGoal(ctx context.Context, goal *domain.NetworkGoal) error {
	data, err := json.Marshal(goal)
	if err != nil {
		return fmt.Errorf("marshal goal: %w", err)
	}
	if err := r.cli.Set(ctx, GoalKey, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", GoalKey, err)
	}
	return nil
}

func (r *RedisStore) DeleteGoal(ctx context.Context) error {
	if err := r.cli.Del(ctx, GoalKey).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", GoalKey, err)
	}
	return nil
}

func (r *RedisStore) GetMemo(ctx context.Context, txHash string) (string, error) {
	data, err := r.get(ctx, MemoKey(txHash))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (r *RedisStore) PutMemo(ctx context.Context, txHash, memo string, ttl time.Duration) error {
	return r.cli.Set(ctx, MemoKey(txHash), memo, ttl).Err()
}

func (r *RedisStore) Close() error {
	return r.cli.Close()
}
