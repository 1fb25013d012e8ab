package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pdf2md/internal/domain"
)

const maxUpdateAttempts = 16

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisTaskStore keeps one JSON document per task and the insertion order in
// a sorted set scored by a monotonically increasing sequence.
type RedisTaskStore struct {
	client *redis.Client
	prefix string
}

func NewRedisTaskStore(ctx context.Context, cfg RedisConfig) (*RedisTaskStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "pdf2md:"
	}
	return &RedisTaskStore{client: client, prefix: prefix}, nil
}

func (s *RedisTaskStore) taskKey(id string) string { return s.prefix + "task:" + id }
func (s *RedisTaskStore) orderKey() string        { return s.prefix + "tasks" }
func (s *RedisTaskStore) seqKey() string          { return s.prefix + "seq" }

func (s *RedisTaskStore) Create(ctx context.Context, task domain.Task) (domain.Task, error) {
	raw, err := json.Marshal(task)
	if err != nil {
		return domain.Task{}, fmt.Errorf("encode task: %w", err)
	}

	// A sequence number burnt by a duplicate id leaves only a gap in the order.
	seq, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return domain.Task{}, fmt.Errorf("redis incr: %w", err)
	}

	// The key and its order entry are written in one MULTI/EXEC. ZADD NX keeps
	// the original position when the id already exists.
	var setnx *redis.BoolCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		setnx = pipe.SetNX(ctx, s.taskKey(task.ID), raw, 0)
		pipe.ZAddNX(ctx, s.orderKey(), redis.Z{Score: float64(seq), Member: task.ID})
		return nil
	})
	if err != nil {
		return domain.Task{}, fmt.Errorf("redis create: %w", err)
	}
	if !setnx.Val() {
		return domain.Task{}, fmt.Errorf("%w: %s", domain.ErrTaskExists, task.ID)
	}
	return task.Clone(), nil
}

func (s *RedisTaskStore) Get(ctx context.Context, id string) (domain.Task, error) {
	return s.read(ctx, s.client, id)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisTaskStore) read(ctx context.Context, c getter, id string) (domain.Task, error) {
	raw, err := c.Get(ctx, s.taskKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Task{}, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}
	if err != nil {
		return domain.Task{}, fmt.Errorf("redis get: %w", err)
	}

	var task domain.Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return domain.Task{}, fmt.Errorf("decode task %s: %w", id, err)
	}
	return task.Clone(), nil
}

func (s *RedisTaskStore) Update(ctx context.Context, id string, fn func(*domain.Task) error) (domain.Task, error) {
	key := s.taskKey(id)
	var updated domain.Task

	txf := func(tx *redis.Tx) error {
		task, err := s.read(ctx, tx, id)
		if err != nil {
			return err
		}
		draft := task.Clone()
		if err := fn(&draft); err != nil {
			return err
		}
		draft.ID = task.ID
		draft.SourceName = task.SourceName
		draft.CreatedAt = task.CreatedAt

		raw, err := json.Marshal(draft)
		if err != nil {
			return fmt.Errorf("encode task: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			return nil
		})
		if err == nil {
			updated = draft
		}
		return err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return domain.Task{}, err
		}
		return updated.Clone(), nil
	}
	return domain.Task{}, fmt.Errorf("update task %s: too much contention", id)
}

func (s *RedisTaskStore) List(ctx context.Context) ([]domain.Task, error) {
	ids, err := s.client.ZRange(ctx, s.orderKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange: %w", err)
	}

	out := make([]domain.Task, 0, len(ids))
	for _, id := range ids {
		task, err := s.Get(ctx, id)
		if errors.Is(err, domain.ErrTaskNotFound) {
			// Deleted between the range and the read.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, nil
}

func (s *RedisTaskStore) Delete(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.taskKey(id))
		pipe.ZRem(ctx, s.orderKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	if del.Val() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}
	return nil
}

func (s *RedisTaskStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.ZCard(ctx, s.orderKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zcard: %w", err)
	}
	return int(n), nil
}

func (s *RedisTaskStore) Close() error {
	return s.client.Close()
}
