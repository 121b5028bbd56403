package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"bordereau/internal/usecase"
)

// Job is the message consumers of the index queue receive.
type Job struct {
	Kind       usecase.EffectKind `json:"kind"`
	DocumentID string             `json:"documentId"`
	Family     string             `json:"family"`
	EnqueuedAt time.Time          `json:"enqueuedAt"`
}

// RedisQueue pushes jobs on the head of a Redis list.
type RedisQueue struct {
	client *redis.Client
	key    string
	now    func() time.Time
}

var _ usecase.Queue = (*RedisQueue)(nil)

func NewRedisQueue(addr, password string, db int, key string) (*RedisQueue, error) {
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	if key == "" {
		return nil, errors.New("queue key is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisQueue{client: client, key: key, now: time.Now}, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, effect usecase.Effect) error {
	payload, err := encodeJob(effect, q.now())
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push %s job for %s: %w", effect.Kind, effect.DocumentID, err)
	}
	return nil
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Client exposes the connection so other Redis consumers can share it.
func (q *RedisQueue) Client() *redis.Client {
	return q.client
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func encodeJob(effect usecase.Effect, now time.Time) ([]byte, error) {
	return json.Marshal(Job{
		Kind:       effect.Kind,
		DocumentID: effect.DocumentID,
		Family:     string(effect.Family),
		EnqueuedAt: now.UTC(),
	})
}
