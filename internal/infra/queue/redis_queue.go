package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mappy4ever/tcgsync/internal/domain"
)

// RedisQueue is a reliable list queue: jobs move atomically from the pending
// list to a processing list on dequeue and are removed on ack. Failed jobs go
// to a dead-letter list.
type RedisQueue struct {
	client     *redis.Client
	pending    string
	processing string
	dead       string
	block      time.Duration

	mu       sync.Mutex
	payloads map[string]string
}

type deadJob struct {
	Job      *domain.Job `json:"job"`
	Reason   string      `json:"reason"`
	FailedAt time.Time   `json:"failed_at"`
}

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	return &RedisQueue{
		client:     client,
		pending:    key,
		processing: key + ":processing",
		dead:       key + ":dead",
		block:      5 * time.Second,
		payloads:   map[string]string{},
	}
}

// DialRedisQueue connects to addr and verifies the connection.
func DialRedisQueue(ctx context.Context, addr, key string) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return NewRedisQueue(client, key), nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *domain.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	b, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.pending, b).Err(); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*domain.Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := q.client.BLMove(ctx, q.pending, q.processing, "RIGHT", "LEFT", q.block).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, redis.ErrClosed) {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("dequeue job: %w", err)
		}

		var job domain.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			// unreadable payloads are parked, not redelivered
			_ = q.client.LRem(ctx, q.processing, 1, raw).Err()
			_ = q.client.LPush(ctx, q.dead, raw).Err()
			continue
		}
		job.Attempts++
		q.mu.Lock()
		q.payloads[job.ID] = raw
		q.mu.Unlock()
		return &job, nil
	}
}

func (q *RedisQueue) take(job *domain.Job) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	raw, ok := q.payloads[job.ID]
	delete(q.payloads, job.ID)
	return raw, ok
}

func (q *RedisQueue) Ack(ctx context.Context, job *domain.Job) error {
	raw, ok := q.take(job)
	if !ok {
		return fmt.Errorf("ack job %s: not dequeued by this consumer", job.ID)
	}
	if err := q.client.LRem(ctx, q.processing, 1, raw).Err(); err != nil {
		return fmt.Errorf("ack job %s: %w", job.ID, err)
	}
	return nil
}

func (q *RedisQueue) Fail(ctx context.Context, job *domain.Job, reason string) error {
	raw, ok := q.take(job)
	if !ok {
		return fmt.Errorf("fail job %s: not dequeued by this consumer", job.ID)
	}
	b, err := json.Marshal(deadJob{Job: job, Reason: reason, FailedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	_, err = q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, q.processing, 1, raw)
		p.LPush(ctx, q.dead, b)
		return nil
	})
	if err != nil {
		return fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	return nil
}

// Lengths reports pending, processing and dead-letter list sizes.
func (q *RedisQueue) Lengths(ctx context.Context) (pending, processing, dead int64, err error) {
	cmds, err := q.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.LLen(ctx, q.pending)
		p.LLen(ctx, q.processing)
		p.LLen(ctx, q.dead)
		return nil
	})
	if err != nil {
		return 0, 0, 0, err
	}
	return cmds[0].(*redis.IntCmd).Val(), cmds[1].(*redis.IntCmd).Val(), cmds[2].(*redis.IntCmd).Val(), nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
