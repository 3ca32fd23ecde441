package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mappy4ever/tcgsync/internal/domain"
)

// Runs against a real server when TCGSYNC_TEST_REDIS_ADDR is set.
func newRedisQueue(t *testing.T) *RedisQueue {
	t.Helper()
	addr := os.Getenv("TCGSYNC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TCGSYNC_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	q, err := DialRedisQueue(ctx, addr, "tcgsync:test:"+uuid.NewString())
	require.NoError(t, err)
	q.block = 200 * time.Millisecond
	t.Cleanup(func() {
		_ = q.client.Del(ctx, q.pending, q.processing, q.dead).Err()
		_ = q.Close()
	})
	return q
}

func TestRedisQueue_AckAndDeadLetter(t *testing.T) {
	q := newRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &domain.Job{RunID: "r1", Scope: domain.SyncScopeFull}))
	require.NoError(t, q.Enqueue(ctx, &domain.Job{RunID: "r2", Scope: domain.SyncScopeDelta}))

	j1, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "r1", j1.RunID)
	_, processing, _, err := q.Lengths(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, processing)
	require.NoError(t, q.Ack(ctx, j1))

	j2, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, j2, "boom"))

	pending, processing, dead, err := q.Lengths(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, pending)
	require.EqualValues(t, 0, processing)
	require.EqualValues(t, 1, dead)

	cctx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	_, err = q.Dequeue(cctx)
	require.Error(t, err)
}
