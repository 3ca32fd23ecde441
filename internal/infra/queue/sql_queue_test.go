package queue

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mappy4ever/tcgsync/internal/domain"
	"github.com/mappy4ever/tcgsync/internal/infra/store"
)

func newSQLQueue(t *testing.T) *SQLQueue {
	t.Helper()
	db, err := store.Open("sqlite", filepath.Join(t.TempDir(), "queue.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return NewSQLQueue(db, 20*time.Millisecond)
}

func TestSQLQueue_FIFOAndAck(t *testing.T) {
	q := newSQLQueue(t)
	ctx := context.Background()

	first := &domain.Job{RunID: "r1", Scope: domain.SyncScopeFull, EnqueuedAt: time.Now().Add(-time.Second)}
	second := &domain.Job{RunID: "r2", Scope: domain.SyncScopeDelta}
	require.NoError(t, q.Enqueue(ctx, first))
	require.NoError(t, q.Enqueue(ctx, second))

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "r1", got.RunID)
	require.Equal(t, 1, got.Attempts)
	require.NoError(t, q.Ack(ctx, got))

	got, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "r2", got.RunID)
	require.NoError(t, q.Fail(ctx, got, "boom"))

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"done": 1, "failed": 1}, counts)
}

func TestSQLQueue_DequeueBlocksUntilEnqueue(t *testing.T) {
	q := newSQLQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan *domain.Job, 1)
	go func() {
		j, err := q.Dequeue(ctx)
		if err == nil {
			done <- j
		}
	}()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, &domain.Job{RunID: "late", Scope: domain.SyncScopeFull}))

	select {
	case j := <-done:
		require.Equal(t, "late", j.RunID)
	case <-ctx.Done():
		t.Fatal("dequeue did not return")
	}
}

func TestSQLQueue_EachJobDeliveredOnce(t *testing.T) {
	q := newSQLQueue(t)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, q.Enqueue(ctx, &domain.Job{RunID: "r", Scope: domain.SyncScopeFull}))
	}

	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var mu sync.Mutex
	seen := map[string]int{}
	var wg sync.WaitGroup
	for w := 0; w < 3; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				j, err := q.Dequeue(cctx)
				if err != nil {
					return
				}
				mu.Lock()
				seen[j.ID]++
				n := len(seen)
				mu.Unlock()
				_ = q.Ack(ctx, j)
				if n == 10 {
					cancel()
				}
			}
		}()
	}
	wg.Wait()
	require.Len(t, seen, 10)
	for id, n := range seen {
		require.Equal(t, 1, n, "job %s delivered %d times", id, n)
	}
}

func TestSQLQueue_CancelAndClose(t *testing.T) {
	q := newSQLQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, q.Close())
	_, err = q.Dequeue(context.Background())
	require.True(t, errors.Is(err, ErrClosed))
}

func TestSQLQueue_RequeueReleasesStaleClaims(t *testing.T) {
	q := newSQLQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &domain.Job{RunID: "r1", Scope: domain.SyncScopeFull}))
	abandoned, err := q.Dequeue(ctx)
	require.NoError(t, err)

	// a claim newer than the cutoff is left alone
	n, err := q.Requeue(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = q.Requeue(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, 1, n)
	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"queued": 1}, counts)

	again, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, abandoned.ID, again.ID)
	require.Equal(t, 2, again.Attempts)
	require.NoError(t, q.Ack(ctx, again))

	n, err = q.Requeue(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Zero(t, n, "finished jobs are never requeued")
}
