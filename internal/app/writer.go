package app

import (
	"context"
	"fmt"

	"github.com/mappy4ever/tcgsync/internal/infra/catalog"
	"github.com/mappy4ever/tcgsync/internal/metrics"
)

const (
	DefaultBatchSize = 50
	MaxBatchSize     = 50
)

// WriteFunc persists one batch atomically.
type WriteFunc[T any] func(ctx context.Context, batch []T) (catalog.UpsertResult, error)

// WriteResult accumulates every flush since the last explicit Flush.
type WriteResult struct {
	Written int
	Created int
	Updated int
	Failed  int
	Errors  []error
}

// BatchWriter buffers rows and writes them in batches of size. A failed batch
// counts every row in it as failed; rows are never retried one by one.
type BatchWriter[T any] struct {
	table   string
	size    int
	write   WriteFunc[T]
	buf     []T
	res     WriteResult
	onFlush func(WriteResult)
}

func NewBatchWriter[T any](table string, size int, write WriteFunc[T]) *BatchWriter[T] {
	if size < 1 {
		size = DefaultBatchSize
	}
	return &BatchWriter[T]{table: table, size: size, write: write, buf: make([]T, 0, size)}
}

// OnFlush registers a hook called after every batch with the running result.
func (w *BatchWriter[T]) OnFlush(fn func(WriteResult)) {
	w.onFlush = fn
}

// Add buffers row and writes the buffer once it reaches the batch size.
func (w *BatchWriter[T]) Add(ctx context.Context, row T) {
	w.buf = append(w.buf, row)
	if len(w.buf) >= w.size {
		w.flushBuffer(ctx)
	}
}

// Pending is the number of buffered, unwritten rows.
func (w *BatchWriter[T]) Pending() int {
	return len(w.buf)
}

// Flush writes whatever is buffered and returns the accumulated result,
// resetting it for the next round.
func (w *BatchWriter[T]) Flush(ctx context.Context) WriteResult {
	w.flushBuffer(ctx)
	res := w.res
	w.res = WriteResult{}
	return res
}

func (w *BatchWriter[T]) flushBuffer(ctx context.Context) {
	if len(w.buf) == 0 {
		return
	}
	batch := w.buf
	w.buf = make([]T, 0, w.size)

	r, err := w.write(ctx, batch)
	if err != nil {
		metrics.BatchWrites.WithLabelValues(w.table, "failed").Inc()
		w.res.Failed += len(batch)
		w.res.Errors = append(w.res.Errors, fmt.Errorf("write %d %s rows: %w", len(batch), w.table, err))
	} else {
		metrics.BatchWrites.WithLabelValues(w.table, "ok").Inc()
		w.res.Written += len(batch)
		w.res.Created += r.Created
		w.res.Updated += r.Updated
	}
	if w.onFlush != nil {
		w.onFlush(w.res)
	}
}
