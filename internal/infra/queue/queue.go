// Package queue hands accepted full and delta runs to background workers.
package queue

import (
	"context"
	"errors"

	"github.com/mappy4ever/tcgsync/internal/domain"
)

var ErrClosed = errors.New("queue closed")

// Queue delivers each job to one consumer. Dequeue blocks until a job is
// available or ctx is done.
type Queue interface {
	Enqueue(ctx context.Context, job *domain.Job) error
	Dequeue(ctx context.Context) (*domain.Job, error)
	Ack(ctx context.Context, job *domain.Job) error
	Fail(ctx context.Context, job *domain.Job, reason string) error
	Close() error
}
