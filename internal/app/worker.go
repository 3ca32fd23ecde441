package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/thejerf/suture/v4"

	"github.com/mappy4ever/tcgsync/internal/domain"
	"github.com/mappy4ever/tcgsync/internal/infra/queue"
	"github.com/mappy4ever/tcgsync/internal/infra/repos/runs"
	"github.com/mappy4ever/tcgsync/internal/logging"
	"github.com/mappy4ever/tcgsync/internal/metrics"
)

// Worker consumes queued full and delta runs. It implements suture.Service.
type Worker struct {
	name         string
	queue        queue.Queue
	runRepo      runs.Repository
	orchestrator *Orchestrator
	logger       *logging.Logger
}

func NewWorker(name string, q queue.Queue, runRepo runs.Repository, orchestrator *Orchestrator, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Worker{
		name:         name,
		queue:        q,
		runRepo:      runRepo,
		orchestrator: orchestrator,
		logger:       logger.WithComponent("worker").With(map[string]any{"worker": name}),
	}
}

// Serve dequeues until ctx is done. Queue errors are returned so that the
// supervisor restarts the worker with backoff.
func (w *Worker) Serve(ctx context.Context) error {
	w.logger.Infow("worker.started", nil)
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, queue.ErrClosed) {
				return suture.ErrDoNotRestart
			}
			return fmt.Errorf("%s: dequeue: %w", w.name, err)
		}
		w.handle(ctx, job)
	}
}

func (w *Worker) String() string {
	return w.name
}

func (w *Worker) handle(ctx context.Context, job *domain.Job) {
	metrics.QueueDepth.Inc()
	defer metrics.QueueDepth.Dec()

	fields := map[string]any{"job_id": job.ID, "run_id": job.RunID, "scope": job.Scope, "attempt": job.Attempts}
	settle := context.WithoutCancel(ctx)

	run, err := w.runRepo.Get(ctx, job.RunID)
	switch {
	case errors.Is(err, runs.ErrRunNotFound):
		w.logger.Warnw("worker.job.orphaned", fields)
		w.settle(w.queue.Fail(settle, job, "run not found"), job)
		return
	case err != nil:
		fields["error"] = err.Error()
		w.logger.Errorw("worker.job.load_failed", fields)
		w.settle(w.queue.Fail(settle, job, err.Error()), job)
		return
	case run.Status != domain.RunStatusRunning:
		fields["status"] = run.Status
		w.logger.Infow("worker.job.skipped", fields)
		w.settle(w.queue.Ack(settle, job), job)
		return
	}

	w.logger.Infow("worker.job.started", fields)
	if _, err := w.orchestrator.Execute(ctx, run); err != nil {
		fields["error"] = err.Error()
		w.logger.Warnw("worker.job.failed", fields)
		w.settle(w.queue.Fail(settle, job, err.Error()), job)
		return
	}
	w.logger.Infow("worker.job.completed", fields)
	w.settle(w.queue.Ack(settle, job), job)
}

func (w *Worker) settle(err error, job *domain.Job) {
	if err != nil {
		w.logger.Errorw("worker.job.settle_failed", map[string]any{"job_id": job.ID, "error": err.Error()})
	}
}
