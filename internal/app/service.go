package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mappy4ever/tcgsync/internal/domain"
	"github.com/mappy4ever/tcgsync/internal/infra/queue"
	"github.com/mappy4ever/tcgsync/internal/infra/repos/runs"
	"github.com/mappy4ever/tcgsync/internal/logging"
	"github.com/mappy4ever/tcgsync/internal/validation"
)

var (
	ErrInvalidScope   = validation.ErrInvalidScope
	ErrMissingSetID   = validation.ErrMissingSetID
	ErrInvalidSetID   = validation.ErrInvalidSetID
	ErrSyncInProgress = runs.ErrRunInProgress
	ErrNoQueue        = errors.New("no work queue configured for background syncs")
)

// SyncService is the entry point shared by the HTTP trigger and the CLI.
type SyncService struct {
	orchestrator *Orchestrator
	tracker      *Tracker
	runRepo      runs.Repository
	queue        queue.Queue
	logger       *logging.Logger
}

func NewSyncService(orchestrator *Orchestrator, tracker *Tracker, runRepo runs.Repository, q queue.Queue, logger *logging.Logger) *SyncService {
	if logger == nil {
		logger = logging.Nop()
	}
	return &SyncService{
		orchestrator: orchestrator,
		tracker:      tracker,
		runRepo:      runRepo,
		queue:        q,
		logger:       logger.WithComponent("sync_service"),
	}
}

// StartSync validates req and starts it. A set sync runs to completion and
// its summary carries the final stats; when it fails the summary is returned
// together with the fatal error. Full and delta syncs are queued and return an
// accepted summary.
func (s *SyncService) StartSync(ctx context.Context, req *domain.SyncRequest) (*domain.SyncSummary, error) {
	if err := validation.ValidateSyncRequest(req); err != nil {
		return nil, err
	}
	if req.Type.Async() {
		return s.enqueue(ctx, req)
	}

	start := time.Now()
	run, stats, err := s.orchestrator.Run(ctx, req.Type, req.SetID)
	if run == nil {
		return nil, err
	}
	sum := &domain.SyncSummary{
		RunID:    run.ID,
		Scope:    run.Scope,
		TargetID: run.TargetID,
		Status:   run.Status,
		Duration: time.Since(start),
	}
	if stats != nil {
		sum.Stats = *stats
	}
	if err != nil {
		sum.Error = err.Error()
		return sum, err
	}
	return sum, nil
}

func (s *SyncService) enqueue(ctx context.Context, req *domain.SyncRequest) (*domain.SyncSummary, error) {
	if s.queue == nil {
		return nil, ErrNoQueue
	}
	run, err := s.tracker.Open(ctx, req.Type, "")
	if err != nil {
		return nil, err
	}
	job := &domain.Job{
		ID:         uuid.NewString(),
		RunID:      run.ID,
		Scope:      run.Scope,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		cause := fmt.Errorf("enqueue %s sync: %w", run.Scope, err)
		if closeErr := s.tracker.Close(context.WithoutCancel(ctx), run, domain.RunStatusFailed, &domain.SyncStats{}, cause); closeErr != nil {
			s.logger.Errorw("sync.enqueue.close_failed", map[string]any{"run_id": run.ID, "error": closeErr.Error()})
		}
		return nil, cause
	}
	s.logger.Infow("sync.enqueued", map[string]any{"run_id": run.ID, "job_id": job.ID, "scope": run.Scope})
	return &domain.SyncSummary{
		RunID:    run.ID,
		Scope:    run.Scope,
		Status:   domain.RunStatusRunning,
		Accepted: true,
	}, nil
}

func (s *SyncService) GetRun(ctx context.Context, id string) (*domain.SyncRun, error) {
	return s.runRepo.Get(ctx, id)
}

func (s *SyncService) ListRuns(ctx context.Context, limit int, status string) ([]*domain.SyncRun, error) {
	return s.runRepo.List(ctx, limit, status)
}

// claimRequeuer is implemented by queues that can release abandoned claims.
type claimRequeuer interface {
	Requeue(ctx context.Context, claimedBefore time.Time) (int, error)
}

// ReconcileStale closes runs that have been running for longer than olderThan
// as failed and releases queue claims of the same age. It returns the closed
// runs.
func (s *SyncService) ReconcileStale(ctx context.Context, olderThan time.Duration) ([]*domain.SyncRun, error) {
	if olderThan <= 0 {
		return nil, fmt.Errorf("older-than must be positive, got %s", olderThan)
	}
	now := time.Now().UTC()
	stale, err := s.runRepo.ListStale(ctx, now.Add(-olderThan))
	if err != nil {
		return nil, fmt.Errorf("list stale runs: %w", err)
	}

	var closed []*domain.SyncRun
	for _, run := range stale {
		msg := fmt.Sprintf("abandoned: still running after %s", now.Sub(run.StartedAt).Round(time.Second))
		if run.ErrorMessage != "" {
			msg = msg + "; " + run.ErrorMessage
		}
		p := runs.Progress{
			Checked: run.ItemsChecked,
			Created: run.ItemsCreated,
			Updated: run.ItemsUpdated,
			Failed:  run.ItemsFailed,
		}
		err := s.runRepo.Finish(ctx, run.ID, domain.RunStatusFailed, p, msg, now)
		if errors.Is(err, runs.ErrRunNotRunning) {
			// finished on its own in the meantime
			continue
		}
		if err != nil {
			return closed, fmt.Errorf("close stale run %s: %w", run.ID, err)
		}
		run.Status = domain.RunStatusFailed
		run.CompletedAt = &now
		run.ErrorMessage = msg
		closed = append(closed, run)
		s.logger.Warnw("sync.run.reconciled", map[string]any{"run_id": run.ID, "scope": run.Scope, "started_at": run.StartedAt})
	}

	if rq, ok := s.queue.(claimRequeuer); ok {
		n, err := rq.Requeue(ctx, now.Add(-olderThan))
		if err != nil {
			return closed, err
		}
		if n > 0 {
			s.logger.Warnw("sync.queue.requeued", map[string]any{"jobs": n})
		}
	}
	return closed, nil
}
