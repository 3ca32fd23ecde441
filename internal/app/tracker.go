package app

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/mappy4ever/tcgsync/internal/domain"
	"github.com/mappy4ever/tcgsync/internal/infra/repos/runs"
	"github.com/mappy4ever/tcgsync/internal/logging"
	"github.com/mappy4ever/tcgsync/internal/metrics"
)

// Tracker owns the lifecycle of SyncRun records: exactly one terminal
// transition per run.
type Tracker struct {
	repo   runs.Repository
	logger *logging.Logger
	now    func() time.Time
}

func NewTracker(repo runs.Repository, logger *logging.Logger) *Tracker {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Tracker{repo: repo, logger: logger.WithComponent("tracker"), now: func() time.Time { return time.Now().UTC() }}
}

// Open records a running SyncRun. Full and delta runs are mutually exclusive
// and fail with runs.ErrRunInProgress while another one is running.
func (t *Tracker) Open(ctx context.Context, scope domain.SyncScope, targetID string) (*domain.SyncRun, error) {
	run := &domain.SyncRun{
		Scope:     scope,
		TargetID:  targetID,
		Status:    domain.RunStatusRunning,
		StartedAt: t.now(),
	}
	var err error
	if scope.Async() {
		err = t.repo.CreateExclusive(ctx, run)
	} else {
		err = t.repo.Create(ctx, run)
	}
	if err != nil {
		return nil, err
	}
	t.logger.Infow("sync.run.opened", map[string]any{"run_id": run.ID, "scope": run.Scope, "target_id": run.TargetID})
	return run, nil
}

// Progress writes the current counters to a running run.
func (t *Tracker) Progress(ctx context.Context, run *domain.SyncRun, stats *domain.SyncStats) error {
	p, err := progressOf(stats)
	if err != nil {
		return err
	}
	if err := t.repo.UpdateProgress(ctx, run.ID, p); err != nil {
		return err
	}
	applyProgress(run, p)
	return nil
}

// Close moves run to its terminal status. A second Close returns
// runs.ErrRunNotRunning.
func (t *Tracker) Close(ctx context.Context, run *domain.SyncRun, status domain.RunStatus, stats *domain.SyncStats, cause error) error {
	if !status.Terminal() {
		return fmt.Errorf("close run %s: %q is not a terminal status", run.ID, status)
	}
	p, err := progressOf(stats)
	if err != nil {
		return err
	}
	msg := stats.ErrorSummary()
	if cause != nil {
		if msg != "" {
			msg = cause.Error() + "; " + msg
		} else {
			msg = cause.Error()
		}
	}
	at := t.now()
	if err := t.repo.Finish(ctx, run.ID, status, p, msg, at); err != nil {
		return err
	}

	applyProgress(run, p)
	run.Status = status
	run.CompletedAt = &at
	run.ErrorMessage = msg

	metrics.Runs.WithLabelValues(string(run.Scope), string(status)).Inc()
	metrics.RunDuration.WithLabelValues(string(run.Scope)).Observe(at.Sub(run.StartedAt).Seconds())
	fields := map[string]any{
		"run_id":        run.ID,
		"scope":         run.Scope,
		"status":        status,
		"duration_ms":   at.Sub(run.StartedAt).Milliseconds(),
		"cards_checked": stats.CardsChecked,
		"cards_failed":  stats.CardsFailed,
	}
	if status == domain.RunStatusFailed {
		fields["error"] = msg
		t.logger.Warnw("sync.run.failed", fields)
	} else {
		t.logger.Infow("sync.run.completed", fields)
	}
	return nil
}

// Card counters are the run's headline items.
func progressOf(stats *domain.SyncStats) (runs.Progress, error) {
	b, err := json.Marshal(stats)
	if err != nil {
		return runs.Progress{}, fmt.Errorf("marshal sync stats: %w", err)
	}
	return runs.Progress{
		Checked: stats.CardsChecked,
		Created: stats.CardsCreated,
		Updated: stats.CardsUpdated,
		Failed:  stats.CardsFailed,
		Stats:   b,
	}, nil
}

func applyProgress(run *domain.SyncRun, p runs.Progress) {
	run.ItemsChecked = max(run.ItemsChecked, p.Checked)
	run.ItemsCreated = max(run.ItemsCreated, p.Created)
	run.ItemsUpdated = max(run.ItemsUpdated, p.Updated)
	run.ItemsFailed = max(run.ItemsFailed, p.Failed)
	run.Stats = p.Stats
}
